package movingaverage

import (
	"context"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

// TestEMAScenario reproduces spec scenario S5: alpha=0.5, initial EMA=0,
// inputs 10, 10, 10 -> trace 5, 7.5, 8.75.
func TestEMAScenario(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{{ID: "out1", Kind: model.AnalogOut, Enabled: true}})
	configs.SetMovingAverageConfigs([]model.MovingAverageConfig{{
		ID:              "ma1",
		Inputs:          []string{"in1"},
		OutputPointID:   "out1",
		Method:          model.MAEMA,
		EMAAlpha:        0.5,
		IntervalSeconds: 1,
		Enabled:         true,
	}})

	ctx := context.Background()
	var tick int64
	disp := dispatch.New(points, func() int64 { return tick })
	proc := New(points, configs, disp, zap.NewNop(), func() int64 { return tick })
	if err := proc.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	// Seed EMA at zero to match scenario S5's starting condition, then feed
	// the three inputs of 10 and check the stated (5, 7.5, 8.75) trace.
	if err := points.SetState(ctx, stateKey("ma1"), model.MovingAverageState{ID: "ma1", EMAValue: 0, HaveEMA: true}); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	expected := []float64{5, 7.5, 8.75}
	for i, v := range []float64{10, 10, 10} {
		tick = int64(i + 1)
		points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: strconv.FormatFloat(v, 'f', -1, 64), UnixSeconds: tick})
		if err := proc.Cycle(ctx); err != nil {
			t.Fatalf("Cycle %d: %v", i, err)
		}
		rv, err := points.GetRaw(ctx, "out1")
		if err != nil {
			t.Fatalf("GetRaw: %v", err)
		}
		got, err := strconv.ParseFloat(rv.StringValue, 64)
		if err != nil {
			t.Fatalf("ParseFloat: %v", err)
		}
		if diff := got - expected[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("tick %d: EMA = %v, want %v", i, got, expected[i])
		}
	}
}

// TestSMAMinSampleCountGate verifies no output is written until the
// minimum sample count is reached.
func TestSMAMinSampleCountGate(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{{ID: "out1", Kind: model.AnalogOut, Enabled: true}})
	configs.SetMovingAverageConfigs([]model.MovingAverageConfig{{
		ID:              "ma1",
		Inputs:          []string{"in1"},
		OutputPointID:   "out1",
		Method:          model.MASMA,
		WindowSize:      3,
		MinSampleCount:  3,
		IntervalSeconds: 1,
		Enabled:         true,
	}})

	ctx := context.Background()
	var tick int64
	disp := dispatch.New(points, func() int64 { return tick })
	proc := New(points, configs, disp, zap.NewNop(), func() int64 { return tick })
	if err := proc.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	for i, v := range []float64{1, 2} {
		tick = int64(i)
		points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: strconv.FormatFloat(v, 'f', -1, 64), UnixSeconds: tick})
		if err := proc.Cycle(ctx); err != nil {
			t.Fatalf("Cycle %d: %v", i, err)
		}
	}
	if _, err := points.GetRaw(ctx, "out1"); err == nil {
		t.Fatal("expected no output before min sample count reached")
	}

	tick = 2
	points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: "3", UnixSeconds: tick})
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, err := points.GetRaw(ctx, "out1")
	if err != nil {
		t.Fatalf("GetRaw: %v", err)
	}
	if rv.StringValue != "2" {
		t.Errorf("SMA = %s, want 2", rv.StringValue)
	}
}
