package deadband

import (
	"context"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

// TestAnalogAbsoluteDeadbandScenario reproduces spec scenario S6: deadband=2,
// lastOutput=10. Inputs 11 (no change), 13 (change to 13), 12.5 (no change),
// 10.9 (no change).
func TestAnalogAbsoluteDeadbandScenario(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{
		{ID: "in1", Kind: model.AnalogIn, Enabled: true},
		{ID: "out1", Kind: model.AnalogOut, Enabled: true},
	})
	configs.SetDeadbandConfigs([]model.DeadbandConfig{{
		ID:              "db1",
		InputPointID:    "in1",
		OutputPointID:   "out1",
		Mode:            model.DeadbandAbsolute,
		Deadband:        2,
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

	// Seed committed output at 10, as scenario S6 assumes a pre-existing
	// lastOutput rather than a cold start.
	if err := points.SetState(ctx, stateKey("db1"), model.DeadbandState{ID: "db1", LastOutput: 10, HaveLastOutput: true, LastInput: 10, HaveLastInput: true}); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := points.SetRaw(ctx, model.RawValue{PointID: "out1", StringValue: "10"}); err != nil {
		t.Fatalf("SetRaw: %v", err)
	}

	steps := []struct {
		input float64
		want  float64
	}{
		{11, 10},
		{13, 13},
		{12.5, 13},
		{10.9, 13},
	}

	for i, step := range steps {
		tick = int64(i + 1)
		points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: strconv.FormatFloat(step.input, 'f', -1, 64), UnixSeconds: tick})
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
		if got != step.want {
			t.Errorf("step %d (input=%v): output = %v, want %v", i, step.input, got, step.want)
		}
	}
}

// TestDigitalStabilityDebounce verifies a digital input change is only
// committed once it has held steady for stabilityTime, and a reversal
// before that cancels the pending change.
func TestDigitalStabilityDebounce(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{
		{ID: "in1", Kind: model.DigitalIn, Enabled: true},
		{ID: "out1", Kind: model.DigitalOut, Enabled: true},
	})
	configs.SetDeadbandConfigs([]model.DeadbandConfig{{
		ID:              "db1",
		InputPointID:    "in1",
		OutputPointID:   "out1",
		StabilityTime:   3,
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

	tick = 0
	points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: "0", UnixSeconds: tick})
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	// Pending change to "1" for only 2 seconds, then reverts to "0" before
	// stabilityTime elapses: should never commit.
	for t2 := int64(1); t2 <= 2; t2++ {
		tick = t2
		points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: "1", UnixSeconds: tick})
		if err := proc.Cycle(ctx); err != nil {
			t.Fatalf("Cycle: %v", err)
		}
	}
	tick = 3
	points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: "0", UnixSeconds: tick})
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ := points.GetRaw(ctx, "out1")
	if rv.StringValue != "0" {
		t.Fatalf("output = %s after cancelled pending change, want 0", rv.StringValue)
	}

	// Now hold "1" for stabilityTime seconds and confirm it commits.
	for t3 := int64(4); t3 <= 7; t3++ {
		tick = t3
		points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: "1", UnixSeconds: tick})
		if err := proc.Cycle(ctx); err != nil {
			t.Fatalf("Cycle: %v", err)
		}
	}
	rv, _ = points.GetRaw(ctx, "out1")
	if rv.StringValue != "1" {
		t.Fatalf("output = %s after stable hold, want 1", rv.StringValue)
	}
}
