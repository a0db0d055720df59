package statistical

import (
	"context"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

// TestMeanAndStdDevOverWindow verifies a sliding window's mean/stddev match
// the textbook values for a known sample set once MinSampleCount is met.
func TestMeanAndStdDevOverWindow(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{
		{ID: "meanOut", Kind: model.AnalogOut, Enabled: true},
		{ID: "stddevOut", Kind: model.AnalogOut, Enabled: true},
	})
	configs.SetStatisticalWindowConfigs([]model.StatisticalWindowConfig{{
		ID:             "stat1",
		InputPointID:   "in1",
		Kind:           model.WindowSliding,
		WindowSeconds:  100,
		MinSampleCount: 2,
		Outputs: map[model.StatisticalStatistic]string{
			model.StatMean:   "meanOut",
			model.StatStdDev: "stddevOut",
		},
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

	// Samples 2,4,4,4,5,5,7,9 -> mean 5, population stddev 2.
	samples := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for i, v := range samples {
		tick = int64(i)
		points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: strconv.FormatFloat(v, 'f', -1, 64), UnixSeconds: tick})
		if err := proc.Cycle(ctx); err != nil {
			t.Fatalf("Cycle %d: %v", i, err)
		}
	}

	rv, err := points.GetRaw(ctx, "meanOut")
	if err != nil {
		t.Fatalf("GetRaw mean: %v", err)
	}
	gotMean, _ := strconv.ParseFloat(rv.StringValue, 64)
	if diff := gotMean - 5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("mean = %v, want 5", gotMean)
	}

	rv, err = points.GetRaw(ctx, "stddevOut")
	if err != nil {
		t.Fatalf("GetRaw stddev: %v", err)
	}
	gotStdDev, _ := strconv.ParseFloat(rv.StringValue, 64)
	if diff := gotStdDev - 2; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("stddev = %v, want 2", gotStdDev)
	}
}

// TestMinSampleCountGate verifies no output is written before the minimum
// sample count is reached.
func TestMinSampleCountGate(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{{ID: "meanOut", Kind: model.AnalogOut, Enabled: true}})
	configs.SetStatisticalWindowConfigs([]model.StatisticalWindowConfig{{
		ID:             "stat1",
		InputPointID:   "in1",
		Kind:           model.WindowSliding,
		WindowSeconds:  100,
		MinSampleCount: 3,
		Outputs:        map[model.StatisticalStatistic]string{model.StatMean: "meanOut"},
		Enabled:        true,
	}})

	ctx := context.Background()
	var tick int64
	disp := dispatch.New(points, func() int64 { return tick })
	proc := New(points, configs, disp, zap.NewNop(), func() int64 { return tick })
	if err := proc.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	tick = 0
	points.SetFinal(ctx, model.FinalValue{PointID: "in1", StringValue: "1", UnixSeconds: tick})
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if _, err := points.GetRaw(ctx, "meanOut"); err == nil {
		t.Fatal("expected no output before min sample count reached")
	}
}
