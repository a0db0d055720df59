package minmax

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

// TestHoldLastGoodOnAllBad verifies spec invariant 10: with HoldLastGood
// failover, once every input goes stale the output stays exactly the last
// good selection.
func TestHoldLastGoodOnAllBad(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{{ID: "out1", Kind: model.AnalogOut, Enabled: true}})
	configs.SetMinMaxSelectorConfigs([]model.MinMaxSelectorConfig{{
		ID:                 "mm1",
		Inputs:             []string{"a", "b"},
		OutputPointID:      "out1",
		Selection:          model.SelectMaximum,
		Failover:           model.FailoverHoldLastGood,
		MaxInputAgeSeconds: 5,
		Enabled:            true,
	}})

	ctx := context.Background()
	var tick int64
	disp := dispatch.New(points, func() int64 { return tick })
	proc := New(points, configs, disp, zap.NewNop(), func() int64 { return tick })
	if err := proc.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	tick = 1
	points.SetFinal(ctx, model.FinalValue{PointID: "a", StringValue: "10", UnixSeconds: tick})
	points.SetFinal(ctx, model.FinalValue{PointID: "b", StringValue: "30", UnixSeconds: tick})
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ := points.GetRaw(ctx, "out1")
	if rv.StringValue != "30" {
		t.Fatalf("output = %s, want 30", rv.StringValue)
	}

	// Advance far enough that both inputs are now stale (MaxInputAgeSeconds=5).
	tick = 20
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ = points.GetRaw(ctx, "out1")
	if rv.StringValue != "30" {
		t.Fatalf("output = %s, want 30 (held last good)", rv.StringValue)
	}
}

// TestIgnoreBadLeavesOutputUnchanged verifies spec invariant 10: with
// IgnoreBad failover, an all-bad tick performs no write at all.
func TestIgnoreBadLeavesOutputUnchanged(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{{ID: "out1", Kind: model.AnalogOut, Enabled: true}})
	configs.SetMinMaxSelectorConfigs([]model.MinMaxSelectorConfig{{
		ID:                 "mm1",
		Inputs:             []string{"a", "b"},
		OutputPointID:      "out1",
		Selection:          model.SelectMinimum,
		Failover:           model.FailoverIgnoreBad,
		MaxInputAgeSeconds: 5,
		Enabled:            true,
	}})

	ctx := context.Background()
	var tick int64
	disp := dispatch.New(points, func() int64 { return tick })
	proc := New(points, configs, disp, zap.NewNop(), func() int64 { return tick })
	if err := proc.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	tick = 1
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	if _, err := points.GetRaw(ctx, "out1"); err == nil {
		t.Fatal("expected no output written when every input is bad and Failover=IgnoreBad")
	}
}
