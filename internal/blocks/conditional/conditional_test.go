package conditional

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

// TestBranchOrderAndFallback verifies the first truthy branch wins, in
// declared order, and the fallback (empty condition) branch fires when none
// of the conditions are truthy.
func TestBranchOrderAndFallback(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{{ID: "out1", Kind: model.AnalogOut, Enabled: true}})
	configs.SetIfMemoryConfigs([]model.IfMemoryConfig{{
		ID: "if1",
		Aliases: map[string]model.BlockRef{
			"tankLevel": model.PointRef("tank1"),
			"valveOpen": model.PointRef("valve1"),
		},
		Branches: []model.ConditionalBranch{
			{Condition: "tankLevel > 90", Value: "100"},
			{Condition: "(tankLevel > 50) AND NOT (valveOpen == 1)", Value: "50"},
			{Condition: "", Value: "0"},
		},
		OutputPointID: "out1",
		Enabled:       true,
	}})

	ctx := context.Background()
	var tick int64
	disp := dispatch.New(points, func() int64 { return tick })
	proc := New(points, configs, disp, zap.NewNop(), func() int64 { return tick })
	if err := proc.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	points.SetFinal(ctx, model.FinalValue{PointID: "tank1", StringValue: "95", UnixSeconds: 0})
	points.SetFinal(ctx, model.FinalValue{PointID: "valve1", StringValue: "0", UnixSeconds: 0})
	tick = 1
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ := points.GetRaw(ctx, "out1")
	if rv.StringValue != "100" {
		t.Fatalf("output = %s, want 100 (first branch wins)", rv.StringValue)
	}

	points.SetFinal(ctx, model.FinalValue{PointID: "tank1", StringValue: "60", UnixSeconds: 2})
	tick = 2
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ = points.GetRaw(ctx, "out1")
	if rv.StringValue != "50" {
		t.Fatalf("output = %s, want 50 (second branch wins)", rv.StringValue)
	}

	points.SetFinal(ctx, model.FinalValue{PointID: "tank1", StringValue: "10", UnixSeconds: 3})
	tick = 3
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ = points.GetRaw(ctx, "out1")
	if rv.StringValue != "0" {
		t.Fatalf("output = %s, want 0 (fallback branch)", rv.StringValue)
	}
}
