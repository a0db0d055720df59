package comparison

import (
	"context"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

func newTestProcessor(points *memstore.PointStore, configs *memstore.ConfigStore, tick *int64) *Processor {
	disp := dispatch.New(points, func() int64 { return *tick })
	return New(points, configs, disp, zap.NewNop(), func() int64 { return *tick })
}

func setInput(t *testing.T, ctx context.Context, points *memstore.PointStore, id string, v float64, tick int64) {
	t.Helper()
	if err := points.SetFinal(ctx, model.FinalValue{PointID: id, StringValue: strconv.FormatFloat(v, 'f', -1, 64), UnixSeconds: tick}); err != nil {
		t.Fatalf("SetFinal: %v", err)
	}
}

// TestVoteMinimumWithHysteresis verifies the group commits once at least
// MinimumCount inputs trip, and a single input's hysteresis latch holds it
// true until it recedes past threshold-hysteresis.
func TestVoteMinimumWithHysteresis(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{{ID: "out1", Kind: model.DigitalOut, Enabled: true}})
	configs.SetComparisonGroupConfigs([]model.ComparisonGroupConfig{{
		ID: "cmp1",
		Inputs: []model.ComparisonInput{
			{PointID: "a", Operator: model.CmpGreaterThan, Threshold: 50, Hysteresis: 5},
			{PointID: "b", Operator: model.CmpGreaterThan, Threshold: 50, Hysteresis: 5},
			{PointID: "c", Operator: model.CmpGreaterThan, Threshold: 50, Hysteresis: 5},
		},
		OutputPointID: "out1",
		Mode:          model.VoteMinimum,
		MinimumCount:  2,
		Enabled:       true,
	}})

	ctx := context.Background()
	var tick int64
	proc := newTestProcessor(points, configs, &tick)
	if err := proc.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	tick = 1
	setInput(t, ctx, points, "a", 60, tick)
	setInput(t, ctx, points, "b", 10, tick)
	setInput(t, ctx, points, "c", 10, tick)
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ := points.GetRaw(ctx, "out1")
	if rv.StringValue != "0" {
		t.Fatalf("output = %s, want 0 (only 1 of 3 tripped)", rv.StringValue)
	}

	tick = 2
	setInput(t, ctx, points, "b", 60, tick)
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ = points.GetRaw(ctx, "out1")
	if rv.StringValue != "1" {
		t.Fatalf("output = %s, want 1 (2 of 3 tripped)", rv.StringValue)
	}

	// a recedes to 48: below threshold but within hysteresis band
	// (threshold - hysteresis = 45), should remain latched true.
	tick = 3
	setInput(t, ctx, points, "a", 48, tick)
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ = points.GetRaw(ctx, "out1")
	if rv.StringValue != "1" {
		t.Fatalf("output = %s, want 1 (a still latched within hysteresis band)", rv.StringValue)
	}

	// a recedes past the hysteresis band (44 < 45): now only b is true, drops
	// below MinimumCount.
	tick = 4
	setInput(t, ctx, points, "a", 44, tick)
	if err := proc.Cycle(ctx); err != nil {
		t.Fatalf("Cycle: %v", err)
	}
	rv, _ = points.GetRaw(ctx, "out1")
	if rv.StringValue != "0" {
		t.Fatalf("output = %s, want 0 (a cleared past hysteresis band)", rv.StringValue)
	}
}
