package writeaction

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

// TestRisingEdgeWithMaxExecutionAndCooldown verifies a rising-edge trigger
// fires once per qualifying edge, stops once MaxExecutionCount is reached,
// and is gated by CooldownSeconds between fires.
func TestRisingEdgeWithMaxExecutionAndCooldown(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPoints([]model.Point{{ID: "target1", Kind: model.DigitalOut, Enabled: true}})
	configs.SetWriteActionConfigs([]model.WriteActionConfig{{
		ID:                "wa1",
		TriggerPointID:    "trig1",
		Trigger:           model.TriggerOnRisingEdge,
		TargetPointID:     "target1",
		Value:             "1",
		MaxExecutionCount: 2,
		CooldownSeconds:   5,
		Enabled:           true,
	}})

	ctx := context.Background()
	var tick int64
	disp := dispatch.New(points, func() int64 { return tick })
	proc := New(points, configs, disp, zap.NewNop(), func() int64 { return tick })
	if err := proc.RefreshConfig(ctx); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	fire := func(tk int64, trig string) {
		tick = tk
		points.SetFinal(ctx, model.FinalValue{PointID: "trig1", StringValue: trig, UnixSeconds: tk})
		if err := proc.Cycle(ctx); err != nil {
			t.Fatalf("Cycle at tick %d: %v", tk, err)
		}
	}

	fire(0, "0")
	fire(1, "1") // rising edge #1: fires
	var st model.WriteActionState
	points.GetState(ctx, stateKey("wa1"), &st)
	if st.ExecutionCount != 1 {
		t.Fatalf("ExecutionCount = %d, want 1", st.ExecutionCount)
	}

	fire(2, "0")
	fire(3, "1") // rising edge #2, but within cooldown (5s of edge #1 at t=1): should not fire
	points.GetState(ctx, stateKey("wa1"), &st)
	if st.ExecutionCount != 1 {
		t.Fatalf("ExecutionCount = %d after cooldown-blocked edge, want 1", st.ExecutionCount)
	}

	fire(8, "0")
	fire(9, "1") // rising edge #3, past cooldown: fires, reaching MaxExecutionCount
	points.GetState(ctx, stateKey("wa1"), &st)
	if st.ExecutionCount != 2 {
		t.Fatalf("ExecutionCount = %d, want 2", st.ExecutionCount)
	}

	fire(20, "0")
	fire(21, "1") // rising edge #4, past cooldown, but MaxExecutionCount reached: should not fire
	points.GetState(ctx, stateKey("wa1"), &st)
	if st.ExecutionCount != 2 {
		t.Fatalf("ExecutionCount = %d after max-count reached, want 2", st.ExecutionCount)
	}
}
