package tuning

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

func TestDetectPeakTrough(t *testing.T) {
	rt := &model.TuningRuntime{}
	p := &Processor{}

	// Oscillating sequence: rises to a peak at 10, falls to a trough at 0,
	// rises to a peak at 10 again.
	sequence := []float64{5, 8, 10, 8, 4, 0, 4, 8, 10, 8}
	for i, v := range sequence {
		p.detectPeakTrough(rt, v, int64(i))
	}

	if len(rt.PeakValues) == 0 {
		t.Fatal("expected at least one detected peak")
	}
	if len(rt.TroughValues) == 0 {
		t.Fatal("expected at least one detected trough")
	}
	for _, pv := range rt.PeakValues {
		if pv != 10 {
			t.Errorf("peak value = %v, want 10", pv)
		}
	}
	for _, tv := range rt.TroughValues {
		if tv != 0 {
			t.Errorf("trough value = %v, want 0", tv)
		}
	}
}

// TestRelayTuningConverges drives a synthetic session directly through
// stepSession using a plant stand-in that oscillates deterministically
// around the setpoint, and checks that Completed gains satisfy Ku>0, Pu>0.
func TestRelayTuningConverges(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()

	configs.SetPIDConfigs([]model.PIDConfig{{
		ID:            "pid1",
		SetPoint:      model.VariableRef("sp"),
		ProcessValue:  model.VariableRef("pv"),
		OutMin:        0,
		OutMax:        100,
		OutputPointID: "out1",
	}})

	ctx := context.Background()
	points.SetGlobalVariable(ctx, model.GlobalVariable{Name: "sp", StringValue: "50"})
	points.SetGlobalVariable(ctx, model.GlobalVariable{Name: "pv", StringValue: "50"})

	var tick int64
	disp := dispatch.New(points, func() int64 { return tick })
	proc := New(points, configs, disp, zap.NewNop(), func() int64 { return tick })

	session := model.TuningSession{
		ID:                "sess1",
		PIDID:             "pid1",
		Status:            model.TuningRelayTest,
		RelayAmplitudePct: 10,
		MinCycles:         2,
		MaxCycles:         200,
		TimeoutSeconds:    0,
		MaxAmplitude:      1000,
	}
	if err := configs.SaveTuningSession(ctx, session); err != nil {
		t.Fatalf("SaveTuningSession: %v", err)
	}

	// A sawtooth process-variable sequence that oscillates with a clean
	// period, simulating a relay-driven plant without needing a full
	// first-order+delay simulation.
	pvSeq := []float64{50, 55, 60, 55, 50, 45, 40, 45, 50, 55, 60, 55, 50, 45, 40, 45, 50, 55, 60, 55}

	var finalSession model.TuningSession
	for i := 0; i < len(pvSeq)*3; i++ {
		tick = int64(i)
		v := pvSeq[i%len(pvSeq)]
		points.SetGlobalVariable(ctx, model.GlobalVariable{Name: "pv", StringValue: formatFloat(v)})

		sessions, err := configs.TuningSessions(ctx)
		if err != nil {
			t.Fatalf("TuningSessions: %v", err)
		}
		var current model.TuningSession
		for _, s := range sessions {
			if s.ID == "sess1" {
				current = s
			}
		}
		if !isLive(current.Status) {
			finalSession = current
			break
		}
		if err := proc.stepSession(ctx, current); err != nil {
			t.Fatalf("stepSession at tick %d: %v", i, err)
		}
	}

	if finalSession.Status != model.TuningCompleted {
		t.Fatalf("session status = %v, want Completed (reason=%s)", finalSession.Status, finalSession.FailureReason)
	}
	if finalSession.CalculatedGains == nil {
		t.Fatal("expected CalculatedGains to be set on completion")
	}
	if finalSession.CalculatedGains.Ku <= 0 {
		t.Errorf("Ku = %v, want > 0", finalSession.CalculatedGains.Ku)
	}
	if finalSession.CalculatedGains.Pu <= 0 {
		t.Errorf("Pu = %v, want > 0", finalSession.CalculatedGains.Pu)
	}
}

// TestApplyGainsWritesConfigAndClearsCheckpoint verifies the spec §4.7
// apply step: a Completed session's gains land on the live PIDConfig and the
// PID's runtime checkpoint is deleted so the next tick reinitializes
// bumplessly.
func TestApplyGainsWritesConfigAndClearsCheckpoint(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPIDConfigs([]model.PIDConfig{{
		ID:     "pid1",
		Kp:     1,
		Ki:     1,
		Kd:     1,
		OutMin: 0,
		OutMax: 100,
	}})

	ctx := context.Background()
	if err := points.SetState(ctx, "PIDState:pid1", map[string]float64{"integral": 42}); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	session := model.TuningSession{
		ID:              "sess1",
		PIDID:           "pid1",
		Status:          model.TuningCompleted,
		CalculatedGains: &model.CalculatedGains{Kp: 2.5, Ki: 0.4, Kd: 0.1, Ku: 5, Pu: 10},
	}

	if err := ApplyGains(ctx, configs, points, session); err != nil {
		t.Fatalf("ApplyGains: %v", err)
	}

	pids, err := configs.PIDConfigs(ctx)
	if err != nil {
		t.Fatalf("PIDConfigs: %v", err)
	}
	var updated model.PIDConfig
	for _, c := range pids {
		if c.ID == "pid1" {
			updated = c
		}
	}
	if updated.Kp != 2.5 || updated.Ki != 0.4 || updated.Kd != 0.1 {
		t.Errorf("gains = %+v, want Kp=2.5 Ki=0.4 Kd=0.1", updated)
	}
	if updated.OutMin != 0 || updated.OutMax != 100 {
		t.Errorf("unrelated fields overwritten: %+v", updated)
	}

	var st map[string]float64
	if err := points.GetState(ctx, "PIDState:pid1", &st); err == nil {
		t.Fatalf("expected PID checkpoint to be deleted, got %v", st)
	}
}

// TestApplyGainsRejectsIncompleteSession verifies a non-Completed session is
// refused rather than silently applied.
func TestApplyGainsRejectsIncompleteSession(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetPIDConfigs([]model.PIDConfig{{ID: "pid1"}})

	session := model.TuningSession{ID: "sess1", PIDID: "pid1", Status: model.TuningRelayTest}
	if err := ApplyGains(context.Background(), configs, points, session); err == nil {
		t.Fatal("expected error applying gains from a non-Completed session")
	}
}

