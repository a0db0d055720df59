package alarm

import (
	"context"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
	"github.com/fieldware/memengine/internal/voting"
)

// TestAlarmDelayScenario reproduces spec scenario S2: Comparative >=,
// threshold=10, alarmDelay=5, with the literal input sequence and expected
// status trace.
func TestAlarmDelayScenario(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetAlarmConfigs([]model.AlarmConfig{{
		ID:               "alarm1",
		MonitoredPointID: "temp1",
		Kind:             model.AlarmComparative,
		Operator:         model.OpGTE,
		Threshold1:       10,
		AlarmDelay:       5,
		Enabled:          true,
	}})

	inputs := []struct {
		t, v int64
	}{
		{0, 5}, {1, 12}, {2, 12}, {3, 5}, {4, 12},
		{5, 12}, {6, 12}, {7, 12}, {8, 12}, {9, 12},
	}
	wantStatus := []model.AlarmStatus{
		model.NoAlarm, model.Suspicious, model.Suspicious, model.NoAlarm, model.Suspicious,
		model.Suspicious, model.Suspicious, model.Suspicious, model.Suspicious, model.HasAlarm,
	}

	var currentTick int64
	nowFn := func() time.Time { return time.Unix(currentTick, 0) }
	disp := dispatch.New(points, func() int64 { return currentTick })

	proc := New(points, configs, disp, voting.New(), zap.NewNop(), nowFn)
	if err := proc.RefreshConfig(context.Background()); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}

	triggerCount := 0
	for i, in := range inputs {
		currentTick = in.t
		points.SetFinal(context.Background(), model.FinalValue{
			PointID: "temp1", StringValue: strconv.FormatInt(in.v, 10), UnixSeconds: in.t,
		})
		if err := proc.Cycle(context.Background()); err != nil {
			t.Fatalf("Cycle at t=%d: %v", in.t, err)
		}

		var state model.MonitorAlarmState
		if err := points.GetState(context.Background(), stateKey("alarm1"), &state); err != nil {
			t.Fatalf("GetState at t=%d: %v", in.t, err)
		}
		if state.Status != wantStatus[i] {
			t.Errorf("t=%d: status = %v, want %v", in.t, state.Status, wantStatus[i])
		}
		if state.Status == model.HasAlarm {
			triggerCount++
		}
	}

	if triggerCount != 1 {
		t.Errorf("HasAlarm observed %d times across the sequence, want exactly 1 (no repeated trigger)", triggerCount)
	}

	active, err := configs.ActiveAlarms(context.Background())
	if err != nil {
		t.Fatalf("ActiveAlarms: %v", err)
	}
	if len(active) != 1 || active[0].AlarmID != "alarm1" {
		t.Errorf("ActiveAlarms = %+v, want one entry for alarm1", active)
	}
}

func TestAlarmDisabledForcesNoAlarm(t *testing.T) {
	points := memstore.NewPointStore()
	configs := memstore.New()
	configs.SetAlarmConfigs([]model.AlarmConfig{{
		ID: "alarm1", MonitoredPointID: "temp1", Kind: model.AlarmComparative,
		Operator: model.OpGTE, Threshold1: 10, AlarmDelay: 0, Enabled: false,
	}})
	points.SetRaw(context.Background(), model.RawValue{})
	points.SetFinal(context.Background(), model.FinalValue{PointID: "temp1", StringValue: "50", UnixSeconds: 0})

	disp := dispatch.New(points, func() int64 { return 0 })
	proc := New(points, configs, disp, voting.New(), zap.NewNop(), func() time.Time { return time.Unix(0, 0) })
	if err := proc.RefreshConfig(context.Background()); err != nil {
		t.Fatalf("RefreshConfig: %v", err)
	}
	if err := proc.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	var state model.MonitorAlarmState
	if err := points.GetState(context.Background(), stateKey("alarm1"), &state); err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if state.Status != model.NoAlarm {
		t.Errorf("disabled alarm status = %v, want NoAlarm", state.Status)
	}
}
