// Package alarm implements the Alarm Processor (spec.md §4.4): a
// comparative/timeout trigger rule driving a NoAlarm/Suspicious/HasAlarm
// state machine, with optional external-alarm OR-fan-in (§4.5) through the
// shared voting aggregator.
package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store"
	"github.com/fieldware/memengine/internal/voting"
)

// Processor evaluates every configured alarm once per cycle.
type Processor struct {
	points     store.PointStore
	configs    store.ConfigStore
	dispatcher *dispatch.Dispatcher
	aggregator *voting.Aggregator
	log        *zap.Logger
	nowFn      func() time.Time

	alarms    []model.AlarmConfig
	stateByID map[string]model.MonitorAlarmState
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, aggregator *voting.Aggregator, log *zap.Logger, nowFn func() time.Time) *Processor {
	return &Processor{
		points:     points,
		configs:    configs,
		dispatcher: dispatcher,
		aggregator: aggregator,
		log:        log,
		nowFn:      nowFn,
		stateByID:  make(map[string]model.MonitorAlarmState),
		pointByID:  make(map[string]model.Point),
	}
}

func (p *Processor) Kind() string { return "alarm" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.AlarmConfigs(ctx)
	if err != nil {
		return fmt.Errorf("alarm: refresh config: %w", err)
	}
	p.alarms = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("alarm: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(alarmID string) string { return "AlarmState:" + alarmID }

func (p *Processor) loadState(ctx context.Context, alarmID string) model.MonitorAlarmState {
	if s, ok := p.stateByID[alarmID]; ok {
		return s
	}
	var s model.MonitorAlarmState
	if err := p.points.GetState(ctx, stateKey(alarmID), &s); err != nil {
		s = model.MonitorAlarmState{AlarmID: alarmID, Status: model.NoAlarm}
	}
	p.stateByID[alarmID] = s
	return s
}

func (p *Processor) saveState(ctx context.Context, s model.MonitorAlarmState) error {
	p.stateByID[s.AlarmID] = s
	return p.points.SetState(ctx, stateKey(s.AlarmID), s)
}

// Cycle evaluates every enabled alarm. Per-alarm failures are caught and
// logged; the cycle continues (spec §4.4 failure mode).
func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn().Unix()
	for _, cfg := range p.alarms {
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("alarm: skipping block", zap.String("alarm_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.AlarmConfig, now int64) error {
	if !cfg.Enabled {
		return p.forceNoAlarm(ctx, cfg, now)
	}

	fv, err := p.points.GetFinal(ctx, cfg.MonitoredPointID)
	if err != nil {
		return fmt.Errorf("resolve monitored point %s: %w", cfg.MonitoredPointID, err)
	}

	rawTrigger, err := p.computeRawTrigger(cfg, fv, now)
	if err != nil {
		return err
	}

	state := p.loadState(ctx, cfg.ID)
	prevStatus := state.Status

	switch {
	case !rawTrigger:
		state.Status = model.NoAlarm
	case state.Status == model.NoAlarm:
		state.Status = model.Suspicious
		state.LastTransitionUnix = now
	case state.Status == model.Suspicious:
		if now-state.LastTransitionUnix >= cfg.AlarmDelay {
			state.Status = model.HasAlarm
		}
	case state.Status == model.HasAlarm:
		// stays HasAlarm while rawTrigger holds
	}

	if prevStatus != model.HasAlarm && state.Status == model.HasAlarm {
		if err := p.onTrigger(ctx, cfg, now); err != nil {
			return err
		}
	}
	if prevStatus == model.HasAlarm && state.Status != model.HasAlarm {
		if err := p.onClear(ctx, cfg, now); err != nil {
			return err
		}
	}

	return p.saveState(ctx, state)
}

func (p *Processor) forceNoAlarm(ctx context.Context, cfg model.AlarmConfig, now int64) error {
	state := p.loadState(ctx, cfg.ID)
	if state.Status == model.HasAlarm {
		if err := p.onClear(ctx, cfg, now); err != nil {
			return err
		}
	}
	state.Status = model.NoAlarm
	return p.saveState(ctx, state)
}

func (p *Processor) computeRawTrigger(cfg model.AlarmConfig, fv model.FinalValue, now int64) (bool, error) {
	switch cfg.Kind {
	case model.AlarmTimeout:
		return now-fv.UnixSeconds > cfg.TimeoutSeconds, nil
	case model.AlarmComparative:
		v, err := strconv.ParseFloat(fv.StringValue, 64)
		if err != nil {
			return false, fmt.Errorf("unparsable monitored value %q: %w", fv.StringValue, err)
		}
		switch cfg.Operator {
		case model.OpGTE:
			return v >= cfg.Threshold1, nil
		case model.OpLTE:
			return v <= cfg.Threshold1, nil
		case model.OpEQ:
			return v == cfg.Threshold1, nil
		case model.OpNE:
			return v != cfg.Threshold1, nil
		case model.OpBetween:
			lo, hi := cfg.Threshold1, cfg.Threshold2
			if lo > hi {
				lo, hi = hi, lo
			}
			return v >= lo && v <= hi, nil
		default:
			return false, fmt.Errorf("unknown comparative operator %q", cfg.Operator)
		}
	default:
		return false, fmt.Errorf("unknown alarm kind %q", cfg.Kind)
	}
}

func (p *Processor) onTrigger(ctx context.Context, cfg model.AlarmConfig, now int64) error {
	if err := p.configs.UpsertActiveAlarm(ctx, model.ActiveAlarm{AlarmID: cfg.ID, TriggeredAt: now}); err != nil {
		return fmt.Errorf("upsert active alarm: %w", err)
	}
	snapshot, _ := json.Marshal(cfg)
	if err := p.configs.AppendAlarmHistory(ctx, model.AlarmHistory{
		AlarmID: cfg.ID, Active: true, UnixSeconds: now, ConfigSnapshot: string(snapshot),
	}); err != nil {
		return fmt.Errorf("append alarm history: %w", err)
	}
	return p.applyExternalAlarms(ctx, cfg, true)
}

func (p *Processor) onClear(ctx context.Context, cfg model.AlarmConfig, now int64) error {
	if err := p.configs.DeleteActiveAlarm(ctx, cfg.ID); err != nil {
		return fmt.Errorf("delete active alarm: %w", err)
	}
	snapshot, _ := json.Marshal(cfg)
	if err := p.configs.AppendAlarmHistory(ctx, model.AlarmHistory{
		AlarmID: cfg.ID, Active: false, UnixSeconds: now, ConfigSnapshot: string(snapshot),
	}); err != nil {
		return fmt.Errorf("append alarm history: %w", err)
	}
	return p.applyExternalAlarms(ctx, cfg, false)
}

// applyExternalAlarms implements §4.5: on trigger, assert each enabled
// external entry's value into the any-true aggregator keyed by the alarm's
// id; disabled entries, and every entry on clear, assert the inverted value
// ("no alarm"). A Value other than "0" counts as true.
func (p *Processor) applyExternalAlarms(ctx context.Context, cfg model.AlarmConfig, hasAlarm bool) error {
	for _, ext := range cfg.External {
		assertTrue := ext.Value != "0"
		if !hasAlarm || !ext.Enabled {
			assertTrue = !assertTrue
		}
		anyTrue := p.aggregator.Set(ext.TargetPointID, cfg.ID, assertTrue)
		out := "0"
		if anyTrue {
			out = "1"
		}
		targetPoint := p.pointByID[ext.TargetPointID]
		if targetPoint.ID == "" {
			targetPoint = model.Point{ID: ext.TargetPointID}
		}
		if _, err := p.dispatcher.WriteOrAdd(ctx, targetPoint, out, p.nowFn().Unix(), 0); err != nil {
			return fmt.Errorf("write external alarm target %s: %w", ext.TargetPointID, err)
		}
	}
	return nil
}
