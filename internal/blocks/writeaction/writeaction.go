// Package writeaction implements the Write Action Processor (spec.md
// §4.17): an edge-triggered (or level-triggered) guarded write, limited by a
// maximum execution count and a cooldown between fires.
package writeaction

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store"
)

type Processor struct {
	points     store.PointStore
	configs    store.ConfigStore
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
	nowFn      func() int64

	cfgs      []model.WriteActionConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{points: points, configs: configs, dispatcher: dispatcher, log: log, nowFn: nowFn, pointByID: make(map[string]model.Point)}
}

func (p *Processor) Kind() string { return "write_action" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.WriteActionConfigs(ctx)
	if err != nil {
		return fmt.Errorf("writeaction: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("writeaction: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(id string) string { return "WriteActionState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("writeaction: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.WriteActionConfig, now int64) error {
	var st model.WriteActionState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.WriteActionState{ID: cfg.ID}
	}

	fv, err := p.points.GetFinal(ctx, cfg.TriggerPointID)
	if err != nil {
		return fmt.Errorf("resolve trigger %s: %w", cfg.TriggerPointID, err)
	}
	current := fv.StringValue == "1"

	fire := false
	switch cfg.Trigger {
	case model.TriggerOnRisingEdge:
		fire = st.HaveLastTrigger && !st.LastTriggerState && current
	case model.TriggerOnFallingEdge:
		fire = st.HaveLastTrigger && st.LastTriggerState && !current
	case model.TriggerOnAnyEdge:
		fire = st.HaveLastTrigger && st.LastTriggerState != current
	case model.TriggerWhileTrue:
		fire = current
	default:
		return fmt.Errorf("unknown trigger mode %q", cfg.Trigger)
	}

	st.LastTriggerState = current
	st.HaveLastTrigger = true

	if fire {
		if cfg.MaxExecutionCount > 0 && st.ExecutionCount >= cfg.MaxExecutionCount {
			fire = false
		} else if cfg.CooldownSeconds > 0 && st.LastFiredUnix != 0 && now-st.LastFiredUnix < cfg.CooldownSeconds {
			fire = false
		}
	}

	if fire {
		targetPoint := p.pointByID[cfg.TargetPointID]
		if targetPoint.ID == "" {
			targetPoint = model.Point{ID: cfg.TargetPointID}
		}
		if _, err := p.dispatcher.WriteOrAdd(ctx, targetPoint, cfg.Value, now, cfg.DurationSeconds); err != nil {
			return fmt.Errorf("write action target: %w", err)
		}
		st.ExecutionCount++
		st.LastFiredUnix = now
	}

	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}
