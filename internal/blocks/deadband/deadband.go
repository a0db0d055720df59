// Package deadband implements the Deadband/Stability Processor (spec.md
// §4.11): analog suppression of small fluctuations (absolute, percentage of
// range, or rate-of-change modes) and digital debounce that only commits a
// new state once it has held for stabilityTime.
package deadband

import (
	"context"
	"fmt"
	"strconv"

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

	cfgs      []model.DeadbandConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{points: points, configs: configs, dispatcher: dispatcher, log: log, nowFn: nowFn, pointByID: make(map[string]model.Point)}
}

func (p *Processor) Kind() string { return "deadband" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.DeadbandConfigs(ctx)
	if err != nil {
		return fmt.Errorf("deadband: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("deadband: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(id string) string { return "DeadbandState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("deadband: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.DeadbandConfig, now int64) error {
	var st model.DeadbandState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.DeadbandState{ID: cfg.ID}
	}

	inputPoint := p.pointByID[cfg.InputPointID]
	fv, err := p.points.GetFinal(ctx, cfg.InputPointID)
	if err != nil {
		return fmt.Errorf("resolve input %s: %w", cfg.InputPointID, err)
	}

	if inputPoint.IsDigital() {
		return p.evaluateDigital(ctx, cfg, &st, fv, now)
	}
	return p.evaluateAnalog(ctx, cfg, &st, fv, now)
}

func (p *Processor) evaluateAnalog(ctx context.Context, cfg model.DeadbandConfig, st *model.DeadbandState, fv model.FinalValue, now int64) error {
	v, err := strconv.ParseFloat(fv.StringValue, 64)
	if err != nil {
		return fmt.Errorf("unparsable input: %w", err)
	}

	if !st.HaveLastOutput {
		st.LastOutput = v
		st.HaveLastOutput = true
		st.LastInput = v
		st.HaveLastInput = true
		st.LastTimestamp = now
		if err := p.writeOutput(ctx, cfg, v, now); err != nil {
			return err
		}
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	var delta float64
	switch cfg.Mode {
	case model.DeadbandPercentage:
		rangeSize := cfg.RangeMax - cfg.RangeMin
		if rangeSize == 0 {
			delta = abs(v - st.LastOutput)
		} else {
			delta = abs(v-st.LastOutput) / rangeSize * 100
		}
	case model.DeadbandRateOfChange:
		dt := float64(now - st.LastTimestamp)
		if dt <= 0 {
			dt = 1
		}
		delta = abs(v-st.LastInput) / dt
	default: // DeadbandAbsolute
		delta = abs(v - st.LastOutput)
	}

	st.LastInput = v
	st.HaveLastInput = true
	st.LastTimestamp = now

	if delta > cfg.Deadband {
		st.LastOutput = v
		if err := p.writeOutput(ctx, cfg, v, now); err != nil {
			return err
		}
	}

	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}

func (p *Processor) evaluateDigital(ctx context.Context, cfg model.DeadbandConfig, st *model.DeadbandState, fv model.FinalValue, now int64) error {
	current := fv.StringValue

	if !st.HaveLastOutput {
		st.LastOutput = boolToFloat(current == "1")
		st.HaveLastOutput = true
		if err := p.writeOutput(ctx, cfg, st.LastOutput, now); err != nil {
			return err
		}
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	lastCommitted := "0"
	if st.LastOutput != 0 {
		lastCommitted = "1"
	}

	if current == lastCommitted {
		st.PendingDigitalState = ""
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	if st.PendingDigitalState != current {
		st.PendingDigitalState = current
		st.PendingSince = now
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	if now-st.PendingSince >= cfg.StabilityTime {
		st.LastOutput = boolToFloat(current == "1")
		st.PendingDigitalState = ""
		if err := p.writeOutput(ctx, cfg, st.LastOutput, now); err != nil {
			return err
		}
	}

	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}

func (p *Processor) writeOutput(ctx context.Context, cfg model.DeadbandConfig, v float64, now int64) error {
	outPoint := p.pointByID[cfg.OutputPointID]
	if outPoint.ID == "" {
		outPoint = model.Point{ID: cfg.OutputPointID}
	}
	value := strconv.FormatFloat(v, 'f', -1, 64)
	if outPoint.IsDigital() {
		value = "0"
		if v != 0 {
			value = "1"
		}
	}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, value, now, 0); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
