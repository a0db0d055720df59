// Package totalizer implements the Totalizer Processor (spec.md §4.8):
// trapezoidal rate integration or digital edge counting, with manual,
// overflow, and cron-scheduled resets.
package totalizer

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
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

	cfgs      []model.TotalizerConfig
	pointByID map[string]model.Point
	schedules map[string]cron.Schedule
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{
		points:     points,
		configs:    configs,
		dispatcher: dispatcher,
		log:        log,
		nowFn:      nowFn,
		pointByID:  make(map[string]model.Point),
		schedules:  make(map[string]cron.Schedule),
	}
}

func (p *Processor) Kind() string { return "totalizer" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.TotalizerConfigs(ctx)
	if err != nil {
		return fmt.Errorf("totalizer: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("totalizer: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedules := make(map[string]cron.Schedule, len(cfgs))
	for _, c := range cfgs {
		if c.ResetCronExpr == "" {
			continue
		}
		sched, err := parser.Parse(c.ResetCronExpr)
		if err != nil {
			p.log.Warn("totalizer: invalid cron expression", zap.String("block_id", c.ID), zap.Error(err))
			continue
		}
		schedules[c.ID] = sched
	}
	p.schedules = schedules
	return nil
}

func stateKey(id string) string { return "TotalizerState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("totalizer: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.TotalizerConfig, now int64) error {
	var st model.TotalizerState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.TotalizerState{ID: cfg.ID}
	}

	if sched, ok := p.schedules[cfg.ID]; ok {
		if scheduledResetDue(sched, st.LastResetTime, st.LastTickUnix, now) {
			p.resetState(&st, now)
		}
	}

	fv, err := p.points.GetFinal(ctx, cfg.InputPointID)
	if err != nil {
		return fmt.Errorf("resolve input %s: %w", cfg.InputPointID, err)
	}

	switch cfg.Mode {
	case model.TotalizerRateIntegration:
		v, err := strconv.ParseFloat(fv.StringValue, 64)
		if err != nil {
			return fmt.Errorf("unparsable input: %w", err)
		}
		interval := float64(cfg.IntervalSeconds)
		if interval <= 0 {
			interval = 1
		}
		if st.HaveLastInput {
			st.Accumulated += (st.LastInputValue + v) / 2 * interval
		}
		st.LastInputValue = v
		st.HaveLastInput = true

	case model.TotalizerEventCountRising, model.TotalizerEventCountFalling, model.TotalizerEventCountBoth:
		digital := fv.StringValue == "1"
		if st.HaveLastEvent {
			rising := !st.LastEventState && digital
			falling := st.LastEventState && !digital
			switch cfg.Mode {
			case model.TotalizerEventCountRising:
				if rising {
					st.Accumulated++
				}
			case model.TotalizerEventCountFalling:
				if falling {
					st.Accumulated++
				}
			case model.TotalizerEventCountBoth:
				if rising || falling {
					st.Accumulated++
				}
			}
		}
		st.LastEventState = digital
		st.HaveLastEvent = true

	default:
		return fmt.Errorf("unknown totalizer mode %q", cfg.Mode)
	}

	if cfg.OverflowThreshold > 0 && st.Accumulated >= cfg.OverflowThreshold {
		p.resetState(&st, now)
	}

	rounded := roundTo(st.Accumulated, cfg.DecimalPlaces)
	outPoint := p.pointByID[cfg.OutputPointID]
	if outPoint.ID == "" {
		outPoint = model.Point{ID: cfg.OutputPointID}
	}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, strconv.FormatFloat(rounded, 'f', -1, 64), now, 0); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}

func (p *Processor) resetState(st *model.TotalizerState, now int64) {
	st.Accumulated = 0
	st.HaveLastInput = false
	st.HaveLastEvent = false
	st.LastResetTime = now
}

func scheduledResetDue(sched cron.Schedule, lastReset, lastTick, now int64) bool {
	fromUnix := lastReset
	if fromUnix == 0 {
		fromUnix = lastTick
	}
	if fromUnix == 0 {
		return false
	}
	next := sched.Next(timeUnix(fromUnix))
	return !next.After(timeUnix(now))
}

func timeUnix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func roundTo(v float64, decimals int) float64 {
	if decimals < 0 {
		decimals = 0
	}
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
