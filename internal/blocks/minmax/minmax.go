// Package minmax implements the Min/Max Selector Processor (spec.md §4.14):
// selects the minimum or maximum of the currently valid inputs, with
// configurable failover when every input is bad or stale.
package minmax

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

	cfgs      []model.MinMaxSelectorConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{points: points, configs: configs, dispatcher: dispatcher, log: log, nowFn: nowFn, pointByID: make(map[string]model.Point)}
}

func (p *Processor) Kind() string { return "minmax_selector" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.MinMaxSelectorConfigs(ctx)
	if err != nil {
		return fmt.Errorf("minmax: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("minmax: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(id string) string { return "MinMaxSelectorState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("minmax: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

type candidate struct {
	pointID string
	value   float64
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.MinMaxSelectorConfig, now int64) error {
	var st model.MinMaxSelectorState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.MinMaxSelectorState{ID: cfg.ID}
	}

	var valid, all []candidate
	for _, id := range cfg.Inputs {
		fv, err := p.points.GetFinal(ctx, id)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(fv.StringValue, 64)
		if err != nil {
			continue
		}
		all = append(all, candidate{pointID: id, value: v})
		if cfg.MaxInputAgeSeconds > 0 && now-fv.UnixSeconds > cfg.MaxInputAgeSeconds {
			continue
		}
		valid = append(valid, candidate{pointID: id, value: v})
	}

	var chosen *candidate
	if len(valid) > 0 {
		c := selectExtreme(valid, cfg.Selection)
		chosen = &c
	} else {
		switch cfg.Failover {
		case model.FailoverHoldLastGood:
			if st.HaveLastGood {
				if err := p.write(ctx, cfg, st.LastGoodValue, now); err != nil {
					return err
				}
			}
			st.LastTickUnix = now
			return p.points.SetState(ctx, stateKey(cfg.ID), st)

		case model.FailoverFallbackToOpposite:
			if len(all) > 0 {
				opposite := model.SelectMaximum
				if cfg.Selection == model.SelectMaximum {
					opposite = model.SelectMinimum
				}
				c := selectExtreme(all, opposite)
				chosen = &c
			}

		default: // FailoverIgnoreBad
			st.LastTickUnix = now
			return p.points.SetState(ctx, stateKey(cfg.ID), st)
		}
	}

	if chosen == nil {
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	if err := p.write(ctx, cfg, chosen.value, now); err != nil {
		return err
	}
	st.LastGoodValue = chosen.value
	st.HaveLastGood = true
	st.SelectedPoint = chosen.pointID
	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}

func (p *Processor) write(ctx context.Context, cfg model.MinMaxSelectorConfig, value float64, now int64) error {
	outPoint := p.pointByID[cfg.OutputPointID]
	if outPoint.ID == "" {
		outPoint = model.Point{ID: cfg.OutputPointID}
	}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, strconv.FormatFloat(value, 'f', -1, 64), now, 0); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func selectExtreme(candidates []candidate, selection model.MinMaxSelection) candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if selection == model.SelectMaximum {
			if c.value > best.value {
				best = c
			}
		} else if c.value < best.value {
			best = c
		}
	}
	return best
}
