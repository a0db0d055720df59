// Package comparison implements the Comparison/Voting Group Processor
// (spec.md §4.13): per-input threshold predicates with hysteresis latching,
// combined by Any/All/Minimum voting into a single digital output. The group
// vote is recomputed every cycle from the per-input latches; the vote itself
// has no hysteresis.
package comparison

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

	cfgs      []model.ComparisonGroupConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{points: points, configs: configs, dispatcher: dispatcher, log: log, nowFn: nowFn, pointByID: make(map[string]model.Point)}
}

func (p *Processor) Kind() string { return "comparison_group" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.ComparisonGroupConfigs(ctx)
	if err != nil {
		return fmt.Errorf("comparison: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("comparison: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(id string) string { return "ComparisonGroupState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("comparison: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.ComparisonGroupConfig, now int64) error {
	var st model.ComparisonGroupState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.ComparisonGroupState{ID: cfg.ID}
	}
	if len(st.InputActive) != len(cfg.Inputs) {
		st.InputActive = make([]bool, len(cfg.Inputs))
	}

	trueCount := 0
	for i, in := range cfg.Inputs {
		fv, err := p.points.GetFinal(ctx, in.PointID)
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(fv.StringValue, 64)
		if err != nil {
			continue
		}
		st.InputActive[i] = evaluatePredicate(in, v, st.InputActive[i])
		if st.InputActive[i] {
			trueCount++
		}
	}

	switch cfg.Mode {
	case model.VoteAny:
		st.GroupActive = trueCount > 0
	case model.VoteAll:
		st.GroupActive = trueCount == len(cfg.Inputs) && len(cfg.Inputs) > 0
	case model.VoteMinimum:
		st.GroupActive = trueCount >= cfg.MinimumCount
	default:
		return fmt.Errorf("unknown voting mode %q", cfg.Mode)
	}

	outPoint := p.pointByID[cfg.OutputPointID]
	if outPoint.ID == "" {
		outPoint = model.Point{ID: cfg.OutputPointID}
	}
	bit := "0"
	if st.GroupActive {
		bit = "1"
	}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, bit, now, 0); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}

// evaluatePredicate applies in.Operator against value, latching true until
// value recedes back past Threshold by Hysteresis (spec §4.13 hysteresis
// latching). Equal/NotEqual operators ignore hysteresis.
func evaluatePredicate(in model.ComparisonInput, value float64, wasActive bool) bool {
	switch in.Operator {
	case model.CmpGreaterThan, model.CmpGreaterThanOrEqual:
		raw := compare(in.Operator, value, in.Threshold)
		if wasActive {
			return !(value < in.Threshold-in.Hysteresis)
		}
		return raw

	case model.CmpLessThan, model.CmpLessThanOrEqual:
		raw := compare(in.Operator, value, in.Threshold)
		if wasActive {
			return !(value > in.Threshold+in.Hysteresis)
		}
		return raw

	default:
		return compare(in.Operator, value, in.Threshold)
	}
}

func compare(op model.ComparativeInputOperator, value, threshold float64) bool {
	switch op {
	case model.CmpGreaterThan:
		return value > threshold
	case model.CmpGreaterThanOrEqual:
		return value >= threshold
	case model.CmpLessThan:
		return value < threshold
	case model.CmpLessThanOrEqual:
		return value <= threshold
	case model.CmpEqual:
		return value == threshold
	case model.CmpNotEqual:
		return value != threshold
	default:
		return false
	}
}
