// Package conditional implements the IfMemory Processor (spec.md §4.15):
// evaluates ordered (condition, value) branches using the expression
// evaluator, aliasing point/variable references into short identifiers, and
// writes the first truthy branch's value (or the fallback branch's).
package conditional

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/expr"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/refs"
	"github.com/fieldware/memengine/internal/store"
)

type Processor struct {
	points     store.PointStore
	configs    store.ConfigStore
	dispatcher *dispatch.Dispatcher
	resolver   *refs.Resolver
	log        *zap.Logger
	nowFn      func() int64

	cfgs      []model.IfMemoryConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{
		points:     points,
		configs:    configs,
		dispatcher: dispatcher,
		resolver:   refs.NewResolver(points),
		log:        log,
		nowFn:      nowFn,
		pointByID:  make(map[string]model.Point),
	}
}

func (p *Processor) Kind() string { return "if_memory" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.IfMemoryConfigs(ctx)
	if err != nil {
		return fmt.Errorf("conditional: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("conditional: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(id string) string { return "IfMemoryState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("conditional: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.IfMemoryConfig, now int64) error {
	var st model.IfMemoryState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.IfMemoryState{ID: cfg.ID, LastBranchIdx: -1}
	}

	vars := func(name string) (float64, bool) {
		ref, ok := cfg.Aliases[name]
		if !ok {
			return 0, false
		}
		v, err := p.resolver.Float(ctx, ref)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	branchIdx := -1
	var value string
	for i, b := range cfg.Branches {
		if b.Condition == "" {
			branchIdx = i
			value = b.Value
			break
		}
		truth, err := expr.Eval(b.Condition, vars)
		if err != nil {
			p.log.Warn("conditional: branch condition error", zap.String("block_id", cfg.ID), zap.Int("branch", i), zap.Error(err))
			continue
		}
		if expr.Truthy(truth) {
			branchIdx = i
			value = b.Value
			break
		}
	}

	if branchIdx == -1 {
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	if cfg.Branches[branchIdx].ValueIsExpr {
		result, err := expr.Eval(value, vars)
		if err != nil {
			return fmt.Errorf("evaluate branch %d value expression: %w", branchIdx, err)
		}
		value = formatValue(result, cfg.OutputIsDigital)
	}

	outPoint := p.pointByID[cfg.OutputPointID]
	if outPoint.ID == "" {
		outPoint = model.Point{ID: cfg.OutputPointID}
	}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, value, now, 0); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	st.LastBranchIdx = branchIdx
	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}

func formatValue(v float64, digital bool) string {
	if digital {
		if expr.Truthy(v) {
			return "1"
		}
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
