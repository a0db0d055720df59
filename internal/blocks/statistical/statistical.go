// Package statistical implements the Statistical Window Processor (spec.md
// §4.16): sliding or tumbling windows of raw samples reduced to one or more
// summary statistics, gated by a minimum sample count.
package statistical

import (
	"context"
	"fmt"
	"math"
	"sort"
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

	cfgs      []model.StatisticalWindowConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{points: points, configs: configs, dispatcher: dispatcher, log: log, nowFn: nowFn, pointByID: make(map[string]model.Point)}
}

func (p *Processor) Kind() string { return "statistical_window" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.StatisticalWindowConfigs(ctx)
	if err != nil {
		return fmt.Errorf("statistical: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("statistical: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(id string) string { return "StatisticalWindowState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("statistical: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.StatisticalWindowConfig, now int64) error {
	var st model.StatisticalWindowState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.StatisticalWindowState{ID: cfg.ID}
	}

	fv, err := p.points.GetFinal(ctx, cfg.InputPointID)
	if err != nil {
		return fmt.Errorf("resolve input %s: %w", cfg.InputPointID, err)
	}
	v, err := strconv.ParseFloat(fv.StringValue, 64)
	if err != nil {
		return fmt.Errorf("unparsable input: %w", err)
	}

	if cfg.Kind == model.WindowTumbling && st.TumblingWindowEnd != 0 && now >= st.TumblingWindowEnd {
		st.Samples = nil
		st.TumblingWindowEnd = 0
	}
	if cfg.Kind == model.WindowTumbling && st.TumblingWindowEnd == 0 {
		st.TumblingWindowEnd = now + cfg.WindowSeconds
	}

	st.Samples = append(st.Samples, model.StatisticalSample{UnixSeconds: now, Value: v})

	if cfg.Kind == model.WindowSliding && cfg.WindowSeconds > 0 {
		cutoff := now - cfg.WindowSeconds
		kept := st.Samples[:0]
		for _, s := range st.Samples {
			if s.UnixSeconds >= cutoff {
				kept = append(kept, s)
			}
		}
		st.Samples = kept
	}

	minCount := cfg.MinSampleCount
	if minCount < 2 {
		minCount = 2
	}
	if len(st.Samples) < minCount {
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	values := make([]float64, len(st.Samples))
	for i, s := range st.Samples {
		values[i] = s.Value
	}

	for stat, outID := range cfg.Outputs {
		result, err := computeStatistic(stat, values, cfg.PercentileRank)
		if err != nil {
			p.log.Warn("statistical: skipping statistic", zap.String("block_id", cfg.ID), zap.String("statistic", string(stat)), zap.Error(err))
			continue
		}
		outPoint := p.pointByID[outID]
		if outPoint.ID == "" {
			outPoint = model.Point{ID: outID}
		}
		if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, strconv.FormatFloat(result, 'f', -1, 64), now, 0); err != nil {
			return fmt.Errorf("write statistic %s: %w", stat, err)
		}
	}

	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}

func computeStatistic(stat model.StatisticalStatistic, values []float64, percentileRank float64) (float64, error) {
	switch stat {
	case model.StatMin:
		return minOf(values), nil
	case model.StatMax:
		return maxOf(values), nil
	case model.StatMean:
		return mean(values), nil
	case model.StatStdDev:
		return stdDev(values), nil
	case model.StatRange:
		return maxOf(values) - minOf(values), nil
	case model.StatMedian:
		return percentileOf(values, 0.5), nil
	case model.StatCV:
		m := mean(values)
		if m == 0 {
			return 0, fmt.Errorf("coefficient of variation undefined for zero mean")
		}
		return stdDev(values) / m, nil
	case model.StatPercentile:
		return percentileOf(values, percentileRank/100), nil
	default:
		return 0, fmt.Errorf("unknown statistic %q", stat)
	}
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	m := mean(values)
	var variance float64
	for _, v := range values {
		variance += (v - m) * (v - m)
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func percentileOf(values []float64, rank float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := rank * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
