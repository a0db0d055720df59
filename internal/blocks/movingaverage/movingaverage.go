// Package movingaverage implements the Moving Average Processor (spec.md
// §4.10): single-input SMA/EMA/WMA over a sliding window with optional
// outlier rejection, or N-input single-tick weighted averaging with
// per-input staleness gating.
package movingaverage

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

	cfgs      []model.MovingAverageConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{points: points, configs: configs, dispatcher: dispatcher, log: log, nowFn: nowFn, pointByID: make(map[string]model.Point)}
}

func (p *Processor) Kind() string { return "moving_average" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.MovingAverageConfigs(ctx)
	if err != nil {
		return fmt.Errorf("movingaverage: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("movingaverage: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(id string) string { return "MovingAverageState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("movingaverage: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.MovingAverageConfig, now int64) error {
	if len(cfg.Inputs) >= 2 {
		return p.evaluateMultiInput(ctx, cfg, now)
	}
	return p.evaluateSingleInput(ctx, cfg, now)
}

func (p *Processor) evaluateSingleInput(ctx context.Context, cfg model.MovingAverageConfig, now int64) error {
	if len(cfg.Inputs) != 1 {
		return fmt.Errorf("single-input mode requires exactly one input")
	}
	var st model.MovingAverageState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.MovingAverageState{ID: cfg.ID}
	}

	fv, err := p.points.GetFinal(ctx, cfg.Inputs[0])
	if err != nil {
		return fmt.Errorf("resolve input %s: %w", cfg.Inputs[0], err)
	}
	v, err := strconv.ParseFloat(fv.StringValue, 64)
	if err != nil {
		return fmt.Errorf("unparsable input: %w", err)
	}

	if cfg.Method == model.MAEMA {
		if !st.HaveEMA {
			st.EMAValue = v
			st.HaveEMA = true
		} else {
			alpha := cfg.EMAAlpha
			st.EMAValue = alpha*v + (1-alpha)*st.EMAValue
		}
		return p.writeAndPersist(ctx, cfg, st, st.EMAValue, now)
	}

	st.Samples = append(st.Samples, model.MovingAverageSample{UnixSeconds: now, Value: v})
	if cfg.WindowSize > 0 && len(st.Samples) > cfg.WindowSize {
		st.Samples = st.Samples[len(st.Samples)-cfg.WindowSize:]
	}

	filtered := rejectOutliers(st.Samples, cfg.OutlierRejection, cfg.OutlierFactor)
	if len(filtered) < cfg.MinSampleCount {
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	var result float64
	switch cfg.Method {
	case model.MASMA:
		result = simpleMean(filtered)
	case model.MAWMA:
		result = linearWeightedMean(filtered)
	default:
		return fmt.Errorf("unknown moving-average method %q", cfg.Method)
	}
	return p.writeAndPersist(ctx, cfg, st, result, now)
}

func (p *Processor) evaluateMultiInput(ctx context.Context, cfg model.MovingAverageConfig, now int64) error {
	var st model.MovingAverageState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.MovingAverageState{ID: cfg.ID}
	}

	var weightedSum, weightTotal float64
	valid := 0
	for i, id := range cfg.Inputs {
		fv, err := p.points.GetFinal(ctx, id)
		if err != nil {
			continue
		}
		if cfg.StaleTimeout > 0 && now-fv.UnixSeconds > cfg.StaleTimeout {
			continue
		}
		v, err := strconv.ParseFloat(fv.StringValue, 64)
		if err != nil {
			continue
		}
		weight := 1.0
		if i < len(cfg.Weights) {
			weight = cfg.Weights[i]
		}
		weightedSum += v * weight
		weightTotal += weight
		valid++
	}

	if valid < cfg.MinSampleCount || weightTotal == 0 {
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	return p.writeAndPersist(ctx, cfg, st, weightedSum/weightTotal, now)
}

func (p *Processor) writeAndPersist(ctx context.Context, cfg model.MovingAverageConfig, st model.MovingAverageState, result float64, now int64) error {
	rounded := math.Round(result*1e4) / 1e4

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

func simpleMean(samples []model.MovingAverageSample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

// linearWeightedMean weights the most recent sample highest: weight i+1 for
// the i-th oldest sample in the window.
func linearWeightedMean(samples []model.MovingAverageSample) float64 {
	var weightedSum, weightTotal float64
	for i, s := range samples {
		weight := float64(i + 1)
		weightedSum += s.Value * weight
		weightTotal += weight
	}
	return weightedSum / weightTotal
}

func rejectOutliers(samples []model.MovingAverageSample, mode model.OutlierRejection, factor float64) []model.MovingAverageSample {
	if mode == model.OutlierNone || len(samples) < 4 {
		return samples
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}

	switch mode {
	case model.OutlierIQR:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		q1 := percentile(sorted, 0.25)
		q3 := percentile(sorted, 0.75)
		iqr := q3 - q1
		k := factor
		if k <= 0 {
			k = 1.5
		}
		lower, upper := q1-k*iqr, q3+k*iqr
		var out []model.MovingAverageSample
		for _, s := range samples {
			if s.Value >= lower && s.Value <= upper {
				out = append(out, s)
			}
		}
		return out

	case model.OutlierZScore:
		mean := simpleMean(samples)
		var variance float64
		for _, v := range values {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(values))
		stdDev := math.Sqrt(variance)
		threshold := factor
		if threshold <= 0 {
			threshold = 3
		}
		var out []model.MovingAverageSample
		for _, s := range samples {
			if stdDev == 0 || math.Abs((s.Value-mean)/stdDev) <= threshold {
				out = append(out, s)
			}
		}
		return out
	}
	return samples
}

func percentile(sorted []float64, rank float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := rank * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
