// Package rateofchange implements the Rate-of-Change Processor (spec.md
// §4.9): baseline-gated slope estimation over a sliding window by one of
// four methods, EMA smoothing, and high/low hysteresis alarming.
package rateofchange

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

	cfgs      []model.RateOfChangeConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{points: points, configs: configs, dispatcher: dispatcher, log: log, nowFn: nowFn, pointByID: make(map[string]model.Point)}
}

func (p *Processor) Kind() string { return "rate_of_change" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.RateOfChangeConfigs(ctx)
	if err != nil {
		return fmt.Errorf("rateofchange: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("rateofchange: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(id string) string { return "RateOfChangeState:" + id }

func (p *Processor) Cycle(ctx context.Context) error {
	now := p.nowFn()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("rateofchange: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.RateOfChangeConfig, now int64) error {
	var st model.RateOfChangeState
	if err := p.points.GetState(ctx, stateKey(cfg.ID), &st); err != nil {
		st = model.RateOfChangeState{ID: cfg.ID}
	}

	fv, err := p.points.GetFinal(ctx, cfg.InputPointID)
	if err != nil {
		return fmt.Errorf("resolve input %s: %w", cfg.InputPointID, err)
	}
	v, err := strconv.ParseFloat(fv.StringValue, 64)
	if err != nil {
		return fmt.Errorf("unparsable input: %w", err)
	}

	st.Samples = append(st.Samples, model.RateOfChangeSample{UnixSeconds: now, Value: v})
	if cfg.WindowSeconds > 0 {
		cutoff := now - cfg.WindowSeconds
		kept := st.Samples[:0]
		for _, s := range st.Samples {
			if s.UnixSeconds >= cutoff {
				kept = append(kept, s)
			}
		}
		st.Samples = kept
	}

	if len(st.Samples) < cfg.BaselineSampleCount {
		st.LastTickUnix = now
		return p.points.SetState(ctx, stateKey(cfg.ID), st)
	}

	rate, err := computeRate(cfg.Method, st.Samples)
	if err != nil {
		return fmt.Errorf("compute rate: %w", err)
	}
	if cfg.TimeUnitFactor != 0 {
		rate *= cfg.TimeUnitFactor
	}

	if cfg.SmoothingFilterAlpha > 0 {
		if !st.HaveSmoothed {
			st.SmoothedRate = rate
			st.HaveSmoothed = true
		} else {
			st.SmoothedRate = cfg.SmoothingFilterAlpha*st.SmoothedRate + (1-cfg.SmoothingFilterAlpha)*rate
		}
		rate = st.SmoothedRate
	}

	outPoint := p.pointByID[cfg.OutputPointID]
	if outPoint.ID == "" {
		outPoint = model.Point{ID: cfg.OutputPointID}
	}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, strconv.FormatFloat(rate, 'f', -1, 64), now, 0); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if cfg.AlarmOutputPointID != "" {
		p.evaluateAlarm(&st, cfg, rate)
		alarmPoint := p.pointByID[cfg.AlarmOutputPointID]
		if alarmPoint.ID == "" {
			alarmPoint = model.Point{ID: cfg.AlarmOutputPointID}
		}
		alarmBit := "0"
		if st.HighAlarmActive || st.LowAlarmActive {
			alarmBit = "1"
		}
		if _, err := p.dispatcher.WriteOrAdd(ctx, alarmPoint, alarmBit, now, 0); err != nil {
			return fmt.Errorf("write alarm output: %w", err)
		}
	}

	st.LastTickUnix = now
	return p.points.SetState(ctx, stateKey(cfg.ID), st)
}

func (p *Processor) evaluateAlarm(st *model.RateOfChangeState, cfg model.RateOfChangeConfig, rate float64) {
	factor := cfg.HysteresisFactor
	if factor <= 0 {
		factor = 1
	}
	if cfg.HighThreshold != 0 {
		if st.HighAlarmActive {
			if rate < cfg.HighThreshold*factor {
				st.HighAlarmActive = false
			}
		} else if rate >= cfg.HighThreshold {
			st.HighAlarmActive = true
		}
	}
	if cfg.LowThreshold != 0 {
		if st.LowAlarmActive {
			if rate > cfg.LowThreshold/factor {
				st.LowAlarmActive = false
			}
		} else if rate <= cfg.LowThreshold {
			st.LowAlarmActive = true
		}
	}
}

func computeRate(method model.RateMethod, samples []model.RateOfChangeSample) (float64, error) {
	if len(samples) < 2 {
		return 0, nil
	}
	switch method {
	case model.RateSimpleDifference:
		first, last := samples[0], samples[len(samples)-1]
		dt := float64(last.UnixSeconds - first.UnixSeconds)
		if dt == 0 {
			return 0, nil
		}
		return (last.Value - first.Value) / dt, nil

	case model.RateMovingAverage:
		half := len(samples) / 2
		if half == 0 {
			return 0, nil
		}
		firstHalf, secondHalf := samples[:half], samples[half:]
		firstMean := meanValue(firstHalf)
		secondMean := meanValue(secondHalf)
		dt := float64(secondHalf[len(secondHalf)-1].UnixSeconds-firstHalf[0].UnixSeconds) / 2
		if dt == 0 {
			return 0, nil
		}
		return (secondMean - firstMean) / dt, nil

	case model.RateWeightedAverage:
		var weightedSum, weightTotal float64
		for i := 1; i < len(samples); i++ {
			dt := float64(samples[i].UnixSeconds - samples[i-1].UnixSeconds)
			if dt == 0 {
				continue
			}
			rate := (samples[i].Value - samples[i-1].Value) / dt
			weight := float64(i)
			weightedSum += rate * weight
			weightTotal += weight
		}
		if weightTotal == 0 {
			return 0, nil
		}
		return weightedSum / weightTotal, nil

	case model.RateLinearRegression:
		return linearRegressionSlope(samples), nil

	default:
		return 0, fmt.Errorf("unknown rate method %q", method)
	}
}

func meanValue(samples []model.RateOfChangeSample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

// linearRegressionSlope fits y = a + b*x via ordinary least squares over
// (t, value) pairs, t measured in seconds relative to the first sample.
func linearRegressionSlope(samples []model.RateOfChangeSample) float64 {
	n := float64(len(samples))
	t0 := samples[0].UnixSeconds
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range samples {
		x := float64(s.UnixSeconds - t0)
		y := s.Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
