// Package pid implements the PID Processor and cascade ordering (spec.md
// §4.6): anti-windup, derivative-on-PV low-pass filtering, output slew
// limiting, a Schmitt-trigger digital companion, and bumpless transfer both
// across manual/auto switches and across process restarts via a
// configuration-hash-checked checkpoint.
package pid

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/refs"
	"github.com/fieldware/memengine/internal/store"
)

// cascadePropagationDelay is the pause between cascade levels so that a
// child level's inputs observe the parent level's outputs from the same
// cycle (spec §4.6).
const cascadePropagationDelay = 50 * time.Millisecond

// TuningActiveFunc reports whether an auto-tuning session currently owns a
// PID block's output (spec §4.6 step 1). Wired to the tuning package by the
// caller to avoid an import cycle.
type TuningActiveFunc func(pidID string) bool

// Processor evaluates every configured PID block once per cycle, honoring
// cascade-level ordering.
type Processor struct {
	points     store.PointStore
	configs    store.ConfigStore
	dispatcher *dispatch.Dispatcher
	resolver   *refs.Resolver
	log        *zap.Logger
	nowFn      func() time.Time

	tuningActive TuningActiveFunc

	pids      []model.PIDConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() time.Time, tuningActive TuningActiveFunc) *Processor {
	return &Processor{
		points:       points,
		configs:      configs,
		dispatcher:   dispatcher,
		resolver:     refs.NewResolver(points),
		log:          log,
		nowFn:        nowFn,
		tuningActive: tuningActive,
		pointByID:    make(map[string]model.Point),
	}
}

func (p *Processor) Kind() string { return "pid" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.PIDConfigs(ctx)
	if err != nil {
		return fmt.Errorf("pid: refresh config: %w", err)
	}
	p.pids = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("pid: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func stateKey(pidID string) string { return "PIDState:" + pidID }

// Cycle runs every cascade level in order (0, 1, 2), fanning blocks within a
// level out in parallel and waiting a short propagation delay between
// levels (spec §4.6, §5).
func (p *Processor) Cycle(ctx context.Context) error {
	byLevel := map[model.CascadeLevel][]model.PIDConfig{}
	for _, cfg := range p.pids {
		if !cfg.Enabled {
			continue
		}
		byLevel[cfg.CascadeLevel] = append(byLevel[cfg.CascadeLevel], cfg)
	}

	levels := []model.CascadeLevel{model.CascadeLevel0, model.CascadeLevel1, model.CascadeLevel2}
	for i, level := range levels {
		blocks := byLevel[level]
		if len(blocks) == 0 {
			continue
		}
		var wg sync.WaitGroup
		for _, cfg := range blocks {
			wg.Add(1)
			go func(cfg model.PIDConfig) {
				defer wg.Done()
				if err := p.evaluateOne(ctx, cfg); err != nil {
					p.log.Warn("pid: skipping block", zap.String("pid_id", cfg.ID), zap.Error(err))
				}
			}(cfg)
		}
		wg.Wait()
		if i < len(levels)-1 {
			time.Sleep(cascadePropagationDelay)
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.PIDConfig) error {
	if p.tuningActive != nil && p.tuningActive(cfg.ID) {
		return nil
	}

	now := p.nowFn()
	nowUnix := now.Unix()

	var persisted model.PIDPersistedState
	hasPersisted := p.points.GetState(ctx, stateKey(cfg.ID), &persisted) == nil

	hash := cfg.ConfigHash()

	var runtime model.PIDRuntime
	var dt float64

	processValue, err := p.resolver.Float(ctx, cfg.ProcessValue)
	if err != nil {
		return fmt.Errorf("resolve process value: %w", err)
	}
	setPoint, err := p.resolver.Float(ctx, cfg.SetPoint)
	if err != nil {
		return fmt.Errorf("resolve set point: %w", err)
	}
	reverse, err := p.resolver.Bool(ctx, cfg.ReverseOutput)
	if err != nil {
		reverse = false
	}

	if !hasPersisted || persisted.StoredConfigHash != hash {
		runtime = model.PIDRuntime{ID: cfg.ID, LastTickUnix: nowUnix}
		currentOutput, err := p.currentOutput(ctx, cfg)
		if err != nil {
			currentOutput = 0
		}
		initializeForBumplessTransfer(&runtime.Controller, currentOutput, processValue, setPoint, cfg, reverse)
		dt = float64(cfg.IntervalSeconds)
		if dt <= 0 {
			dt = 1
		}
	} else {
		runtime = model.PIDRuntime{
			ID:                   cfg.ID,
			LastTickUnix:         persisted.LastTickUnix,
			Controller:           persisted.Controller,
			DigitalOutputLatched: persisted.DigitalLatched,
		}
		dt = float64(nowUnix - runtime.LastTickUnix)
		if dt < float64(cfg.IntervalSeconds) {
			return nil
		}
		if dt <= 0 {
			dt = 1
		}
	}

	isAuto, err := p.resolver.Bool(ctx, cfg.IsAuto)
	if err != nil {
		isAuto = true
	}

	var output float64
	if isAuto {
		output = computeAuto(&runtime.Controller, cfg, processValue, setPoint, dt, reverse)
	} else {
		manual, err := p.resolver.Float(ctx, cfg.ManualValue)
		if err != nil {
			return fmt.Errorf("resolve manual value: %w", err)
		}
		output = manual
		initializeForBumplessTransfer(&runtime.Controller, output, processValue, setPoint, cfg, reverse)
	}

	outPoint := p.pointByID[cfg.OutputPointID]
	if outPoint.ID == "" {
		outPoint = model.Point{ID: cfg.OutputPointID}
	}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, formatFloat(output), nowUnix, 0); err != nil {
		return fmt.Errorf("write analog output: %w", err)
	}

	if cfg.DigitalCompanion != nil {
		newLatch := schmittTrigger(runtime.DigitalOutputLatched, output, *cfg.DigitalCompanion)
		if newLatch != runtime.DigitalOutputLatched {
			bit := "0"
			if newLatch != cfg.DigitalCompanion.ReverseOutput {
				bit = "1"
			}
			digPoint := p.pointByID[cfg.DigitalCompanion.OutputPointID]
			if digPoint.ID == "" {
				digPoint = model.Point{ID: cfg.DigitalCompanion.OutputPointID}
			}
			if _, err := p.dispatcher.WriteOrAdd(ctx, digPoint, bit, nowUnix, 0); err != nil {
				return fmt.Errorf("write digital companion output: %w", err)
			}
			runtime.DigitalOutputLatched = newLatch
		}
	}

	runtime.LastTickUnix = nowUnix
	return p.points.SetState(ctx, stateKey(cfg.ID), model.PIDPersistedState{
		ID:               cfg.ID,
		LastTickUnix:     runtime.LastTickUnix,
		Controller:       runtime.Controller,
		DigitalLatched:   runtime.DigitalOutputLatched,
		StoredConfigHash: hash,
	})
}

func (p *Processor) currentOutput(ctx context.Context, cfg model.PIDConfig) (float64, error) {
	fv, err := p.points.GetFinal(ctx, cfg.OutputPointID)
	if err != nil {
		return 0, err
	}
	return parseFloatOrZero(fv.StringValue), nil
}

// initializeForBumplessTransfer seeds the controller so the first computed
// output equals currentOutput (spec §4.6 step 4).
func initializeForBumplessTransfer(c *model.PIDController, currentOutput, pv, sp float64, cfg model.PIDConfig, reverse bool) {
	err := sp - pv
	if reverse {
		err = -err
	}
	integral := currentOutput - cfg.Kp*err - cfg.FeedForward
	integral = clamp(integral, cfg.OutMin, cfg.OutMax)
	c.Integral = integral
	c.PreviousProcessValue = pv
	c.FilteredDerivative = 0
	c.PreviousOutput = currentOutput
}

func computeAuto(c *model.PIDController, cfg model.PIDConfig, pv, sp, dt float64, reverse bool) float64 {
	err := sp - pv
	if reverse {
		err = -err
	}

	if abs(err) <= cfg.DeadZone {
		return c.PreviousOutput
	}

	c.Integral += cfg.Ki * err * dt
	c.Integral = clamp(c.Integral, cfg.OutMin, cfg.OutMax)

	rawDerivative := (pv - c.PreviousProcessValue) / dt
	alpha := cfg.DerivativeFilterAlpha
	c.FilteredDerivative = alpha*c.FilteredDerivative + (1-alpha)*rawDerivative

	output := cfg.Kp*err + c.Integral - cfg.Kd*c.FilteredDerivative + cfg.FeedForward
	output = clamp(output, cfg.OutMin, cfg.OutMax)

	if cfg.MaxOutputSlewRate > 0 {
		maxDelta := cfg.MaxOutputSlewRate * dt
		delta := output - c.PreviousOutput
		if delta > maxDelta {
			output = c.PreviousOutput + maxDelta
		} else if delta < -maxDelta {
			output = c.PreviousOutput - maxDelta
		}
	}

	c.PreviousProcessValue = pv
	c.PreviousOutput = output
	return output
}

// schmittTrigger implements the PID digital companion (spec §4.6 step 7):
// OFF->ON at highThreshold, ON->OFF at lowThreshold, with ReverseOutput as a
// bit-invert applied by the caller at write time.
func schmittTrigger(latched bool, output float64, companion model.PIDDigitalCompanion) bool {
	if !latched && output >= companion.HighThreshold {
		return true
	}
	if latched && output <= companion.LowThreshold {
		return false
	}
	return latched
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
