// Package tuning implements the PID Auto-Tuning Subsystem (spec.md §4.7): a
// relay-feedback oscillation analyzer that drives a bang-bang relay around
// the setpoint, detects peaks/troughs with a 3-point direction-change
// detector, and on convergence computes Ziegler-Nichols classic PID gains.
package tuning

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/dispatch"
	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/refs"
	"github.com/fieldware/memengine/internal/store"
)

const maxConsecutiveFailures = 5

// Processor drives every active tuning session once per cycle. It also
// answers TuningActiveFunc calls from the pid package so a tuned block's
// output is not simultaneously written by ordinary PID control.
type Processor struct {
	points     store.PointStore
	configs    store.ConfigStore
	dispatcher *dispatch.Dispatcher
	resolver   *refs.Resolver
	log        *zap.Logger
	nowFn      func() int64

	mu       sync.Mutex
	runtimes map[string]*model.TuningRuntime // keyed by session id

	pids     []model.PIDConfig
	sessions []model.TuningSession
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{
		points:     points,
		configs:    configs,
		dispatcher: dispatcher,
		resolver:   refs.NewResolver(points),
		log:        log,
		nowFn:      nowFn,
		runtimes:   make(map[string]*model.TuningRuntime),
	}
}

func (p *Processor) Kind() string { return "pid_tuning" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	pids, err := p.configs.PIDConfigs(ctx)
	if err != nil {
		return fmt.Errorf("tuning: refresh pid config: %w", err)
	}
	p.pids = pids

	sessions, err := p.configs.TuningSessions(ctx)
	if err != nil {
		return fmt.Errorf("tuning: refresh sessions: %w", err)
	}
	p.sessions = sessions
	return nil
}

// IsActive reports whether a live (non-terminal) tuning session currently
// owns pidID's output. Passed to pid.Processor as a TuningActiveFunc.
func (p *Processor) IsActive(pidID string) bool {
	for _, s := range p.sessions {
		if s.PIDID == pidID && isLive(s.Status) {
			return true
		}
	}
	return false
}

func isLive(s model.TuningStatus) bool {
	switch s {
	case model.TuningInitializing, model.TuningRelayTest, model.TuningAnalyzing:
		return true
	}
	return false
}

func (p *Processor) pidByID(id string) (model.PIDConfig, bool) {
	for _, c := range p.pids {
		if c.ID == id {
			return c, true
		}
	}
	return model.PIDConfig{}, false
}

// Cycle advances every live tuning session by one step.
func (p *Processor) Cycle(ctx context.Context) error {
	for i := range p.sessions {
		s := p.sessions[i]
		if !isLive(s.Status) {
			continue
		}
		if err := p.stepSession(ctx, s); err != nil {
			p.log.Warn("tuning: skipping session", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) runtimeFor(s model.TuningSession) *model.TuningRuntime {
	p.mu.Lock()
	defer p.mu.Unlock()
	rt, ok := p.runtimes[s.ID]
	if !ok {
		rt = &model.TuningRuntime{SessionID: s.ID}
		p.runtimes[s.ID] = rt
	}
	return rt
}

func (p *Processor) stepSession(ctx context.Context, s model.TuningSession) error {
	pidCfg, ok := p.pidByID(s.PIDID)
	if !ok {
		return fmt.Errorf("no PID config for %s", s.PIDID)
	}

	now := p.nowFn()
	if s.TimeoutSeconds > 0 && now-s.StartUnix > s.TimeoutSeconds {
		return p.abort(ctx, s, "timeout exceeded")
	}

	rt := p.runtimeFor(s)

	pv, err := p.resolver.Float(ctx, pidCfg.ProcessValue)
	if err != nil {
		rt.ConsecutiveFailures++
		if rt.ConsecutiveFailures > maxConsecutiveFailures {
			return p.abort(ctx, s, "consecutive processing failures exceeded threshold")
		}
		return fmt.Errorf("resolve process value: %w", err)
	}
	rt.ConsecutiveFailures = 0

	sp, err := p.resolver.Float(ctx, pidCfg.SetPoint)
	if err != nil {
		return fmt.Errorf("resolve set point: %w", err)
	}

	amplitude := s.RelayAmplitudePct / 100 * (pidCfg.OutMax - pidCfg.OutMin)

	// Relay hysteresis band is symmetric around the setpoint.
	hysteresis := amplitude * 0.05
	if pv > sp+hysteresis {
		rt.RelayHigh = false
	} else if pv < sp-hysteresis {
		rt.RelayHigh = true
	}

	output := pidCfg.OutMin
	if rt.RelayHigh {
		output = pidCfg.OutMax
	}
	outPoint := model.Point{ID: pidCfg.OutputPointID}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, formatFloat(output), now, 0); err != nil {
		return fmt.Errorf("write relay output: %w", err)
	}

	p.detectPeakTrough(rt, pv, now)

	amplitudeObserved := 0.0
	if len(rt.PeakValues) > 0 && len(rt.TroughValues) > 0 {
		amplitudeObserved = rt.PeakValues[len(rt.PeakValues)-1] - rt.TroughValues[len(rt.TroughValues)-1]
	}
	if amplitudeObserved > rt.MaxAmplitudeObserved {
		rt.MaxAmplitudeObserved = amplitudeObserved
	}
	if s.MaxAmplitude > 0 && rt.MaxAmplitudeObserved > s.MaxAmplitude {
		return p.abort(ctx, s, "observed oscillation amplitude exceeds maxAmplitude")
	}

	if rt.CycleCount >= s.MinCycles && rt.CycleCount >= 1 {
		return p.complete(ctx, s, rt)
	}
	if s.MaxCycles > 0 && rt.CycleCount >= s.MaxCycles {
		return p.fail(ctx, s, "maxCycles reached without convergence")
	}
	return nil
}

// detectPeakTrough implements the 3-point direction-change detector: a peak
// is recorded when p2 < p1 >= current (strictly rising into p1, then flat
// or falling), a trough on the mirrored condition.
func (p *Processor) detectPeakTrough(rt *model.TuningRuntime, current float64, now int64) {
	if !rt.HavePrevPrevPV {
		rt.PrevPrevPV = current
		rt.HavePrevPrevPV = true
		return
	}
	if !rt.HavePrevPV {
		rt.PrevPV = current
		rt.HavePrevPV = true
		return
	}

	if rt.PrevPrevPV < rt.PrevPV && rt.PrevPV >= current {
		rt.PeakTimes = append(rt.PeakTimes, now)
		rt.PeakValues = append(rt.PeakValues, rt.PrevPV)
		if len(rt.TroughValues) > 0 {
			rt.CycleCount++
		}
	} else if rt.PrevPrevPV > rt.PrevPV && rt.PrevPV <= current {
		rt.TroughTimes = append(rt.TroughTimes, now)
		rt.TroughValues = append(rt.TroughValues, rt.PrevPV)
	}

	rt.PrevPrevPV = rt.PrevPV
	rt.PrevPV = current
}

// complete computes Ziegler-Nichols classic PID gains from the last
// MinCycles confirmed peaks/troughs and transitions the session to
// Completed. Gains are exposed, not auto-applied (spec §4.7).
func (p *Processor) complete(ctx context.Context, s model.TuningSession, rt *model.TuningRuntime) error {
	n := s.MinCycles
	if n > len(rt.PeakTimes) {
		n = len(rt.PeakTimes)
	}
	if n < 2 || len(rt.TroughValues) < n {
		return nil // not enough confirmed data yet
	}

	peakTimes := rt.PeakTimes[len(rt.PeakTimes)-n:]
	peakValues := rt.PeakValues[len(rt.PeakValues)-n:]
	troughValues := rt.TroughValues[len(rt.TroughValues)-n:]

	var periodSum float64
	for i := 1; i < len(peakTimes); i++ {
		periodSum += float64(peakTimes[i] - peakTimes[i-1])
	}
	if len(peakTimes) < 2 {
		return nil
	}
	pu := periodSum / float64(len(peakTimes)-1)

	var peakMean, troughMean float64
	for _, v := range peakValues {
		peakMean += v
	}
	peakMean /= float64(len(peakValues))
	for _, v := range troughValues {
		troughMean += v
	}
	troughMean /= float64(len(troughValues))
	a := peakMean - troughMean

	pidCfg, _ := p.pidByID(s.PIDID)
	relayAmplitude := s.RelayAmplitudePct / 100 * (pidCfg.OutMax - pidCfg.OutMin)

	if a <= 0 || pu <= 0 {
		return p.fail(ctx, s, "degenerate oscillation: non-positive amplitude or period")
	}

	ku := 4 * relayAmplitude / (math.Pi * a)
	kp := 0.6 * ku
	ki := 2 * kp / pu
	kd := kp * pu / 8

	s.Status = model.TuningCompleted
	s.CalculatedGains = &model.CalculatedGains{Kp: kp, Ki: ki, Kd: kd, Ku: ku, Pu: pu}
	return p.configs.SaveTuningSession(ctx, s)
}

// ApplyGains implements the operator action spec §4.7 requires once a
// session reaches Completed: it copies the session's CalculatedGains into
// the target PID's live config and deletes the PID's runtime checkpoint so
// the next cycle reinitializes bumplessly (internal/blocks/pid resets its
// integral/derivative state whenever no checkpoint is found).
func ApplyGains(ctx context.Context, configs store.ConfigStore, points store.PointStore, session model.TuningSession) error {
	if session.Status != model.TuningCompleted {
		return fmt.Errorf("tuning: session %s is %s, not completed", session.ID, session.Status)
	}
	if session.CalculatedGains == nil {
		return fmt.Errorf("tuning: session %s has no calculated gains", session.ID)
	}

	pids, err := configs.PIDConfigs(ctx)
	if err != nil {
		return fmt.Errorf("tuning: load pid configs: %w", err)
	}
	var pidCfg model.PIDConfig
	found := false
	for _, c := range pids {
		if c.ID == session.PIDID {
			pidCfg = c
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("tuning: no PID config %s", session.PIDID)
	}

	gains := session.CalculatedGains
	pidCfg.Kp = gains.Kp
	pidCfg.Ki = gains.Ki
	pidCfg.Kd = gains.Kd
	if err := configs.SavePIDConfig(ctx, pidCfg); err != nil {
		return fmt.Errorf("tuning: save pid config: %w", err)
	}

	if err := points.DeleteState(ctx, "PIDState:"+session.PIDID); err != nil {
		return fmt.Errorf("tuning: delete pid checkpoint: %w", err)
	}
	return nil
}

func (p *Processor) abort(ctx context.Context, s model.TuningSession, reason string) error {
	s.Status = model.TuningAborted
	s.FailureReason = reason
	return p.configs.SaveTuningSession(ctx, s)
}

func (p *Processor) fail(ctx context.Context, s model.TuningSession, reason string) error {
	s.Status = model.TuningFailed
	s.FailureReason = reason
	return p.configs.SaveTuningSession(ctx, s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
