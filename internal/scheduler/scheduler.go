// Package scheduler implements the uniform processor lifecycle every memory
// processor shares (spec.md §4.1 "Scheduler Harness"): block until the
// configuration store is reachable, tick at a fixed base period, recover
// from a panic or error in any cycle, and refresh configuration on a fixed
// cadence. The harness does no per-block interval gating: it calls Cycle on
// every tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/store"
)

// Processor is the uniform shape every memory processor implements. Kind
// names the memory kind for logging ("pid", "alarm", "totalizer", ...).
// Cycle runs one tick and isolates errors among its own blocks. Only the
// PID processor skips a block whose IntervalSeconds has not yet elapsed;
// every other processor evaluates each enabled block on every Cycle call.
// RefreshConfig is
// called on the harness's 60 s cadence.
type Processor interface {
	Kind() string
	Cycle(ctx context.Context) error
	RefreshConfig(ctx context.Context) error
}

// Harness drives one Processor through its lifecycle. Each memory kind gets
// its own Harness instance; processors never call each other directly —
// only through the shared point/config stores.
type Harness struct {
	proc          Processor
	configs       store.ConfigStore
	log           *zap.Logger
	tickBase      time.Duration
	configRefresh time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// New builds a Harness for proc. tickBase is normally 1 s (spec §4.1);
// configRefresh is normally 60 s (spec §6).
func New(proc Processor, configs store.ConfigStore, log *zap.Logger, tickBase, configRefresh time.Duration) *Harness {
	return &Harness{
		proc:          proc,
		configs:       configs,
		log:           log,
		tickBase:      tickBase,
		configRefresh: configRefresh,
	}
}

// Start begins the harness's loop in a new goroutine. A second call to
// Start while already running is a no-op (spec §4.1: "a second start() is a
// no-op").
func (h *Harness) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true
	h.mu.Unlock()

	go h.run(ctx)
}

// Stop cancels the harness's loop. Idempotent.
func (h *Harness) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running && h.cancel != nil {
		h.cancel()
	}
	h.running = false
}

func (h *Harness) run(ctx context.Context) {
	kind := h.proc.Kind()

	if err := h.waitForStore(ctx); err != nil {
		h.log.Error("store unreachable, giving up", zap.String("kind", kind), zap.Error(err))
		return
	}

	if err := h.proc.RefreshConfig(ctx); err != nil {
		h.log.Warn("initial config refresh failed", zap.String("kind", kind), zap.Error(err))
	}

	ticker := time.NewTicker(h.tickBase)
	defer ticker.Stop()
	refreshTicker := time.NewTicker(h.configRefresh)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.C:
			if err := h.proc.RefreshConfig(ctx); err != nil {
				h.log.Warn("config refresh failed", zap.String("kind", kind), zap.Error(err))
			}
		case <-ticker.C:
			h.runCycle(ctx, kind)
		}
	}
}

// runCycle wraps one Processor.Cycle call in a failure scope: a panic or
// error escaping a cycle is logged at Critical-equivalent severity and the
// loop continues after the standard tick delay (spec §7 propagation
// policy). It never aborts the harness.
func (h *Harness) runCycle(ctx context.Context, kind string) {
	correlationID := uuid.NewString()
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("processor cycle panicked",
				zap.String("kind", kind),
				zap.String("cycle_correlation_id", correlationID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := h.proc.Cycle(ctx); err != nil {
		h.log.Error("processor cycle failed",
			zap.String("kind", kind),
			zap.String("cycle_correlation_id", correlationID),
			zap.Error(err),
		)
	}
}

// waitForStore blocks until the configuration store responds to Ping,
// retrying with exponential back-off capped at 30 attempts, 2 s initial
// interval (spec §4.1).
func (h *Harness) waitForStore(ctx context.Context) error {
	op := func() (struct{}, error) {
		if err := h.configs.Ping(ctx); err != nil {
			return struct{}{}, fmt.Errorf("ping config store: %w", err)
		}
		return struct{}{}, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(30))
	return err
}
