// Package pipeline implements the Monitoring Pipeline (spec.md §4.2): it
// drains raw samples, joins them to point configuration, maintains each
// point's sliding smoothing window, applies calibration and normalization,
// writes to FinalValue at most once per SaveInterval, and appends to the
// historian at most once per SaveHistoricalInterval.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store"
)

// window holds the bounded sliding sample buffer for one point.
type window struct {
	samples []float64
}

func (w *window) push(v float64, max int) {
	w.samples = append(w.samples, v)
	if len(w.samples) > max {
		w.samples = w.samples[len(w.samples)-max:]
	}
}

func (w *window) aggregate(method model.SmoothingMethod) float64 {
	if len(w.samples) == 0 {
		return 0
	}
	if method == model.SmoothingMean {
		sum := 0.0
		for _, s := range w.samples {
			sum += s
		}
		return sum / float64(len(w.samples))
	}
	return w.samples[len(w.samples)-1]
}

// Pipeline is the stateful monitoring pipeline processor. It satisfies
// scheduler.Processor.
type Pipeline struct {
	points    store.PointStore
	configs   store.ConfigStore
	historian store.Historian
	log       *zap.Logger
	nowFn     func() time.Time

	mu              sync.Mutex
	windows         map[string]*window
	lastFinalWrite  map[string]int64
	lastHistorySave map[string]int64
	pointByID       map[string]model.Point
	lastEmptyWarn   int64
}

func New(points store.PointStore, configs store.ConfigStore, historian store.Historian, log *zap.Logger, nowFn func() time.Time) *Pipeline {
	return &Pipeline{
		points:          points,
		configs:         configs,
		historian:       historian,
		log:             log,
		nowFn:           nowFn,
		windows:         make(map[string]*window),
		lastFinalWrite:  make(map[string]int64),
		lastHistorySave: make(map[string]int64),
		pointByID:       make(map[string]model.Point),
	}
}

func (p *Pipeline) Kind() string { return "monitoring_pipeline" }

func (p *Pipeline) RefreshConfig(ctx context.Context) error {
	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: refresh points: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

// Cycle implements one monitoring-pipeline tick.
func (p *Pipeline) Cycle(ctx context.Context) error {
	raws, err := p.points.AllRaw(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: read raw: %w", err)
	}

	p.mu.Lock()
	configured := len(p.pointByID)
	p.mu.Unlock()

	if len(raws) == 0 {
		p.warnEmptyRaw(configured)
		return nil
	}

	now := p.nowFn().Unix()
	for _, raw := range raws {
		if err := p.processOne(ctx, raw, now); err != nil {
			p.log.Warn("pipeline: skipping point", zap.String("point_id", raw.PointID), zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) warnEmptyRaw(configured int) {
	if configured == 0 {
		return
	}
	now := time.Now().Unix()
	p.mu.Lock()
	defer p.mu.Unlock()
	if now-p.lastEmptyWarn < 60 {
		return
	}
	p.lastEmptyWarn = now
	p.log.Warn("pipeline: raw cache empty while points are configured", zap.Int("configured_points", configured))
}

func (p *Pipeline) processOne(ctx context.Context, raw model.RawValue, now int64) error {
	p.mu.Lock()
	pt, ok := p.pointByID[raw.PointID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("orphan raw sample, no point configuration")
	}
	if !pt.Enabled {
		return nil
	}

	value, err := strconv.ParseFloat(raw.StringValue, 64)
	if err != nil {
		if pt.IsDigital() && (raw.StringValue == "0" || raw.StringValue == "1") {
			value = 0
			if raw.StringValue == "1" {
				value = 1
			}
		} else {
			return fmt.Errorf("unparsable raw value %q: %w", raw.StringValue, err)
		}
	}

	p.mu.Lock()
	w, ok := p.windows[pt.ID]
	if !ok {
		w = &window{}
		p.windows[pt.ID] = w
	}
	windowSize := pt.SmoothingWindowSamples
	if windowSize <= 0 {
		windowSize = 1
	}
	w.push(value, windowSize)
	aggregated := w.aggregate(pt.SmoothingMethod)
	p.mu.Unlock()

	if pt.Calibration != nil {
		aggregated = pt.Calibration.A*aggregated + pt.Calibration.B
	}
	if pt.Range != nil {
		if aggregated < pt.Range.Min {
			aggregated = pt.Range.Min
		}
		if aggregated > pt.Range.Max {
			aggregated = pt.Range.Max
		}
	}

	finalStr := formatValue(pt, aggregated)

	p.mu.Lock()
	lastFinal := p.lastFinalWrite[pt.ID]
	p.mu.Unlock()

	if pt.SaveInterval <= 0 || now-lastFinal >= int64(pt.SaveInterval) {
		fv := model.FinalValue{PointID: pt.ID, StringValue: finalStr, UnixSeconds: now}
		if err := p.points.SetFinal(ctx, fv); err != nil {
			return fmt.Errorf("write final: %w", err)
		}
		p.mu.Lock()
		p.lastFinalWrite[pt.ID] = now
		p.mu.Unlock()
	}

	p.mu.Lock()
	lastHistory := p.lastHistorySave[pt.ID]
	p.mu.Unlock()

	if pt.SaveHistoricalInterval <= 0 || now-lastHistory >= int64(pt.SaveHistoricalInterval) {
		rec := model.HistoryRecord{PointID: pt.ID, Value: finalStr, UnixSeconds: now}
		if err := p.historian.Append(ctx, rec); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		p.mu.Lock()
		p.lastHistorySave[pt.ID] = now
		p.mu.Unlock()
	}

	return nil
}

func formatValue(pt model.Point, v float64) string {
	if pt.IsDigital() {
		if v != 0 {
			return "1"
		}
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
