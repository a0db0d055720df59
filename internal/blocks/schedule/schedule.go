// Package schedule implements the Schedule Processor (spec.md §4.12): a
// weekly interval calendar with cross-midnight spans, a holiday calendar
// override, and priority/earliest-start tie-breaking among overlapping
// entries.
package schedule

import (
	"context"
	"fmt"
	"time"

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

	cfgs      []model.ScheduleConfig
	pointByID map[string]model.Point
}

func New(points store.PointStore, configs store.ConfigStore, dispatcher *dispatch.Dispatcher, log *zap.Logger, nowFn func() int64) *Processor {
	return &Processor{points: points, configs: configs, dispatcher: dispatcher, log: log, nowFn: nowFn, pointByID: make(map[string]model.Point)}
}

func (p *Processor) Kind() string { return "schedule" }

func (p *Processor) RefreshConfig(ctx context.Context) error {
	cfgs, err := p.configs.ScheduleConfigs(ctx)
	if err != nil {
		return fmt.Errorf("schedule: refresh config: %w", err)
	}
	p.cfgs = cfgs

	pts, err := p.configs.Points(ctx)
	if err != nil {
		return fmt.Errorf("schedule: refresh points: %w", err)
	}
	byID := make(map[string]model.Point, len(pts))
	for _, pt := range pts {
		byID[pt.ID] = pt
	}
	p.pointByID = byID
	return nil
}

func (p *Processor) Cycle(ctx context.Context) error {
	now := time.Unix(p.nowFn(), 0).UTC()
	for _, cfg := range p.cfgs {
		if !cfg.Enabled {
			continue
		}
		if err := p.evaluateOne(ctx, cfg, now); err != nil {
			p.log.Warn("schedule: skipping block", zap.String("block_id", cfg.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) evaluateOne(ctx context.Context, cfg model.ScheduleConfig, now time.Time) error {
	value := Resolve(cfg, now)

	outPoint := p.pointByID[cfg.OutputPointID]
	if outPoint.ID == "" {
		outPoint = model.Point{ID: cfg.OutputPointID}
	}
	if _, err := p.dispatcher.WriteOrAdd(ctx, outPoint, value, now.Unix(), cfg.DurationSeconds); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// Resolve evaluates a schedule config at instant now (UTC) and returns the
// value that should be written: the holiday override if today is a
// configured holiday, else the highest-priority matching weekly entry
// (ties broken by earliest start), else the block's default.
func Resolve(cfg model.ScheduleConfig, now time.Time) string {
	for _, h := range cfg.Holidays {
		if h.Year == now.Year() && time.Month(h.Month) == now.Month() && h.Day == now.Day() {
			if h.Value != "" {
				return h.Value
			}
			return cfg.DefaultValue
		}
	}

	minute := model.DayMinute(now.Hour()*60 + now.Minute())
	weekday := int(now.Weekday())

	var best *model.ScheduleEntry
	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		if !entryMatches(e, weekday, minute) {
			continue
		}
		if best == nil || e.Priority > best.Priority || (e.Priority == best.Priority && e.Start < best.Start) {
			best = e
		}
	}
	if best != nil {
		return best.Value
	}
	return cfg.DefaultValue
}

// entryMatches reports whether minute falls within entry's active span on
// the given weekday, accounting for cross-midnight spans (End <= Start means
// the span continues into the following day, so it is also checked against
// weekday-1's entry for the tail end after midnight).
func entryMatches(e *model.ScheduleEntry, weekday int, minute model.DayMinute) bool {
	end, crossesMidnight := resolveEnd(e)

	if e.DayOfWeek == weekday {
		if !crossesMidnight {
			return minute >= e.Start && minute < end
		}
		return minute >= e.Start
	}

	// Tail end of a cross-midnight span started on the previous day.
	if crossesMidnight && (e.DayOfWeek+1)%7 == weekday {
		return minute < end
	}
	return false
}

// resolveEnd returns the entry's effective end minute and whether the span
// crosses midnight (end <= start, or an open end extended to end of day
// still counts as ending within the same day and never crosses midnight).
func resolveEnd(e *model.ScheduleEntry) (model.DayMinute, bool) {
	if e.End == nil {
		switch e.NullEndTimeBehavior {
		case model.UseDefault:
			return e.Start, false // zero-width: only "use default" applies, handled by caller
		default: // ExtendToEndOfDay
			return 1440, false
		}
	}
	end := *e.End
	if end <= e.Start {
		return end, true
	}
	return end, false
}
