// Package dispatch implements the single write entry point every memory
// processor uses to publish an output (spec.md §4.3 "Write Dispatcher").
package dispatch

import (
	"context"
	"fmt"

	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store"
)

// Dispatcher routes a value either straight to the raw cache (points with no
// field-interface driver) or to a pending WriteItem for the driver to
// consume (Sharp7/Modbus), rejecting writes to BACnet points outright.
type Dispatcher struct {
	points store.PointStore
	nowFn  func() int64
}

func New(points store.PointStore, nowFn func() int64) *Dispatcher {
	return &Dispatcher{points: points, nowFn: nowFn}
}

// WriteOrAdd implements writeOrAdd(pointId, value, time?, durationSeconds).
// unixSeconds of 0 means "use now". It returns (accepted, error): accepted
// is false with a nil error only for the BACnet-rejection case; every other
// failure returns false with a non-nil err per spec §7's
// invariant-violation handling.
func (d *Dispatcher) WriteOrAdd(ctx context.Context, point model.Point, value string, unixSeconds int64, durationSeconds int) (bool, error) {
	if point.ID == "" || value == "" {
		return false, fmt.Errorf("dispatch: refusing write: empty point id or value")
	}
	if unixSeconds == 0 {
		unixSeconds = d.nowFn()
	}

	switch point.InterfaceKind {
	case model.InterfaceBACnet:
		return false, nil

	case model.InterfaceSharp7, model.InterfaceModbus:
		if point.Writable {
			item := model.WriteItem{
				PointID:         point.ID,
				Value:           value,
				UnixSeconds:     unixSeconds,
				DurationSeconds: durationSeconds,
			}
			if err := d.points.UpsertWriteItem(ctx, item); err != nil {
				return false, fmt.Errorf("dispatch: upsert write item for %s: %w", point.ID, err)
			}
			return true, nil
		}
		fallthrough

	default:
		rv := model.RawValue{PointID: point.ID, StringValue: value, UnixSeconds: unixSeconds}
		if err := d.points.SetRaw(ctx, rv); err != nil {
			return false, fmt.Errorf("dispatch: set raw for %s: %w", point.ID, err)
		}
		return true, nil
	}
}
