// Package refs resolves a model.BlockRef — a point id or a global-variable
// name — against the point store uniformly, implementing Design Note
// "Dynamic references": resolving a reference returns a numeric value or a
// "missing" sentinel that callers treat as a per-block configuration error.
package refs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store"
)

// ErrMissing indicates the referenced point or variable has no current
// value. Callers handle it as a per-block configuration error (spec §7):
// skip the block for this cycle, log a warning, do not disable it.
var ErrMissing = errors.New("refs: missing value")

// Resolver reads the current numeric value behind a BlockRef.
type Resolver struct {
	points store.PointStore
}

func NewResolver(points store.PointStore) *Resolver {
	return &Resolver{points: points}
}

// Float resolves ref to a float64, reading FinalValue for a point reference
// or the global variable's string value otherwise.
func (r *Resolver) Float(ctx context.Context, ref model.BlockRef) (float64, error) {
	switch ref.Kind {
	case model.RefPoint:
		fv, err := r.points.GetFinal(ctx, ref.Name)
		if err != nil {
			return 0, fmt.Errorf("%w: point %s: %v", ErrMissing, ref.Name, err)
		}
		f, err := strconv.ParseFloat(fv.StringValue, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: point %s unparsable: %v", ErrMissing, ref.Name, err)
		}
		return f, nil
	case model.RefVariable:
		gv, err := r.points.GetGlobalVariable(ctx, ref.Name)
		if err != nil {
			return 0, fmt.Errorf("%w: variable %s: %v", ErrMissing, ref.Name, err)
		}
		f, err := strconv.ParseFloat(gv.StringValue, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: variable %s unparsable: %v", ErrMissing, ref.Name, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: unconfigured reference", ErrMissing)
	}
}

// Bool resolves ref and interprets it as boolean: nonzero is true.
func (r *Resolver) Bool(ctx context.Context, ref model.BlockRef) (bool, error) {
	f, err := r.Float(ctx, ref)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}
