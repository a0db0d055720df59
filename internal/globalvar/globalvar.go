// Package globalvar provides the small typed helpers processors use to read
// and publish named boolean/float variables (spec.md §2 "Global Variable
// Store"). It is a thin convenience layer over store.PointStore's
// GetGlobalVariable/SetGlobalVariable — there is no separate storage
// namespace, only a narrower typed API.
package globalvar

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store"
)

// Store wraps a PointStore with typed global-variable accessors.
type Store struct {
	points store.PointStore
	nowMs  func() int64
}

// New wraps points. nowMs supplies the current Unix-millisecond time for
// LastUpdateUnixMs stamps (spec.md §6: global-variable time is the one
// millisecond-resolution timestamp in the engine); tests inject a fixed
// clock.
func New(points store.PointStore, nowMs func() int64) *Store {
	return &Store{points: points, nowMs: nowMs}
}

func (s *Store) GetFloat(ctx context.Context, name string) (float64, error) {
	v, err := s.points.GetGlobalVariable(ctx, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v.StringValue, 64)
	if err != nil {
		return 0, fmt.Errorf("globalvar: %s: unparsable float %q: %w", name, v.StringValue, err)
	}
	return f, nil
}

func (s *Store) GetBool(ctx context.Context, name string) (bool, error) {
	v, err := s.points.GetGlobalVariable(ctx, name)
	if err != nil {
		return false, err
	}
	return v.StringValue == "1" || v.StringValue == "true", nil
}

func (s *Store) SetFloat(ctx context.Context, name string, value float64) error {
	return s.points.SetGlobalVariable(ctx, model.GlobalVariable{
		Name:             name,
		Kind:             model.GlobalVariableFloat,
		StringValue:      strconv.FormatFloat(value, 'f', -1, 64),
		LastUpdateUnixMs: s.nowMs(),
	})
}

func (s *Store) SetBool(ctx context.Context, name string, value bool) error {
	sv := "0"
	if value {
		sv = "1"
	}
	return s.points.SetGlobalVariable(ctx, model.GlobalVariable{
		Name:             name,
		Kind:             model.GlobalVariableBool,
		StringValue:      sv,
		LastUpdateUnixMs: s.nowMs(),
	})
}
