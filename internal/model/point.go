// Package model defines the data types shared across the memory execution
// engine: points, their raw/final samples, write items, history records, and
// the per-block configuration and runtime-state records for every memory
// kind described in the engine's design. These types are persisted (via
// internal/store) and passed between the scheduler harness and the block
// processors; they carry no behavior of their own beyond small invariants
// and the PID configuration hash.
package model

import "fmt"

// PointKind classifies what a Point observes or commands.
type PointKind string

const (
	AnalogIn   PointKind = "AnalogIn"
	AnalogOut  PointKind = "AnalogOut"
	DigitalIn  PointKind = "DigitalIn"
	DigitalOut PointKind = "DigitalOut"
)

// SmoothingMethod selects how the monitoring pipeline aggregates a point's
// sliding sample window before writing to FinalValue.
type SmoothingMethod string

const (
	SmoothingLast SmoothingMethod = "last"
	SmoothingMean SmoothingMethod = "mean"
)

// InterfaceKind names the field-bus driver a point is wired to. The drivers
// themselves are out of scope; the engine only needs to know which writes
// they accept.
type InterfaceKind string

const (
	InterfaceNone    InterfaceKind = "none"
	InterfaceSharp7  InterfaceKind = "Sharp7"
	InterfaceBACnet  InterfaceKind = "BACnet"
	InterfaceModbus  InterfaceKind = "Modbus"
)

// Calibration applies a linear transform value' = A*value + B before a
// sample is normalized and stored to FinalValue.
type Calibration struct {
	A float64
	B float64
}

// NormalizationRange clamps (and optionally rescales) a point's calibrated
// value. Min/Max define the physical engineering range of the point.
type NormalizationRange struct {
	Min float64
	Max float64
}

// Point is the atomic observable/commandable channel.
type Point struct {
	ID                     string
	Kind                   PointKind
	Range                  *NormalizationRange
	Calibration            *Calibration
	SmoothingWindowSamples int
	SmoothingMethod        SmoothingMethod
	SaveInterval           int // seconds, minimum interval between FinalValue writes
	SaveHistoricalInterval int // seconds, minimum interval between historian appends
	InterfaceKind          InterfaceKind
	Writable               bool // true if a writable mapping to the driver exists
	Enabled                bool
	UpdatedAt              int64 // unix seconds
}

// Validate enforces the one data-model invariant spec.md calls out: digital
// points may not use mean smoothing.
func (p Point) Validate() error {
	if (p.Kind == DigitalIn || p.Kind == DigitalOut) && p.SmoothingMethod == SmoothingMean {
		return fmt.Errorf("point %s: digital points may not use mean smoothing", p.ID)
	}
	return nil
}

// IsDigital reports whether the point's kind is one of the two digital kinds.
func (p Point) IsDigital() bool {
	return p.Kind == DigitalIn || p.Kind == DigitalOut
}

// RawValue is the latest driver-produced sample for a point, held in the
// hot point-store cache under namespace "raw".
type RawValue struct {
	PointID     string
	StringValue string
	UnixSeconds int64
}

// FinalValue is the value seen by memory processors, produced by the
// monitoring pipeline from the raw stream.
type FinalValue struct {
	PointID     string
	StringValue string
	UnixSeconds int64
}

// WriteItem is a pending driver write. At most one WriteItem may be pending
// per PointID; a new write replaces the pending value.
type WriteItem struct {
	PointID         string
	Value           string
	UnixSeconds     int64
	DurationSeconds int
}

// HistoryRecord is an append-only historian entry, unique by (PointID,
// UnixSeconds).
type HistoryRecord struct {
	PointID     string
	Value       string
	UnixSeconds int64
}
