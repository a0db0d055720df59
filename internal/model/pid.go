package model

import (
	"math"
	"strconv"
)

// CascadeLevel bounds the PID cascade depth at 2 (Design Note "Cascade depth
// bound").
type CascadeLevel int

const (
	CascadeLevel0 CascadeLevel = 0
	CascadeLevel1 CascadeLevel = 1
	CascadeLevel2 CascadeLevel = 2
)

// PIDConfig is the configuration record for one PID block.
type PIDConfig struct {
	ID           string
	CascadeLevel CascadeLevel
	ParentID     string // empty if CascadeLevel == 0

	SetPoint     BlockRef
	ProcessValue BlockRef // point only, in practice, but kept uniform
	IsAuto       BlockRef
	ManualValue  BlockRef
	ReverseOutput BlockRef // resolves to a truthy/falsy numeric value

	Kp, Ki, Kd          float64
	OutMin, OutMax      float64
	DeadZone            float64
	FeedForward         float64
	DerivativeFilterAlpha float64 // [0,1]
	MaxOutputSlewRate    float64 // units/second; 0 = unlimited

	OutputPointID string // analog output destination

	// Digital output companion (Schmitt trigger), optional.
	DigitalCompanion *PIDDigitalCompanion

	IntervalSeconds int64
	Enabled         bool
	UpdatedAt       int64
}

// PIDDigitalCompanion configures the Schmitt-trigger digital output that
// shadows the analog PID output.
type PIDDigitalCompanion struct {
	OutputPointID  string
	HighThreshold  float64
	LowThreshold   float64
	ReverseOutput  bool
}

// ConfigHash returns a hash of the fields that, when changed, require the
// controller to be rebuilt and bumpless-transfer-initialized (spec.md §4.6
// step 4). It intentionally excludes fields that don't affect controller
// dynamics (e.g. Enabled, UpdatedAt).
func (c PIDConfig) ConfigHash() uint64 {
	h := uint64(offset64)
	mix := func(f float64) {
		h = fnv1a(h, float64Bits(f))
	}
	mixStr := func(s string) {
		for i := 0; i < len(s); i++ {
			h = fnv1a(h, uint64(s[i]))
		}
		h = fnv1a(h, 0xff)
	}
	mixStr(c.ID)
	mixStr(c.ParentID)
	mixStr(strconv.Itoa(int(c.CascadeLevel)))
	mix(c.Kp)
	mix(c.Ki)
	mix(c.Kd)
	mix(c.OutMin)
	mix(c.OutMax)
	mix(c.DeadZone)
	mix(c.FeedForward)
	mix(c.DerivativeFilterAlpha)
	mix(c.MaxOutputSlewRate)
	mixStr(c.OutputPointID)
	mixStr(c.SetPoint.Name)
	mixStr(c.ProcessValue.Name)
	mixStr(c.IsAuto.Name)
	mixStr(c.ManualValue.Name)
	mixStr(c.ReverseOutput.Name)
	if c.DigitalCompanion != nil {
		mixStr(c.DigitalCompanion.OutputPointID)
		mix(c.DigitalCompanion.HighThreshold)
		mix(c.DigitalCompanion.LowThreshold)
	}
	return h
}

const offset64 = 14695981039346656037

func fnv1a(h uint64, b uint64) uint64 {
	h ^= b
	h *= 1099511628211
	return h
}

func float64Bits(f float64) uint64 {
	return math.Float64bits(f)
}

// PIDController holds the numeric controller state that must survive
// restarts for bumpless transfer.
type PIDController struct {
	Integral             float64
	PreviousProcessValue float64
	FilteredDerivative   float64
	PreviousOutput       float64
}

// PIDRuntime is the full in-memory runtime state for one PID block.
type PIDRuntime struct {
	ID                     string
	LastTickUnix           int64
	Controller             PIDController
	DigitalOutputLatched   bool
}

// PIDPersistedState is the checkpoint written to the point store, restored
// only when StoredConfigHash matches the block's current configuration
// hash.
type PIDPersistedState struct {
	ID               string
	LastTickUnix     int64
	Controller       PIDController
	DigitalLatched   bool
	StoredConfigHash uint64
}
