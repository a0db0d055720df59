package model

// DeadbandMode selects the analog stability rule. The digital case is
// inferred from the input point's kind (spec.md §4.11) rather than a mode
// value here.
type DeadbandMode string

const (
	DeadbandAbsolute     DeadbandMode = "Absolute"
	DeadbandPercentage   DeadbandMode = "Percentage"
	DeadbandRateOfChange DeadbandMode = "RateOfChange"
)

// DeadbandConfig is the configuration record for one deadband/stability
// block.
type DeadbandConfig struct {
	ID              string
	InputPointID    string
	OutputPointID   string
	Mode            DeadbandMode // analog input only
	Deadband        float64
	RangeMin        float64 // Percentage mode only
	RangeMax        float64 // Percentage mode only
	StabilityTime   int64   // seconds; digital input only

	IntervalSeconds int64
	Enabled         bool
	UpdatedAt       int64
}

// DeadbandState is the persisted runtime state for one deadband block.
type DeadbandState struct {
	ID                 string
	LastInput          float64
	HaveLastInput      bool
	LastOutput         float64
	HaveLastOutput     bool
	LastTimestamp      int64
	PendingDigitalState string // "" = no pending change
	PendingSince       int64
	LastTickUnix       int64
}
