package model

// MinMaxSelection chooses which extreme of the valid inputs is selected.
type MinMaxSelection string

const (
	SelectMinimum MinMaxSelection = "Minimum"
	SelectMaximum MinMaxSelection = "Maximum"
)

// MinMaxFailoverMode selects behavior when no input point is currently valid
// (every input is bad, missing or stale).
type MinMaxFailoverMode string

const (
	FailoverIgnoreBad         MinMaxFailoverMode = "IgnoreBad"
	FailoverFallbackToOpposite MinMaxFailoverMode = "FallbackToOpposite"
	FailoverHoldLastGood       MinMaxFailoverMode = "HoldLastGood"
)

// MinMaxSelectorConfig is the configuration record for one min/max selector
// block.
type MinMaxSelectorConfig struct {
	ID              string
	Inputs          []string // point ids
	OutputPointID   string
	Selection       MinMaxSelection
	Failover        MinMaxFailoverMode
	MaxInputAgeSeconds int64 // points older than this are treated as bad

	IntervalSeconds int64
	Enabled         bool
	UpdatedAt       int64
}

// MinMaxSelectorState is the persisted runtime state for one min/max
// selector block.
type MinMaxSelectorState struct {
	ID             string
	LastGoodValue  float64
	HaveLastGood   bool
	SelectedPoint  string // id of the input that produced the last output
	LastTickUnix   int64
}
