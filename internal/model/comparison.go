package model

// ComparativeInputOperator selects the per-input predicate evaluated against
// a threshold.
type ComparativeInputOperator string

const (
	CmpGreaterThan        ComparativeInputOperator = "GreaterThan"
	CmpGreaterThanOrEqual ComparativeInputOperator = "GreaterThanOrEqual"
	CmpLessThan           ComparativeInputOperator = "LessThan"
	CmpLessThanOrEqual    ComparativeInputOperator = "LessThanOrEqual"
	CmpEqual              ComparativeInputOperator = "Equal"
	CmpNotEqual           ComparativeInputOperator = "NotEqual"
)

// VotingMode selects how per-input predicate results are combined into the
// group's digital output.
type VotingMode string

const (
	VoteAny     VotingMode = "Any"     // OR
	VoteAll     VotingMode = "All"     // AND
	VoteMinimum VotingMode = "Minimum" // at least N of M true
)

// ComparisonInput is one member of a comparison group.
type ComparisonInput struct {
	PointID      string
	Operator     ComparativeInputOperator
	Threshold    float64
	Hysteresis   float64 // clears when value recedes past Threshold by this margin
}

// ComparisonGroupConfig is the configuration record for one comparison/voting
// block.
type ComparisonGroupConfig struct {
	ID            string
	Inputs        []ComparisonInput
	OutputPointID string
	Mode          VotingMode
	MinimumCount  int // VoteMinimum only

	IntervalSeconds int64
	Enabled         bool
	UpdatedAt       int64
}

// ComparisonGroupState is the persisted runtime state for one comparison
// group, one hysteresis latch per input plus the group's most recent vote
// result (recomputed each cycle, not latched).
type ComparisonGroupState struct {
	ID           string
	InputActive  []bool // parallel to ComparisonGroupConfig.Inputs
	GroupActive  bool
	LastTickUnix int64
}
