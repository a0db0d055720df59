package model

// ConditionalBranch is one ordered (condition, value) pair evaluated by an
// IfMemory block. The first branch whose Condition evaluates truthy wins;
// an empty Condition marks the fallback branch.
type ConditionalBranch struct {
	Condition string // expression source, empty for the fallback branch
	Value     string // literal, or an expression source if ValueIsExpr
	ValueIsExpr bool
}

// IfMemoryConfig is the configuration record for one conditional (IF) block.
// Aliases maps short identifiers used inside Branches' expressions to the
// BlockRef they resolve against, so expression source stays readable
// (e.g. "tankLevel > setpoint") instead of carrying full point ids.
type IfMemoryConfig struct {
	ID            string
	Branches      []ConditionalBranch
	Aliases       map[string]BlockRef
	OutputPointID string
	OutputIsDigital bool

	IntervalSeconds int64
	Enabled         bool
	UpdatedAt       int64
}

// IfMemoryState is the persisted runtime state for one conditional block.
type IfMemoryState struct {
	ID            string
	LastBranchIdx int // -1 if no branch has fired yet
	LastTickUnix  int64
}
