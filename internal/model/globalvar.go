package model

// GlobalVariableKind distinguishes the two value domains a GlobalVariable can
// hold.
type GlobalVariableKind string

const (
	GlobalVariableBool  GlobalVariableKind = "bool"
	GlobalVariableFloat GlobalVariableKind = "float"
)

// GlobalVariable is a small named value resolved uniformly wherever a block
// references a "source" that isn't a point. Unlike point timestamps,
// LastUpdateUnixMs is in Unix milliseconds (spec.md §6, Time).
type GlobalVariable struct {
	Name             string
	Kind             GlobalVariableKind
	StringValue      string
	LastUpdateUnixMs int64
}
