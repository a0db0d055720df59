package model

// AlarmKind selects the trigger rule an alarm evaluates.
type AlarmKind string

const (
	AlarmComparative AlarmKind = "Comparative"
	AlarmTimeout     AlarmKind = "Timeout"
)

// ComparativeOperator enumerates the comparison operators a Comparative
// alarm may use.
type ComparativeOperator string

const (
	OpGTE     ComparativeOperator = "gte"
	OpLTE     ComparativeOperator = "lte"
	OpEQ      ComparativeOperator = "eq"
	OpNE      ComparativeOperator = "ne"
	OpBetween ComparativeOperator = "between"
)

// AlarmStatus is the alarm state-machine position.
type AlarmStatus string

const (
	NoAlarm    AlarmStatus = "NoAlarm"
	Suspicious AlarmStatus = "Suspicious"
	HasAlarm   AlarmStatus = "HasAlarm"
)

// ExternalAlarm declares an OR-fan-in side effect: when the owning alarm
// enters HasAlarm, the any-true aggregator keyed by the alarm's id asserts
// Value to TargetPointID, OR'd against every other alarm sharing that
// target.
type ExternalAlarm struct {
	TargetPointID string
	Value         string // "0" or "1"
	Enabled       bool
}

// AlarmConfig is the configuration record for one alarm block.
type AlarmConfig struct {
	ID               string
	MonitoredPointID string
	Kind             AlarmKind
	Operator         ComparativeOperator
	Threshold1       float64
	Threshold2       float64 // used only by OpBetween
	TimeoutSeconds   int64   // used only by AlarmTimeout
	AlarmDelay       int64   // seconds
	External         []ExternalAlarm
	Enabled          bool
	UpdatedAt        int64
}

// MonitorAlarmState is the per-alarm runtime state machine position.
type MonitorAlarmState struct {
	AlarmID             string
	Status              AlarmStatus
	LastTransitionUnix  int64
}

// ActiveAlarm records an alarm currently in HasAlarm state.
type ActiveAlarm struct {
	AlarmID     string
	TriggeredAt int64
}

// AlarmHistory is an append-only trigger/clear trail, carrying a serialized
// snapshot of the alarm configuration at the moment of the event.
type AlarmHistory struct {
	AlarmID         string
	Active          bool
	UnixSeconds     int64
	ConfigSnapshot  string // serialized AlarmConfig, e.g. JSON
}
