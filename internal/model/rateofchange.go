package model

// RateMethod selects the rate-of-change computation.
type RateMethod string

const (
	RateSimpleDifference RateMethod = "SimpleDifference"
	RateMovingAverage    RateMethod = "MovingAverage"
	RateWeightedAverage  RateMethod = "WeightedAverage"
	RateLinearRegression RateMethod = "LinearRegression"
)

// RateOfChangeConfig is the configuration record for one rate-of-change
// block.
type RateOfChangeConfig struct {
	ID                   string
	InputPointID         string
	OutputPointID        string
	Method               RateMethod
	BaselineSampleCount  int
	WindowSeconds        int64
	TimeUnitFactor       float64 // multiplies the raw units/second rate
	SmoothingFilterAlpha float64 // EMA coefficient, higher = more smoothing

	HighThreshold       float64
	LowThreshold         float64
	HysteresisFactor     float64 // clears below threshold*factor (high) or above threshold/factor (low)
	AlarmOutputPointID    string

	IntervalSeconds int64
	Enabled         bool
	UpdatedAt       int64
}

// RateOfChangeSample is one raw (time, value) observation kept in the
// bounded sliding window.
type RateOfChangeSample struct {
	UnixSeconds int64
	Value       float64
}

// RateOfChangeState is the persisted runtime state for one rate-of-change
// block.
type RateOfChangeState struct {
	ID              string
	Samples         []RateOfChangeSample
	SmoothedRate    float64
	HaveSmoothed    bool
	HighAlarmActive bool
	LowAlarmActive  bool
	LastTickUnix    int64
}
