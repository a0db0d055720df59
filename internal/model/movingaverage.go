package model

// MovingAverageMethod selects the single-input aggregation algorithm.
type MovingAverageMethod string

const (
	MASMA MovingAverageMethod = "SMA"
	MAEMA MovingAverageMethod = "EMA"
	MAWMA MovingAverageMethod = "WMA"
)

// OutlierRejection selects an optional pre-aggregation filter.
type OutlierRejection string

const (
	OutlierNone   OutlierRejection = ""
	OutlierIQR    OutlierRejection = "IQR"
	OutlierZScore OutlierRejection = "ZScore"
)

// MovingAverageConfig is the configuration record for one moving-average
// block. Exactly one of Inputs has len 1 (single-input mode, SMA/EMA/WMA
// over a window) or len >= 2 (N-input mode, single-tick weighted average).
type MovingAverageConfig struct {
	ID             string
	Inputs         []string // point ids
	OutputPointID  string
	Method         MovingAverageMethod // single-input mode only
	WindowSize     int                 // single-input mode only
	EMAAlpha       float64             // single-input EMA only
	Weights        []float64           // N-input mode, parallel to Inputs; single-input WMA uses implicit linear weights
	MinSampleCount int
	StaleTimeout   int64 // seconds; N-input mode only

	OutlierRejection OutlierRejection
	OutlierFactor    float64 // IQR k or z-score threshold

	IntervalSeconds int64
	Enabled         bool
	UpdatedAt       int64
}

// MovingAverageSample is one raw (time, value) observation in the
// single-input sliding window.
type MovingAverageSample struct {
	UnixSeconds int64
	Value       float64
}

// MovingAverageState is the persisted runtime state for one moving-average
// block.
type MovingAverageState struct {
	ID           string
	Samples      []MovingAverageSample // single-input mode
	EMAValue     float64
	HaveEMA      bool
	LastTickUnix int64
}
