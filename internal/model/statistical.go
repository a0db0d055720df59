package model

// StatisticalWindowKind selects how the window advances.
type StatisticalWindowKind string

const (
	WindowSliding  StatisticalWindowKind = "Sliding"
	WindowTumbling StatisticalWindowKind = "Tumbling"
)

// StatisticalStatistic selects which summary statistic is written to the
// output point. A block may compute several; each gets its own output
// point id in Outputs.
type StatisticalStatistic string

const (
	StatMin        StatisticalStatistic = "Min"
	StatMax        StatisticalStatistic = "Max"
	StatMean       StatisticalStatistic = "Mean"
	StatStdDev     StatisticalStatistic = "StdDev"
	StatRange      StatisticalStatistic = "Range"
	StatMedian     StatisticalStatistic = "Median"
	StatCV         StatisticalStatistic = "CV" // coefficient of variation
	StatPercentile StatisticalStatistic = "Percentile"
)

// StatisticalWindowConfig is the configuration record for one statistical
// window block.
type StatisticalWindowConfig struct {
	ID             string
	InputPointID   string
	Kind           StatisticalWindowKind
	WindowSeconds  int64
	MinSampleCount int

	Outputs          map[StatisticalStatistic]string // statistic -> output point id
	PercentileRank   float64                          // 0..100, StatPercentile only

	IntervalSeconds int64
	Enabled         bool
	UpdatedAt       int64
}

// StatisticalSample is one raw (time, value) observation in the window.
type StatisticalSample struct {
	UnixSeconds int64
	Value       float64
}

// StatisticalWindowState is the persisted runtime state for one statistical
// window block.
type StatisticalWindowState struct {
	ID                string
	Samples           []StatisticalSample
	TumblingWindowEnd int64 // Tumbling mode only: unix time the current window closes
	LastTickUnix      int64
}
