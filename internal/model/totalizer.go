package model

// TotalizerMode selects how a totalizer accumulates.
type TotalizerMode string

const (
	TotalizerRateIntegration    TotalizerMode = "RateIntegration"
	TotalizerEventCountRising   TotalizerMode = "EventCountRising"
	TotalizerEventCountFalling  TotalizerMode = "EventCountFalling"
	TotalizerEventCountBoth     TotalizerMode = "EventCountBoth"
)

// TotalizerConfig is the configuration record for one totalizer block.
type TotalizerConfig struct {
	ID                 string
	InputPointID       string
	OutputPointID      string
	Mode               TotalizerMode
	IntervalSeconds    int64
	OverflowThreshold  float64 // 0 = disabled
	ResetCronExpr      string  // 5-field cron, UTC; "" = disabled
	DecimalPlaces      int
	Enabled            bool
	UpdatedAt          int64
}

// TotalizerState is the persisted runtime state for one totalizer block.
type TotalizerState struct {
	ID              string
	Accumulated     float64
	LastInputValue  float64
	HaveLastInput   bool
	LastEventState  bool // last observed digital state, for edge detection
	HaveLastEvent   bool
	LastResetTime   int64
	LastTickUnix    int64
}
