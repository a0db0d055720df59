// Package store defines the persistence contracts shared by every
// processor: the hot point cache, the per-block configuration database, and
// the append-only historian. Concrete implementations live in subpackages
// (kv for the badger-backed point store, memstore for the in-process
// config/historian adapters).
package store

import (
	"context"
	"errors"

	"github.com/fieldware/memengine/internal/model"
)

// ErrNotFound is returned by PointStore/ConfigStore lookups when a key is
// absent. Callers treat it as "no valid sample", never as a transient
// infrastructure error.
var ErrNotFound = errors.New("store: not found")

// PointStore is the hot key/value cache of current raw and final values,
// plus the small per-block checkpoint keys listed in spec §6. Every method
// is safe for concurrent use by multiple processors.
type PointStore interface {
	GetRaw(ctx context.Context, pointID string) (model.RawValue, error)
	SetRaw(ctx context.Context, v model.RawValue) error
	AllRaw(ctx context.Context) ([]model.RawValue, error)

	GetFinal(ctx context.Context, pointID string) (model.FinalValue, error)
	SetFinal(ctx context.Context, v model.FinalValue) error

	UpsertWriteItem(ctx context.Context, item model.WriteItem) error
	PendingWriteItems(ctx context.Context) ([]model.WriteItem, error)

	// GetState/SetState/DeleteState persist an arbitrary JSON-encoded
	// checkpoint under a block-id-derived key (PIDState and every other
	// processor's runtime checkpoint share this path).
	GetState(ctx context.Context, key string, out interface{}) error
	SetState(ctx context.Context, key string, v interface{}) error
	DeleteState(ctx context.Context, key string) error

	GetGlobalVariable(ctx context.Context, name string) (model.GlobalVariable, error)
	SetGlobalVariable(ctx context.Context, v model.GlobalVariable) error

	Close() error
}

// Historian is the append-only time-series sink. Duplicate (pointID,
// unixSeconds) inserts are a no-op success, never an error (spec §3, §6,
// §7).
type Historian interface {
	Append(ctx context.Context, rec model.HistoryRecord) error
}

// ConfigStore is the read-mostly per-block configuration source. Processors
// refresh from it on a 60 s cadence (spec §4.1, §6); it stands in for the
// out-of-scope PostgreSQL schema.
type ConfigStore interface {
	Points(ctx context.Context) ([]model.Point, error)

	AlarmConfigs(ctx context.Context) ([]model.AlarmConfig, error)
	PIDConfigs(ctx context.Context) ([]model.PIDConfig, error)
	// SavePIDConfig upserts a single PID block's configuration by ID. Used by
	// the auto-tuning apply workflow (spec §4.7) to write calculated gains
	// back into the live config.
	SavePIDConfig(ctx context.Context, cfg model.PIDConfig) error
	TotalizerConfigs(ctx context.Context) ([]model.TotalizerConfig, error)
	RateOfChangeConfigs(ctx context.Context) ([]model.RateOfChangeConfig, error)
	MovingAverageConfigs(ctx context.Context) ([]model.MovingAverageConfig, error)
	DeadbandConfigs(ctx context.Context) ([]model.DeadbandConfig, error)
	ScheduleConfigs(ctx context.Context) ([]model.ScheduleConfig, error)
	ComparisonGroupConfigs(ctx context.Context) ([]model.ComparisonGroupConfig, error)
	MinMaxSelectorConfigs(ctx context.Context) ([]model.MinMaxSelectorConfig, error)
	IfMemoryConfigs(ctx context.Context) ([]model.IfMemoryConfig, error)
	StatisticalWindowConfigs(ctx context.Context) ([]model.StatisticalWindowConfig, error)
	WriteActionConfigs(ctx context.Context) ([]model.WriteActionConfig, error)

	TuningSessions(ctx context.Context) ([]model.TuningSession, error)
	SaveTuningSession(ctx context.Context, s model.TuningSession) error

	ActiveAlarms(ctx context.Context) ([]model.ActiveAlarm, error)
	UpsertActiveAlarm(ctx context.Context, a model.ActiveAlarm) error
	DeleteActiveAlarm(ctx context.Context, alarmID string) error
	AppendAlarmHistory(ctx context.Context, h model.AlarmHistory) error

	// Ping is consulted by the scheduler harness's wait-for-store phase
	// (spec §4.1).
	Ping(ctx context.Context) error
}
