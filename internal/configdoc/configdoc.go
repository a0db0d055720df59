// Package configdoc loads a static TOML seed document into the in-process
// configuration store used by cmd/engine. The production per-block
// configuration schema is a PostgreSQL table set reached through
// store.ConfigStore (out of scope, per the engine design); configdoc is the
// bootstrap path that feeds store/memstore's ConfigStore from a file on
// disk so the engine has something to run against outside of a real
// database deployment.
package configdoc

import (
	"context"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/fieldware/memengine/internal/model"
	"github.com/fieldware/memengine/internal/store/memstore"
)

// Document mirrors every config record kind the engine's ConfigStore
// serves. Field names match TOML table names case-insensitively.
type Document struct {
	Points []model.Point

	Alarms            []model.AlarmConfig            `toml:"alarm"`
	PIDs              []model.PIDConfig              `toml:"pid"`
	Totalizers        []model.TotalizerConfig        `toml:"totalizer"`
	RateOfChanges     []model.RateOfChangeConfig      `toml:"rate_of_change"`
	MovingAverages    []model.MovingAverageConfig     `toml:"moving_average"`
	Deadbands         []model.DeadbandConfig          `toml:"deadband"`
	Schedules         []model.ScheduleConfig          `toml:"schedule"`
	ComparisonGroups  []model.ComparisonGroupConfig   `toml:"comparison_group"`
	MinMaxSelectors   []model.MinMaxSelectorConfig    `toml:"minmax_selector"`
	IfMemories        []model.IfMemoryConfig          `toml:"if_memory"`
	StatisticalWindows []model.StatisticalWindowConfig `toml:"statistical_window"`
	WriteActions      []model.WriteActionConfig       `toml:"write_action"`
	TuningSessions    []model.TuningSession           `toml:"tuning_session"`
}

// Load parses a seed document from path.
func Load(path string) (Document, error) {
	var doc Document
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return Document{}, fmt.Errorf("configdoc: decode %s: %w", path, err)
	}
	return doc, nil
}

// Apply loads every record in doc into cs, overwriting whatever it
// currently holds. Called once at startup; the engine's live configuration
// refresh cadence (spec.md §6) re-reads from cs, not from doc.
func Apply(doc Document, cs *memstore.ConfigStore) {
	ctx := context.Background()
	cs.SetPoints(doc.Points)
	cs.SetAlarmConfigs(doc.Alarms)
	cs.SetPIDConfigs(doc.PIDs)
	cs.SetTotalizerConfigs(doc.Totalizers)
	cs.SetRateOfChangeConfigs(doc.RateOfChanges)
	cs.SetMovingAverageConfigs(doc.MovingAverages)
	cs.SetDeadbandConfigs(doc.Deadbands)
	cs.SetScheduleConfigs(doc.Schedules)
	cs.SetComparisonGroupConfigs(doc.ComparisonGroups)
	cs.SetMinMaxSelectorConfigs(doc.MinMaxSelectors)
	cs.SetIfMemoryConfigs(doc.IfMemories)
	cs.SetStatisticalWindowConfigs(doc.StatisticalWindows)
	cs.SetWriteActionConfigs(doc.WriteActions)
	for _, s := range doc.TuningSessions {
		cs.SaveTuningSession(ctx, s)
	}
}
