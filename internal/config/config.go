// Package config loads the engine's static bootstrap configuration (point
// store path, tick base, development logging) from a TOML file. This is
// distinct from the per-block configuration records served by
// internal/store's ConfigStore, which are refreshed on a 60 s cadence while
// the engine runs (spec.md §6 "Configuration refresh").
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Bootstrap is the engine's static startup configuration.
type Bootstrap struct {
	PointStorePath   string `toml:"point_store_path"`
	TickBaseSeconds  int    `toml:"tick_base_seconds"`
	DevelopmentLogs  bool   `toml:"development_logs"`
	ConfigRefreshSec int    `toml:"config_refresh_seconds"`
}

// Default returns the bootstrap configuration used when no file is given.
func Default() Bootstrap {
	return Bootstrap{
		PointStorePath:   "./data/points",
		TickBaseSeconds:  1,
		DevelopmentLogs:  false,
		ConfigRefreshSec: 60,
	}
}

// Load reads and parses a TOML bootstrap file, filling in Default() values
// for anything the file omits.
func Load(path string) (Bootstrap, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Bootstrap{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}
