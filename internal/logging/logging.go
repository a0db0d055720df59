// Package logging constructs the engine's single *zap.Logger. There is no
// package-level singleton (Design Note "Singletons"): New is called once in
// cmd/engine and the result is threaded explicitly into every processor.
package logging

import "go.uber.org/zap"

// Config controls the logger's output mode.
type Config struct {
	Development bool
}

// New builds a production or development zap logger depending on cfg.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
