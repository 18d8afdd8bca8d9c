package config

import "go.uber.org/fx"

// Module provides *Config and the sections other modules depend on directly.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(func(cfg *Config) *StreamConfig { return &cfg.Stream }),
	fx.Provide(func(cfg *Config) *MetricsConfig { return &cfg.Metrics }),
)
