package watcher

import (
	"time"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"
)

// Config represents watcher feature configuration
type Config struct {
	Enabled bool
	Watcher core.WatcherConfig
	Egress  core.EgressConfig
	Notify  core.NotifyConfig
}

// NewConfig creates watcher config from core config
func NewConfig(coreConfig *core.Config) *Config {
	return &Config{
		Enabled: coreConfig.Features.Watcher.Enabled,
		Watcher: coreConfig.Features.Watcher,
		Egress:  coreConfig.Features.Egress,
		Notify:  coreConfig.Features.Notify,
	}
}

// Validate validates the watcher configuration
func (c *Config) Validate() error {
	if c.Watcher.PollInterval < time.Second {
		return core.NewConfigurationError("poll interval must be at least one second", nil)
	}
	if c.Watcher.PageDepth < 1 || c.Watcher.PageDepth > 20 {
		return core.NewConfigurationError("page depth must be between 1 and 20", nil)
	}
	if c.Watcher.Workers < 1 || c.Watcher.Workers > 64 {
		return core.NewConfigurationError("workers must be between 1 and 64", nil)
	}
	if c.Watcher.MaxSessionAttempts < 1 {
		return core.NewConfigurationError("max session attempts must be at least 1", nil)
	}
	if c.Watcher.MaxFetchRetries < 0 {
		return core.NewConfigurationError("max fetch retries must not be negative", nil)
	}
	if c.Watcher.CardSelector == "" {
		return core.NewConfigurationError("card selector is required", nil)
	}
	if _, err := time.LoadLocation(c.Watcher.Timezone); err != nil {
		return core.NewConfigurationError("unknown timezone "+c.Watcher.Timezone, err)
	}
	if len(c.Egress.AllowedRegions) == 0 {
		return core.NewConfigurationError("at least one allowed region is required", nil)
	}
	if c.Egress.ProbeURL == "" {
		return core.NewConfigurationError("geo probe URL is required", nil)
	}
	return nil
}

// SchedulerConfig derives the orchestrator settings.
func (c *Config) SchedulerConfig() *models.SchedulerConfig {
	config := models.DefaultSchedulerConfig()
	config.PollInterval = c.Watcher.PollInterval
	config.MaxWorkers = c.Watcher.Workers
	config.PageDepth = c.Watcher.PageDepth
	config.MaxSessionAttempts = c.Watcher.MaxSessionAttempts
	config.MaxFetchRetries = c.Watcher.MaxFetchRetries
	config.RefreshEvery = c.Watcher.SessionRefreshCycles
	config.ExpectedCurrency = c.Watcher.ExpectedCurrency
	if c.Egress.AcquireTimeout > 0 {
		config.AcquireTimeout = c.Egress.AcquireTimeout
	}
	return config
}

// FetcherConfig derives the page fetcher settings.
func (c *Config) FetcherConfig() *models.FetcherConfig {
	return &models.FetcherConfig{
		SearchTemplate:    c.Watcher.SearchTemplate,
		CardSelector:      c.Watcher.CardSelector,
		NextSelector:      c.Watcher.NextSelector,
		UserAgent:         c.Watcher.UserAgent,
		Timeout:           c.Watcher.FetchTimeout,
		RequestsPerSecond: c.Watcher.FetchRPS,
		DumpPages:         c.Watcher.DumpPages,
	}
}
