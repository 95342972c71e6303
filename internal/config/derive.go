package config

import (
	"github.com/Sternrassler/grid-series-fetcher/pkg/client"
	"github.com/Sternrassler/grid-series-fetcher/pkg/datadragon"
	"github.com/Sternrassler/grid-series-fetcher/pkg/logging"
	"github.com/Sternrassler/grid-series-fetcher/pkg/orchestrator"
	"github.com/Sternrassler/grid-series-fetcher/pkg/ratelimit"
)

// ClientConfig returns the GraphQL client settings.
func (c Config) ClientConfig() client.Config {
	cc := client.DefaultConfig(c.APIKey)
	cc.Endpoint = c.APIURL
	cc.Timeout = c.RequestTimeout
	return cc
}

// DataDragonConfig returns the champion catalog CDN settings.
func (c Config) DataDragonConfig() datadragon.Config {
	dc := datadragon.DefaultConfig()
	dc.BaseURL = c.DataDragonURL
	dc.Timeout = c.RequestTimeout
	return dc
}

// RateLimitConfig returns the request governor settings.
func (c Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Limit:         c.RateLimit,
		Window:        c.RateWindow,
		MinSpacing:    c.MinSpacing,
		MaxConcurrent: c.MaxConcurrent,
	}
}

// OrchestratorConfig returns batch settings; selection fields are left to the caller.
func (c Config) OrchestratorConfig() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.MaxAttempts = c.MaxAttempts
	oc.Workers = c.MaxConcurrent
	return oc
}

// LoggingConfig returns logger settings writing to the default output.
func (c Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(c.LogLevel)
	lc.Pretty = c.LogPretty
	return lc
}
