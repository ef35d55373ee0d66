package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

var knownProbes = []string{"technical", "osint", "pentest", "seo"}

// Validate checks the settings required by a command mode: "batch",
// "worker", or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "batch", "worker", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "sqlite" {
		errs = append(errs, "store.driver must be sqlite")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Crawl.MaxDepth < 0 {
		errs = append(errs, "crawl.max_depth must be >= 0")
	}
	if c.Crawl.MaxWorkers < 1 || c.Crawl.MaxWorkers > 50 {
		errs = append(errs, "crawl.max_workers must be between 1 and 50")
	}
	if c.Orchestrator.AnalysisWorkers < 1 || c.Orchestrator.AnalysisWorkers > 50 {
		errs = append(errs, "orchestrator.analysis_workers must be between 1 and 50")
	}
	for _, p := range c.Orchestrator.Probes {
		if !slices.Contains(knownProbes, p) {
			errs = append(errs, "orchestrator.probes: unknown probe "+p)
		}
	}

	switch mode {
	case "worker":
		if c.Broker.URL == "" {
			errs = append(errs, "broker.url is required for worker mode")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.SecretKey == "" {
			errs = append(errs, "server.secret_key is required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}
