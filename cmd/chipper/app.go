package main

import (
	"fmt"

	"github.com/knowledgechipper/core/pkg/checkpoint"
	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/llms"
	"github.com/knowledgechipper/core/pkg/orchestrator"
	"github.com/knowledgechipper/core/pkg/resource"
	"github.com/knowledgechipper/core/pkg/schema"
	"github.com/knowledgechipper/core/pkg/store"
)

// app bundles the long-lived components every subcommand that touches the
// store or runs jobs needs. Built once per CLI invocation and closed before
// the process exits.
type app struct {
	cfg   *config.Config
	store *store.Store
}

// openApp loads the optional config file, opens the sqlite database named
// by --db, and applies defaults/validation. Providers are optional here —
// subcommands that need them (job run/resume) fail with a clear error if
// the registry ends up empty, rather than requiring a config file for
// ingest/search/summarize/cost, which never touch an LLM.
func openApp(cli *CLI) (*app, error) {
	cfg := &config.Config{}
	if cli.Config != "" {
		loaded, err := config.Load(cli.Config)
		if err != nil {
			return nil, fmt.Errorf("chipper: loading config: %w", err)
		}
		cfg = loaded
	} else {
		cfg.SetDefaults()
	}
	if cli.DB != "" {
		cfg.Database.Path = cli.DB
		cfg.Database.SetDefaults()
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("chipper: %w", err)
	}

	s, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("chipper: opening database: %w", err)
	}

	return &app{cfg: cfg, store: s}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// buildOrchestrator wires an Orchestrator from the loaded config's
// providers. Job configs name providers by their registry key, so the
// *_model fields resolve directly against what is registered here.
func (a *app) buildOrchestrator() (*orchestrator.Orchestrator, error) {
	if len(a.cfg.Providers) == 0 {
		return nil, fmt.Errorf("chipper: no providers configured; pass --config with a providers: map")
	}

	localLLM := false
	parallelLanes := 0
	for _, pc := range a.cfg.Providers {
		if pc.Provider == config.ProviderOllama {
			localLLM = true
			if pc.ParallelLanes > parallelLanes {
				parallelLanes = pc.ParallelLanes
			}
		}
	}

	gov, err := resource.New(localLLM, parallelLanes)
	if err != nil {
		return nil, fmt.Errorf("chipper: detecting hardware: %w", err)
	}

	// The registry's governor must be wired before providers are created so
	// every provider's concurrencyLimitedProvider wrapper consults the
	// memory backpressure gate.
	reg := llms.NewRegistry()
	reg.SetGovernor(gov)
	for name, pc := range a.cfg.Providers {
		if _, err := reg.CreateFromConfig(name, pc); err != nil {
			return nil, fmt.Errorf("chipper: registering provider %q: %w", name, err)
		}
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("chipper: building schema validator: %w", err)
	}

	ck := checkpoint.NewManager(a.store, 0)
	metrics := orchestrator.NewMetrics()

	return orchestrator.New(a.store, reg, validator, gov, ck, metrics, 0), nil
}
