// Package rheem is the public facade wiring the optimizer/driver/learner
// internals into one Job type, mirroring the teacher's pkg/database
// facade (pkg/database/database.go) that wraps the relational engine's
// internals behind a small client-facing API.
package rheem

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/namyoh/rheem/internal/cardinality"
	"github.com/namyoh/rheem/internal/channel"
	"github.com/namyoh/rheem/internal/config"
	"github.com/namyoh/rheem/internal/cost"
	"github.com/namyoh/rheem/internal/driver"
	"github.com/namyoh/rheem/internal/enumerator"
	"github.com/namyoh/rheem/internal/executionlog"
	"github.com/namyoh/rheem/internal/mapping"
	"github.com/namyoh/rheem/internal/optctx"
	"github.com/namyoh/rheem/internal/planmodel"
)

// Job wires one plan's full optimize-and-execute lifecycle: cardinality
// engine, cost model, mapping, enumerator, and driver, all sharing one
// Arena, per spec §5's pipeline (C1 → C2 → C3 → C4 → C5/C6 → C7).
type Job struct {
	Plan     *planmodel.Plan
	Mapping  *mapping.Mapping
	Registry *driver.Registry

	arena   *optctx.Arena
	cardEng *cardinality.Engine
	model   *cost.Model
	enum    *enumerator.Enumerator
	drv     *driver.Driver
	cfg     *config.Configuration
	log     zerolog.Logger
	logW    *executionlog.Writer
}

// New builds a Job ready to Optimize/Run. graph registers whatever
// cross-platform channel conversions this job's mapping alternatives
// might need; pass channel.NewGraph() with nothing registered for a
// single-platform job.
func New(plan *planmodel.Plan, m *mapping.Mapping, registry *driver.Registry, graph *channel.Graph, cfg *config.Configuration, log zerolog.Logger) (*Job, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rheem.New: invalid configuration: %w", err)
	}
	arena := optctx.NewArena()
	model := cost.NewModel(log)
	cardEng := cardinality.NewEngine(arena, nil, log)

	var logW *executionlog.Writer
	if cfg.Bool(config.KeyLogEnabled) {
		w, err := executionlog.OpenWriter(cfg.String_(config.KeyLogExecutions))
		if err != nil {
			return nil, err
		}
		logW = w
	}

	enumOpts := enumerator.Options{TopK: 1}
	enum := enumerator.New(arena, model, graph, enumOpts)

	drvOpts := driver.Options{
		Reoptimize:    cfg.Bool(config.KeyOptimizerReoptimize),
		SkipExecution: cfg.Bool(config.KeyDebugSkipExecution),
		Log:           logW,
	}
	drv := driver.New(registry, arena, cardEng, enum, drvOpts, log)

	return &Job{
		Plan: plan, Mapping: m, Registry: registry,
		arena: arena, cardEng: cardEng, model: model,
		enum: enum, drv: drv, cfg: cfg, log: log, logW: logW,
	}, nil
}

// Optimize runs one full optimization pass: push cardinalities, apply
// the mapping to build the hyperplan, then enumerate the cheapest
// PlanImplementation (spec §5).
func (j *Job) Optimize() (*enumerator.PlanImplementation, error) {
	if err := j.Plan.Sane(); err != nil {
		return nil, err
	}
	j.cardEng.Push(j.Plan)
	hp, err := j.Mapping.Apply(j.Plan)
	if err != nil {
		return nil, err
	}
	j.enum.SetHyperplan(hp)
	return j.enum.Enumerate(j.Plan)
}

// Run optimizes (if impl is nil) and then executes to completion,
// re-optimizing at cardinality-drift breakpoints per the configured
// policy (spec §5, §8).
func (j *Job) Run(ctx context.Context, impl *enumerator.PlanImplementation) error {
	if impl == nil {
		var err error
		impl, err = j.Optimize()
		if err != nil {
			return err
		}
	}
	_, err := j.drv.Run(ctx, j.Plan, impl)
	return err
}

// Close releases the job's execution log handle, if one is open.
func (j *Job) Close() error {
	if j.logW != nil {
		return j.logW.Close()
	}
	return nil
}
