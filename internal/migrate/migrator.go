package migrate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/arwahdevops/dbmigrate/internal/metrics"
	"github.com/arwahdevops/dbmigrate/internal/schema"
)

// RunOptions controls how far the pipeline goes.
type RunOptions struct {
	// Apply executes the plan against the database.
	Apply bool
	// Force proceeds despite destructive warnings. It never overrides
	// unexecutable findings.
	Force bool
	// DryRun plans, renders and checks without applying.
	DryRun bool
}

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	Migration    *Migration
	Steps        []RenderedStep
	Script       string
	Check        *DestructiveCheckResult
	AppliedSteps int
	Applied      bool
	// Blocked is set when warnings were pending and force was not given.
	Blocked bool
}

// Migrator runs plan, render, check and apply for one target.
type Migrator struct {
	flavour  Flavour
	planner  *Planner
	renderer *Renderer
	checker  *DestructiveChangeChecker
	applier  *Applier
	metrics  *metrics.Store
	logger   *zap.Logger
}

// NewMigrator wires the pipeline. inspector, applier and metricsStore may be
// nil when no database is reachable.
func NewMigrator(flavour Flavour, inspector DatabaseInspector, applier *Applier, metricsStore *metrics.Store, logger *zap.Logger) *Migrator {
	return &Migrator{
		flavour:  flavour,
		planner:  NewPlanner(flavour, logger),
		renderer: NewRenderer(flavour),
		checker:  NewDestructiveChangeChecker(flavour, inspector, logger),
		applier:  applier,
		metrics:  metricsStore,
		logger:   logger.Named("migrator"),
	}
}

// Run executes the pipeline. Checker findings are returned as data; apply is
// skipped when warnings are pending without force, and refused when any step
// is unexecutable.
func (m *Migrator) Run(ctx context.Context, previous, next *schema.Snapshot, opts RunOptions) (*RunResult, error) {
	log := m.logger.With(zap.String("dialect", m.flavour.Dialect()))

	migration, err := m.planner.Plan(previous, next)
	if err != nil {
		m.countError("plan")
		return nil, fmt.Errorf("failed to plan migration: %w", err)
	}
	if m.metrics != nil {
		for _, tag := range migration.KindTags() {
			m.metrics.PlannedStepsTotal.WithLabelValues(tag).Inc()
		}
	}

	steps, err := m.renderer.Render(migration)
	if err != nil {
		m.countError("render")
		return nil, fmt.Errorf("failed to render migration: %w", err)
	}
	result := &RunResult{Migration: migration, Steps: steps, Script: Script(steps)}
	if migration.IsEmpty() {
		log.Info("Schemas are in sync; nothing to migrate")
		result.Check = &DestructiveCheckResult{}
		return result, nil
	}

	check, err := m.checker.Check(ctx, migration)
	if err != nil {
		m.countError("check")
		return result, fmt.Errorf("failed to check migration: %w", err)
	}
	result.Check = check
	if m.metrics != nil {
		m.metrics.FindingsTotal.WithLabelValues("warning").Add(float64(len(check.Warnings)))
		m.metrics.FindingsTotal.WithLabelValues("unexecutable").Add(float64(len(check.Unexecutable)))
	}
	for _, w := range check.Warnings {
		log.Warn("Destructive change", zap.Int("step", w.StepIndex), zap.String("message", w.Message))
	}
	for _, u := range check.Unexecutable {
		log.Error("Unexecutable change", zap.Int("step", u.StepIndex), zap.String("message", u.Message))
	}

	if !opts.Apply || opts.DryRun {
		return result, nil
	}
	if check.HasUnexecutable() {
		return result, ErrUnexecutable
	}
	if check.HasWarnings() && !opts.Force {
		log.Warn("Migration not applied: destructive warnings are pending and force is not set",
			zap.Int("warnings", len(check.Warnings)))
		result.Blocked = true
		return result, nil
	}
	if m.applier == nil {
		return result, errors.New("cannot apply migration: no database connection")
	}

	applied, err := m.applier.Apply(ctx, steps)
	result.AppliedSteps = applied
	if err != nil {
		return result, err
	}
	result.Applied = true
	return result, nil
}

func (m *Migrator) countError(kind string) {
	if m.metrics != nil {
		m.metrics.MigrationErrorsTotal.WithLabelValues(kind).Inc()
	}
}
