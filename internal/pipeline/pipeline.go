package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gl-deviation/internal/deviation"
	"github.com/sells-group/gl-deviation/internal/ingest"
	"github.com/sells-group/gl-deviation/internal/store"
	"github.com/sells-group/gl-deviation/internal/tabular"
)

// InputError reports a metrics table that could not be parsed.
type InputError struct {
	Source string
	Err    error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("pipeline: read %s: %v", e.Source, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

// Pipeline reads a metrics table, scores it, and optionally records the run.
type Pipeline struct {
	cfg         deviation.Config
	store       store.Store
	concurrency int
}

// New validates cfg and returns a Pipeline. st may be nil, in which case
// runs cannot be saved.
func New(cfg deviation.Config, st store.Store, concurrency int) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: invalid config")
	}
	return &Pipeline{cfg: cfg.Clone(), store: st, concurrency: concurrency}, nil
}

// Config returns a copy of the base engine configuration.
func (p *Pipeline) Config() deviation.Config {
	return p.cfg.Clone()
}

// CanSave reports whether a run store is attached.
func (p *Pipeline) CanSave() bool {
	return p.store != nil
}

// Input names a table source.
type Input struct {
	Source  string
	Reader  io.Reader
	Format  tabular.Format
	Options tabular.Options
}

// Overrides adjust the base configuration for a single run. Nil fields keep
// the configured value.
type Overrides struct {
	IncludeTier3  *bool
	MaxTier1      *int
	Tier1MinScore *float64
	Tier2MinScore *float64
	Evidence      *bool
	Disable       []deviation.Kind
}

// Apply returns cfg with the overrides applied. cfg is not modified.
func (o Overrides) Apply(cfg deviation.Config) deviation.Config {
	out := cfg.Clone()
	if o.IncludeTier3 != nil {
		out.Tiers.IncludeTier3 = *o.IncludeTier3
	}
	if o.MaxTier1 != nil {
		out.Tiers.MaxTier1 = *o.MaxTier1
	}
	if o.Tier1MinScore != nil {
		out.Tiers.Tier1MinScore = *o.Tier1MinScore
	}
	if o.Tier2MinScore != nil {
		out.Tiers.Tier2MinScore = *o.Tier2MinScore
	}
	if o.Evidence != nil {
		out.Report.IncludeEvidence = *o.Evidence
	}
	if len(o.Disable) > 0 {
		if out.EnabledChecks == nil {
			out.EnabledChecks = make(map[deviation.Kind]bool, len(o.Disable))
		}
		for _, k := range o.Disable {
			out.EnabledChecks[k] = false
		}
	}
	return out
}

// Result is the outcome of one pipeline run.
type Result struct {
	Report *deviation.Report
	Ingest *ingest.Result
	// Run is set when the run was saved.
	Run *store.Run
}

// Run parses in, scores it with the overridden configuration, and saves the
// run when save is set.
func (p *Pipeline) Run(ctx context.Context, in Input, ov Overrides, save bool) (*Result, error) {
	log := zap.L().With(zap.String("source", in.Source))
	start := time.Now()

	if save && p.store == nil {
		return nil, eris.New("pipeline: save requested but no run store is configured")
	}

	cfg := ov.Apply(p.cfg)
	// A *deviation.ConfigError here means the overrides were rejected.
	engine, err := deviation.NewEngine(cfg, deviation.WithConcurrency(p.concurrency), deviation.WithLogger(log))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: overrides")
	}

	tbl, err := tabular.Read(ctx, in.Reader, in.Format, in.Options)
	if err != nil {
		return nil, &InputError{Source: in.Source, Err: err}
	}
	log.Debug("pipeline: table read", zap.Int("rows", tbl.Len()), zap.Int("columns", len(tbl.Columns)))

	ing, err := ingest.Build(tbl)
	if err != nil {
		return nil, err
	}

	rep, err := engine.Run(ctx, ing.Batch)
	if err != nil {
		return nil, err
	}
	res := &Result{Report: rep, Ingest: ing}

	if save {
		run, err := store.NewRun(in.Source, cfg, rep)
		if err != nil {
			return nil, err
		}
		if err := p.store.SaveRun(ctx, run); err != nil {
			return nil, eris.Wrap(err, "pipeline: save run")
		}
		res.Run = run
		log.Info("pipeline: run saved", zap.String("run_id", run.ID))
	}

	log.Info("pipeline: complete",
		zap.Int("flagged", rep.Summary.Flagged()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// GetRun loads a saved run.
func (p *Pipeline) GetRun(ctx context.Context, id string) (*store.Run, error) {
	if p.store == nil {
		return nil, eris.New("pipeline: no run store is configured")
	}
	return p.store.GetRun(ctx, id)
}

// ListRuns lists saved runs, newest first.
func (p *Pipeline) ListRuns(ctx context.Context, filter store.RunFilter) ([]store.Run, error) {
	if p.store == nil {
		return nil, eris.New("pipeline: no run store is configured")
	}
	return p.store.ListRuns(ctx, filter)
}
