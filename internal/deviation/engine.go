package deviation

import (
	"context"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine scores batches against one immutable configuration. It is safe for
// concurrent use.
type Engine struct {
	cfg         Config
	concurrency int
	log         *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds the number of accounts scored in parallel. Values
// below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine validates cfg and returns an Engine holding a private copy of it.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, eris.Wrap(err, "deviation: new engine")
	}
	e := &Engine{
		cfg:         cfg.Clone(),
		concurrency: runtime.GOMAXPROCS(0),
		log:         zap.L(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg.Clone()
}

// Run scores every account in the batch and builds the report. The only
// error is context cancellation; bad cells simply produce no evidence.
func (e *Engine) Run(ctx context.Context, batch Batch) (*Report, error) {
	start := time.Now()

	mat := ComputeMateriality(batch, e.cfg.Thresholds.MinPercentileSample)
	suppressed := mat.Suppressed()
	for _, m := range suppressed {
		e.log.Warn("deviation: too few values to rank metric, materiality-gated checks disabled",
			zap.String("metric", m),
			zap.Int("min_sample", e.cfg.Thresholds.MinPercentileSample),
		)
	}

	order := batch.metricOrder()
	ev := evaluator{cfg: e.cfg}
	accounts := make([]ScoredAccount, len(batch.Rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range batch.Rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			accounts[i] = e.scoreAccount(ev, batch, i, mat, order)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "deviation: run cancelled")
	}

	demoted := capTier1(accounts, e.cfg.Tiers.MaxTier1)

	rep := buildReport(accounts, batch.Metrics, suppressed, e.cfg.Report, demoted)

	e.log.Info("deviation: run complete",
		zap.Int("accounts", rep.Summary.AccountsEvaluated),
		zap.Int("with_signals", rep.Summary.AccountsWithSignals),
		zap.Int("tier1", rep.Summary.Tier1),
		zap.Int("tier2", rep.Summary.Tier2),
		zap.Int("tier3", rep.Summary.Tier3),
		zap.Int("demoted_by_cap", demoted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}

func (e *Engine) scoreAccount(ev evaluator, batch Batch, i int, mat *Materiality, order map[string]int) ScoredAccount {
	row := batch.Rows[i]
	acct := ScoredAccount{Code: row.Code, Name: row.Name}

	overall, overallOK := mat.Overall(i)
	if overallOK {
		v := roundTo(overall, 2)
		acct.Materiality = &v
	}

	signals := ev.evaluateAccount(row, i, batch.Metrics, mat)
	if len(signals) == 0 {
		return acct
	}
	rankSignals(signals, order)

	acct.Signals = signals
	acct.Score = totalScore(signals)
	acct.Tier = assignTier(acct.Score, overall, overallOK, signals, e.cfg.Tiers)

	// The top-ranked signal names the dominant metric and drives the
	// interpretation, so the two always agree.
	dom := signals[0]
	acct.DominantMetric = dom.Metric
	pct, ok := mat.MeanPct(dom.Metric, i)
	immaterial := !ok || pct < e.cfg.Profile(dom.Metric).MinMeanPctForEffect
	acct.Interpretation = interpretation(e.cfg.Language, row.Name, signals, immaterial)

	if acct.Tier.Flagged() && e.cfg.Report.IncludeEvidence {
		acct.Evidence = evidenceBlob(row, signals, order, e.cfg.Thresholds.Epsilon, e.cfg.Report.MaxEvidenceMetrics)
	}
	return acct
}
