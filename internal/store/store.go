package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gl-deviation/internal/deviation"
)

// ErrRunNotFound is returned when a run ID has no stored report.
var ErrRunNotFound = eris.New("store: run not found")

// Run is one saved engine run. Rows is empty when listing.
type Run struct {
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Source     string            `json:"source"`
	ConfigHash string            `json:"config_hash"`
	Summary    deviation.Summary `json:"summary"`
	Rows       []deviation.Row   `json:"rows,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Source string `json:"source,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Store persists watchlist runs so earlier outcomes can be compared.
type Store interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// NewRun captures a report for saving under a fresh ID.
func NewRun(source string, cfg deviation.Config, rep *deviation.Report) (*Run, error) {
	hash, err := ConfigHash(cfg)
	if err != nil {
		return nil, err
	}
	return &Run{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
		Source:     source,
		ConfigHash: hash,
		Summary:    rep.Summary,
		Rows:       append([]deviation.Row(nil), rep.Rows...),
	}, nil
}

// Report rebuilds a watchlist report from the saved rows. Per-account
// scoring detail is not stored, so Accounts is empty.
func (r *Run) Report() *deviation.Report {
	rep := &deviation.Report{Rows: r.Rows, Summary: r.Summary}
	for _, row := range r.Rows {
		if row.MetricValues != "" {
			rep.IncludeEvidence = true
			break
		}
	}
	return rep
}

// ConfigHash fingerprints an engine configuration so runs scored under
// different settings can be told apart.
func ConfigHash(cfg deviation.Config) (string, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal config")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8]), nil
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case "sqlite":
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = withRetry(ctx, defaultConnectRetry, "postgres connect", func(ctx context.Context) (Store, error) {
			pg, err := NewPostgres(ctx, dsn, nil)
			if err != nil {
				return nil, err
			}
			return pg, nil
		})
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
