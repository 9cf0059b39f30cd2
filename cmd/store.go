package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gl-deviation/internal/pipeline"
	"github.com/sells-group/gl-deviation/internal/store"
)

// initStore opens the configured run store. It returns nil when run history
// is disabled.
func initStore(ctx context.Context) (store.Store, error) {
	if cfg.Store.Driver == "" {
		return nil, nil
	}
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}

// requireStore is initStore for commands that cannot work without history.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("run history is disabled (set store.driver)")
	}
	return st, nil
}

// initPipeline validates the loaded config and builds a pipeline around st.
func initPipeline(st store.Store) (*pipeline.Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return pipeline.New(cfg.Deviation, st, cfg.Engine.Concurrency)
}
