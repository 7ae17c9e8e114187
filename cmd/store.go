package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/county-risk/risk-engine/internal/catalog"
	"github.com/county-risk/risk-engine/internal/runner"
	"github.com/county-risk/risk-engine/internal/scorer"
	"github.com/county-risk/risk-engine/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// engine bundles the store with the catalog and runner built on it.
type engine struct {
	Store   store.Store
	Catalog *catalog.Catalog
	Runner  *runner.Runner
}

// Close releases the store.
func (e *engine) Close() {
	_ = e.Store.Close()
}

// newEngine wires the catalog, scorer and runner over st using cfg.
func newEngine(st store.Store) (*engine, error) {
	defaults, err := catalog.BuiltinDefaults()
	if err != nil {
		return nil, err
	}
	synth, err := scorer.NewSyntheticSource(cfg.Risk.Synthetic)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(st, defaults)
	sc := scorer.New(scorer.DefaultRegistry(synth), cfg.Risk.Fallback)
	r := runner.New(st, cat, sc, scorer.NewAssessor(cfg.Risk), cfg.Batch)

	return &engine{Store: st, Catalog: cat, Runner: r}, nil
}

// initEngine opens the configured store and seeds the built-in indicators
// when the catalog is empty.
func initEngine(ctx context.Context) (*engine, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env, err := newEngine(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	seed, err := catalog.BuiltinSeed()
	if err != nil {
		env.Close()
		return nil, err
	}
	if _, err := env.Catalog.Seed(ctx, seed); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}
