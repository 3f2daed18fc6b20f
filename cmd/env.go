package main

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cobenefit-atlas/internal/archetype"
	"github.com/sells-group/cobenefit-atlas/internal/catalog"
	"github.com/sells-group/cobenefit-atlas/internal/dataset"
	"github.com/sells-group/cobenefit-atlas/internal/engine"
	"github.com/sells-group/cobenefit-atlas/internal/fetcher"
	"github.com/sells-group/cobenefit-atlas/internal/geo"
)

// appEnv holds the services the commands share.
type appEnv struct {
	Catalog    *catalog.Catalog
	Fetcher    *fetcher.HTTPFetcher
	Engine     *engine.Executor
	Datasets   *dataset.Loader
	Archetypes *archetype.Loader
}

// Close releases the engine.
func (e *appEnv) Close() {
	if e.Engine != nil {
		_ = e.Engine.Close()
	}
}

// initEnv builds every service from cfg after validating it for mode.
// Nothing is fetched until a service is used. Callers should defer env.Close().
func initEnv(mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	cat := catalog.Default()
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.Fetch.UserAgent,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Fetch.MaxRetries,
	})

	exec, err := engine.New(f, engine.Options{
		Snapshot:    fetcher.Resolve(cfg.Dataset.BaseURL, cfg.Dataset.SnapshotPath),
		Table:       cfg.Engine.Table,
		TempDir:     cfg.Engine.TempDir,
		InitTimeout: cfg.Engine.InitTimeout(),
		Cache:       engine.NewResultCache(cfg.Engine.CacheEntries, cfg.Engine.CacheTTL()),
		Catalog:     cat,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init engine")
	}

	return &appEnv{
		Catalog: cat,
		Fetcher: f,
		Engine:  exec,
		Datasets: dataset.NewLoader(f, dataset.Options{
			BaseURL: cfg.Dataset.BaseURL,
			Fine:    dataset.Source{Path: cfg.Dataset.FinePath, Object: cfg.Dataset.FineObject},
			Coarse:  dataset.Source{Path: cfg.Dataset.CoarsePath, Object: cfg.Dataset.CoarseObject},
			TempDir: cfg.Engine.TempDir,
		}),
		Archetypes: archetype.NewLoader(f, cat, archetype.Options{
			BaseURL:       cfg.Dataset.BaseURL,
			MeasuresPath:  cfg.Dataset.MeasuresPath,
			ScenarioPaths: cfg.Dataset.ScenarioPaths,
		}),
	}, nil
}

// boundarySource returns the configured boundary document of granularity g.
func boundarySource(g geo.Granularity) dataset.Source {
	if g == geo.Coarse {
		return dataset.Source{Path: cfg.Dataset.CoarsePath, Object: cfg.Dataset.CoarseObject}
	}
	return dataset.Source{Path: cfg.Dataset.FinePath, Object: cfg.Dataset.FineObject}
}
