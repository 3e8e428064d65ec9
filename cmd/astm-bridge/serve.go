package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-astm/astm"
	"github.com/arloliu/go-astm/catalog"
	"github.com/arloliu/go-astm/commit"
	"github.com/arloliu/go-astm/config"
	"github.com/arloliu/go-astm/dispatch"
	"github.com/arloliu/go-astm/dump"
	"github.com/arloliu/go-astm/journal"
	"github.com/arloliu/go-astm/logger"
	"github.com/arloliu/go-astm/server"
	"github.com/arloliu/go-astm/store"
	"github.com/arloliu/go-astm/store/sqlitestore"
)

// runServe wires the store, catalog, journal, pipeline and server and runs
// until SIGINT or SIGTERM.
func runServe(parent context.Context, cfg *config.Config, l logger.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.Info("astm-bridge starting", "version", getVersion(), "listen", cfg.Listen, "database", cfg.Database)

	st, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.Database, PoolSize: cfg.PoolSize, Logger: l})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			l.Error("close database", "error", err)
		}
	}()

	if cfg.Catalog != "" {
		if err := syncCatalog(ctx, st, cfg.Catalog, l); err != nil {
			return err
		}

		if cfg.WatchCatalog {
			watchCtx, cancelWatch := context.WithCancel(ctx)
			watchDone := make(chan struct{})
			defer func() {
				cancelWatch()
				<-watchDone
			}()

			go func() {
				defer close(watchDone)

				err := catalog.Watch(watchCtx, cfg.Catalog, func(cat *store.Catalog) {
					if err := st.SyncCatalog(context.WithoutCancel(ctx), cat); err != nil {
						l.Error("catalog resync failed", "error", err)
					}
				}, l)
				if err != nil {
					l.Error("catalog watcher stopped", "error", err)
				}
			}()
		}
	}

	pipelineOpts := []commit.Option{
		commit.WithLogger(l),
		commit.WithStaleness(cfg.Staleness),
		commit.WithAuthor(cfg.BillingAuthor),
		commit.WithSARSOverride(commit.DefaultSARSAnalyte, cfg.SARSOverrideCode),
	}

	if cfg.JournalDir != "" {
		j, err := journal.Open(cfg.JournalDir)
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				l.Error("close journal", "error", err)
			}
		}()

		pipelineOpts = append(pipelineOpts, commit.WithRecorder(j))
	}

	pipeline, err := commit.New(st, pipelineOpts...)
	if err != nil {
		return err
	}

	srvCfg, err := newServerConfig(cfg, l)
	if err != nil {
		return err
	}

	srv, err := server.NewServer(srvCfg, pipeline)
	if err != nil {
		return err
	}

	return srv.ListenAndServe(ctx)
}

func syncCatalog(ctx context.Context, st *sqlitestore.Store, path string, l logger.Logger) error {
	cat, err := catalog.Load(path)
	if err != nil {
		return err
	}

	if err := st.SyncCatalog(ctx, cat); err != nil {
		return fmt.Errorf("sync catalog: %w", err)
	}

	l.Info("catalog synced",
		"path", path,
		"templates", len(cat.Templates),
		"positions", len(cat.Positions),
		"patients", len(cat.Patients),
	)

	return nil
}

// newServerConfig maps the process configuration onto server, session and
// dispatcher options.
func newServerConfig(cfg *config.Config, l logger.Logger) (*server.ServerConfig, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	policy, err := dispatch.ParseSequencingPolicy(cfg.SequencingPolicy)
	if err != nil {
		return nil, err
	}

	compression, err := dump.ParseCompression(cfg.DumpCompression)
	if err != nil {
		return nil, err
	}

	opts := []server.ServerOption{
		server.WithLogger(l),
		server.WithShutdownTimeout(cfg.ShutdownTimeout),
		server.WithStatsInterval(cfg.StatsInterval),
		server.WithMaxConnections(cfg.MaxConnections),
		server.WithSessionOptions(
			astm.WithRetryLimit(cfg.RetryLimit),
			astm.WithReceiveTimeout(cfg.ReceiveTimeout),
			astm.WithCharTimeout(cfg.CharTimeout),
		),
		server.WithDispatchOptions(
			dispatch.WithPolicy(policy),
			dispatch.WithPrivateTag(cfg.PrivateTag),
			dispatch.WithPatientIDWidth(cfg.PatientIDWidth),
			dispatch.WithLocation(loc),
		),
	}

	if cfg.DumpDir != "" {
		opts = append(opts, server.WithDump(cfg.DumpDir, compression))
	}

	return server.NewServerConfig(cfg.Listen, opts...)
}
