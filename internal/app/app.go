// Package app wires configuration into the ledger services shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-ledger/internal/attachments"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/export"
	"github.com/dvloznov/finance-ledger/internal/fx"
	bq "github.com/dvloznov/finance-ledger/internal/infra/bigquery"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/jobs/inmemory"
	"github.com/dvloznov/finance-ledger/internal/ledger"
	"github.com/dvloznov/finance-ledger/internal/reconcile"
	"github.com/dvloznov/finance-ledger/internal/recurring"
	"github.com/dvloznov/finance-ledger/internal/store"
	"github.com/dvloznov/finance-ledger/internal/store/memory"
	"github.com/dvloznov/finance-ledger/internal/store/postgres"
	"github.com/rs/zerolog"
)

// QueueBuffer is how many job runs may wait before Publish blocks.
const QueueBuffer = 100

// App holds the services built from one Config.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Store       store.Store
	Ledger      *ledger.Service
	Recurring   *recurring.Service
	Refresher   *fx.Refresher
	Reconciler  *reconcile.Reconciler
	Exporter    *export.Exporter
	Analytics   *bq.Writer
	Attachments *attachments.Service

	Jobs       *inmemory.Store
	Queue      *inmemory.Queue
	Dispatcher *jobs.Dispatcher

	closers []func() error
}

// New opens the store and the optional cloud clients and registers the batch jobs.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	a.Ledger = ledger.New(st)
	a.Recurring = recurring.New(st)
	a.Reconciler = reconcile.New(st, reconcile.DefaultPageSize)

	fallback, err := fx.ParseRates(cfg.FXRatesFallback)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("parsing FX_RATES_FALLBACK: %w", err)
	}
	opts := []fx.RefresherOption{fx.WithFallback(fallback)}
	if p := newProvider(cfg); p != nil {
		opts = append(opts, fx.WithProvider(p))
	}
	a.Refresher = fx.NewRefresher(st, cfg.BaseCurrency, opts...)

	if cfg.AnalyticsEnabled() {
		writer, err := bq.NewWriter(ctx, cfg.GCPProject, cfg.BQDataset)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating analytics writer: %w", err)
		}
		a.Analytics = writer
		a.closers = append(a.closers, writer.Close)
		a.Exporter = export.New(st, writer)
	} else {
		log.Warn().Msg("No GCP project configured - analytics export disabled")
	}

	if cfg.AttachmentsBucket != "" {
		gcs, err := attachments.NewGCSStore(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("creating attachment store: %w", err)
		}
		a.closers = append(a.closers, gcs.Close)
		a.Attachments = attachments.New(a.Ledger, gcs, cfg.AttachmentsBucket)
	} else {
		log.Warn().Msg("No attachments bucket configured - attachment uploads will be disabled")
		a.Attachments = attachments.New(a.Ledger, nil, "")
	}

	a.Jobs = inmemory.NewStore()
	a.Queue = inmemory.NewQueue(QueueBuffer, a.Jobs)
	a.Dispatcher = jobs.NewDispatcher(a.Queue, a.Jobs)
	a.registerJobs()

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return st, nil
	default:
		return memory.New(), nil
	}
}

func newProvider(cfg *config.Config) fx.Provider {
	switch cfg.FXProvider {
	case config.FXProviderERAPI:
		return fx.NewERAPIProvider(cfg.FXAPIURL, nil)
	case config.FXProviderCBR:
		return fx.NewCBRProvider(cfg.CBRURL, nil)
	default:
		return nil
	}
}

func (a *App) registerJobs() {
	a.Dispatcher.Register(jobs.JobTypeRecurring, func(ctx context.Context, cursor string) (any, string, error) {
		res, err := a.Recurring.Run(ctx, cursor)
		if res == nil {
			return nil, cursor, err
		}
		return res, res.Cursor, err
	})
	a.Dispatcher.Register(jobs.JobTypeFXRefresh, func(ctx context.Context, cursor string) (any, string, error) {
		res, err := a.Refresher.Run(ctx, cursor)
		if res == nil {
			return nil, cursor, err
		}
		return res, res.Cursor, err
	})
	a.Dispatcher.Register(jobs.JobTypeReconcile, func(ctx context.Context, cursor string) (any, string, error) {
		res, err := a.Reconciler.Run(ctx, cursor)
		if res == nil {
			return nil, cursor, err
		}
		return res, res.Cursor, err
	})
	if a.Exporter != nil {
		a.Dispatcher.Register(jobs.JobTypeExport, func(ctx context.Context, cursor string) (any, string, error) {
			res, err := a.Exporter.Run(ctx, cursor)
			if res == nil {
				return nil, cursor, err
			}
			return res, res.Cursor, err
		})
	}
}

// StartWorkers consumes queued job runs until ctx is cancelled.
func (a *App) StartWorkers(ctx context.Context) error {
	return a.Queue.Start(ctx, a.Dispatcher.Handle)
}

// Close stops the queue and releases clients in reverse order of creation.
func (a *App) Close() error {
	var first error
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			first = err
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
