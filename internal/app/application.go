package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/xrpldash/xrpldash/internal/app/httpapi"
	"github.com/xrpldash/xrpldash/internal/app/hub"
	"github.com/xrpldash/xrpldash/internal/app/services/clients"
	"github.com/xrpldash/xrpldash/internal/app/services/ledgers"
	"github.com/xrpldash/xrpldash/internal/app/services/prices"
	"github.com/xrpldash/xrpldash/internal/app/sessions"
	"github.com/xrpldash/xrpldash/internal/app/storage"
	"github.com/xrpldash/xrpldash/internal/app/storage/memory"
	"github.com/xrpldash/xrpldash/internal/app/storage/postgres"
	"github.com/xrpldash/xrpldash/internal/app/system"
	"github.com/xrpldash/xrpldash/internal/config"
	"github.com/xrpldash/xrpldash/internal/xrpl"
	"github.com/xrpldash/xrpldash/pkg/logger"
)

// Application owns every long-lived component of the server.
type Application struct {
	cfg    *config.Config
	log    *logger.Logger
	store  storage.PriceStore
	db     *sql.DB
	hub    *hub.Hub
	server *http.Server
	system *system.Manager
}

// New wires the application. db may be nil, selecting the in-memory
// price store.
func New(cfg *config.Config, db *sql.DB, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	var store storage.PriceStore
	if db != nil {
		store = postgres.New(db)
	} else {
		log.Warn("no database configured, using in-memory price store")
		store = memory.New()
	}

	registry := sessions.NewRegistry()
	h := hub.New(registry, logger.NewDefault("hub"))

	extractor := prices.NewExtractor(cfg.XRPL.OracleAccount, cfg.XRPL.QuoteCurrency)
	extractor.RLUSDCurrency = cfg.XRPL.RLUSDCurrency
	extractor.RLUSDIssuer = cfg.XRPL.RLUSDIssuer
	priceSvc := prices.New(store, h, extractor, cfg.XRPL.BackfillLimit, logger.NewDefault("prices"))

	manager := xrpl.NewManager(xrpl.ManagerConfig{
		Endpoints:      cfg.XRPL.Endpoints,
		MaxRetries:     cfg.XRPL.MaxRetries,
		ReconnectDelay: cfg.XRPL.ReconnectDelay,
	}, logger.NewDefault("xrpl"))

	pipeline := ledgers.New(manager, store, extractor, priceSvc, registry, h, logger.NewDefault("ledgers"))

	manager.SetEvents(xrpl.Events{
		LedgerClosed: func(msg gjson.Result) {
			pipeline.HandleLedgerClosed(context.Background(), msg)
		},
		Transaction: func(msg gjson.Result) {
			pipeline.HandleTransaction(context.Background(), msg)
		},
	})
	manager.OnLive(func(ctx context.Context, conn xrpl.Conn) {
		go priceSvc.Backfill(ctx, conn)
	})

	clientSvc := clients.New(store, manager, pipeline, h, logger.NewDefault("clients"))
	h.SetHandler(clientSvc)

	poller := prices.NewPoller(priceSvc, manager, cfg.XRPL.PollInterval, logger.NewDefault("price-poller"))

	api := httpapi.New(store, h, logger.NewDefault("httpapi"))
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sys := system.NewManager()
	if err := sys.Register(manager); err != nil {
		return nil, err
	}
	if err := sys.Register(poller); err != nil {
		return nil, err
	}

	return &Application{
		cfg:    cfg,
		log:    log,
		store:  store,
		db:     db,
		hub:    h,
		server: server,
		system: sys,
	}, nil
}

// Store exposes the active price store for seeding tools.
func (a *Application) Store() storage.PriceStore { return a.store }

// Run starts the background services and the HTTP listener, then blocks
// until ctx is cancelled or the listener fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.system.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.server.Addr).Info("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.shutdown()
		return err
	}
	return a.shutdown()
}

func (a *Application) shutdown() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(stopCtx); err != nil {
		firstErr = err
	}
	if err := a.system.Stop(stopCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("shutdown complete")
	return firstErr
}
