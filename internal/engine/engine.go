// Package engine wires the pipeline together and runs it.
//
// Two producer tasks feed the coordinator through bounded channels: the
// CEX reader decodes SBE frames into messages, and the PME controller
// maintains the order-book store while forwarding typed events. A third
// bounded channel carries imbalance alerts from the detector. The engine
// composes the three tasks, cancels everything when any of them fails
// terminally, and reports the first failure to the caller.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"imbalance-sentinel/internal/book"
	"imbalance-sentinel/internal/cex"
	"imbalance-sentinel/internal/config"
	"imbalance-sentinel/internal/db"
	"imbalance-sentinel/internal/imbalance"
	"imbalance-sentinel/internal/metrics"
	"imbalance-sentinel/internal/pme"
	"imbalance-sentinel/internal/sbe"
	"imbalance-sentinel/pkg/types"
)

// channelCapacity bounds every inter-component queue. Message and event
// producers block when full (back-pressure); the alert producer drops.
const channelCapacity = 100

// Engine owns the lifecycle of every component.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	store       *book.Store
	cexClient   *cex.Client
	controller  *pme.Controller
	coordinator *Coordinator
	database    *db.DB
	metricsSrv  *metrics.Server
}

// New builds and wires all components. Auth problems (an unreadable or
// non-RSA private key) and database connection failures surface here and
// are fatal.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	signer, err := pme.NewSigner(cfg.PME.APIKeyID, cfg.PME.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	store := book.NewStore(logger)

	cexMessages := make(chan sbe.Message, channelCapacity)
	pmeEvents := make(chan types.PMEEvent, channelCapacity)
	alerts := make(chan types.ImbalanceAlert, channelCapacity)

	socket := pme.NewSocket(cfg.PME.WSURL, signer, cfg.PME.ConnectTimeout, cfg.PME.ReadTimeout, logger)
	rest := pme.NewRESTClient(cfg.PME.RESTBaseURL, signer, logger)
	controller := pme.NewController(socket, rest, store, pmeEvents, cfg.PME.TrackedSymbols[0], logger)

	cexClient := cex.NewClient(cfg.CEX, cexMessages, logger)
	detector := imbalance.NewDetector(alerts, logger)

	var database *db.DB
	if cfg.Database.URL != "" {
		database, err = db.Open(cfg.Database.URL, logger)
		if err != nil {
			return nil, err
		}
	}

	coordinator := NewCoordinator(
		store,
		detector,
		controller.CurrentMarket,
		database,
		cexMessages,
		pmeEvents,
		alerts,
		cfg.Reports.Dir,
		logger,
	)

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.ListenAddr, logger)
	}

	return &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		store:       store,
		cexClient:   cexClient,
		controller:  controller,
		coordinator: coordinator,
		database:    database,
		metricsSrv:  metricsSrv,
	}, nil
}

// Run starts every task and waits for all of them. The first terminal
// failure cancels the rest and is returned; a clean shutdown (context
// cancelled, sockets closed normally) returns nil.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.metricsSrv != nil {
		go func() {
			if err := e.metricsSrv.Start(); err != nil {
				e.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer e.metricsSrv.Stop()
	}
	if e.database != nil {
		defer e.database.Close()
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	run := func(name string, task func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				e.logger.Error("task failed", "task", name, "error", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				cancel()
			} else {
				e.logger.Info("task finished", "task", name)
			}
		}()
	}

	run("cex", e.cexClient.Run)
	run("pme", e.controller.Run)
	run("coordinator", e.coordinator.Run)

	wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}
