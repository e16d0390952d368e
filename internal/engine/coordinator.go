package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"imbalance-sentinel/internal/book"
	"imbalance-sentinel/internal/db"
	"imbalance-sentinel/internal/imbalance"
	"imbalance-sentinel/internal/metrics"
	"imbalance-sentinel/internal/sbe"
	"imbalance-sentinel/pkg/types"
)

// observeWindow bounds a monitoring session and gates new alerts: while a
// session younger than this exists, further alerts are skipped.
const observeWindow = 15 * time.Second

// Coordinator fuses the three event streams — CEX messages, PME events,
// imbalance alerts — in a single select loop. It owns the monitoring
// sessions: alerts open them (subject to the gate), book updates feed
// them, and per-session timer goroutines retire them and write the report.
//
// The coordinator holds no references into other components; everything
// arrives through channels and the shared book store.
type Coordinator struct {
	store         *book.Store
	detector      *imbalance.Detector
	currentMarket func() string
	database      *db.DB // nil when persistence is disabled

	cexMessages <-chan sbe.Message
	pmeEvents   <-chan types.PMEEvent
	alerts      <-chan types.ImbalanceAlert

	sessionsMu sync.Mutex
	sessions   map[string]*session

	reportDir string
	window    time.Duration
	now       func() time.Time

	logger *slog.Logger
}

// NewCoordinator wires the coordinator. currentMarket resolves the
// correlation target for alerts (the first tracked series' live market);
// database may be nil.
func NewCoordinator(
	store *book.Store,
	detector *imbalance.Detector,
	currentMarket func() string,
	database *db.DB,
	cexMessages <-chan sbe.Message,
	pmeEvents <-chan types.PMEEvent,
	alerts <-chan types.ImbalanceAlert,
	reportDir string,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		store:         store,
		detector:      detector,
		currentMarket: currentMarket,
		database:      database,
		cexMessages:   cexMessages,
		pmeEvents:     pmeEvents,
		alerts:        alerts,
		sessions:      make(map[string]*session),
		reportDir:     reportDir,
		window:        observeWindow,
		now:           time.Now,
		logger:        logger.With("component", "coordinator"),
	}
}

// Run selects across the input channels until the producer channels are
// closed or ctx is cancelled. Pending timer tasks are abandoned on exit;
// their report writes may or may not complete.
func (co *Coordinator) Run(ctx context.Context) error {
	cexCh := co.cexMessages
	pmeCh := co.pmeEvents
	alertCh := co.alerts

	for cexCh != nil || pmeCh != nil {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-cexCh:
			if !ok {
				cexCh = nil
				continue
			}
			co.handleCEX(msg)

		case event, ok := <-pmeCh:
			if !ok {
				pmeCh = nil
				continue
			}
			co.handlePME(event)

		case alert := <-alertCh:
			co.handleAlert(ctx, alert)
		}
	}

	// Both producers are gone; alerts can no longer be generated. Drain
	// any already queued so they are at least accounted for.
	for {
		select {
		case alert := <-alertCh:
			co.handleAlert(ctx, alert)
		default:
			co.logger.Warn("all input channels closed, stopping coordinator")
			return nil
		}
	}
}

// handleCEX routes one decoded CEX message. Depth snapshots drive the
// imbalance detector; everything else is rendered for the log.
func (co *Coordinator) handleCEX(msg sbe.Message) {
	switch m := msg.(type) {
	case *sbe.DepthSnapshotEvent:
		co.detector.Evaluate(m)

	case *sbe.TradeEvent:
		if m.LastTrade != nil {
			co.logger.Info("⚡ cex trade", "symbol", m.Symbol(), "price", m.LastTrade.Price)
		}

	case *sbe.BestBidAskEvent:
		co.logger.Info("⚖️ cex quote",
			"symbol", m.Symbol(),
			"bid", m.BidPrice,
			"ask", m.AskPrice,
			"micro", m.MicroPrice(),
		)

	case *sbe.DepthDiffEvent:
		co.logger.Debug("cex depth diff",
			"symbol", m.Symbol(),
			"first_id", m.FirstBookUpdateID,
			"last_id", m.LastBookUpdateID,
		)
	}
}

// handlePME routes one PME event.
func (co *Coordinator) handlePME(event types.PMEEvent) {
	switch ev := event.(type) {
	case types.StatusChanged:
		co.logger.Info("📊 pme status", "ticker", ev.MarketTicker, "status", string(ev.NewStatus))
		switch ev.NewStatus {
		case types.StatusOpen:
			co.logger.Info("🟢 market opened", "ticker", ev.MarketTicker)
		case types.StatusClosed, types.StatusSettled:
			co.logger.Info("🔴 market closed", "ticker", ev.MarketTicker)
		}

	case types.BookUpdated:
		co.recordObservations(ev.MarketTicker)

	case types.TickerUpdated:
		bid, _ := ev.Ticker.YesBidPrice()
		ask, _ := ev.Ticker.YesAskPrice()
		co.logger.Info("📈 pme ticker",
			"ticker", ev.Ticker.MarketTicker,
			"yes_bid", bid,
			"yes_ask", ask,
		)

	case types.TradeSeen:
		co.logger.Info("💰 pme trade",
			"ticker", ev.Trade.MarketTicker,
			"taker_side", ev.Trade.TakerSide,
			"count", ev.Trade.Count,
		)
	}
}

// recordObservations appends a tick to every active session watching the
// updated market whose top of book actually moved.
func (co *Coordinator) recordObservations(ticker string) {
	co.sessionsMu.Lock()
	defer co.sessionsMu.Unlock()

	if len(co.sessions) == 0 {
		return
	}

	top, ok := co.store.TopOfBook(ticker)
	if !ok {
		return
	}

	now := co.now()
	for _, s := range co.sessions {
		if s.marketTicker != ticker {
			continue
		}
		if s.recordIfChanged(now, top) {
			co.logger.Debug("session tick",
				"session", s.key,
				"observations", len(s.observations),
			)
		}
	}
}

// handleAlert applies the gating rule, opens a monitoring session, and
// spawns its timer task.
func (co *Coordinator) handleAlert(ctx context.Context, alert types.ImbalanceAlert) {
	now := co.now()

	co.sessionsMu.Lock()
	defer co.sessionsMu.Unlock()

	for _, s := range co.sessions {
		if now.Sub(s.start) < co.window {
			metrics.Alerts.WithLabelValues("gated").Inc()
			co.logger.Info("⏭ alert skipped, session already observing",
				"symbol", alert.Symbol,
				"active_session", s.key,
			)
			return
		}
	}

	target := co.currentMarket()
	if target == "" {
		metrics.Alerts.WithLabelValues("gated").Inc()
		co.logger.Warn("⏭ alert skipped, no PME market tracked yet", "symbol", alert.Symbol)
		return
	}
	top, ok := co.store.TopOfBook(target)
	if !ok {
		metrics.Alerts.WithLabelValues("gated").Inc()
		co.logger.Warn("⏭ alert skipped, no book for market",
			"symbol", alert.Symbol,
			"market", target,
		)
		return
	}

	s := newSession(alert, target, now, top)
	co.sessions[s.key] = s
	metrics.Alerts.WithLabelValues("emitted").Inc()
	metrics.ActiveSessions.Inc()

	co.logger.Warn("🚨 imbalance alert, monitoring started",
		"session", s.key,
		"symbol", alert.Symbol,
		"market", target,
		"ratio_top5", alert.RatioTop5,
		"ratio_top10", alert.RatioTop10,
		"ratio_all", alert.RatioAll,
	)

	go co.sessionTimer(ctx, s)
}

// sessionTimer retires the session after the observation window and writes
// the report. Cancellation abandons the session without a report.
func (co *Coordinator) sessionTimer(ctx context.Context, s *session) {
	select {
	case <-time.After(co.window):
	case <-ctx.Done():
		return
	}

	co.sessionsMu.Lock()
	delete(co.sessions, s.key)
	metrics.ActiveSessions.Dec()
	co.sessionsMu.Unlock()

	path, err := writeReport(co.reportDir, s)
	if err != nil {
		// The session is already retired; losing the file is logged, not fatal.
		co.logger.Error("report write failed", "session", s.key, "error", err)
	} else {
		metrics.Reports.Inc()
		co.logger.Info("📝 report written",
			"session", s.key,
			"path", path,
			"observations", len(s.observations),
		)
	}

	co.persistObservations(s)
}

// persistObservations stores the session's ticks when a database is
// configured.
func (co *Coordinator) persistObservations(s *session) {
	if co.database == nil {
		return
	}

	rows := make([]db.Observation, len(s.observations))
	for i, obs := range s.observations {
		rows[i] = db.Observation{
			SessionKey: s.key,
			Ticker:     s.marketTicker,
			Timestamp:  obs.Wall,
			YesAsk:     obs.YesAsk,
			YesBid:     obs.YesBid,
			NoAsk:      obs.NoAsk,
			NoBid:      obs.NoBid,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := co.database.InsertObservations(ctx, rows); err != nil {
		co.logger.Error("observation persist failed", "session", s.key, "error", err)
	}
}
