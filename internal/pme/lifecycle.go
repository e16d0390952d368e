package pme

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"imbalance-sentinel/internal/apperror"
	"imbalance-sentinel/internal/book"
	"imbalance-sentinel/internal/metrics"
	"imbalance-sentinel/pkg/types"
)

// Controller owns the PME side of the pipeline. It resolves the series
// ticker to its current open market, keeps the order-book store current
// from snapshots and deltas, forwards typed events to the coordinator, and
// rolls the subscriptions to the successor market when the current one is
// determined or settled.
type Controller struct {
	socket *Socket
	rest   *RESTClient
	store  *book.Store
	events chan<- types.PMEEvent

	seriesTicker  string
	current       *types.Market
	currentTicker atomic.Value // string; read by the coordinator
	tracked       map[string]types.Market

	// pendingSubs maps command id → channel so "subscribed" confirmations
	// can be attributed; sids maps channel → server-assigned sids, which is
	// what unsubscription uses across rollovers.
	pendingSubs map[uint64]string
	sids        map[string][]uint64

	logger *slog.Logger
}

// NewController wires the controller. The first tracked symbol is the
// series whose successor chain is followed.
func NewController(socket *Socket, rest *RESTClient, store *book.Store, events chan<- types.PMEEvent, seriesTicker string, logger *slog.Logger) *Controller {
	return &Controller{
		socket:       socket,
		rest:         rest,
		store:        store,
		events:       events,
		seriesTicker: seriesTicker,
		tracked:      make(map[string]types.Market),
		pendingSubs:  make(map[uint64]string),
		sids:         make(map[string][]uint64),
		logger:       logger.With("component", "pme"),
	}
}

// CurrentMarket returns the ticker of the market currently tracked, or ""
// before bootstrap. Safe to call from other goroutines; the coordinator
// uses it to pick the correlation target for imbalance alerts.
func (c *Controller) CurrentMarket() string {
	ticker, _ := c.currentTicker.Load().(string)
	return ticker
}

// Run connects, bootstraps the current market, and processes frames until
// the socket closes or ctx is cancelled. The events channel is closed on
// return. Transport errors are returned; per-frame decode problems are
// logged and dropped.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.events)

	if err := c.socket.Connect(ctx); err != nil {
		return err
	}

	// Unblock the read loop when the app shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.socket.Close()
		case <-done:
		}
	}()

	if err := c.bootstrap(ctx); err != nil {
		return err
	}

	for {
		msg, err := c.socket.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msg == nil {
			c.logger.Warn("websocket closed, stopping")
			return nil
		}
		c.handle(ctx, msg)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// bootstrap resolves the series to its current market and subscribes.
func (c *Controller) bootstrap(ctx context.Context) error {
	if err := c.fetchNextMarket(ctx); err != nil {
		return err
	}
	return c.subscribeCurrent()
}

func (c *Controller) fetchNextMarket(ctx context.Context) error {
	market, err := c.rest.NextOpenMarket(ctx, c.seriesTicker)
	if err != nil {
		return err
	}

	if c.current != nil {
		c.logger.Info("🔄 replacing market", "old", c.current.Ticker, "new", market.Ticker)
	} else {
		c.logger.Info("📡 initial market", "ticker", market.Ticker)
	}
	if market.FloorStrike != nil {
		c.logger.Info("💰 floor strike", "ticker", market.Ticker, "strike", *market.FloorStrike)
	}

	c.current = &market
	c.currentTicker.Store(market.Ticker)
	c.tracked[market.Ticker] = market
	return nil
}

func (c *Controller) subscribeCurrent() error {
	if c.current == nil {
		return apperror.New(apperror.CodeSubscription, "no current market")
	}

	id, err := c.socket.Subscribe([]string{ChannelOrderbookDelta}, []string{c.current.Ticker})
	if err != nil {
		return apperror.Wrap(err, apperror.CodeSubscription, "subscribe orderbook")
	}
	c.pendingSubs[id] = ChannelOrderbookDelta

	// Lifecycle events are not market-scoped: the successor market must be
	// visible before we subscribe to it.
	id, err = c.socket.Subscribe([]string{ChannelMarketLifecycle}, nil)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeSubscription, "subscribe lifecycle")
	}
	c.pendingSubs[id] = ChannelMarketLifecycle
	return nil
}

// handle routes one server frame. Nothing here is fatal: malformed
// payloads are logged and dropped.
func (c *Controller) handle(ctx context.Context, msg *types.WSServerMessage) {
	metrics.PMEEvents.WithLabelValues(msg.Type).Inc()

	if msg.Error != "" {
		c.logger.Error("server error frame", "error", msg.Error)
		return
	}

	switch msg.Type {
	case "subscribed":
		c.handleSubscribed(msg)
	case "error":
		c.logger.Error("server error frame", "payload", string(msg.Msg))
	case "orderbook_snapshot":
		c.handleSnapshot(ctx, msg.Msg)
	case "orderbook_delta":
		c.handleDelta(ctx, msg.Msg)
	case "market_lifecycle_v2":
		c.handleLifecycle(ctx, msg.Msg)
	case "ticker":
		c.handleTicker(ctx, msg.Msg)
	case "trade":
		c.handleTrade(ctx, msg.Msg)
	default:
		c.logger.Debug("ignoring frame", "type", msg.Type)
	}
}

func (c *Controller) handleSubscribed(msg *types.WSServerMessage) {
	var payload types.WSSubscribed
	if len(msg.Msg) > 0 {
		if err := json.Unmarshal(msg.Msg, &payload); err != nil {
			c.logger.Warn("bad subscribed payload", "error", err)
		}
	}

	sid := payload.SID
	if sid == 0 {
		sid = msg.SID
	}
	channel := payload.Channel
	if channel == "" {
		channel = c.pendingSubs[msg.ID]
	}
	delete(c.pendingSubs, msg.ID)

	if sid == 0 {
		c.logger.Warn("subscription confirmed without sid", "id", msg.ID, "channel", channel)
		return
	}
	c.sids[channel] = append(c.sids[channel], sid)
	c.logger.Info("✅ subscription confirmed", "channel", channel, "sid", sid)
}

func (c *Controller) handleSnapshot(ctx context.Context, payload json.RawMessage) {
	var snap types.WSOrderbookSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		c.logger.Warn("bad orderbook snapshot", "error", err, "payload", string(payload))
		return
	}

	yes := parseDollarLevels(snap.YesDollars, c.logger)
	no := parseDollarLevels(snap.NoDollars, c.logger)
	c.store.ApplySnapshot(snap.MarketTicker, yes, no)
	metrics.BookUpdates.WithLabelValues("snapshot").Inc()

	c.logger.Info("📸 orderbook snapshot",
		"ticker", snap.MarketTicker,
		"yes_levels", len(yes),
		"no_levels", len(no),
	)
	c.emit(ctx, types.BookUpdated{MarketTicker: snap.MarketTicker, Snapshot: true})
}

func (c *Controller) handleDelta(ctx context.Context, payload json.RawMessage) {
	var delta types.WSOrderbookDelta
	if err := json.Unmarshal(payload, &delta); err != nil {
		c.logger.Warn("bad orderbook delta", "error", err, "payload", string(payload))
		return
	}

	price, err := decimal.NewFromString(delta.PriceDollars)
	if err != nil {
		c.logger.Warn("bad delta price", "price", delta.PriceDollars, "error", err)
		return
	}
	side := delta.Side
	if side != types.SideYes && side != types.SideNo {
		c.logger.Warn("bad delta side", "side", string(delta.Side))
		return
	}

	c.store.ApplyDelta(delta.MarketTicker, side, price, delta.Delta)
	metrics.BookUpdates.WithLabelValues("delta").Inc()
	c.emit(ctx, types.BookUpdated{MarketTicker: delta.MarketTicker})
}

func (c *Controller) handleLifecycle(ctx context.Context, payload json.RawMessage) {
	var lifecycle types.WSLifecycle
	if err := json.Unmarshal(payload, &lifecycle); err != nil {
		c.logger.Warn("bad lifecycle payload", "error", err, "payload", string(payload))
		return
	}

	if c.current == nil || lifecycle.MarketTicker != c.current.Ticker {
		return
	}

	status, ok := types.StatusFromLifecycle(lifecycle.EventType, lifecycle.IsDeactivated)
	if !ok {
		c.logger.Warn("unknown lifecycle event type", "event_type", lifecycle.EventType)
		return
	}

	c.logger.Info("📊 market lifecycle",
		"ticker", lifecycle.MarketTicker,
		"event_type", lifecycle.EventType,
		"status", string(status),
	)
	c.emit(ctx, types.StatusChanged{
		MarketTicker: lifecycle.MarketTicker,
		NewStatus:    status,
	})

	if status.Terminal() {
		c.logger.Info("🔴 current market closed, rolling to next", "ticker", lifecycle.MarketTicker)
		if err := c.rollover(ctx); err != nil {
			// The subscriptions are torn down; without a successor market
			// the controller has nothing left to watch.
			c.logger.Error("market rollover failed", "error", err)
		}
	}
}

// rollover unsubscribes the stored sids, clears them, resolves the series'
// next market, and resubscribes.
func (c *Controller) rollover(ctx context.Context) error {
	var all []uint64
	for _, sids := range c.sids {
		all = append(all, sids...)
	}
	if len(all) > 0 {
		if err := c.socket.UnsubscribeSIDs(all); err != nil {
			return err
		}
		c.sids = make(map[string][]uint64)
	} else {
		c.logger.Warn("no sids recorded, skipping unsubscribe")
	}

	if err := c.fetchNextMarket(ctx); err != nil {
		return err
	}
	return c.subscribeCurrent()
}

func (c *Controller) handleTicker(ctx context.Context, payload json.RawMessage) {
	var ticker types.WSTicker
	if err := json.Unmarshal(payload, &ticker); err != nil {
		c.logger.Warn("bad ticker payload", "error", err)
		return
	}
	c.emit(ctx, types.TickerUpdated{Ticker: ticker})
}

func (c *Controller) handleTrade(ctx context.Context, payload json.RawMessage) {
	var trade types.WSTrade
	if err := json.Unmarshal(payload, &trade); err != nil {
		c.logger.Warn("bad trade payload", "error", err)
		return
	}
	c.emit(ctx, types.TradeSeen{Trade: trade})
}

// emit forwards an event to the coordinator. The send blocks — the book
// and message queues back-pressure the reader rather than drop.
func (c *Controller) emit(ctx context.Context, event types.PMEEvent) {
	select {
	case c.events <- event:
	case <-ctx.Done():
	}
}

func parseDollarLevels(levels []types.WSDollarLevel, logger *slog.Logger) []types.Level {
	out := make([]types.Level, 0, len(levels))
	for _, level := range levels {
		price, err := decimal.NewFromString(level.Price)
		if err != nil {
			logger.Warn("bad level price", "price", level.Price, "error", err)
			continue
		}
		out = append(out, types.Level{Price: price, Quantity: level.Quantity})
	}
	return out
}
