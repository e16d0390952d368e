// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the pipeline — order-book levels,
// per-market books, imbalance alerts, and the PME wire payloads. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side identifies which half of a binary market a level or delta belongs to.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// MarketStatus is the lifecycle state of a PME market.
type MarketStatus string

const (
	StatusUnopened MarketStatus = "unopened"
	StatusOpen     MarketStatus = "open"
	StatusPaused   MarketStatus = "paused"
	StatusClosed   MarketStatus = "closed"
	StatusSettled  MarketStatus = "settled"
)

// Lifecycle event types delivered on the market_lifecycle_v2 channel.
const (
	LifecycleCreated          = "created"
	LifecycleActivated        = "activated"
	LifecycleDeactivated      = "deactivated"
	LifecycleCloseDateUpdated = "close_date_updated"
	LifecycleDetermined       = "determined"
	LifecycleSettled          = "settled"
)

// StatusFromLifecycle maps a market_lifecycle_v2 event_type to a market
// status. A "deactivated" event carries is_deactivated: true when the market
// is pausing and false (or absent) when it is resuming. Returns ok=false for
// unrecognized event types, which callers log and ignore.
func StatusFromLifecycle(eventType string, isDeactivated bool) (MarketStatus, bool) {
	switch eventType {
	case LifecycleCreated:
		return StatusUnopened, true
	case LifecycleActivated:
		return StatusOpen, true
	case LifecycleDeactivated:
		if isDeactivated {
			return StatusPaused, true
		}
		return StatusOpen, true
	case LifecycleCloseDateUpdated:
		return StatusOpen, true
	case LifecycleDetermined:
		return StatusClosed, true
	case LifecycleSettled:
		return StatusSettled, true
	default:
		return "", false
	}
}

// Terminal reports whether the status means the market no longer trades and
// the lifecycle controller should roll to the series' next market.
func (s MarketStatus) Terminal() bool {
	return s == StatusClosed || s == StatusSettled
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// Level is a single order-book price level. Prices are exact decimals (the
// PME quotes dollar strings like "0.53"); quantities are contract counts.
type Level struct {
	Price    decimal.Decimal
	Quantity int64
}

// OrderBook is the per-market book for a binary PME market. Only the bid
// sides are authoritative: the wire carries YES bids and NO bids, and both
// ask sides are derived from the opposing bids (ask = 1 − opposing bid).
//
// Invariants maintained by book.Store:
//   - YesBids and NoBids sorted descending by price, YesAsks and NoAsks
//     ascending, no duplicate prices on a side, no quantity ≤ 0.
//   - Ask sides are recomputed on every bid mutation and never mutated
//     directly.
type OrderBook struct {
	MarketTicker string
	YesBids      []Level
	NoBids       []Level
	YesAsks      []Level
	NoAsks       []Level
}

// Clone returns a deep copy safe to hold across goroutines.
func (b OrderBook) Clone() OrderBook {
	cp := OrderBook{MarketTicker: b.MarketTicker}
	cp.YesBids = append([]Level(nil), b.YesBids...)
	cp.NoBids = append([]Level(nil), b.NoBids...)
	cp.YesAsks = append([]Level(nil), b.YesAsks...)
	cp.NoAsks = append([]Level(nil), b.NoAsks...)
	return cp
}

// TopOfBook is the best price on each of the four sides of a binary market.
// A side with no liquidity has its Has flag unset and price 0.
type TopOfBook struct {
	YesBid, YesAsk, NoBid, NoAsk             float64
	HasYesBid, HasYesAsk, HasNoBid, HasNoAsk bool
}

// Complete reports whether all four sides are quoted.
func (t TopOfBook) Complete() bool {
	return t.HasYesBid && t.HasYesAsk && t.HasNoBid && t.HasNoAsk
}

// Any reports whether at least one side is quoted.
func (t TopOfBook) Any() bool {
	return t.HasYesBid || t.HasYesAsk || t.HasNoBid || t.HasNoAsk
}

// ————————————————————————————————————————————————————————————————————————
// Imbalance alerts
// ————————————————————————————————————————————————————————————————————————

// ImbalanceAlert is emitted by the imbalance detector when any of the three
// bid/ask depth ratios of a CEX depth snapshot crosses a threshold.
// ReceivedTime is the exchange event time carried in the message;
// DetectedTime is the local wall clock at evaluation.
type ImbalanceAlert struct {
	ReceivedTime time.Time
	DetectedTime time.Time
	Symbol       string

	RatioTop5  float64
	RatioTop10 float64
	RatioAll   float64

	BidsTop5  float64
	AsksTop5  float64
	BidsTop10 float64
	AsksTop10 float64
	BidsAll   float64
	AsksAll   float64
}

// SessionKey is the monitoring-session identity for this alert:
// symbol + "_" + detection epoch seconds.
func (a ImbalanceAlert) SessionKey() string {
	return a.Symbol + "_" + strconv.FormatInt(a.DetectedTime.Unix(), 10)
}

// ————————————————————————————————————————————————————————————————————————
// PME REST payloads
// ————————————————————————————————————————————————————————————————————————

// Market is a PME market as returned by the REST markets listing.
type Market struct {
	Ticker       string   `json:"ticker"`
	SeriesTicker string   `json:"series_ticker"`
	Title        string   `json:"title"`
	Status       string   `json:"status"`
	OpenTime     string   `json:"open_time"`
	CloseTime    string   `json:"close_time"`
	FloorStrike  *float64 `json:"floor_strike"`

	YesBid       *float64 `json:"yes_bid"`
	YesAsk       *float64 `json:"yes_ask"`
	NoBid        *float64 `json:"no_bid"`
	NoAsk        *float64 `json:"no_ask"`
	LastPrice    *float64 `json:"last_price"`
	Volume       int64    `json:"volume"`
	Volume24h    int64    `json:"volume_24h"`
	OpenInterest int64    `json:"open_interest"`
}

// MarketsResponse is one page of the REST markets listing. An empty or
// absent cursor means the last page.
type MarketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// ————————————————————————————————————————————————————————————————————————
// PME WebSocket payloads
// ————————————————————————————————————————————————————————————————————————
// These structs map 1:1 to the JSON frames on the PME WebSocket. Outgoing
// commands share the {id, cmd, params} envelope; incoming frames are routed
// by their "type" field.

// WSCommand is the outgoing command envelope. IDs are monotonic per
// connection and correlate subscription confirmations back to requests.
type WSCommand struct {
	ID     uint64          `json:"id"`
	Cmd    string          `json:"cmd"` // "subscribe" or "unsubscribe"
	Params WSCommandParams `json:"params"`
}

// WSCommandParams carries either channels (+ optional tickers) for
// subscribe, or server-assigned sids for unsubscribe. Sids are unambiguous
// across market rollovers, so unsubscription always uses them.
type WSCommandParams struct {
	Channels      []string `json:"channels,omitempty"`
	MarketTickers []string `json:"market_tickers,omitempty"`
	SIDs          []uint64 `json:"sids,omitempty"`
}

// WSServerMessage is the incoming frame envelope. Msg holds the
// type-specific payload; Error is set on error frames.
type WSServerMessage struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id"`
	SID   uint64          `json:"sid"`
	Msg   json.RawMessage `json:"msg"`
	Error string          `json:"error"`
}

// WSSubscribed is the payload of a "subscribed" confirmation.
type WSSubscribed struct {
	Channel string `json:"channel"`
	SID     uint64 `json:"sid"`
}

// WSOrderbookSnapshot replaces both bid sides of a market's book.
// Levels arrive as ["0.53", 100] pairs; any ask arrays on the wire are
// ignored — asks are always derived from the opposing bids.
type WSOrderbookSnapshot struct {
	MarketTicker string          `json:"market_ticker"`
	YesDollars   []WSDollarLevel `json:"yes_dollars"`
	NoDollars    []WSDollarLevel `json:"no_dollars"`
}

// WSDollarLevel is the wire encoding of a level: a two-element JSON array
// of a dollar price string and an integer quantity.
type WSDollarLevel struct {
	Price    string
	Quantity int64
}

// UnmarshalJSON decodes the ["price", qty] pair form.
func (l *WSDollarLevel) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &l.Price); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &l.Quantity)
}

// MarshalJSON encodes back to the ["price", qty] pair form.
func (l WSDollarLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{l.Price, l.Quantity})
}

// WSOrderbookDelta is an incremental book update: a signed quantity change
// at one price on one bid side.
type WSOrderbookDelta struct {
	MarketTicker string `json:"market_ticker"`
	PriceDollars string `json:"price_dollars"`
	Delta        int64  `json:"delta"`
	Side         Side   `json:"side"`
}

// WSLifecycle is a market_lifecycle_v2 event.
type WSLifecycle struct {
	MarketTicker  string `json:"market_ticker"`
	EventType     string `json:"event_type"`
	IsDeactivated bool   `json:"is_deactivated"`
	OpenTS        int64  `json:"open_ts"`
	CloseTS       int64  `json:"close_ts"`
}

// WSTicker is a ticker-channel update. Integer price fields are in cents;
// the *_dollars strings, when present, take precedence.
type WSTicker struct {
	MarketTicker       string  `json:"market_ticker"`
	YesBid             *int64  `json:"yes_bid"`
	YesAsk             *int64  `json:"yes_ask"`
	NoBid              *int64  `json:"no_bid"`
	NoAsk              *int64  `json:"no_ask"`
	YesBidDollars      *string `json:"yes_bid_dollars"`
	YesAskDollars      *string `json:"yes_ask_dollars"`
	LastPrice          *int64  `json:"price"`
	Volume             *int64  `json:"volume"`
	DollarVolume       *int64  `json:"dollar_volume"`
	OpenInterest       *int64  `json:"open_interest"`
	DollarOpenInterest *int64  `json:"dollar_open_interest"`
	TS                 int64   `json:"ts"`
}

// YesBidPrice returns the best YES bid in dollars, preferring the exact
// dollar string over the cent field.
func (t *WSTicker) YesBidPrice() (float64, bool) {
	return dollarPrice(t.YesBidDollars, t.YesBid)
}

// YesAskPrice returns the best YES ask in dollars.
func (t *WSTicker) YesAskPrice() (float64, bool) {
	return dollarPrice(t.YesAskDollars, t.YesAsk)
}

// ImpliedNoAsk returns 1 − best YES bid, the price at which the YES bidder
// is implicitly offering NO.
func (t *WSTicker) ImpliedNoAsk() (float64, bool) {
	bid, ok := t.YesBidPrice()
	if !ok {
		return 0, false
	}
	return 1 - bid, true
}

// Time returns the ticker's epoch-seconds timestamp.
func (t *WSTicker) Time() time.Time {
	return time.Unix(t.TS, 0).UTC()
}

func dollarPrice(dollars *string, cents *int64) (float64, bool) {
	if dollars != nil {
		if v, err := strconv.ParseFloat(*dollars, 64); err == nil {
			return v, true
		}
	}
	if cents != nil {
		return float64(*cents) / 100, true
	}
	return 0, false
}

// WSTrade is a trade-channel update.
type WSTrade struct {
	MarketTicker string `json:"market_ticker"`
	TradeID      string `json:"trade_id"`
	TakerSide    string `json:"taker_side"`
	YesPrice     *int64 `json:"yes_price"`
	NoPrice      *int64 `json:"no_price"`
	Count        int64  `json:"count"`
	TS           int64  `json:"ts"`
}

// ————————————————————————————————————————————————————————————————————————
// PME events
// ————————————————————————————————————————————————————————————————————————
// The lifecycle controller translates wire frames into these variants and
// forwards them to the coordinator. The set is closed; the coordinator
// routes with a type switch.

// PMEEvent is the tagged union of events the coordinator consumes.
type PMEEvent interface{ pmeEvent() }

// StatusChanged reports a lifecycle transition of a tracked market.
type StatusChanged struct {
	MarketTicker string
	OldStatus    MarketStatus // empty when unknown
	NewStatus    MarketStatus
}

// BookUpdated reports that a snapshot or delta was applied to the store.
type BookUpdated struct {
	MarketTicker string
	Snapshot     bool // true when a full snapshot replaced the book
}

// TickerUpdated carries a ticker-channel update.
type TickerUpdated struct{ Ticker WSTicker }

// TradeSeen carries a trade-channel update.
type TradeSeen struct{ Trade WSTrade }

func (StatusChanged) pmeEvent() {}
func (BookUpdated) pmeEvent()   {}
func (TickerUpdated) pmeEvent() {}
func (TradeSeen) pmeEvent()     {}
