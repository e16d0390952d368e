// Package book maintains the shared PME order-book state.
//
// Store is a concurrent map of market ticker → book. The wire only carries
// bids for both outcomes of a binary market; the ask sides are synthesized
// from the opposing bids (a 46¢ NO bid is a 54¢ YES ask) and recomputed on
// every bid mutation. Mutation is serialized per ticker — writers to
// different markets never contend — and readers take deep-copy snapshots.
package book

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"imbalance-sentinel/pkg/types"
)

var one = decimal.NewFromInt(1)

// Store holds one order book per market ticker.
type Store struct {
	mu     sync.RWMutex
	books  map[string]*marketBook
	logger *slog.Logger
}

// marketBook pairs a book with its own lock so per-key mutation never
// blocks other markets.
type marketBook struct {
	mu   sync.Mutex
	book types.OrderBook
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		books:  make(map[string]*marketBook),
		logger: logger.With("component", "book"),
	}
}

func (s *Store) get(ticker string) *marketBook {
	s.mu.RLock()
	mb, ok := s.books[ticker]
	s.mu.RUnlock()
	if ok {
		return mb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok = s.books[ticker]; ok {
		return mb
	}
	mb = &marketBook{book: types.OrderBook{MarketTicker: ticker}}
	s.books[ticker] = mb
	return mb
}

// ApplySnapshot replaces both bid sides of a market's book and rebuilds the
// derived asks. Levels with quantity ≤ 0 are dropped; duplicate prices are
// merged by summing.
func (s *Store) ApplySnapshot(ticker string, yes, no []types.Level) {
	mb := s.get(ticker)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.book.YesBids = normalizeBids(yes)
	mb.book.NoBids = normalizeBids(no)
	s.finishMutation(&mb.book)
}

// ApplyDelta applies a signed quantity change at one price on one bid side.
// A delta at an existing price adjusts its quantity; a resulting quantity
// ≤ 0 removes the level; a positive delta at a new price inserts it. A
// negative delta at an unknown price is a no-op.
func (s *Store) ApplyDelta(ticker string, side types.Side, price decimal.Decimal, delta int64) {
	mb := s.get(ticker)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	levels := &mb.book.YesBids
	if side == types.SideNo {
		levels = &mb.book.NoBids
	}

	idx := -1
	for i, level := range *levels {
		if level.Price.Equal(price) {
			idx = i
			break
		}
	}

	switch {
	case idx >= 0:
		next := (*levels)[idx].Quantity + delta
		if next <= 0 {
			*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
		} else {
			(*levels)[idx].Quantity = next
		}
	case delta > 0:
		*levels = append(*levels, types.Level{Price: price, Quantity: delta})
		sortBidsDescending(*levels)
	}

	s.finishMutation(&mb.book)
}

// finishMutation restores the book invariants after a bid-side change:
// bids sorted descending, asks rebuilt from the opposing bids, and a WARN
// when the top of book is in a crossed (arbitrage) state.
func (s *Store) finishMutation(b *types.OrderBook) {
	sortBidsDescending(b.YesBids)
	sortBidsDescending(b.NoBids)
	deriveAsks(b)

	if len(b.YesBids) > 0 && len(b.NoBids) > 0 {
		total := b.YesBids[0].Price.Add(b.NoBids[0].Price)
		if total.GreaterThan(one) {
			s.logger.Warn("🚨 crossed book: best YES bid + best NO bid exceeds $1",
				"market", b.MarketTicker,
				"yes_bid", b.YesBids[0].Price.String(),
				"no_bid", b.NoBids[0].Price.String(),
				"total", total.String(),
			)
		}
	}
}

// deriveAsks rebuilds both ask sides from the opposing bids:
// YES asks mirror NO bids at 1 − price, NO asks mirror YES bids. The ask
// sides are never authoritative and are fully replaced here.
func deriveAsks(b *types.OrderBook) {
	b.YesAsks = b.YesAsks[:0]
	for _, bid := range b.NoBids {
		b.YesAsks = append(b.YesAsks, types.Level{Price: one.Sub(bid.Price), Quantity: bid.Quantity})
	}
	b.NoAsks = b.NoAsks[:0]
	for _, bid := range b.YesBids {
		b.NoAsks = append(b.NoAsks, types.Level{Price: one.Sub(bid.Price), Quantity: bid.Quantity})
	}
	sortAsksAscending(b.YesAsks)
	sortAsksAscending(b.NoAsks)
}

func sortBidsDescending(levels []types.Level) {
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Price.GreaterThan(levels[j].Price)
	})
}

func sortAsksAscending(levels []types.Level) {
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// normalizeBids copies, merges duplicate prices, drops non-positive
// quantities, and sorts descending.
func normalizeBids(levels []types.Level) []types.Level {
	out := make([]types.Level, 0, len(levels))
	for _, level := range levels {
		if level.Quantity <= 0 {
			continue
		}
		merged := false
		for i := range out {
			if out[i].Price.Equal(level.Price) {
				out[i].Quantity += level.Quantity
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, level)
		}
	}
	sortBidsDescending(out)
	return out
}

// Snapshot returns a deep copy of a market's book, or ok=false when the
// market has never been seen.
func (s *Store) Snapshot(ticker string) (types.OrderBook, bool) {
	s.mu.RLock()
	mb, ok := s.books[ticker]
	s.mu.RUnlock()
	if !ok {
		return types.OrderBook{}, false
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.book.Clone(), true
}

// TopOfBook returns the best price of each side of a market's book.
func (s *Store) TopOfBook(ticker string) (types.TopOfBook, bool) {
	s.mu.RLock()
	mb, ok := s.books[ticker]
	s.mu.RUnlock()
	if !ok {
		return types.TopOfBook{}, false
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	var top types.TopOfBook
	if len(mb.book.YesBids) > 0 {
		top.YesBid, top.HasYesBid = mb.book.YesBids[0].Price.InexactFloat64(), true
	}
	if len(mb.book.YesAsks) > 0 {
		top.YesAsk, top.HasYesAsk = mb.book.YesAsks[0].Price.InexactFloat64(), true
	}
	if len(mb.book.NoBids) > 0 {
		top.NoBid, top.HasNoBid = mb.book.NoBids[0].Price.InexactFloat64(), true
	}
	if len(mb.book.NoAsks) > 0 {
		top.NoAsk, top.HasNoAsk = mb.book.NoAsks[0].Price.InexactFloat64(), true
	}
	return top, true
}

// Tickers returns the tickers currently present in the store.
func (s *Store) Tickers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.books))
	for ticker := range s.books {
		out = append(out, ticker)
	}
	return out
}
