package sbe

import (
	"encoding/binary"
	"time"
)

// depthBlockMin is the mandatory depth-level length: price(8) + qty(8).
const depthBlockMin = 16

// DepthLevels is a lazy view over one side of a depth message. It keeps the
// raw group bytes plus the element stride and decimal scales, and computes
// aggregates directly off the buffer — no per-level allocation. This is the
// hot path for imbalance evaluation.
type DepthLevels struct {
	data        []byte
	count       int
	blockLength int
	priceScale  float64
	qtyScale    float64
}

func newDepthLevels(data []byte, count int, blockLength uint16, priceScale, qtyScale float64) (DepthLevels, error) {
	if count > 0 && int(blockLength) < depthBlockMin {
		return DepthLevels{}, &DecodeError{Kind: BadGroup, Needed: depthBlockMin, Have: int(blockLength)}
	}
	return DepthLevels{
		data:        data,
		count:       count,
		blockLength: int(blockLength),
		priceScale:  priceScale,
		qtyScale:    qtyScale,
	}, nil
}

// Count returns the number of levels in the view.
func (l DepthLevels) Count() int { return l.count }

// Level decodes the i-th level. Used for rendering and tests; the imbalance
// path goes through SumTop5Top10All instead.
func (l DepthLevels) Level(i int) (price, qty float64) {
	offset := i * l.blockLength
	priceMantissa := int64(binary.LittleEndian.Uint64(l.data[offset:]))
	qtyMantissa := int64(binary.LittleEndian.Uint64(l.data[offset+8:]))
	return float64(priceMantissa) * l.priceScale, float64(qtyMantissa) * l.qtyScale
}

// SumTop5Top10All sums level quantities over the first 5 levels, the first
// 10 levels, and the whole side in a single pass over the raw bytes.
func (l DepthLevels) SumTop5Top10All() (top5, top10, all float64) {
	offset := 0
	for i := 0; i < l.count; i++ {
		qty := float64(int64(binary.LittleEndian.Uint64(l.data[offset+8:]))) * l.qtyScale
		if i < 5 {
			top5 += qty
		}
		if i < 10 {
			top10 += qty
		}
		all += qty
		offset += l.blockLength
	}
	return top5, top10, all
}

// DepthSnapshotEvent is a depth-snapshot-stream message: the top 20 levels
// of each side at one book-update id. Bids and Asks are views into the
// frame buffer.
type DepthSnapshotEvent struct {
	Event        time.Time
	BookUpdateID int64
	Bids         DepthLevels
	Asks         DepthLevels
	Sym          string
}

func (e *DepthSnapshotEvent) Symbol() string       { return e.Sym }
func (e *DepthSnapshotEvent) EventTime() time.Time { return e.Event }

func decodeDepthSnapshot(body []byte) (*DepthSnapshotEvent, error) {
	c := newCursor(body)

	eventMicros, err := c.i64()
	if err != nil {
		return nil, err
	}
	bookUpdateID, err := c.i64()
	if err != nil {
		return nil, err
	}
	bids, asks, symbol, err := decodeDepthTail(c)
	if err != nil {
		return nil, err
	}

	return &DepthSnapshotEvent{
		Event:        microsToTime(eventMicros),
		BookUpdateID: bookUpdateID,
		Bids:         bids,
		Asks:         asks,
		Sym:          symbol,
	}, nil
}

// DepthDiffEvent is a depth-diff-stream message covering a contiguous range
// of book updates. It is decoded for completeness and rendered to the log;
// nothing applies it to a book.
type DepthDiffEvent struct {
	Event             time.Time
	FirstBookUpdateID int64
	LastBookUpdateID  int64
	Bids              DepthLevels
	Asks              DepthLevels
	Sym               string
}

func (e *DepthDiffEvent) Symbol() string       { return e.Sym }
func (e *DepthDiffEvent) EventTime() time.Time { return e.Event }

func decodeDepthDiff(body []byte) (*DepthDiffEvent, error) {
	c := newCursor(body)

	eventMicros, err := c.i64()
	if err != nil {
		return nil, err
	}
	firstID, err := c.i64()
	if err != nil {
		return nil, err
	}
	lastID, err := c.i64()
	if err != nil {
		return nil, err
	}
	bids, asks, symbol, err := decodeDepthTail(c)
	if err != nil {
		return nil, err
	}

	return &DepthDiffEvent{
		Event:             microsToTime(eventMicros),
		FirstBookUpdateID: firstID,
		LastBookUpdateID:  lastID,
		Bids:              bids,
		Asks:              asks,
		Sym:               symbol,
	}, nil
}

// decodeDepthTail parses the shared trailer of depth messages: exponents,
// the bids group, the asks group, and the symbol.
func decodeDepthTail(c *cursor) (bids, asks DepthLevels, symbol string, err error) {
	priceExp, err := c.i8()
	if err != nil {
		return bids, asks, "", err
	}
	qtyExp, err := c.i8()
	if err != nil {
		return bids, asks, "", err
	}
	priceScale := decimalScale(priceExp)
	qtyScale := decimalScale(qtyExp)

	bids, err = readDepthGroup(c, priceScale, qtyScale)
	if err != nil {
		return bids, asks, "", err
	}
	asks, err = readDepthGroup(c, priceScale, qtyScale)
	if err != nil {
		return bids, asks, "", err
	}

	symbol, err = c.varString8()
	return bids, asks, symbol, err
}

func readDepthGroup(c *cursor, priceScale, qtyScale float64) (DepthLevels, error) {
	blockLength, count, err := c.groupSize16()
	if err != nil {
		return DepthLevels{}, err
	}
	data, err := c.bytes(int(blockLength) * int(count))
	if err != nil {
		return DepthLevels{}, err
	}
	return newDepthLevels(data, int(count), blockLength, priceScale, qtyScale)
}
