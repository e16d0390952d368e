package sbe

import "time"

// Trade is one executed trade from the trade stream.
type Trade struct {
	ID           int64
	Price        float64
	Qty          float64
	IsBuyerMaker bool
}

// TradeEvent is a trade-stream message. Batched frames may carry dozens of
// trades; only the last (most recent) is ever consumed downstream, so the
// decoder skips the preceding entries wholesale and parses the final one.
// LastTrade is nil when the group is empty.
type TradeEvent struct {
	Event     time.Time
	Transact  time.Time
	LastTrade *Trade
	Sym       string
}

func (e *TradeEvent) Symbol() string       { return e.Sym }
func (e *TradeEvent) EventTime() time.Time { return e.Event }

// tradeBlockMin is the mandatory trade-entry length: id(8) + price(8) +
// qty(8) + isBuyerMaker(1). A 26-byte block additionally carries the
// constant isBestMatch byte; either way the header-declared block length
// is the authoritative stride.
const tradeBlockMin = 25

func decodeTrade(body []byte) (*TradeEvent, error) {
	c := newCursor(body)

	eventMicros, err := c.i64()
	if err != nil {
		return nil, err
	}
	transactMicros, err := c.i64()
	if err != nil {
		return nil, err
	}
	priceExp, err := c.i8()
	if err != nil {
		return nil, err
	}
	qtyExp, err := c.i8()
	if err != nil {
		return nil, err
	}
	priceScale := decimalScale(priceExp)
	qtyScale := decimalScale(qtyExp)

	blockLength16, count, err := c.groupSize()
	if err != nil {
		return nil, err
	}
	blockLength := int(blockLength16)

	var last *Trade
	if count > 0 {
		if blockLength < tradeBlockMin {
			return nil, &DecodeError{Kind: BadGroup, Needed: tradeBlockMin, Have: blockLength}
		}
		if count > 1 {
			if err := c.skip(int(count-1) * blockLength); err != nil {
				return nil, err
			}
		}

		start := c.pos
		id, err := c.i64()
		if err != nil {
			return nil, err
		}
		priceMantissa, err := c.i64()
		if err != nil {
			return nil, err
		}
		qtyMantissa, err := c.i64()
		if err != nil {
			return nil, err
		}
		isBuyerMaker, err := c.u8()
		if err != nil {
			return nil, err
		}
		// Consume the rest of the block (isBestMatch and any future fields).
		if read := c.pos - start; read < blockLength {
			if err := c.skip(blockLength - read); err != nil {
				return nil, err
			}
		}

		last = &Trade{
			ID:           id,
			Price:        float64(priceMantissa) * priceScale,
			Qty:          float64(qtyMantissa) * qtyScale,
			IsBuyerMaker: isBuyerMaker != 0,
		}
	}

	symbol, err := c.varString8()
	if err != nil {
		return nil, err
	}

	return &TradeEvent{
		Event:     microsToTime(eventMicros),
		Transact:  microsToTime(transactMicros),
		LastTrade: last,
		Sym:       symbol,
	}, nil
}
