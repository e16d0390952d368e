package sbe

import "time"

// BestBidAskEvent is a best-bid-ask-stream message: the top of the CEX book
// at one book-update id.
type BestBidAskEvent struct {
	Event        time.Time
	BookUpdateID int64
	BidPrice     float64
	BidQty       float64
	AskPrice     float64
	AskQty       float64
	Sym          string
}

func (e *BestBidAskEvent) Symbol() string       { return e.Sym }
func (e *BestBidAskEvent) EventTime() time.Time { return e.Event }

// MicroPrice is the quantity-weighted fair price implied by the quote:
// (bid×askQty + ask×bidQty) / (bidQty + askQty). Returns 0 when both
// quantities are zero.
func (e *BestBidAskEvent) MicroPrice() float64 {
	total := e.BidQty + e.AskQty
	if total == 0 {
		return 0
	}
	return (e.BidPrice*e.AskQty + e.AskPrice*e.BidQty) / total
}

func decodeBestBidAsk(body []byte) (*BestBidAskEvent, error) {
	c := newCursor(body)

	eventMicros, err := c.i64()
	if err != nil {
		return nil, err
	}
	bookUpdateID, err := c.i64()
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

	bidPrice, err := c.i64()
	if err != nil {
		return nil, err
	}
	bidQty, err := c.i64()
	if err != nil {
		return nil, err
	}
	askPrice, err := c.i64()
	if err != nil {
		return nil, err
	}
	askQty, err := c.i64()
	if err != nil {
		return nil, err
	}

	symbol, err := c.varString8()
	if err != nil {
		return nil, err
	}

	return &BestBidAskEvent{
		Event:        microsToTime(eventMicros),
		BookUpdateID: bookUpdateID,
		BidPrice:     float64(bidPrice) * priceScale,
		BidQty:       float64(bidQty) * qtyScale,
		AskPrice:     float64(askPrice) * priceScale,
		AskQty:       float64(askQty) * qtyScale,
		Sym:          symbol,
	}, nil
}
