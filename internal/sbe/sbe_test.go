package sbe

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
)

func testDecoder() *Decoder {
	return NewDecoder(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// frameBuilder assembles little-endian SBE frames for tests.
type frameBuilder struct{ buf []byte }

func (b *frameBuilder) header(blockLength, templateID, schemaID, version uint16) *frameBuilder {
	return b.u16(blockLength).u16(templateID).u16(schemaID).u16(version)
}

func (b *frameBuilder) u8(v uint8) *frameBuilder {
	b.buf = append(b.buf, v)
	return b
}

func (b *frameBuilder) i8(v int8) *frameBuilder { return b.u8(uint8(v)) }

func (b *frameBuilder) u16(v uint16) *frameBuilder {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
	return b
}

func (b *frameBuilder) u32(v uint32) *frameBuilder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *frameBuilder) i64(v int64) *frameBuilder {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(v))
	return b
}

func (b *frameBuilder) str8(s string) *frameBuilder {
	b.u8(uint8(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *frameBuilder) bytes() []byte { return b.buf }

func depthSnapshotFrame(symbol string, bids, asks [][2]int64) []byte {
	b := new(frameBuilder).
		header(18, TemplateDepthSnapshotStream, SchemaID, SchemaVersion).
		i64(1_700_000_000_000_000). // event time µs
		i64(42).                    // book update id
		i8(-2).                     // price exponent
		i8(-1)                      // qty exponent
	for _, group := range [][][2]int64{bids, asks} {
		b.u16(16).u16(uint16(len(group)))
		for _, level := range group {
			b.i64(level[0]).i64(level[1])
		}
	}
	return b.str8(symbol).bytes()
}

func TestDecodeDepthSnapshot(t *testing.T) {
	t.Parallel()

	frame := depthSnapshotFrame("ETHUSDT",
		[][2]int64{{250000, 100}, {249900, 50}},
		[][2]int64{{250100, 30}},
	)

	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	depth, ok := msg.(*DepthSnapshotEvent)
	if !ok {
		t.Fatalf("decoded %T, want *DepthSnapshotEvent", msg)
	}

	if depth.Symbol() != "ETHUSDT" {
		t.Errorf("symbol = %q, want ETHUSDT", depth.Symbol())
	}
	if depth.BookUpdateID != 42 {
		t.Errorf("book update id = %d, want 42", depth.BookUpdateID)
	}
	if got := depth.EventTime(); !got.Equal(time.UnixMicro(1_700_000_000_000_000).UTC()) {
		t.Errorf("event time = %v", got)
	}
	if depth.Bids.Count() != 2 || depth.Asks.Count() != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", depth.Bids.Count(), depth.Asks.Count())
	}

	price, qty := depth.Bids.Level(0)
	if price != 2500.00 || qty != 10 {
		t.Errorf("bid[0] = (%v, %v), want (2500, 10)", price, qty)
	}
}

// Lazy sums over the raw bytes must equal an eager parse-then-sum.
func TestDepthLazySumsMatchEager(t *testing.T) {
	t.Parallel()

	bids := make([][2]int64, 12)
	for i := range bids {
		bids[i] = [2]int64{250000 - int64(i)*100, int64(i+1) * 10}
	}
	frame := depthSnapshotFrame("BTCUSDT", bids, nil)

	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	depth := msg.(*DepthSnapshotEvent)

	var eager5, eager10, eagerAll float64
	for i := 0; i < depth.Bids.Count(); i++ {
		_, qty := depth.Bids.Level(i)
		if i < 5 {
			eager5 += qty
		}
		if i < 10 {
			eager10 += qty
		}
		eagerAll += qty
	}

	top5, top10, all := depth.Bids.SumTop5Top10All()
	if top5 != eager5 || top10 != eager10 || all != eagerAll {
		t.Errorf("lazy sums = (%v, %v, %v), eager = (%v, %v, %v)",
			top5, top10, all, eager5, eager10, eagerAll)
	}
}

// A group with numInGroup = 0 decodes to an empty side.
func TestDecodeDepthEmptyGroups(t *testing.T) {
	t.Parallel()

	frame := depthSnapshotFrame("ETHUSDT", nil, nil)
	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	depth := msg.(*DepthSnapshotEvent)
	if depth.Bids.Count() != 0 || depth.Asks.Count() != 0 {
		t.Errorf("counts = %d/%d, want 0/0", depth.Bids.Count(), depth.Asks.Count())
	}
	top5, top10, all := depth.Bids.SumTop5Top10All()
	if top5 != 0 || top10 != 0 || all != 0 {
		t.Errorf("sums over empty side = (%v, %v, %v)", top5, top10, all)
	}
}

// Depth levels wider than 16 bytes are walked by the declared stride.
func TestDecodeDepthWideBlock(t *testing.T) {
	t.Parallel()

	b := new(frameBuilder).
		header(18, TemplateDepthSnapshotStream, SchemaID, SchemaVersion).
		i64(1).i64(2).i8(-2).i8(0).
		u16(20).u16(1). // 20-byte block: 4 trailing bytes per level
		i64(5100).i64(77).u32(0xdeadbeef).
		u16(20).u16(0)
	frame := b.str8("ETHUSDT").bytes()

	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	depth := msg.(*DepthSnapshotEvent)
	_, _, all := depth.Bids.SumTop5Top10All()
	if all != 77 {
		t.Errorf("all = %v, want 77", all)
	}
	if depth.Symbol() != "ETHUSDT" {
		t.Errorf("symbol = %q after wide block", depth.Symbol())
	}
}

func tradeFrame(symbol string, blockLength uint16, trades [][2]int64) []byte {
	b := new(frameBuilder).
		header(18, TemplateTradeStream, SchemaID, SchemaVersion).
		i64(1_700_000_000_000_000).
		i64(1_700_000_000_000_500).
		i8(-2). // price exponent
		i8(-3). // qty exponent
		u16(blockLength).u32(uint32(len(trades)))
	for i, tr := range trades {
		// id, price mantissa, qty mantissa, isBuyerMaker
		b.i64(int64(i + 1)).i64(tr[0]).i64(tr[1]).u8(1)
		if blockLength >= 26 {
			b.u8(1) // isBestMatch
		}
		for pad := int(blockLength) - 25 - 1; pad > 0; pad-- {
			b.u8(0)
		}
	}
	return b.str8(symbol).bytes()
}

// A batched trade frame surfaces only the final entry: with num_trades = 4
// and block_length = 26 the decoder skips 3 × 26 bytes and parses the last.
func TestDecodeTradeBatchSkipsToLast(t *testing.T) {
	t.Parallel()

	frame := tradeFrame("ETHUSDT", 26, [][2]int64{
		{100000, 1000}, {100100, 2000}, {100200, 3000}, {100300, 4000},
	})

	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	trade := msg.(*TradeEvent)
	if trade.LastTrade == nil {
		t.Fatal("LastTrade = nil for non-empty group")
	}
	if trade.LastTrade.ID != 4 {
		t.Errorf("last trade id = %d, want 4", trade.LastTrade.ID)
	}
	if trade.LastTrade.Price != 1003.00 {
		t.Errorf("last trade price = %v, want 1003", trade.LastTrade.Price)
	}
	if trade.LastTrade.Qty != 4 {
		t.Errorf("last trade qty = %v, want 4", trade.LastTrade.Qty)
	}
}

// A 25-byte block has no trailing isBestMatch byte; the decoder must not
// read past the block into the symbol.
func TestDecodeTradeMinimalBlock(t *testing.T) {
	t.Parallel()

	frame := tradeFrame("BTCUSDT", 25, [][2]int64{{200000, 500}})

	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	trade := msg.(*TradeEvent)
	if trade.LastTrade == nil || trade.LastTrade.Price != 2000.00 {
		t.Fatalf("last trade = %+v, want price 2000", trade.LastTrade)
	}
	if trade.Symbol() != "BTCUSDT" {
		t.Errorf("symbol = %q, want BTCUSDT", trade.Symbol())
	}
	if !trade.LastTrade.IsBuyerMaker {
		t.Error("isBuyerMaker lost")
	}
}

func TestDecodeTradeEmptyGroup(t *testing.T) {
	t.Parallel()

	frame := tradeFrame("ETHUSDT", 26, nil)
	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	trade := msg.(*TradeEvent)
	if trade.LastTrade != nil {
		t.Errorf("LastTrade = %+v, want nil for empty group", trade.LastTrade)
	}
}

func TestDecodeBestBidAsk(t *testing.T) {
	t.Parallel()

	frame := new(frameBuilder).
		header(50, TemplateBestBidAskStream, SchemaID, SchemaVersion).
		i64(1_700_000_000_000_000).
		i64(777).
		i8(-2).i8(-1).
		i64(250000).i64(50). // bid 2500.00 × 5.0
		i64(250100).i64(20). // ask 2501.00 × 2.0
		str8("ETHUSDT").
		bytes()

	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	bba := msg.(*BestBidAskEvent)
	if bba.BidPrice != 2500.00 || bba.AskPrice != 2501.00 {
		t.Errorf("bid/ask = %v/%v", bba.BidPrice, bba.AskPrice)
	}
	if bba.BidQty != 5 || bba.AskQty != 2 {
		t.Errorf("bid/ask qty = %v/%v", bba.BidQty, bba.AskQty)
	}

	want := (2500.00*2 + 2501.00*5) / 7
	if math.Abs(bba.MicroPrice()-want) > 1e-9 {
		t.Errorf("micro price = %v, want %v", bba.MicroPrice(), want)
	}
}

// A zero-length symbol decodes to the empty string.
func TestDecodeEmptySymbol(t *testing.T) {
	t.Parallel()

	frame := depthSnapshotFrame("", nil, nil)
	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := msg.Symbol(); got != "" {
		t.Errorf("symbol = %q, want empty", got)
	}
}

func TestDecodeUnknownTemplate(t *testing.T) {
	t.Parallel()

	frame := new(frameBuilder).
		header(0, 31337, SchemaID, SchemaVersion).
		bytes()

	_, err := testDecoder().Decode(frame)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v, want *DecodeError", err)
	}
	if decodeErr.Kind != Unknown || decodeErr.TemplateID != 31337 {
		t.Errorf("error = %+v, want Unknown template 31337", decodeErr)
	}
}

func TestDecodeShortFrames(t *testing.T) {
	t.Parallel()

	full := depthSnapshotFrame("ETHUSDT", [][2]int64{{250000, 100}}, nil)

	// Every prefix short of the full frame must fail, never panic.
	for cut := 0; cut < len(full); cut++ {
		_, err := testDecoder().Decode(full[:cut])
		if err == nil {
			t.Fatalf("Decode succeeded on %d/%d bytes", cut, len(full))
		}
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("error at cut %d = %v, want *DecodeError", cut, err)
		}
	}
}

func TestDecodeShortFrameReportsCounts(t *testing.T) {
	t.Parallel()

	_, err := testDecoder().Decode([]byte{1, 2, 3})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v", err)
	}
	if decodeErr.Kind != ShortFrame || decodeErr.Needed != HeaderSize || decodeErr.Have != 3 {
		t.Errorf("error = %+v, want ShortFrame need %d have 3", decodeErr, HeaderSize)
	}
}

func TestDecodeBadUtf8Symbol(t *testing.T) {
	t.Parallel()

	frame := depthSnapshotFrame("X", nil, nil)
	frame[len(frame)-1] = 0xff // corrupt the symbol byte

	_, err := testDecoder().Decode(frame)
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %v", err)
	}
	if decodeErr.Kind != BadUtf8 {
		t.Errorf("kind = %v, want BadUtf8", decodeErr.Kind)
	}
}

// Schema id and version mismatches are advisory: decoding proceeds.
func TestDecodeSchemaMismatchProceeds(t *testing.T) {
	t.Parallel()

	b := new(frameBuilder).
		header(18, TemplateDepthSnapshotStream, 9, 7).
		i64(1).i64(2).i8(-2).i8(-1).
		u16(16).u16(0).
		u16(16).u16(0)
	frame := b.str8("ETHUSDT").bytes()

	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Symbol() != "ETHUSDT" {
		t.Errorf("symbol = %q", msg.Symbol())
	}
}

func TestDecodeDepthDiff(t *testing.T) {
	t.Parallel()

	b := new(frameBuilder).
		header(26, TemplateDepthDiffStream, SchemaID, SchemaVersion).
		i64(1_700_000_000_000_000).
		i64(100).i64(105).
		i8(-2).i8(-1).
		u16(16).u16(1).i64(250000).i64(10).
		u16(16).u16(0)
	frame := b.str8("ETHUSDT").bytes()

	msg, err := testDecoder().Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	diff := msg.(*DepthDiffEvent)
	if diff.FirstBookUpdateID != 100 || diff.LastBookUpdateID != 105 {
		t.Errorf("update range = %d..%d", diff.FirstBookUpdateID, diff.LastBookUpdateID)
	}
}

// Decoding is stable for the surfaced fields: rebuilding a frame from the
// decoded values yields the original bytes.
func TestDepthDecodeEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	original := depthSnapshotFrame("ETHUSDT",
		[][2]int64{{251300, 40}, {251200, 15}},
		[][2]int64{{251400, 25}},
	)
	msg, err := testDecoder().Decode(original)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	depth := msg.(*DepthSnapshotEvent)

	rebuild := func(levels DepthLevels) [][2]int64 {
		out := make([][2]int64, levels.Count())
		for i := range out {
			price, qty := levels.Level(i)
			out[i] = [2]int64{int64(math.Round(price * 100)), int64(math.Round(qty * 10))}
		}
		return out
	}

	reencoded := depthSnapshotFrame(depth.Symbol(), rebuild(depth.Bids), rebuild(depth.Asks))
	if string(reencoded) != string(original) {
		t.Error("re-encoded frame differs from original")
	}
}
