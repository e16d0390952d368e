package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusFromLifecycle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		eventType     string
		isDeactivated bool
		want          MarketStatus
		ok            bool
	}{
		{"created", false, StatusUnopened, true},
		{"activated", false, StatusOpen, true},
		{"deactivated", true, StatusPaused, true},
		{"deactivated", false, StatusOpen, true},
		{"close_date_updated", false, StatusOpen, true},
		{"determined", false, StatusClosed, true},
		{"settled", false, StatusSettled, true},
		{"renamed", false, "", false},
	}

	for _, tc := range cases {
		got, ok := StatusFromLifecycle(tc.eventType, tc.isDeactivated)
		if got != tc.want || ok != tc.ok {
			t.Errorf("StatusFromLifecycle(%q, %v) = (%q, %v), want (%q, %v)",
				tc.eventType, tc.isDeactivated, got, ok, tc.want, tc.ok)
		}
	}

	if !StatusClosed.Terminal() || !StatusSettled.Terminal() {
		t.Error("closed/settled must be terminal")
	}
	if StatusOpen.Terminal() || StatusPaused.Terminal() {
		t.Error("open/paused must not be terminal")
	}
}

func TestWSDollarLevelRoundTrip(t *testing.T) {
	t.Parallel()

	var snap WSOrderbookSnapshot
	raw := `{"market_ticker":"ETH15M-X","yes_dollars":[["0.51",100],["0.50",80]],"no_dollars":[["0.47",90]]}`
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(snap.YesDollars) != 2 || snap.YesDollars[0].Price != "0.51" || snap.YesDollars[0].Quantity != 100 {
		t.Errorf("yes_dollars = %+v", snap.YesDollars)
	}
	if snap.NoDollars[0].Price != "0.47" || snap.NoDollars[0].Quantity != 90 {
		t.Errorf("no_dollars = %+v", snap.NoDollars)
	}

	out, err := json.Marshal(snap.YesDollars[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `["0.51",100]` {
		t.Errorf("marshal = %s", out)
	}
}

func TestWSCommandEnvelope(t *testing.T) {
	t.Parallel()

	sub, _ := json.Marshal(WSCommand{
		ID:  3,
		Cmd: "subscribe",
		Params: WSCommandParams{
			Channels:      []string{"orderbook_delta"},
			MarketTickers: []string{"ETH15M-X"},
		},
	})
	if string(sub) != `{"id":3,"cmd":"subscribe","params":{"channels":["orderbook_delta"],"market_tickers":["ETH15M-X"]}}` {
		t.Errorf("subscribe envelope = %s", sub)
	}

	unsub, _ := json.Marshal(WSCommand{
		ID:     4,
		Cmd:    "unsubscribe",
		Params: WSCommandParams{SIDs: []uint64{101, 102}},
	})
	if string(unsub) != `{"id":4,"cmd":"unsubscribe","params":{"sids":[101,102]}}` {
		t.Errorf("unsubscribe envelope = %s", unsub)
	}
}

// Cent fields convert to dollars; dollar strings take precedence.
func TestTickerDollarConversion(t *testing.T) {
	t.Parallel()

	cents := int64(53)
	ticker := WSTicker{MarketTicker: "M", YesBid: &cents, TS: 1_700_000_000}

	if bid, ok := ticker.YesBidPrice(); !ok || bid != 0.53 {
		t.Errorf("YesBidPrice = (%v, %v), want (0.53, true)", bid, ok)
	}
	if noAsk, ok := ticker.ImpliedNoAsk(); !ok || noAsk != 0.47 {
		t.Errorf("ImpliedNoAsk = (%v, %v), want (0.47, true)", noAsk, ok)
	}

	exact := "0.5325"
	ticker.YesBidDollars = &exact
	if bid, _ := ticker.YesBidPrice(); bid != 0.5325 {
		t.Errorf("dollar string should win, got %v", bid)
	}

	if _, ok := (&WSTicker{}).YesAskPrice(); ok {
		t.Error("absent fields must report ok=false")
	}

	if got := ticker.Time(); !got.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("Time = %v", got)
	}
}

func TestSessionKey(t *testing.T) {
	t.Parallel()

	alert := ImbalanceAlert{
		Symbol:       "ETHUSDT",
		DetectedTime: time.Unix(1_700_000_123, 456_000_000),
	}
	if got := alert.SessionKey(); got != "ETHUSDT_1700000123" {
		t.Errorf("SessionKey = %q", got)
	}
}

func TestOrderBookClone(t *testing.T) {
	t.Parallel()

	b := OrderBook{MarketTicker: "M", YesBids: []Level{{Quantity: 5}}}
	cp := b.Clone()
	cp.YesBids[0].Quantity = 9

	if b.YesBids[0].Quantity != 5 {
		t.Error("Clone shares backing array")
	}
}
