package pme

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"imbalance-sentinel/internal/apperror"
	"imbalance-sentinel/pkg/types"
)

// Channels the PME WebSocket supports.
const (
	ChannelTicker          = "ticker"
	ChannelOrderbookDelta  = "orderbook_delta"
	ChannelTrade           = "trade"
	ChannelMarketLifecycle = "market_lifecycle_v2"
)

const writeTimeout = 10 * time.Second

// connState tracks the connection lifecycle:
// Disconnected → Connecting → Open → Closing → Closed. Any transport error
// from Open moves terminally to Closed; reconnection is the caller's concern.
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateOpen
	stateClosing
	stateClosed
)

// Socket is one authenticated PME WebSocket connection. Outgoing commands
// carry monotonic ids used to correlate "subscribed" confirmations back to
// requests; server-assigned sids arrive on those confirmations and are what
// unsubscription uses.
type Socket struct {
	url            string
	signer         *Signer
	connectTimeout time.Duration
	readTimeout    time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex // serializes writes; reads stay single-goroutine
	state   atomic.Int32
	nextID  atomic.Uint64

	logger *slog.Logger
}

// NewSocket creates an unconnected socket.
func NewSocket(url string, signer *Signer, connectTimeout, readTimeout time.Duration, logger *slog.Logger) *Socket {
	return &Socket{
		url:            url,
		signer:         signer,
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
		logger:         logger.With("component", "pme_ws"),
	}
}

// Connect performs the authenticated handshake. Connecting an already
// connected socket is an error, not a silent reconnect.
func (s *Socket) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(stateDisconnected), int32(stateConnecting)) {
		return apperror.New(apperror.CodeWebSocket, "already connected")
	}

	headers, err := s.signer.Headers(http.MethodGet, wsSignPath)
	if err != nil {
		s.state.Store(int32(stateDisconnected))
		return err
	}
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.connectTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		s.state.Store(int32(stateDisconnected))
		return apperror.Wrap(err, apperror.CodeConnection, "dial pme websocket")
	}

	// Server pings are heartbeats: answer with a pong echoing the payload
	// and push the read deadline out. They are never surfaced upward.
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(writeTimeout))
	})

	s.conn = conn
	s.state.Store(int32(stateOpen))
	s.logger.Info("connected", "url", s.url)
	return nil
}

// Close closes the connection. Safe to call from another goroutine to
// unblock a pending Recv.
func (s *Socket) Close() error {
	if !s.state.CompareAndSwap(int32(stateOpen), int32(stateClosing)) {
		return nil
	}
	defer s.state.Store(int32(stateClosed))

	s.writeMu.Lock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// Subscribe sends a subscription command and returns its correlation id;
// the matching "subscribed" confirmation echoes it.
func (s *Socket) Subscribe(channels []string, tickers []string) (uint64, error) {
	id := s.nextID.Add(1)
	cmd := types.WSCommand{
		ID:  id,
		Cmd: "subscribe",
		Params: types.WSCommandParams{
			Channels:      channels,
			MarketTickers: tickers,
		},
	}
	if err := s.writeJSON(cmd); err != nil {
		return 0, err
	}
	s.logger.Info("📡 subscribe", "id", id, "channels", channels, "tickers", tickers)
	return id, nil
}

// UnsubscribeSIDs drops subscriptions by their server-assigned sids.
func (s *Socket) UnsubscribeSIDs(sids []uint64) error {
	if len(sids) == 0 {
		return nil
	}
	cmd := types.WSCommand{
		ID:     s.nextID.Add(1),
		Cmd:    "unsubscribe",
		Params: types.WSCommandParams{SIDs: sids},
	}
	if err := s.writeJSON(cmd); err != nil {
		return err
	}
	s.logger.Info("📡 unsubscribe", "sids", sids)
	return nil
}

// Recv returns the next server frame. Returns (nil, nil) on a clean close
// and an error on transport failure; either way the socket is Closed and
// done.
func (s *Socket) Recv() (*types.WSServerMessage, error) {
	if connState(s.state.Load()) != stateOpen {
		return nil, apperror.New(apperror.CodeWebSocket, "not connected")
	}

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.state.Store(int32(stateClosed))
				s.logger.Info("closed by server")
				return nil, nil
			}
			if connState(s.state.Load()) != stateOpen {
				// Locally initiated close while a read was pending.
				return nil, nil
			}
			s.state.Store(int32(stateClosed))
			return nil, apperror.Wrap(err, apperror.CodeWebSocket, "read frame")
		}

		if msgType != websocket.TextMessage {
			s.logger.Warn("ignoring non-text frame", "type", msgType)
			continue
		}

		var msg types.WSServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frame: log and drop, the stream continues.
			s.logger.Warn("unparseable frame dropped", "error", err, "data", string(data))
			continue
		}
		return &msg, nil
	}
}

func (s *Socket) writeJSON(v any) error {
	if connState(s.state.Load()) != stateOpen {
		return apperror.New(apperror.CodeWebSocket, "not connected")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		return apperror.Wrap(err, apperror.CodeWebSocket, "write frame")
	}
	return nil
}
