// Package cex reads the CEX's combined SBE WebSocket stream.
//
// The combined stream multiplexes trade, best-bid-ask, and depth-snapshot
// streams for every tracked symbol into one connection of binary frames.
// Streams are selected in the URL, so there is no subscribe step; the API
// key rides in the handshake headers. Each decoded message is forwarded to
// a bounded channel — the send blocks, back-pressuring the socket reader
// rather than dropping market data.
package cex

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"imbalance-sentinel/internal/apperror"
	"imbalance-sentinel/internal/config"
	"imbalance-sentinel/internal/metrics"
	"imbalance-sentinel/internal/sbe"
)

const handshakeTimeout = 30 * time.Second

// Client owns the CEX WebSocket connection and its read loop.
type Client struct {
	cfg      config.CEXConfig
	decoder  *sbe.Decoder
	messages chan<- sbe.Message
	logger   *slog.Logger
}

// NewClient creates a client that forwards decoded messages to the given
// channel.
func NewClient(cfg config.CEXConfig, messages chan<- sbe.Message, logger *slog.Logger) *Client {
	return &Client{
		cfg:      cfg,
		decoder:  sbe.NewDecoder(logger),
		messages: messages,
		logger:   logger.With("component", "cex"),
	}
}

// Run dials the combined stream and decodes frames until the connection
// closes or ctx is cancelled. Per-frame decode errors are logged and the
// frame dropped; transport errors terminate the loop. The messages channel
// is closed on return.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.messages)

	url := StreamURL(c.cfg.WSBaseURL, c.cfg.TrackedSymbols)
	c.logger.Info("connecting", "url", url)

	header := http.Header{}
	header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeConnection, "dial cex websocket")
	}
	c.logger.Info("connected")

	// Unblock the read loop on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("closed by server")
				return nil
			}
			return apperror.Wrap(err, apperror.CodeWebSocket, "read frame")
		}

		if msgType != websocket.BinaryMessage {
			c.logger.Warn("ignoring non-binary frame", "type", msgType)
			continue
		}

		msg, err := c.decoder.Decode(frame)
		if err != nil {
			metrics.DecodeErrors.Inc()
			c.logger.Warn("frame dropped", "error", err)
			continue
		}
		metrics.CEXMessages.WithLabelValues(messageKind(msg)).Inc()

		// The frame buffer is owned by the message from here on; gorilla
		// allocates a fresh one per read.
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func messageKind(msg sbe.Message) string {
	switch msg.(type) {
	case *sbe.TradeEvent:
		return "trade"
	case *sbe.BestBidAskEvent:
		return "best_bid_ask"
	case *sbe.DepthSnapshotEvent:
		return "depth_snapshot"
	case *sbe.DepthDiffEvent:
		return "depth_diff"
	default:
		return "unknown"
	}
}
