// Package sbe decodes the CEX's SBE-framed binary market-data stream.
//
// Every frame starts with a fixed 8-byte little-endian header
// (blockLength, templateId, schemaId, version) followed by the message
// body. Repeating groups are self-describing: a group header carries the
// per-element block length, and decoders advance by that stride even when
// they read fewer fields, so schema growth never breaks parsing.
//
// Decoded messages borrow from the input frame. Depth messages in
// particular expose lazy views over the raw group bytes instead of
// materializing levels — the imbalance hot path sums quantities straight
// off the buffer. Callers that forward a message across a goroutine
// boundary must hand over the frame buffer with it; the WebSocket reader
// allocates a fresh buffer per frame, so this is the normal case.
package sbe

import (
	"encoding/binary"
	"log/slog"
	"math"
	"time"
)

const (
	// SchemaID and SchemaVersion are the expected stream schema. A
	// mismatch is advisory: the decoder logs a warning and proceeds.
	SchemaID      uint16 = 1
	SchemaVersion uint16 = 0

	TemplateTradeStream         uint16 = 10000
	TemplateBestBidAskStream    uint16 = 10001
	TemplateDepthSnapshotStream uint16 = 10002
	TemplateDepthDiffStream     uint16 = 10003
)

// HeaderSize is the fixed byte length of the SBE message header.
const HeaderSize = 8

// Header is the SBE message header. TemplateID discriminates the message
// kind; BlockLength is the root-block stride declared by the encoder.
type Header struct {
	BlockLength uint16
	TemplateID  uint16
	SchemaID    uint16
	Version     uint16
}

// ParseHeader reads the 8-byte header from the front of a frame.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, &DecodeError{Kind: ShortFrame, Needed: HeaderSize, Have: len(data)}
	}
	return Header{
		BlockLength: binary.LittleEndian.Uint16(data[0:2]),
		TemplateID:  binary.LittleEndian.Uint16(data[2:4]),
		SchemaID:    binary.LittleEndian.Uint16(data[4:6]),
		Version:     binary.LittleEndian.Uint16(data[6:8]),
	}, nil
}

// Message is the closed set of decoded stream messages: *TradeEvent,
// *BestBidAskEvent, *DepthSnapshotEvent, *DepthDiffEvent.
type Message interface {
	Symbol() string
	EventTime() time.Time
}

// Decoder turns complete frames into typed messages. It is stateless apart
// from the expected schema identity, which is advisory only.
type Decoder struct {
	ExpectedSchemaID uint16
	ExpectedVersion  uint16

	logger *slog.Logger
}

// NewDecoder creates a decoder expecting the published stream schema.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{
		ExpectedSchemaID: SchemaID,
		ExpectedVersion:  SchemaVersion,
		logger:           logger.With("component", "sbe"),
	}
}

// Decode parses one complete frame (header + body). Unknown template IDs
// yield a DecodeError with Kind Unknown; the caller logs and drops the
// frame, the stream continues.
func (d *Decoder) Decode(frame []byte) (Message, error) {
	header, err := ParseHeader(frame)
	if err != nil {
		return nil, err
	}

	if header.SchemaID != d.ExpectedSchemaID {
		d.logger.Warn("unexpected schema id",
			"schema_id", header.SchemaID,
			"expected", d.ExpectedSchemaID,
			"version", header.Version,
		)
	}
	if header.Version != d.ExpectedVersion {
		d.logger.Warn("unexpected schema version",
			"version", header.Version,
			"expected", d.ExpectedVersion,
			"schema_id", header.SchemaID,
		)
	}

	body := frame[HeaderSize:]

	switch header.TemplateID {
	case TemplateTradeStream:
		return decodeTrade(body)
	case TemplateBestBidAskStream:
		return decodeBestBidAsk(body)
	case TemplateDepthSnapshotStream:
		return decodeDepthSnapshot(body)
	case TemplateDepthDiffStream:
		return decodeDepthDiff(body)
	default:
		return nil, &DecodeError{Kind: Unknown, TemplateID: header.TemplateID}
	}
}

// decimalScale returns the multiplier for a signed power-of-ten exponent.
// Decimal fields decode as mantissa × 10^exponent.
func decimalScale(exponent int8) float64 {
	return math.Pow10(int(exponent))
}

// microsToTime converts microseconds since the Unix epoch to a UTC time.
func microsToTime(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}
