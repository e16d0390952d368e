package cex

import "strings"

// Stream name suffixes on the combined endpoint.
const (
	streamTrade      = "trade"
	streamBestBidAsk = "bestBidAsk"
	streamDepth      = "depth20"
)

// StreamURL builds the combined-stream URL:
// <base>/stream?streams=<sym>@trade/<sym>@bestBidAsk/<sym>@depth20 with the
// triple repeated per symbol, slash-joined, symbols lowercased.
func StreamURL(baseURL string, symbols []string) string {
	streams := make([]string, 0, len(symbols)*3)
	for _, symbol := range symbols {
		lower := strings.ToLower(symbol)
		streams = append(streams,
			lower+"@"+streamTrade,
			lower+"@"+streamBestBidAsk,
			lower+"@"+streamDepth,
		)
	}
	return baseURL + "/stream?streams=" + strings.Join(streams, "/")
}
