package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const reportTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// reportFileName is imbalance_<symbol>_<detected UTC: YYYYMMDD_HHMMSS>.txt.
func reportFileName(s *session) string {
	stamp := s.alert.DetectedTime.UTC().Format("20060102_150405")
	return fmt.Sprintf("imbalance_%s_%s.txt", s.alert.Symbol, stamp)
}

// renderReport lays the session out as the human-readable alert report.
func renderReport(s *session) string {
	var b strings.Builder
	a := s.alert

	b.WriteString("IMBALANCE ALERT REPORT\n")
	b.WriteString("=====================\n\n")

	fmt.Fprintf(&b, "Message received: %s\n", a.ReceivedTime.UTC().Format(reportTimeLayout))
	fmt.Fprintf(&b, "Imbalance detected: %s\n", a.DetectedTime.UTC().Format(reportTimeLayout))
	fmt.Fprintf(&b, "CEX symbol: %s\n", a.Symbol)
	fmt.Fprintf(&b, "PME market: %s\n\n", s.marketTicker)

	b.WriteString("IMBALANCE RATIOS:\n")
	fmt.Fprintf(&b, "- Top 5: %.3f\n", a.RatioTop5)
	fmt.Fprintf(&b, "- Top 10: %.3f\n", a.RatioTop10)
	fmt.Fprintf(&b, "- All: %.3f\n\n", a.RatioAll)

	b.WriteString("QUANTITIES:\n")
	fmt.Fprintf(&b, "- Top 5: bids=%.2f, asks=%.2f\n", a.BidsTop5, a.AsksTop5)
	fmt.Fprintf(&b, "- Top 10: bids=%.2f, asks=%.2f\n", a.BidsTop10, a.AsksTop10)
	fmt.Fprintf(&b, "- All: bids=%.2f, asks=%.2f\n\n", a.BidsAll, a.AsksAll)

	b.WriteString("INITIAL PME PRICES:\n")
	fmt.Fprintf(&b, "- YES ask: $%.4f | YES bid: $%.4f\n", s.initial.YesAsk, s.initial.YesBid)
	fmt.Fprintf(&b, "- NO ask:  $%.4f | NO bid:  $%.4f\n\n", s.initial.NoAsk, s.initial.NoBid)

	fmt.Fprintf(&b, "PME ODDS CHANGES (%d total):\n", len(s.observations))
	for i, obs := range s.observations {
		fmt.Fprintf(&b, "  [%d] %s - YES: ask=%.4f, bid=%.4f | NO: ask=%.4f, bid=%.4f\n",
			i+1,
			obs.Wall.UTC().Format("15:04:05.000"),
			obs.YesAsk, obs.YesBid, obs.NoAsk, obs.NoBid,
		)
	}

	return b.String()
}

// writeReport writes the report atomically: to a .tmp file first, then a
// rename over the target, so a crash never leaves a partial report.
func writeReport(dir string, s *session) (string, error) {
	path := filepath.Join(dir, reportFileName(s))
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, []byte(renderReport(s)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("publish report: %w", err)
	}
	return path, nil
}
