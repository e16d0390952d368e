// Package imbalance evaluates the depth-imbalance signal on CEX depth
// snapshots.
//
// Three bid/ask quantity ratios are computed per snapshot — top 5 levels,
// top 10 levels, and the whole visible book — straight off the message's
// lazy depth views. An alert fires when any ratio leaves the
// [0.01, 100] band. Alerts are offered to a bounded channel without
// blocking: when the channel is saturated the coordinator is still busy
// observing an earlier alert, and dropping is the intended gate.
package imbalance

import (
	"log/slog"
	"time"

	"imbalance-sentinel/internal/metrics"
	"imbalance-sentinel/internal/sbe"
	"imbalance-sentinel/pkg/types"
)

const (
	// An alert fires when any ratio exceeds HighThreshold (bid wall) or
	// drops below LowThreshold (ask wall).
	HighThreshold = 100.0
	LowThreshold  = 0.01
)

// Detector computes imbalance ratios and offers alerts on a bounded
// channel. It is stateless between snapshots.
type Detector struct {
	alerts chan<- types.ImbalanceAlert
	logger *slog.Logger

	now func() time.Time
}

// NewDetector creates a detector that offers alerts on the given channel.
func NewDetector(alerts chan<- types.ImbalanceAlert, logger *slog.Logger) *Detector {
	return &Detector{
		alerts: alerts,
		logger: logger.With("component", "imbalance"),
		now:    time.Now,
	}
}

// Evaluate computes the three ratios for one depth snapshot and offers an
// alert when a threshold is crossed. Evaluation is skipped entirely when
// the top-5 ask quantity is not positive (an empty or one-sided book says
// nothing about imbalance). Returns true when an alert was enqueued.
func (d *Detector) Evaluate(depth *sbe.DepthSnapshotEvent) bool {
	bidsTop5, bidsTop10, bidsAll := depth.Bids.SumTop5Top10All()
	asksTop5, asksTop10, asksAll := depth.Asks.SumTop5Top10All()

	if asksTop5 <= 0 {
		return false
	}

	ratioTop5 := bidsTop5 / asksTop5
	ratioTop10 := bidsTop10 / asksTop10
	ratioAll := bidsAll / asksAll

	d.logger.Info("📕 depth imbalance",
		"symbol", depth.Symbol(),
		"ratio_top5", ratioTop5,
		"ratio_top10", ratioTop10,
		"ratio_all", ratioAll,
	)

	if !crossed(ratioTop5) && !crossed(ratioTop10) && !crossed(ratioAll) {
		return false
	}

	alert := types.ImbalanceAlert{
		ReceivedTime: depth.EventTime(),
		DetectedTime: d.now(),
		Symbol:       depth.Symbol(),
		RatioTop5:    ratioTop5,
		RatioTop10:   ratioTop10,
		RatioAll:     ratioAll,
		BidsTop5:     bidsTop5,
		AsksTop5:     asksTop5,
		BidsTop10:    bidsTop10,
		AsksTop10:    asksTop10,
		BidsAll:      bidsAll,
		AsksAll:      asksAll,
	}

	select {
	case d.alerts <- alert:
		return true
	default:
		// Saturation means a prior alert is still being observed; the drop
		// is deliberate.
		metrics.Alerts.WithLabelValues("dropped").Inc()
		d.logger.Debug("alert channel full, dropping alert", "symbol", alert.Symbol)
		return false
	}
}

func crossed(ratio float64) bool {
	return ratio > HighThreshold || ratio < LowThreshold
}
