package engine

import (
	"math"
	"time"

	"imbalance-sentinel/pkg/types"
)

// priceTick is the minimum top-of-book move that counts as a new
// observation. Quotes are dollar prices with four meaningful decimals;
// anything below this is float noise.
const priceTick = 1e-6

// observation is one recorded top-of-book quad.
type observation struct {
	Wall   time.Time
	YesAsk float64
	NoAsk  float64
	YesBid float64
	NoBid  float64
}

// session is a time-boxed recording of PME top-of-book transitions
// triggered by a CEX imbalance alert. It is created by the coordinator,
// mutated only under the coordinator's session lock, and retired by its
// timer task.
type session struct {
	key          string
	alert        types.ImbalanceAlert
	marketTicker string
	start        time.Time
	initial      types.TopOfBook
	observations []observation
}

// newSession seeds the observation vector with the initial quad when all
// four sides are quoted.
func newSession(alert types.ImbalanceAlert, marketTicker string, start time.Time, initial types.TopOfBook) *session {
	s := &session{
		key:          alert.SessionKey(),
		alert:        alert,
		marketTicker: marketTicker,
		start:        start,
		initial:      initial,
	}
	if initial.Complete() {
		s.observations = append(s.observations, observation{
			Wall:   start,
			YesAsk: initial.YesAsk,
			NoAsk:  initial.NoAsk,
			YesBid: initial.YesBid,
			NoBid:  initial.NoBid,
		})
	}
	return s
}

// recordIfChanged appends an observation when any of the four prices moved
// by more than priceTick since the previous one. Incomplete books are
// never recorded. Reports whether a tick was appended.
func (s *session) recordIfChanged(now time.Time, top types.TopOfBook) bool {
	if !top.Complete() {
		return false
	}

	next := observation{
		Wall:   now,
		YesAsk: top.YesAsk,
		NoAsk:  top.NoAsk,
		YesBid: top.YesBid,
		NoBid:  top.NoBid,
	}

	if n := len(s.observations); n > 0 {
		prev := s.observations[n-1]
		if !moved(prev.YesAsk, next.YesAsk) &&
			!moved(prev.NoAsk, next.NoAsk) &&
			!moved(prev.YesBid, next.YesBid) &&
			!moved(prev.NoBid, next.NoBid) {
			return false
		}
	}

	s.observations = append(s.observations, next)
	return true
}

func moved(a, b float64) bool {
	return math.Abs(a-b) > priceTick
}
