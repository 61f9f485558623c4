package bridge

import "time"

// Clock paces the synthetic update sequences sent to the legacy sink.
type Clock interface {
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// DefaultPacingDelay separates consecutive steps of one reconciliation event. Accessories
// drop or misorder indicator changes that arrive closer together.
const DefaultPacingDelay = 60 * time.Millisecond
