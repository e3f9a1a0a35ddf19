package sequencer

import "time"

// Ticker is the repeating timer that drives the scheduling loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// ManualTicker only fires when told to. Offline rendering uses one that
// never fires and calls Tick itself.
type ManualTicker struct {
	c chan time.Time
}

func NewManualTicker() *ManualTicker {
	return &ManualTicker{c: make(chan time.Time, 1)}
}

// Fire delivers one tick. Like time.Ticker it drops the tick if the last
// one has not been consumed yet.
func (m *ManualTicker) Fire() bool {
	select {
	case m.c <- time.Now():
		return true
	default:
		return false
	}
}

func (m *ManualTicker) C() <-chan time.Time { return m.c }
func (m *ManualTicker) Stop()               {}
