package raft

import (
	"math/rand"
	"time"
)

// Ticker sends ticks.
type Ticker interface {
	// Start starts the ticker.
	Start()
	// Stop stops the ticker.
	Stop()
	// C returns the channel to read ticks from.
	C() <-chan struct{}

	// Reset restarts the countdown to the next tick.
	Reset()
}

// countdownTicker fires after a number of tick periods, drawn by next() after every fire or
// reset. Ticks are dropped if C is not drained.
type countdownTicker struct {
	period    time.Duration
	cChan     chan struct{}
	stopChan  chan struct{}
	doneChan  chan struct{}
	resetChan chan struct{}

	tick  uint
	ticks uint
	next  func() uint
}

func (t *countdownTicker) loop() {
	defer close(t.doneChan)
	tt := time.NewTicker(t.period)
	defer tt.Stop()
	for {
		select {
		case <-t.stopChan:
			return
		case <-t.resetChan:
			t.tick = 0
			t.ticks = t.next()
			// drop a fire that predates the reset
			select {
			case <-t.cChan:
			default:
			}
		case <-tt.C:
			t.tick++
			if t.tick >= t.ticks {
				select {
				case t.cChan <- struct{}{}:
				default:
				}
				t.tick = 0
				t.ticks = t.next()
			}
		}
	}
}

// Start implements Ticker.
func (t *countdownTicker) Start() {
	go t.loop()
}

// Stop implements Ticker.
func (t *countdownTicker) Stop() {
	close(t.stopChan)
	<-t.doneChan
}

// C implements Ticker.
func (t *countdownTicker) C() <-chan struct{} {
	return t.cChan
}

// Reset implements Ticker. Resets requested before the loop observes them coalesce.
func (t *countdownTicker) Reset() {
	select {
	case t.resetChan <- struct{}{}:
	default:
	}
}

func newCountdownTicker(period time.Duration, next func() uint) *countdownTicker {
	t := &countdownTicker{
		period:    period,
		cChan:     make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
		resetChan: make(chan struct{}, 1),
		next:      next,
	}
	t.ticks = next()
	return t
}

func newHeartbeatTicker(tickPeriod time.Duration, heartbeatTicks uint) Ticker {
	return newCountdownTicker(tickPeriod, func() uint { return heartbeatTicks })
}

func newElectionTicker(tickPeriod time.Duration, minElectionTicks, maxElectionTicks uint) Ticker {
	return newCountdownTicker(tickPeriod, func() uint {
		return uint(rand.Uint32())%(maxElectionTicks-minElectionTicks+1) + minElectionTicks
	})
}
