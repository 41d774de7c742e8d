package raft

import (
	"time"
)

// timer is a time.Timer whose Stop and Reset also drain a pending fire.
type timer struct {
	*time.Timer
}

func (t *timer) stop() bool {
	ret := t.Timer.Stop()
	select {
	case <-t.Timer.C:
	default:
	}
	return ret
}

func (t *timer) Reset(d time.Duration) bool {
	ret := t.stop()
	t.Timer.Reset(d)
	return ret
}

func (t *timer) Stop() bool {
	return t.stop()
}

func newTimer(d time.Duration) *timer {
	return &timer{
		Timer: time.NewTimer(d),
	}
}
