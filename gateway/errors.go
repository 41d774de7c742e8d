package gateway

import "errors"

var (
	// ErrNoLeaderAvailable is returned when no known member reports a leader.
	ErrNoLeaderAvailable = errors.New("gateway: no leader available")

	// ErrRedirectLoopExceeded is returned when a call was redirected more times than the
	// connector allows.
	ErrRedirectLoopExceeded = errors.New("gateway: too many redirects")
)
