/*
Package resilience provides a circuit breaker for external tools that may be
missing or misbehaving.

# Overview

The terminal host drives tmux as an external command-line tool. When tmux is
not installed, its server is wedged, or every call fails, the breaker opens
and the host treats persistence as unavailable instead of paying the cost of
a failing subprocess on every terminal operation.

# States

  - Closed: calls pass through; consecutive failures are counted
  - Open: calls are rejected with ErrCircuitOpen until the cooldown elapses
  - Half-Open: a single trial call decides between Closed and Open

# Usage

	guard := resilience.New("tmux", resilience.Settings{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	})

	err := guard.Do(func() error {
		return runTmux("list-sessions")
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// persistence unavailable, fall back
	}
*/
package resilience
