//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// watchResize calls fn whenever the controlling terminal changes size.
func watchResize(fn func()) (stop func()) {
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-winchCh:
				fn()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(winchCh)
		close(done)
	}
}
