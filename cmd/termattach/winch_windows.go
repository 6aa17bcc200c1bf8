//go:build windows

package main

// watchResize is a no-op: Windows consoles do not raise SIGWINCH.
func watchResize(func()) (stop func()) {
	return func() {}
}
