//go:build windows

package terminal

import "errors"

// PTYSpawner is unavailable on Windows builds.
type PTYSpawner struct {
	Env []string
}

// NewPTYSpawner creates a spawner that always fails.
func NewPTYSpawner(env ...string) *PTYSpawner {
	return &PTYSpawner{Env: env}
}

// Spawn reports that PTYs are not supported.
func (s *PTYSpawner) Spawn(spec SpawnSpec) (Process, error) {
	return nil, errors.New("PTY spawning is not supported on windows")
}
