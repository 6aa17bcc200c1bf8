package backing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termhost/internal/command"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	called := m.Called(name, args)
	out, _ := called.Get(0).([]byte)
	return out, called.Error(1)
}

func TestProbe(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "tmux", []string{"-V"}).Return([]byte("tmux 3.4\n"), nil).Once()

	tm := NewTmux(Config{}, runner, nil)
	require.NoError(t, tm.Probe(context.Background()))
	runner.AssertExpectations(t)
}

func TestProbeFailureIsUnavailable(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "tmux", []string{"-V"}).Return(nil, errors.New(`exec: "tmux": executable file not found in $PATH`))

	tm := NewTmux(Config{}, runner, nil)
	assert.ErrorIs(t, tm.Probe(context.Background()), ErrUnavailable)
}

func TestAttachCommand(t *testing.T) {
	tm := NewTmux(Config{Binary: "/usr/bin/tmux", Socket: "termhost"}, new(mockRunner), nil)

	got := tm.AttachCommand("termhost-0123abcd-t1", "/work", command.Candidate{Command: "claude", Args: []string{"--resume"}})

	assert.Equal(t, "/usr/bin/tmux", got.Command)
	assert.Equal(t, []string{
		"-L", "termhost",
		"new-session", "-A", "-s", "termhost-0123abcd-t1",
		"-c", "/work",
		"claude", "--resume",
	}, got.Args)
}

func TestKillSession(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "tmux", []string{"kill-session", "-t", "=s1"}).Return(nil, nil).Once()
	runner.On("Run", "tmux", []string{"kill-session", "-t", "=gone"}).
		Return([]byte("can't find session: gone"), errors.New("exit status 1")).Once()

	tm := NewTmux(Config{}, runner, nil)
	assert.NoError(t, tm.KillSession(context.Background(), "s1"))
	assert.NoError(t, tm.KillSession(context.Background(), "gone"), "missing session is idempotent")
	runner.AssertExpectations(t)
}

func TestListSessions(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "tmux", []string{"list-sessions", "-F", "#{session_name}"}).
		Return([]byte("main\ntermhost-0123abcd-t1\n\n"), nil).Once()

	tm := NewTmux(Config{}, runner, nil)
	sessions, err := tm.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "termhost-0123abcd-t1"}, sessions)
}

func TestListSessionsWithoutServer(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "tmux", []string{"list-sessions", "-F", "#{session_name}"}).
		Return([]byte("no server running on /tmp/tmux-1000/default"), errors.New("exit status 1"))

	tm := NewTmux(Config{}, runner, nil)
	sessions, err := tm.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestGuardOpensAfterRepeatedFailures(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Run", "tmux", []string{"list-sessions", "-F", "#{session_name}"}).
		Return([]byte("server exited unexpectedly"), errors.New("exit status 1")).Times(3)

	tm := NewTmux(Config{}, runner, nil)
	for i := 0; i < 3; i++ {
		_, err := tm.ListSessions(context.Background())
		require.Error(t, err)
	}

	_, err := tm.ListSessions(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	runner.AssertExpectations(t)
}
