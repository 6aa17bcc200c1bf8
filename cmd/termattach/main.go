// Package main is termattach, a command line console for a termhost server.
//
// It creates or reattaches to a terminal and connects it to the local tty.
// Pressing the detach key (Ctrl-] by default) disconnects without killing the
// terminal; reattach later with the same -id.
//
// Usage:
//
//	termattach -url ws://localhost:8000/ws -id work
//	termattach -id work -close   # attach, and close the terminal on exit
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/GriffinCanCode/termhost/internal/client"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/protocol"
	"github.com/GriffinCanCode/termhost/internal/registry"
	"github.com/GriffinCanCode/termhost/internal/shared/id"
)

const detachKey = 0x1d // Ctrl-]

var errDetached = errors.New("detached")

// exitError carries the remote process exit code.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("process exited with code %d", e.code) }

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "termhost WebSocket endpoint")
	terminalID := flag.String("id", "", "Terminal id to create or reattach (generated when empty)")
	cwd := flag.String("cwd", "", "Working directory for a new terminal (default: current)")
	closeOnExit := flag.Bool("close", false, "Close the terminal instead of detaching when done")
	debug := flag.Bool("debug", false, "Log to stderr")
	flag.Parse()

	if *terminalID == "" {
		*terminalID = id.NewTerminalID().String()
	}
	if *cwd == "" {
		*cwd, _ = os.Getwd()
	}

	logger := logging.NewNop()
	if *debug {
		if l, err := logging.New(logging.Config{Level: "debug", Development: true, OutputPaths: []string{"stderr"}}); err == nil {
			logger = l
		}
	}

	err := attach(context.Background(), *url, *terminalID, *cwd, *closeOnExit, logger.Component("termattach"))
	var exit exitError
	switch {
	case err == nil:
	case errors.Is(err, errDetached):
		fmt.Fprintf(os.Stderr, "\r\n[detached from %s]\r\n", *terminalID)
	case errors.As(err, &exit):
		os.Exit(exit.code)
	default:
		fmt.Fprintf(os.Stderr, "termattach: %v\n", err)
		os.Exit(1)
	}
}

func attach(ctx context.Context, url, terminalID, cwd string, closeOnExit bool, logger *zap.Logger) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	reg := registry.New(registry.Config{
		Logger: logger.Named("registry"),
		Fallback: func(msg protocol.Message) {
			if msg.Type == protocol.TypeError {
				cancel(errors.New(msg.Error))
			}
		},
	})
	defer reg.Close()

	reg.RegisterHandler(terminalID, func(msg protocol.Message) {
		switch msg.Type {
		case protocol.TypeOutput:
			_, _ = os.Stdout.WriteString(msg.Data)
		case protocol.TypeCreated:
			logger.Debug("Attached", zap.String("terminal_id", msg.TerminalID), zap.Bool("reattached", msg.Reattached))
		case protocol.TypeExit:
			code := 0
			if msg.ExitCode != nil {
				code = *msg.ExitCode
			}
			cancel(exitError{code: code})
		case protocol.TypeError:
			cancel(errors.New(msg.Error))
		}
	})

	c, err := client.Dial(ctx, url, reg, client.Options{Logger: logger.Named("client")})
	if err != nil {
		return err
	}
	defer c.Close()

	fd := int(os.Stdin.Fd())
	cols, rows := 80, 24
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = w, h
		}
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			cancel(err)
			return
		}
		cancel(nil)
	}()

	if err := c.Create(terminalID, cwd, cols, rows); err != nil {
		return err
	}

	stopResize := watchResize(func() {
		if w, h, err := term.GetSize(fd); err == nil {
			_ = c.Resize(terminalID, w, h)
		}
	})
	defer stopResize()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel(errDetached)
		case <-ctx.Done():
		}
	}()

	go pumpInput(ctx, os.Stdin, func(data []byte) error {
		return c.Input(terminalID, data)
	}, func() { cancel(errDetached) })

	<-ctx.Done()
	err = context.Cause(ctx)
	if closeOnExit && errors.Is(err, errDetached) {
		_ = c.CloseTerminal(terminalID)
		err = nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// pumpInput forwards stdin until the detach key is pressed.
func pumpInput(ctx context.Context, in *os.File, send func([]byte) error, detach func()) {
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, err := in.Read(buf)
		if n > 0 {
			data, detached := splitDetach(buf[:n])
			if len(data) > 0 {
				if serr := send(append([]byte(nil), data...)); serr != nil {
					return
				}
			}
			if detached {
				detach()
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// splitDetach returns the bytes before the detach key and whether it was seen.
func splitDetach(b []byte) ([]byte, bool) {
	if i := bytes.IndexByte(b, detachKey); i >= 0 {
		return b[:i], true
	}
	return b, false
}
