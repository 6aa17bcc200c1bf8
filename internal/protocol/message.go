package protocol

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// encoder replaces invalid UTF-8 with U+FFFD. Messages travel as WebSocket
// text frames, which browsers reject unless they are valid UTF-8.
var encoder = sonic.Config{ValidateString: true}.Froze()

// Message types carried over the transport link.
const (
	TypeCreate  = "pty:create"
	TypeCreated = "pty:created"
	TypeOutput  = "pty:output"
	TypeInput   = "pty:input"
	TypeExit    = "pty:exit"
	TypeResize  = "pty:resize"
	TypeClose   = "pty:close"
	TypeSync    = "pty:sync"
	TypeError   = "pty:error"
)

// Message is the single envelope for every transport message.
type Message struct {
	Type       string   `json:"type"`
	TerminalID string   `json:"terminalId"`
	Data       string   `json:"data,omitempty"`
	ExitCode   *int     `json:"exitCode,omitempty"`
	Cols       int      `json:"cols,omitempty"`
	Rows       int      `json:"rows,omitempty"`
	Cwd        string   `json:"cwd,omitempty"`
	ActiveIDs  []string `json:"activeIds,omitempty"`
	Reattached bool     `json:"reattached,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// IsOutput reports whether m carries terminal output.
func (m Message) IsOutput() bool {
	return m.Type == TypeOutput
}

// Output builds a pty:output message. Bytes that are not valid UTF-8 are
// replaced with U+FFFD.
func Output(id, data string) Message {
	return Message{Type: TypeOutput, TerminalID: id, Data: strings.ToValidUTF8(data, "\uFFFD")}
}

// Exit builds a pty:exit message.
func Exit(id string, code int) Message {
	return Message{Type: TypeExit, TerminalID: id, ExitCode: &code}
}

// Encode serializes a message.
func Encode(m Message) ([]byte, error) {
	data, err := encoder.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", m.Type, err)
	}
	return data, nil
}

// TerminalIDOf returns the terminalId field of a raw envelope, or "" when it
// cannot be read. It lets errors about malformed messages reach the right
// terminal.
func TerminalIDOf(data []byte) string {
	node, err := sonic.Get(data, "terminalId")
	if err != nil {
		return ""
	}
	id, err := node.StrictString()
	if err != nil {
		return ""
	}
	return id
}

// Decode parses a message and rejects envelopes without a type.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := sonic.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("message type is required")
	}
	return m, nil
}
