package backing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const hashLen = 8

// ShortHash returns the first 8 hex characters of the SHA-256 of s.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// SessionName builds "<prefix>-<hash(scope)>-<terminal-id>". scope is the
// configured identity when set, otherwise the terminal's working directory.
// terminalID is used verbatim and must not contain tmux target separators.
func SessionName(prefix, scope, terminalID string) string {
	return prefix + "-" + ShortHash(scope) + "-" + terminalID
}

// Owns reports whether session belongs to an application using prefix.
func Owns(prefix, session string) bool {
	rest, ok := strings.CutPrefix(session, prefix+"-")
	if !ok {
		return false
	}
	hash, id, ok := strings.Cut(rest, "-")
	return ok && len(hash) == hashLen && id != ""
}

// TerminalID extracts the terminal id from a session owned by prefix.
func TerminalID(prefix, session string) (string, bool) {
	if !Owns(prefix, session) {
		return "", false
	}
	rest := strings.TrimPrefix(session, prefix+"-")
	_, id, _ := strings.Cut(rest, "-")
	return id, true
}

// MatchesTerminal reports whether session was generated for terminalID.
func MatchesTerminal(prefix, session, terminalID string) bool {
	id, ok := TerminalID(prefix, session)
	return ok && id == terminalID
}
