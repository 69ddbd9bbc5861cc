package pricer

import (
	"strings"

	"github.com/maxbolgarin/errm"
)

var (
	// ErrNoLatestData is returned when a price read happens before any successful fetch.
	// Callers must fall back to cached text or an apology message, never crash.
	ErrNoLatestData = errm.New("no latest data")
	// ErrInvalidInput is returned for an unknown symbol, unit or credential shape.
	ErrInvalidInput = errm.New("invalid input")
	// ErrUnauthorized is returned when a privilege check fails.
	ErrUnauthorized = errm.New("unauthorized")
	// ErrAlreadyRunning is reported by a duplicate scheduler start.
	ErrAlreadyRunning = errm.New("already running")
	// ErrNotFound is returned when a document is not found.
	ErrNotFound = errm.New("not found")
	// ErrDuplicate is returned when a document already exists.
	ErrDuplicate = errm.New("duplicate")
)

// ErrSelectionLimit rejects a toggle-add that would exceed MaxSelectionInDesiredOnes.
var ErrSelectionLimit = errm.Wrap(ErrInvalidInput, "selection limit reached")

func IsBlockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "bot was blocked by the user")
}
