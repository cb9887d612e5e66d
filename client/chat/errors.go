// client/chat/errors.go

package chatclient

import "errors"

// ErrNotFailed is returned by Retry when the item does not exist or is
// not in the failed state.
var ErrNotFailed = errors.New("queued message is not in failed state")

// TerminalError marks a delivery failure that retrying cannot fix:
// the server understood the request and rejected it. The queue moves
// the item straight to failed.
type TerminalError struct {
	Reason string
}

func (e *TerminalError) Error() string {
	return e.Reason
}

// Terminal wraps a reason into a TerminalError.
func Terminal(reason string) error {
	return &TerminalError{Reason: reason}
}

// IsTerminal reports whether err is a terminal delivery failure.
func IsTerminal(err error) bool {
	var t *TerminalError
	return errors.As(err, &t)
}
