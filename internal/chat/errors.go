// internal/chat/errors.go

package chat

import "errors"

// Typed errors raised by the repository and service. The HTTP layer and
// the client-side delivery coordinator map these onto the
// retryable/terminal classification: everything here is terminal.
var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotParticipant  = errors.New("not a participant in this chat")
	ErrChatInactive    = errors.New("chat is no longer active")
	ErrForbidden       = errors.New("forbidden")
	ErrContentRejected = errors.New("message content rejected")
	ErrUserNotEligible = errors.New("user cannot be contacted")
	ErrInvalidMessage  = errors.New("invalid message")
)
