// internal/chat/repository.go

package chat

import (
	"context"
)

// CreateChatArgs is the input to the chat-creation transaction.
type CreateChatArgs struct {
	InitiatorID      int64
	CounterpartID    int64
	RelatedListingID *int64
	InitialMessage   *string
	InitialLocalID   string
}

// AppendMessageArgs is the input to the message-append transaction.
// LocalID is the client-generated identifier that makes the append
// idempotent across retries.
type AppendMessageArgs struct {
	ChatID        int64
	SenderID      int64
	Content       string
	Type          string
	LocalID       string
	AppointmentID *int64
	// ListingOwnerID identifies the owner of the chat's related
	// listing, when known. An append only qualifies as first contact
	// when the sender is somebody else; zero disables the check.
	ListingOwnerID int64
}

// AppendResult reports what the append transaction did.
type AppendResult struct {
	Message *Message
	// Replayed is true when a message with the same
	// (chat, sender, localID) was already committed; no rows were
	// written and no unread counts moved.
	Replayed bool
	// FirstContact is true when this append flipped the chat's
	// first-contact flag. The caller dispatches the notification
	// after commit.
	FirstContact bool
}

// Repository owns chat, participant and message records. Every
// multi-row mutation runs inside a single database transaction.
type Repository interface {
	// CreateChat inserts the chat, both participant rows, a system
	// message, and the optional initial message atomically. When a
	// concurrent transaction wins the uniqueness race the existing
	// active chat is returned with created=false.
	CreateChat(ctx context.Context, args CreateChatArgs) (chat *Chat, created bool, firstContact bool, err error)

	// AppendMessage commits a message, bumps the chat timestamp and
	// increments unread counts for the other active participants.
	// Replaying the same LocalID returns the committed row unchanged.
	AppendMessage(ctx context.Context, args AppendMessageArgs) (*AppendResult, error)

	// MarkRead unconditionally resets the participant's unread count
	// to zero and stamps lastReadAt.
	MarkRead(ctx context.Context, chatID, userID int64) error

	// LeaveChat deactivates the participant, records a system message,
	// and deactivates the chat when nobody active remains.
	LeaveChat(ctx context.Context, chatID, userID int64) error

	GetChat(ctx context.Context, chatID int64) (*Chat, error)
	GetActiveChatByParticipants(ctx context.Context, userA, userB int64, relatedListingID *int64) (*Chat, error)
	ReactivateParticipant(ctx context.Context, chatID, userID int64) error

	ListMessages(ctx context.Context, chatID int64, q ListMessagesQuery) ([]*Message, error)
	ListUserChats(ctx context.Context, userID int64, limit, offset int) ([]*Chat, error)
	EditMessage(ctx context.Context, messageID, senderID int64, content string) (*Message, error)
	TotalUnread(ctx context.Context, userID int64) (int, error)
}
