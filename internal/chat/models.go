// internal/chat/models.go

package chat

import (
	"time"
)

// Message types. SYSTEM messages are server-generated and cannot be
// submitted by clients.
const (
	MessageTypeText                = "TEXT"
	MessageTypeSystem              = "SYSTEM"
	MessageTypeAppointmentRequest  = "APPOINTMENT_REQUEST"
	MessageTypeAppointmentResponse = "APPOINTMENT_RESPONSE"
)

// Chat represents a conversation between a listing's owner and an
// interested user. At most one active chat exists per
// (initiator, counterpart, listing) triple; participantKey together
// with the related listing enforces that in the database.
type Chat struct {
	ID                           int64      `json:"id" db:"id"`
	ParticipantKey               string     `json:"-" db:"participant_key"`
	RelatedListingID             *int64     `json:"related_listing_id,omitempty" db:"related_listing_id"`
	IsActive                     bool       `json:"is_active" db:"is_active"`
	LastMessageAt                *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	FirstContactNotificationSent bool       `json:"-" db:"first_contact_notification_sent"`
	CreatedAt                    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt                    time.Time  `json:"updated_at" db:"updated_at"`

	// Computed fields
	Participants       []*ChatParticipant `json:"participants,omitempty"`
	UnreadCount        int                `json:"unread_count"`
	LastMessagePreview *string            `json:"last_message_preview,omitempty"`
}

// ChatParticipant represents a user's membership in a chat, distinct
// from the user's global identity.
type ChatParticipant struct {
	ChatID      int64      `json:"chat_id" db:"chat_id"`
	UserID      int64      `json:"user_id" db:"user_id"`
	JoinedAt    time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt      *time.Time `json:"left_at,omitempty" db:"left_at"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	UnreadCount int        `json:"unread_count" db:"unread_count"`
	LastReadAt  *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`

	// Joined fields
	User *UserInfo `json:"user,omitempty"`
}

// Message is a committed chat message. Immutable once written except for
// the edited/edited_at pair.
type Message struct {
	ID            int64      `json:"id" db:"id"`
	ChatID        int64      `json:"chat_id" db:"chat_id"`
	SenderID      int64      `json:"sender_id" db:"sender_id"`
	Content       string     `json:"content" db:"content"`
	Type          string     `json:"type" db:"type"`
	LocalID       string     `json:"local_id" db:"local_id"`
	AppointmentID *int64     `json:"appointment_id,omitempty" db:"appointment_id"`
	Edited        bool       `json:"edited" db:"edited"`
	EditedAt      *time.Time `json:"edited_at,omitempty" db:"edited_at"`
	SentAt        time.Time  `json:"sent_at" db:"sent_at"`
}

// UserInfo is the slice of user identity this service needs for display
// and notifications. The account system owns the full record.
type UserInfo struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Email       string `json:"-"`
}

// ListingOwner is what the listing system reports about who may be
// contacted for a listing.
type ListingOwner struct {
	UserID         int64
	IsActive       bool
	ContactPrivacy string // "anyone" or "nobody"
}

// ListingInfo carries the listing fields used in notifications.
type ListingInfo struct {
	ID    int64
	Title string
}

// Permissions describes what a user may do in a chat. Recomputed on
// every access; membership can change between calls.
type Permissions struct {
	CanSend           bool `json:"can_send"`
	CanAddParticipant bool `json:"can_add_participant"`
	CanModerate       bool `json:"can_moderate"`
	CanExport         bool `json:"can_export"`
}

// ContentCheck is the moderation verdict for a piece of content.
type ContentCheck struct {
	Allowed   bool
	Sanitized string
}

// Request DTOs

type CreateChatRequest struct {
	ListingID      int64   `json:"listing_id" validate:"required"`
	InitialMessage *string `json:"initial_message,omitempty" validate:"omitempty,min=1"`
	LocalID        string  `json:"local_id,omitempty"`
}

type SendMessageRequest struct {
	Content       string `json:"content" validate:"required,min=1"`
	Type          string `json:"type" validate:"required,oneof=TEXT APPOINTMENT_REQUEST APPOINTMENT_RESPONSE"`
	LocalID       string `json:"local_id" validate:"required,min=1,max=64"`
	AppointmentID *int64 `json:"appointment_id,omitempty"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required,min=1"`
}

// ListMessagesQuery is the pagination/filter contract for listing
// messages. When After or Before is set, Page is ignored and results
// are capped at Limit with no total count.
type ListMessagesQuery struct {
	After  *time.Time
	Before *time.Time
	Page   int
	Limit  int
	Search string
	Type   string
}
