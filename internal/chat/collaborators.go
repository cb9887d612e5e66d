// internal/chat/collaborators.go
// Interfaces to the surrounding systems. The chat core never reaches
// into their tables; it consumes these contracts only.

package chat

import "context"

// UserDirectory is implemented by the account/profile system.
type UserDirectory interface {
	IsActiveAndVerified(ctx context.Context, userID int64) (bool, error)
	GetUser(ctx context.Context, userID int64) (*UserInfo, error)
}

// ListingDirectory is implemented by the listing system.
type ListingDirectory interface {
	GetListingOwner(ctx context.Context, listingID int64) (*ListingOwner, error)
	GetListing(ctx context.Context, listingID int64) (*ListingInfo, error)
}

// ContentChecker is implemented by the moderation system. A rejection
// surfaces to clients as a terminal failure, never retried.
type ContentChecker interface {
	CheckContentSafety(ctx context.Context, text string) (*ContentCheck, error)
}

// FirstContactEmailer sends the one-time email to a listing owner when
// a chat about their listing receives its first message. Best-effort.
type FirstContactEmailer interface {
	SendFirstContactEmail(ctx context.Context, toEmail, toName, fromName, listingTitle string) error
}

// Pusher is the push channel supplied by the surrounding system
// (polling fallback needs nothing from us). Delivery is best-effort.
type Pusher interface {
	Push(ctx context.Context, userID int64, event string, payload interface{})
}
