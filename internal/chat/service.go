// internal/chat/service.go

package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxParticipants caps chat membership. Chats on this product are
// listing-owner/enquirer pairs.
const maxParticipants = 2

const unreadCacheKeyPrefix = "chat:unread:"

// Service is the chat-room orchestrator: chat-creation deduplication,
// permission derivation, unread maintenance and first-contact
// notification on top of the transactional repository.
type Service interface {
	FindOrCreateChat(ctx context.Context, initiatorID int64, req *CreateChatRequest) (*Chat, bool, error)
	SendMessage(ctx context.Context, senderID, chatID int64, req *SendMessageRequest) (*Message, error)
	ListMessages(ctx context.Context, chatID, userID int64, q ListMessagesQuery) ([]*Message, error)
	ListChats(ctx context.Context, userID int64, limit, offset int) ([]*Chat, error)
	MarkRead(ctx context.Context, chatID, userID int64) error
	LeaveChat(ctx context.Context, chatID, userID int64) error
	EditMessage(ctx context.Context, messageID, userID int64, content string) (*Message, error)
	Permissions(ctx context.Context, chatID, userID int64) (*Permissions, error)
	TotalUnread(ctx context.Context, userID int64) (int, error)
}

// ChatService implements Service.
type ChatService struct {
	repo       Repository
	users      UserDirectory
	listings   ListingDirectory
	moderation ContentChecker
	emailer    FirstContactEmailer
	pusher     Pusher
	cache      *redis.Client
	logger     *zap.Logger

	maxMessageLength int
	unreadCacheTTL   time.Duration
}

// ServiceOptions tunes the orchestrator. Zero values get defaults.
type ServiceOptions struct {
	MaxMessageLength int
	UnreadCacheTTL   time.Duration
}

// NewService wires the orchestrator. Pusher, emailer and cache are
// optional: nil disables the corresponding side channel.
func NewService(repo Repository, users UserDirectory, listings ListingDirectory,
	moderation ContentChecker, emailer FirstContactEmailer, pusher Pusher,
	cache *redis.Client, logger *zap.Logger, opts ServiceOptions) *ChatService {

	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 4000
	}
	if opts.UnreadCacheTTL <= 0 {
		opts.UnreadCacheTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChatService{
		repo:             repo,
		users:            users,
		listings:         listings,
		moderation:       moderation,
		emailer:          emailer,
		pusher:           pusher,
		cache:            cache,
		logger:           logger,
		maxMessageLength: opts.MaxMessageLength,
		unreadCacheTTL:   opts.UnreadCacheTTL,
	}
}

// FindOrCreateChat returns the single active chat for the
// (initiator, listing owner, listing) triple, creating it if needed.
// An inactive initiator membership on an existing chat is reactivated
// rather than duplicating the chat.
func (s *ChatService) FindOrCreateChat(ctx context.Context, initiatorID int64, req *CreateChatRequest) (*Chat, bool, error) {
	owner, err := s.listings.GetListingOwner(ctx, req.ListingID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve listing owner: %w", err)
	}
	if !owner.IsActive {
		return nil, false, ErrUserNotEligible
	}
	if owner.UserID == initiatorID {
		return nil, false, fmt.Errorf("%w: cannot open a chat with yourself", ErrUserNotEligible)
	}

	if owner.ContactPrivacy == "nobody" {
		return nil, false, ErrUserNotEligible
	}

	eligible, err := s.users.IsActiveAndVerified(ctx, initiatorID)
	if err != nil {
		return nil, false, fmt.Errorf("check initiator: %w", err)
	}
	if !eligible {
		return nil, false, ErrUserNotEligible
	}

	initialMessage := req.InitialMessage
	if initialMessage != nil {
		check, err := s.moderation.CheckContentSafety(ctx, *initialMessage)
		if err != nil {
			return nil, false, fmt.Errorf("content check: %w", err)
		}
		if !check.Allowed {
			return nil, false, ErrContentRejected
		}
		if len(check.Sanitized) > s.maxMessageLength {
			return nil, false, fmt.Errorf("%w: message too long", ErrInvalidMessage)
		}
		sanitized := check.Sanitized
		initialMessage = &sanitized
	}

	listingID := req.ListingID

	existing, err := s.repo.GetActiveChatByParticipants(ctx, initiatorID, owner.UserID, &listingID)
	if err == nil {
		if p := findParticipant(existing, initiatorID); p != nil && !p.IsActive {
			if err := s.repo.ReactivateParticipant(ctx, existing.ID, initiatorID); err != nil {
				return nil, false, err
			}
			recordChatCreate("reactivated")
			existing, err = s.repo.GetChat(ctx, existing.ID)
			if err != nil {
				return nil, false, err
			}
		} else {
			recordChatCreate("existing")
		}
		if initialMessage != nil {
			localID := req.LocalID
			if localID == "" {
				localID = uuid.NewString()
			}
			if _, err := s.SendMessage(ctx, initiatorID, existing.ID, &SendMessageRequest{
				Content: *initialMessage,
				Type:    MessageTypeText,
				LocalID: localID,
			}); err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}
	if !errors.Is(err, ErrChatNotFound) {
		return nil, false, err
	}

	chat, created, firstContact, err := s.repo.CreateChat(ctx, CreateChatArgs{
		InitiatorID:      initiatorID,
		CounterpartID:    owner.UserID,
		RelatedListingID: &listingID,
		InitialMessage:   initialMessage,
		InitialLocalID:   req.LocalID,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		recordChatCreate("created")
		s.invalidateUnread(owner.UserID)
		s.notify(owner.UserID, "chat.created", chat)
		if firstContact {
			go s.notifyFirstContact(chat, initiatorID, owner.UserID)
		}
	} else {
		recordChatCreate("existing")
		// Lost a creation race: the winner's chat came back instead.
		// The initial message still belongs in it, and the local id
		// keeps a client retry idempotent.
		if initialMessage != nil {
			localID := req.LocalID
			if localID == "" {
				localID = uuid.NewString()
			}
			if _, err := s.SendMessage(ctx, initiatorID, chat.ID, &SendMessageRequest{
				Content: *initialMessage,
				Type:    MessageTypeText,
				LocalID: localID,
			}); err != nil {
				return nil, false, err
			}
		}
	}
	return chat, created, nil
}

// SendMessage is the authoritative append operation behind both the
// REST endpoint and the client delivery coordinator.
func (s *ChatService) SendMessage(ctx context.Context, senderID, chatID int64, req *SendMessageRequest) (*Message, error) {
	switch req.Type {
	case MessageTypeText, MessageTypeAppointmentRequest, MessageTypeAppointmentResponse:
	case MessageTypeSystem:
		return nil, fmt.Errorf("%w: SYSTEM messages are server-generated", ErrForbidden)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, req.Type)
	}

	check, err := s.moderation.CheckContentSafety(ctx, req.Content)
	if err != nil {
		return nil, fmt.Errorf("content check: %w", err)
	}
	if !check.Allowed {
		recordMessage(req.Type, "rejected")
		return nil, ErrContentRejected
	}
	if len(check.Sanitized) > s.maxMessageLength {
		return nil, fmt.Errorf("%w: message too long", ErrInvalidMessage)
	}

	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	// The first-contact email goes to the listing owner, and only a
	// message from the other side qualifies, so resolve the owner
	// before the append decides the flag.
	var listingOwnerID int64
	if chat.RelatedListingID != nil {
		owner, err := s.listings.GetListingOwner(ctx, *chat.RelatedListingID)
		if err != nil {
			s.logger.Warn("resolve listing owner failed",
				zap.Int64("listing_id", *chat.RelatedListingID), zap.Error(err))
		} else {
			listingOwnerID = owner.UserID
		}
	}

	start := time.Now()
	res, err := s.repo.AppendMessage(ctx, AppendMessageArgs{
		ChatID:         chatID,
		SenderID:       senderID,
		Content:        check.Sanitized,
		Type:           req.Type,
		LocalID:        req.LocalID,
		AppointmentID:  req.AppointmentID,
		ListingOwnerID: listingOwnerID,
	})
	if err != nil {
		return nil, err
	}
	observeAppend(time.Since(start))

	if res.Replayed {
		recordMessage(req.Type, "replayed")
		return res.Message, nil
	}
	recordMessage(req.Type, "committed")

	for _, p := range chat.Participants {
		if p.UserID == senderID || !p.IsActive {
			continue
		}
		s.invalidateUnread(p.UserID)
		s.notify(p.UserID, "message.new", res.Message)
	}

	if res.FirstContact && chat.RelatedListingID != nil && listingOwnerID != 0 {
		go s.notifyFirstContact(chat, senderID, listingOwnerID)
	}

	return res.Message, nil
}

func (s *ChatService) ListMessages(ctx context.Context, chatID, userID int64, q ListMessagesQuery) ([]*Message, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if p := findParticipant(chat, userID); p == nil {
		return nil, ErrNotParticipant
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	return s.repo.ListMessages(ctx, chatID, q)
}

func (s *ChatService) ListChats(ctx context.Context, userID int64, limit, offset int) ([]*Chat, error) {
	chats, err := s.repo.ListUserChats(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, c := range chats {
		for _, p := range c.Participants {
			if p.UserID == userID {
				continue
			}
			if user, err := s.users.GetUser(ctx, p.UserID); err == nil {
				p.User = user
			}
		}
	}
	return chats, nil
}

func (s *ChatService) MarkRead(ctx context.Context, chatID, userID int64) error {
	if err := s.repo.MarkRead(ctx, chatID, userID); err != nil {
		return err
	}
	s.invalidateUnread(userID)
	return nil
}

func (s *ChatService) LeaveChat(ctx context.Context, chatID, userID int64) error {
	if err := s.repo.LeaveChat(ctx, chatID, userID); err != nil {
		return err
	}
	s.invalidateUnread(userID)
	return nil
}

func (s *ChatService) EditMessage(ctx context.Context, messageID, userID int64, content string) (*Message, error) {
	check, err := s.moderation.CheckContentSafety(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("content check: %w", err)
	}
	if !check.Allowed {
		return nil, ErrContentRejected
	}
	return s.repo.EditMessage(ctx, messageID, userID, check.Sanitized)
}

// Permissions derives chat permissions for a user. Never cached;
// membership can change between calls.
func (s *ChatService) Permissions(ctx context.Context, chatID, userID int64) (*Permissions, error) {
	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	var ownerID int64
	if chat.RelatedListingID != nil {
		owner, err := s.listings.GetListingOwner(ctx, *chat.RelatedListingID)
		if err == nil {
			ownerID = owner.UserID
		}
	}

	perms := DerivePermissions(chat, ownerID, userID)
	return &perms, nil
}

// DerivePermissions is the pure permission function over chat state.
func DerivePermissions(chat *Chat, listingOwnerID, userID int64) Permissions {
	p := findParticipant(chat, userID)
	activeMember := p != nil && p.IsActive

	return Permissions{
		CanSend:           activeMember && chat.IsActive,
		CanAddParticipant: activeMember && len(chat.Participants) < maxParticipants,
		CanModerate:       listingOwnerID != 0 && userID == listingOwnerID,
		CanExport:         activeMember,
	}
}

// TotalUnread returns the user's unread total across active chats,
// served from Redis when warm.
func (s *ChatService) TotalUnread(ctx context.Context, userID int64) (int, error) {
	key := unreadCacheKeyPrefix + strconv.FormatInt(userID, 10)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Int(); err == nil {
			return cached, nil
		}
	}

	total, err := s.repo.TotalUnread(ctx, userID)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, total, s.unreadCacheTTL).Err(); err != nil {
			s.logger.Debug("unread cache write failed", zap.Error(err))
		}
	}
	return total, nil
}

// invalidateUnread drops the cached unread total. Best-effort: a cache
// failure never fails the operation that triggered it.
func (s *ChatService) invalidateUnread(userID int64) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	key := unreadCacheKeyPrefix + strconv.FormatInt(userID, 10)
	if err := s.cache.Del(ctx, key).Err(); err != nil {
		s.logger.Debug("unread cache invalidation failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *ChatService) notify(userID int64, event string, payload interface{}) {
	if s.pusher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.pusher.Push(ctx, userID, event, payload)
}

// notifyFirstContact emails the listing owner once per chat. The flag
// was flipped inside the append transaction, so a dispatch failure here
// is logged and dropped rather than retried.
func (s *ChatService) notifyFirstContact(chat *Chat, senderID, ownerID int64) {
	if s.emailer == nil || chat.RelatedListingID == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	owner, err := s.users.GetUser(ctx, ownerID)
	if err != nil {
		s.logger.Warn("first-contact: owner lookup failed",
			zap.Int64("chat_id", chat.ID), zap.Error(err))
		recordFirstContactEmail("error")
		return
	}
	sender, err := s.users.GetUser(ctx, senderID)
	if err != nil {
		s.logger.Warn("first-contact: sender lookup failed",
			zap.Int64("chat_id", chat.ID), zap.Error(err))
		recordFirstContactEmail("error")
		return
	}
	listing, err := s.listings.GetListing(ctx, *chat.RelatedListingID)
	if err != nil {
		s.logger.Warn("first-contact: listing lookup failed",
			zap.Int64("chat_id", chat.ID), zap.Error(err))
		recordFirstContactEmail("error")
		return
	}

	if err := s.emailer.SendFirstContactEmail(ctx, owner.Email, owner.DisplayName, sender.DisplayName, listing.Title); err != nil {
		s.logger.Warn("first-contact email failed",
			zap.Int64("chat_id", chat.ID),
			zap.Int64("owner_id", ownerID),
			zap.Error(err))
		recordFirstContactEmail("failed")
		return
	}
	recordFirstContactEmail("sent")
}

func findParticipant(chat *Chat, userID int64) *ChatParticipant {
	for _, p := range chat.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}
