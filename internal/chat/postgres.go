// internal/chat/postgres.go

package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates the Postgres-backed chat repository.
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

// participantKey produces the order-independent key used by the partial
// unique index that closes the create-chat race.
func participantKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *postgresRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// lockChat loads the chat row FOR UPDATE, serializing writers per chat.
func lockChat(ctx context.Context, tx *sqlx.Tx, chatID int64) (*Chat, error) {
	var chat Chat
	err := tx.GetContext(ctx, &chat, `
        SELECT id, participant_key, related_listing_id, is_active,
               last_message_at, first_contact_notification_sent,
               created_at, updated_at
        FROM chats
        WHERE id = $1
        FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, msg *Message) error {
	return tx.QueryRowxContext(ctx, `
        INSERT INTO messages (chat_id, sender_id, content, type, local_id, appointment_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, sent_at`,
		msg.ChatID, msg.SenderID, msg.Content, msg.Type, msg.LocalID, msg.AppointmentID,
	).Scan(&msg.ID, &msg.SentAt)
}

func getMessageByLocalID(ctx context.Context, tx *sqlx.Tx, chatID, senderID int64, localID string) (*Message, error) {
	var msg Message
	err := tx.GetContext(ctx, &msg, `
        SELECT id, chat_id, sender_id, content, type, local_id,
               appointment_id, edited, edited_at, sent_at
        FROM messages
        WHERE chat_id = $1 AND sender_id = $2 AND local_id = $3`,
		chatID, senderID, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func bumpChat(ctx context.Context, tx *sqlx.Tx, chatID int64) error {
	_, err := tx.ExecContext(ctx, `
        UPDATE chats
        SET last_message_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1`, chatID)
	return err
}

// CreateChat creates a chat with two participants, a system message and
// the optional initial message in one transaction. All sub-writes
// succeed or none do.
func (r *postgresRepository) CreateChat(ctx context.Context, args CreateChatArgs) (*Chat, bool, bool, error) {
	var (
		chat         *Chat
		firstContact bool
	)

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		key := participantKey(args.InitiatorID, args.CounterpartID)

		c := Chat{
			ParticipantKey:   key,
			RelatedListingID: args.RelatedListingID,
			IsActive:         true,
		}
		err := tx.QueryRowxContext(ctx, `
            INSERT INTO chats (participant_key, related_listing_id, is_active)
            VALUES ($1, $2, TRUE)
            RETURNING id, created_at, updated_at`,
			key, args.RelatedListingID,
		).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}

		counterpartUnread := 0
		if args.InitialMessage != nil {
			counterpartUnread = 1
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO chat_participants (chat_id, user_id, is_active, unread_count)
            VALUES ($1, $2, TRUE, 0), ($1, $3, TRUE, $4)`,
			c.ID, args.InitiatorID, args.CounterpartID, counterpartUnread)
		if err != nil {
			return err
		}

		// System message recording chat creation.
		sys := &Message{
			ChatID:   c.ID,
			SenderID: args.InitiatorID,
			Content:  "chat_created",
			Type:     MessageTypeSystem,
			LocalID:  "sys-" + uuid.NewString(),
		}
		if err := insertMessage(ctx, tx, sys); err != nil {
			return err
		}

		if args.InitialMessage != nil {
			localID := args.InitialLocalID
			if localID == "" {
				localID = uuid.NewString()
			}
			first := &Message{
				ChatID:   c.ID,
				SenderID: args.InitiatorID,
				Content:  *args.InitialMessage,
				Type:     MessageTypeText,
				LocalID:  localID,
			}
			if err := insertMessage(ctx, tx, first); err != nil {
				return err
			}
			c.LastMessageAt = &first.SentAt

			if args.RelatedListingID != nil {
				if _, err := tx.ExecContext(ctx, `
                    UPDATE chats SET first_contact_notification_sent = TRUE WHERE id = $1`, c.ID); err != nil {
					return err
				}
				c.FirstContactNotificationSent = true
				firstContact = true
			}
		}

		if err := bumpChat(ctx, tx, c.ID); err != nil {
			return err
		}

		chat = &c
		return nil
	})

	if err != nil {
		// A concurrent CreateChat for the same pair won the unique
		// index race; return its chat instead of erroring.
		if isUniqueViolation(err) {
			existing, lookupErr := r.GetActiveChatByParticipants(ctx, args.InitiatorID, args.CounterpartID, args.RelatedListingID)
			if lookupErr != nil {
				return nil, false, false, lookupErr
			}
			return existing, false, false, nil
		}
		return nil, false, false, err
	}

	chat.Participants, err = r.getParticipants(ctx, chat.ID)
	if err != nil {
		return nil, false, false, err
	}
	return chat, true, firstContact, nil
}

// AppendMessage commits a message atomically with the chat timestamp
// bump and the unread increments. Replays of an already-committed
// LocalID return the existing row and touch nothing.
func (r *postgresRepository) AppendMessage(ctx context.Context, args AppendMessageArgs) (*AppendResult, error) {
	var res AppendResult

	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		chat, err := lockChat(ctx, tx, args.ChatID)
		if err != nil {
			return err
		}
		if !chat.IsActive {
			return ErrChatInactive
		}

		var senderActive bool
		err = tx.GetContext(ctx, &senderActive, `
            SELECT is_active FROM chat_participants
            WHERE chat_id = $1 AND user_id = $2`,
			args.ChatID, args.SenderID)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !senderActive) {
			return ErrNotParticipant
		}
		if err != nil {
			return err
		}

		// Idempotent replay: a retry after a committed-but-unacked
		// write must collapse onto the original row.
		existing, err := getMessageByLocalID(ctx, tx, args.ChatID, args.SenderID, args.LocalID)
		if err == nil {
			res.Message = existing
			res.Replayed = true
			return nil
		}
		if !errors.Is(err, ErrMessageNotFound) {
			return err
		}

		msg := &Message{
			ChatID:        args.ChatID,
			SenderID:      args.SenderID,
			Content:       args.Content,
			Type:          args.Type,
			LocalID:       args.LocalID,
			AppointmentID: args.AppointmentID,
		}
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}

		if err := bumpChat(ctx, tx, args.ChatID); err != nil {
			return err
		}

		// Increment-in-place so concurrent appends never lose updates.
		_, err = tx.ExecContext(ctx, `
            UPDATE chat_participants
            SET unread_count = unread_count + 1
            WHERE chat_id = $1 AND user_id <> $2 AND is_active`,
			args.ChatID, args.SenderID)
		if err != nil {
			return err
		}

		// Only a message from someone other than the listing owner
		// qualifies as first contact; the owner writing first must not
		// consume the once-per-chat budget.
		if chat.RelatedListingID != nil && !chat.FirstContactNotificationSent &&
			args.Type != MessageTypeSystem &&
			args.ListingOwnerID != 0 && args.SenderID != args.ListingOwnerID {
			if _, err := tx.ExecContext(ctx, `
                UPDATE chats SET first_contact_notification_sent = TRUE WHERE id = $1`, args.ChatID); err != nil {
				return err
			}
			res.FirstContact = true
		}

		res.Message = msg
		return nil
	})

	if err != nil {
		// The chat row lock serializes writers, but a replay racing a
		// commit from another connection can still trip the unique
		// index. Resolve by reading the committed row.
		if isUniqueViolation(err) {
			msg, lookupErr := r.getCommittedByLocalID(ctx, args.ChatID, args.SenderID, args.LocalID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &AppendResult{Message: msg, Replayed: true}, nil
		}
		return nil, err
	}
	return &res, nil
}

func (r *postgresRepository) getCommittedByLocalID(ctx context.Context, chatID, senderID int64, localID string) (*Message, error) {
	var msg Message
	err := r.db.GetContext(ctx, &msg, `
        SELECT id, chat_id, sender_id, content, type, local_id,
               appointment_id, edited, edited_at, sent_at
        FROM messages
        WHERE chat_id = $1 AND sender_id = $2 AND local_id = $3`,
		chatID, senderID, localID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead resets the unread count to zero unconditionally. Resetting
// rather than subtracting a snapshot means a message committed between
// the client's read and this call is the only thing left unread.
func (r *postgresRepository) MarkRead(ctx context.Context, chatID, userID int64) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
            UPDATE chat_participants
            SET unread_count = 0, last_read_at = CURRENT_TIMESTAMP
            WHERE chat_id = $1 AND user_id = $2 AND is_active`,
			chatID, userID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotParticipant
		}
		return nil
	})
}

// LeaveChat deactivates the membership and, when the last active
// participant leaves, soft-deactivates the chat itself.
func (r *postgresRepository) LeaveChat(ctx context.Context, chatID, userID int64) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := lockChat(ctx, tx, chatID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
            UPDATE chat_participants
            SET is_active = FALSE, left_at = CURRENT_TIMESTAMP
            WHERE chat_id = $1 AND user_id = $2 AND is_active`,
			chatID, userID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotParticipant
		}

		sys := &Message{
			ChatID:   chatID,
			SenderID: userID,
			Content:  "participant_left",
			Type:     MessageTypeSystem,
			LocalID:  "sys-" + uuid.NewString(),
		}
		if err := insertMessage(ctx, tx, sys); err != nil {
			return err
		}

		var remaining int
		err = tx.GetContext(ctx, &remaining, `
            SELECT COUNT(*) FROM chat_participants
            WHERE chat_id = $1 AND is_active`, chatID)
		if err != nil {
			return err
		}
		if remaining == 0 {
			if _, err := tx.ExecContext(ctx, `
                UPDATE chats SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP
                WHERE id = $1`, chatID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *postgresRepository) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var chat Chat
	err := r.db.GetContext(ctx, &chat, `
        SELECT id, participant_key, related_listing_id, is_active,
               last_message_at, first_contact_notification_sent,
               created_at, updated_at
        FROM chats WHERE id = $1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}

	chat.Participants, err = r.getParticipants(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *postgresRepository) getParticipants(ctx context.Context, chatID int64) ([]*ChatParticipant, error) {
	var participants []*ChatParticipant
	err := r.db.SelectContext(ctx, &participants, `
        SELECT chat_id, user_id, joined_at, left_at, is_active,
               unread_count, last_read_at
        FROM chat_participants
        WHERE chat_id = $1
        ORDER BY user_id`, chatID)
	if err != nil {
		return nil, err
	}
	return participants, nil
}

// GetActiveChatByParticipants finds the active chat for the exact
// participant pair and listing, regardless of who initiated it.
func (r *postgresRepository) GetActiveChatByParticipants(ctx context.Context, userA, userB int64, relatedListingID *int64) (*Chat, error) {
	var chat Chat
	err := r.db.GetContext(ctx, &chat, `
        SELECT id, participant_key, related_listing_id, is_active,
               last_message_at, first_contact_notification_sent,
               created_at, updated_at
        FROM chats
        WHERE participant_key = $1
          AND related_listing_id IS NOT DISTINCT FROM $2
          AND is_active`,
		participantKey(userA, userB), relatedListingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, err
	}

	chat.Participants, err = r.getParticipants(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ReactivateParticipant restores a membership the user previously left:
// fresh joinedAt, cleared leftAt, unread reset to zero.
func (r *postgresRepository) ReactivateParticipant(ctx context.Context, chatID, userID int64) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, `
            UPDATE chat_participants
            SET is_active = TRUE, left_at = NULL,
                joined_at = CURRENT_TIMESTAMP, unread_count = 0
            WHERE chat_id = $1 AND user_id = $2 AND NOT is_active`,
			chatID, userID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotParticipant
		}
		return nil
	})
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLikePattern neutralizes LIKE metacharacters so search terms
// match literally. The clause using the result must carry ESCAPE '\'.
func escapeLikePattern(s string) string {
	return likeEscaper.Replace(s)
}

// ListMessages pages by sent_at cursor. With a cursor, offset paging is
// ignored; ties on sent_at are broken by id, which is monotonic within
// a chat because appends hold the chat row lock.
func (r *postgresRepository) ListMessages(ctx context.Context, chatID int64, q ListMessagesQuery) ([]*Message, error) {
	conditions := []string{"chat_id = $1"}
	params := []interface{}{chatID}

	next := func(v interface{}) string {
		params = append(params, v)
		return fmt.Sprintf("$%d", len(params))
	}

	if q.After != nil {
		conditions = append(conditions, fmt.Sprintf("sent_at > %s", next(*q.After)))
	}
	if q.Before != nil {
		conditions = append(conditions, fmt.Sprintf("sent_at < %s", next(*q.Before)))
	}
	if q.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = %s", next(q.Type)))
	}
	if q.Search != "" {
		conditions = append(conditions, fmt.Sprintf(`content ILIKE '%%' || %s || '%%' ESCAPE '\'`, next(escapeLikePattern(q.Search))))
	}

	order := "ORDER BY sent_at DESC, id DESC"
	if q.After != nil {
		order = "ORDER BY sent_at ASC, id ASC"
	}

	query := fmt.Sprintf(`
        SELECT id, chat_id, sender_id, content, type, local_id,
               appointment_id, edited, edited_at, sent_at
        FROM messages
        WHERE %s
        %s
        LIMIT %s`, strings.Join(conditions, " AND "), order, next(q.Limit))

	if q.After == nil && q.Before == nil && q.Page > 0 {
		query += fmt.Sprintf(" OFFSET %s", next(q.Page*q.Limit))
	}

	var messages []*Message
	if err := r.db.SelectContext(ctx, &messages, query, params...); err != nil {
		return nil, err
	}
	return messages, nil
}

// ListUserChats returns the user's active chats ordered by recency,
// with the per-user unread count and a last-message preview.
func (r *postgresRepository) ListUserChats(ctx context.Context, userID int64, limit, offset int) ([]*Chat, error) {
	rows, err := r.db.QueryxContext(ctx, `
        SELECT c.id, c.participant_key, c.related_listing_id, c.is_active,
               c.last_message_at, c.first_contact_notification_sent,
               c.created_at, c.updated_at,
               cp.unread_count,
               lm.content AS last_message_preview
        FROM chats c
        JOIN chat_participants cp ON cp.chat_id = c.id AND cp.user_id = $1 AND cp.is_active
        LEFT JOIN LATERAL (
            SELECT content FROM messages m
            WHERE m.chat_id = c.id AND m.type <> 'SYSTEM'
            ORDER BY m.sent_at DESC, m.id DESC
            LIMIT 1
        ) lm ON TRUE
        WHERE c.is_active
        ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC
        LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		var c Chat
		err := rows.Scan(
			&c.ID, &c.ParticipantKey, &c.RelatedListingID, &c.IsActive,
			&c.LastMessageAt, &c.FirstContactNotificationSent,
			&c.CreatedAt, &c.UpdatedAt,
			&c.UnreadCount, &c.LastMessagePreview,
		)
		if err != nil {
			return nil, err
		}
		chats = append(chats, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range chats {
		c.Participants, err = r.getParticipants(ctx, c.ID)
		if err != nil {
			return nil, err
		}
	}
	return chats, nil
}

// EditMessage updates content and stamps the edited pair. Only the
// sender may edit, and only TEXT messages.
func (r *postgresRepository) EditMessage(ctx context.Context, messageID, senderID int64, content string) (*Message, error) {
	var msg Message
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &msg, `
            SELECT id, chat_id, sender_id, content, type, local_id,
                   appointment_id, edited, edited_at, sent_at
            FROM messages WHERE id = $1
            FOR UPDATE`, messageID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		if msg.SenderID != senderID {
			return ErrForbidden
		}
		if msg.Type != MessageTypeText {
			return ErrInvalidMessage
		}

		return tx.QueryRowxContext(ctx, `
            UPDATE messages
            SET content = $1, edited = TRUE, edited_at = CURRENT_TIMESTAMP
            WHERE id = $2
            RETURNING content, edited, edited_at`,
			content, messageID,
		).Scan(&msg.Content, &msg.Edited, &msg.EditedAt)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *postgresRepository) TotalUnread(ctx context.Context, userID int64) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `
        SELECT COALESCE(SUM(unread_count), 0)
        FROM chat_participants
        WHERE user_id = $1 AND is_active`, userID)
	return total, err
}
