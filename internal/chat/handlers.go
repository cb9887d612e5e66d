// internal/chat/handlers.go

package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/common/utils"
)

type Handler struct {
	service          Service
	pageLimitDefault int
	pageLimitMax     int
}

func NewHandler(service Service, pageLimitDefault, pageLimitMax int) *Handler {
	if pageLimitDefault <= 0 {
		pageLimitDefault = 20
	}
	if pageLimitMax < pageLimitDefault {
		pageLimitMax = pageLimitDefault
	}
	return &Handler{
		service:          service,
		pageLimitDefault: pageLimitDefault,
		pageLimitMax:     pageLimitMax,
	}
}

// clampLimit keeps a requested page size inside [1, max], falling back
// to def when the client sent nothing usable.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// CreateChat finds or creates the chat for a listing
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	chat, created, err := h.service.FindOrCreateChat(r.Context(), userID, &req)
	if err != nil {
		respondChatError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.SuccessResponse(w, chat, status)
}

// ListChats returns the user's chats with unread counts
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit = clampLimit(limit, h.pageLimitDefault, h.pageLimitMax)

	chats, err := h.service.ListChats(r.Context(), userID, limit, offset)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.SuccessResponse(w, chats, http.StatusOK)
}

// SendMessage appends a message to a chat
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	chatID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.ErrorResponse(w, "Invalid chat ID", http.StatusBadRequest)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	message, err := h.service.SendMessage(r.Context(), userID, chatID, &req)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.SuccessResponse(w, message, http.StatusCreated)
}

// ListMessages returns chat messages with cursor pagination
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	chatID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.ErrorResponse(w, "Invalid chat ID", http.StatusBadRequest)
		return
	}

	q, err := parseListQuery(r, h.pageLimitDefault, h.pageLimitMax)
	if err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	messages, err := h.service.ListMessages(r.Context(), chatID, userID, q)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.SuccessResponse(w, messages, http.StatusOK)
}

// MarkRead resets the caller's unread count for a chat
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	chatID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.ErrorResponse(w, "Invalid chat ID", http.StatusBadRequest)
		return
	}

	if err := h.service.MarkRead(r.Context(), chatID, userID); err != nil {
		respondChatError(w, err)
		return
	}

	utils.MessageResponse(w, "marked read", http.StatusOK)
}

// LeaveChat removes the caller from a chat
func (h *Handler) LeaveChat(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	chatID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.ErrorResponse(w, "Invalid chat ID", http.StatusBadRequest)
		return
	}

	if err := h.service.LeaveChat(r.Context(), chatID, userID); err != nil {
		respondChatError(w, err)
		return
	}

	utils.MessageResponse(w, "left chat", http.StatusOK)
}

// EditMessage updates a message's content
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	messageID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.ErrorResponse(w, "Invalid message ID", http.StatusBadRequest)
		return
	}

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	message, err := h.service.EditMessage(r.Context(), messageID, userID, req.Content)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.SuccessResponse(w, message, http.StatusOK)
}

// GetPermissions returns what the caller may do in a chat
func (h *Handler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	chatID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		utils.ErrorResponse(w, "Invalid chat ID", http.StatusBadRequest)
		return
	}

	perms, err := h.service.Permissions(r.Context(), chatID, userID)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.SuccessResponse(w, perms, http.StatusOK)
}

// GetUnreadTotal returns the caller's unread badge count
func (h *Handler) GetUnreadTotal(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("userID").(int64)

	total, err := h.service.TotalUnread(r.Context(), userID)
	if err != nil {
		respondChatError(w, err)
		return
	}

	utils.SuccessResponse(w, map[string]int{"unread": total}, http.StatusOK)
}

// parseListQuery parses the pagination/filter contract. after/before
// are ISO timestamps on sent_at; either one disables offset paging.
// The page size is clamped so a single request cannot pull a chat's
// entire history.
func parseListQuery(r *http.Request, defaultLimit, maxLimit int) (ListMessagesQuery, error) {
	var q ListMessagesQuery

	query := r.URL.Query()

	if raw := query.Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, errors.New("invalid 'after' cursor, want RFC 3339 timestamp")
		}
		q.After = &t
	}
	if raw := query.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, errors.New("invalid 'before' cursor, want RFC 3339 timestamp")
		}
		q.Before = &t
	}

	q.Page, _ = strconv.Atoi(query.Get("page"))
	q.Limit, _ = strconv.Atoi(query.Get("limit"))
	q.Limit = clampLimit(q.Limit, defaultLimit, maxLimit)
	q.Search = query.Get("search")
	q.Type = query.Get("type")

	return q, nil
}

// respondChatError maps typed chat errors onto HTTP statuses.
func respondChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrChatNotFound), errors.Is(err, ErrMessageNotFound):
		utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrForbidden), errors.Is(err, ErrUserNotEligible):
		utils.ErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrChatInactive), errors.Is(err, ErrContentRejected), errors.Is(err, ErrInvalidMessage):
		utils.ErrorResponse(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		utils.ErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}
