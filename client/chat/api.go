// client/chat/api.go

package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ServerMessage mirrors the server's message resource as it appears on
// the wire.
type ServerMessage struct {
	ID            int64      `json:"id"`
	ChatID        int64      `json:"chat_id"`
	SenderID      int64      `json:"sender_id"`
	Content       string     `json:"content"`
	Type          string     `json:"type"`
	LocalID       string     `json:"local_id,omitempty"`
	AppointmentID *int64     `json:"appointment_id,omitempty"`
	Edited        bool       `json:"edited"`
	EditedAt      *time.Time `json:"edited_at,omitempty"`
	SentAt        time.Time  `json:"sent_at"`
}

// AppendMessageRequest is the body for appending a message to a chat.
type AppendMessageRequest struct {
	Content       string `json:"content"`
	Type          string `json:"type"`
	LocalID       string `json:"local_id"`
	AppointmentID *int64 `json:"appointment_id,omitempty"`
}

// ChatAPI is the server surface the coordinator needs. HTTPChatAPI is
// the real implementation; tests substitute fakes.
type ChatAPI interface {
	AppendMessage(ctx context.Context, chatID int64, req *AppendMessageRequest) (*ServerMessage, error)
	ListMessages(ctx context.Context, chatID int64, after *time.Time, limit int) ([]*ServerMessage, error)
}

// APIError is a non-2xx response the server produced deliberately.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// apiEnvelope matches the server's response wrapper.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// HTTPChatAPI talks to the chat endpoints with a bearer token.
type HTTPChatAPI struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPChatAPI(baseURL, token string) *HTTPChatAPI {
	return &HTTPChatAPI{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *HTTPChatAPI) AppendMessage(ctx context.Context, chatID int64, req *AppendMessageRequest) (*ServerMessage, error) {
	var msg ServerMessage
	path := fmt.Sprintf("/api/v1/chats/%d/messages", chatID)
	if err := a.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *HTTPChatAPI) ListMessages(ctx context.Context, chatID int64, after *time.Time, limit int) ([]*ServerMessage, error) {
	q := url.Values{}
	if after != nil {
		q.Set("after", after.Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := fmt.Sprintf("/api/v1/chats/%d/messages", chatID)
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var msgs []*ServerMessage
	if err := a.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (a *HTTPChatAPI) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode >= 400 || !envelope.Success {
		msg := envelope.Error
		if msg == "" {
			msg = envelope.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
