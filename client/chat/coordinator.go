// client/chat/coordinator.go

package chatclient

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Coordinator builds the queue's send function on top of a ChatAPI and
// classifies failures: transport errors and server-side outages are
// retryable, application rejections are terminal.
type Coordinator struct {
	api    ChatAPI
	logger *zap.Logger
}

func NewCoordinator(api ChatAPI, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{api: api, logger: logger}
}

// SendFunc returns the delivery function to wire into a SendQueue.
func (c *Coordinator) SendFunc() SendFunc {
	return func(ctx context.Context, msg QueuedMessage) (*ServerMessage, error) {
		serverMsg, err := c.api.AppendMessage(ctx, msg.ChatID, &AppendMessageRequest{
			Content:       msg.Content,
			Type:          msg.Type,
			LocalID:       msg.LocalID,
			AppointmentID: msg.AppointmentID,
		})
		if err != nil {
			return nil, c.classify(msg, err)
		}
		return serverMsg, nil
	}
}

// classify decides whether a failed attempt is worth retrying. The
// server replays duplicate appends by local id, so retrying after an
// ambiguous failure cannot double-deliver.
func (c *Coordinator) classify(msg QueuedMessage, err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Transport failure: connection refused, timeout, DNS. The
		// request may or may not have reached the server.
		return err
	}

	switch {
	case apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode >= 500:
		return err
	default:
		c.logger.Warn("message rejected by server",
			zap.String("local_id", msg.LocalID),
			zap.Int("status", apiErr.StatusCode),
			zap.String("message", apiErr.Message))
		return Terminal(apiErr.Message)
	}
}
