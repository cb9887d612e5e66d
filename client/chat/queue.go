// client/chat/queue.go

// Package chatclient is the client-resident half of message delivery:
// a durable send queue with retry and backoff, and the coordinator that
// bridges it to the server's append operation.
package chatclient

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Queue item states.
const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// QueuedMessage is an outgoing message that has not been acknowledged
// by the server. LocalID is stable across retries; the server collapses
// duplicate appends on it.
type QueuedMessage struct {
	LocalID       string     `json:"local_id"`
	ChatID        int64      `json:"chat_id"`
	Content       string     `json:"content"`
	Type          string     `json:"type"`
	AppointmentID *int64     `json:"appointment_id,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	RetryCount    int        `json:"retry_count"`
	LastRetryAt   *time.Time `json:"last_retry_at,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// SendFunc performs one delivery attempt and returns the authoritative
// server message. Wrap errors in TerminalError to stop retrying.
type SendFunc func(ctx context.Context, msg QueuedMessage) (*ServerMessage, error)

// Options tunes the queue. Zero values get defaults.
type Options struct {
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Rand is the jitter source. Inject a seeded source in tests;
	// nil gets a time-seeded one.
	Rand   *rand.Rand
	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// QueueStats is a point-in-time snapshot for UI badges and tests.
type QueueStats struct {
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}

// SendQueue durably stores unacknowledged outgoing messages and drives
// delivery with exponential backoff. One instance per client process,
// passed by reference; dependencies are injected.
type SendQueue struct {
	mu        sync.Mutex
	items     []*QueuedMessage
	storage   Storage
	send      SendFunc
	observers observerList
	opts      Options

	processing bool
	timer      *time.Timer
}

// NewSendQueue loads any persisted queue from storage. Items that were
// in flight when the previous process died come back as pending: the
// send might or might not have committed, and the idempotent LocalID
// makes re-attempting safe either way.
func NewSendQueue(storage Storage, send SendFunc, opts Options) (*SendQueue, error) {
	opts.setDefaults()

	items, err := storage.Load()
	if err != nil {
		return nil, err
	}
	restored := make([]*QueuedMessage, 0, len(items))
	for i := range items {
		item := items[i]
		if item.Status == StatusSending {
			item.Status = StatusPending
			item.NextAttemptAt = time.Time{}
		}
		if item.Status == StatusSent {
			continue
		}
		restored = append(restored, &item)
	}

	return &SendQueue{
		items:   restored,
		storage: storage,
		send:    send,
		opts:    opts,
	}, nil
}

// Enqueue appends a pending message, persists the queue, and triggers
// processing if idle. It never blocks on network I/O.
func (q *SendQueue) Enqueue(chatID int64, content, msgType string) (string, error) {
	item := &QueuedMessage{
		LocalID:    uuid.NewString(),
		ChatID:     chatID,
		Content:    content,
		Type:       msgType,
		EnqueuedAt: time.Now(),
		Status:     StatusPending,
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	err := q.persistLocked()
	snapshot := *item
	setQueueDepth(len(q.items))
	q.mu.Unlock()

	if err != nil {
		return "", err
	}

	q.observers.publish(Event{Kind: EventMessageQueued, Item: snapshot})
	go q.ProcessOnce(context.Background())
	return item.LocalID, nil
}

// ProcessOnce drains one batch of eligible items. Re-entrancy is
// prevented by the processing guard; a follow-up run is scheduled when
// eligible items remain after the batch.
func (q *SendQueue) ProcessOnce(ctx context.Context) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return
	}
	q.processing = true

	now := time.Now()
	batch := q.eligibleLocked(now)
	for _, item := range batch {
		item.Status = StatusSending
	}
	if len(batch) > 0 {
		if err := q.persistLocked(); err != nil {
			q.opts.Logger.Error("persist queue before send failed", zap.Error(err))
		}
	}
	q.mu.Unlock()

	for _, item := range batch {
		q.attempt(ctx, item)
	}

	q.mu.Lock()
	q.processing = false
	more := len(q.eligibleLocked(time.Now())) > 0
	if !more {
		// Items may still be waiting out a backoff; keep the timer
		// armed for the earliest of them.
		q.scheduleLocked()
	}
	q.mu.Unlock()

	if more {
		go q.ProcessOnce(ctx)
	}
}

// eligibleLocked returns up to BatchSize pending items whose retry
// delay has elapsed, oldest first. Failed items are excluded; they wait
// for a user-triggered Retry.
func (q *SendQueue) eligibleLocked(now time.Time) []*QueuedMessage {
	var eligible []*QueuedMessage
	for _, item := range q.items {
		if item.Status != StatusPending {
			continue
		}
		if item.NextAttemptAt.After(now) {
			continue
		}
		eligible = append(eligible, item)
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].EnqueuedAt.Before(eligible[j].EnqueuedAt)
	})
	if len(eligible) > q.opts.BatchSize {
		eligible = eligible[:q.opts.BatchSize]
	}
	return eligible
}

func (q *SendQueue) attempt(ctx context.Context, item *QueuedMessage) {
	serverMsg, err := q.send(ctx, *item)

	q.mu.Lock()
	// The item may have been cleared while in flight; the attempt
	// completed, but nobody wants its outcome anymore.
	current := q.findLocked(item.LocalID)
	if current == nil {
		q.mu.Unlock()
		return
	}

	if err == nil {
		q.removeLocked(item.LocalID)
		if perr := q.persistLocked(); perr != nil {
			q.opts.Logger.Error("persist queue after send failed", zap.Error(perr))
		}
		snapshot := *current
		setQueueDepth(len(q.items))
		q.mu.Unlock()
		recordAttempt("sent")
		q.observers.publish(Event{Kind: EventMessageSent, Item: snapshot, ServerMessage: serverMsg})
		return
	}

	if IsTerminal(err) {
		// Application-level rejection: no retry, surface the reason.
		current.Status = StatusFailed
		current.FailureReason = err.Error()
		q.finishFailureLocked(*current)
		return
	}

	current.RetryCount++
	now := time.Now()
	current.LastRetryAt = &now

	if current.RetryCount >= q.opts.MaxRetries {
		current.Status = StatusFailed
		current.FailureReason = err.Error()
		q.finishFailureLocked(*current)
		return
	}

	delay := backoffDelay(q.opts.BaseDelay, q.opts.MaxDelay, current.RetryCount, q.opts.Rand)
	current.Status = StatusPending
	current.NextAttemptAt = now.Add(delay)
	if perr := q.persistLocked(); perr != nil {
		q.opts.Logger.Error("persist queue after retry failed", zap.Error(perr))
	}
	q.scheduleLocked()
	recordAttempt("retry")
	q.opts.Logger.Debug("send attempt failed, retrying",
		zap.String("local_id", current.LocalID),
		zap.Int("retry_count", current.RetryCount),
		zap.Duration("delay", delay),
		zap.Error(err))
	q.mu.Unlock()
}

// finishFailureLocked persists a terminal failure and publishes the
// failed event. Unlocks the mutex.
func (q *SendQueue) finishFailureLocked(snapshot QueuedMessage) {
	if perr := q.persistLocked(); perr != nil {
		q.opts.Logger.Error("persist queue after failure failed", zap.Error(perr))
	}
	q.mu.Unlock()
	recordAttempt("failed")
	q.opts.Logger.Warn("message delivery failed",
		zap.String("local_id", snapshot.LocalID),
		zap.String("reason", snapshot.FailureReason))
	q.observers.publish(Event{Kind: EventMessageFailed, Item: snapshot, Err: snapshot.FailureReason})
}

// scheduleLocked arms the retry timer for the earliest NextAttemptAt
// among pending items, so a long backoff scheduled after a short one
// never pushes the short one back.
func (q *SendQueue) scheduleLocked() {
	var next time.Time
	for _, item := range q.items {
		if item.Status != StatusPending || item.NextAttemptAt.IsZero() {
			continue
		}
		if next.IsZero() || item.NextAttemptAt.Before(next) {
			next = item.NextAttemptAt
		}
	}
	if next.IsZero() {
		return
	}
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(delay, func() {
		q.ProcessOnce(context.Background())
	})
}

// Retry re-queues a failed item immediately with a fresh retry budget.
func (q *SendQueue) Retry(localID string) error {
	q.mu.Lock()
	item := q.findLocked(localID)
	if item == nil || item.Status != StatusFailed {
		q.mu.Unlock()
		return ErrNotFailed
	}
	item.Status = StatusPending
	item.RetryCount = 0
	item.NextAttemptAt = time.Time{}
	item.FailureReason = ""
	err := q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		return err
	}
	go q.ProcessOnce(context.Background())
	return nil
}

// Pending returns queue items for a chat (all chats when chatID is 0).
func (q *SendQueue) Pending(chatID int64) []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []QueuedMessage
	for _, item := range q.items {
		if chatID != 0 && item.ChatID != chatID {
			continue
		}
		out = append(out, *item)
	}
	return out
}

// Stats returns a snapshot of queue state.
func (q *SendQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s QueueStats
	for _, item := range q.items {
		switch item.Status {
		case StatusPending:
			s.Pending++
		case StatusSending:
			s.Sending++
		case StatusFailed:
			s.Failed++
		}
	}
	s.Total = len(q.items)
	return s
}

// Clear drops queued items for a chat, or everything when chatID is 0.
// Items currently in flight finish their attempt but their outcome is
// discarded. Committed server messages are unaffected.
func (q *SendQueue) Clear(chatID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, item := range q.items {
		if chatID != 0 && item.ChatID != chatID {
			kept = append(kept, item)
		}
	}
	q.items = kept
	setQueueDepth(len(q.items))
	return q.persistLocked()
}

// Subscribe registers an observer for queue lifecycle events and
// returns its disposer.
func (q *SendQueue) Subscribe(fn func(Event)) func() {
	return q.observers.subscribe(fn)
}

func (q *SendQueue) findLocked(localID string) *QueuedMessage {
	for _, item := range q.items {
		if item.LocalID == localID {
			return item
		}
	}
	return nil
}

func (q *SendQueue) removeLocked(localID string) {
	for i, item := range q.items {
		if item.LocalID == localID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *SendQueue) persistLocked() error {
	snapshot := make([]QueuedMessage, len(q.items))
	for i, item := range q.items {
		snapshot[i] = *item
	}
	return q.storage.Save(snapshot)
}
