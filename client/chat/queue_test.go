// client/chat/queue_test.go

package chatclient

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// sendRecorder is a scriptable SendFunc that counts attempts per item.
type sendRecorder struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(msg QueuedMessage, attempt int) (*ServerMessage, error)
}

func newSendRecorder(respond func(msg QueuedMessage, attempt int) (*ServerMessage, error)) *sendRecorder {
	return &sendRecorder{calls: make(map[string]int), respond: respond}
}

func (r *sendRecorder) send(ctx context.Context, msg QueuedMessage) (*ServerMessage, error) {
	r.mu.Lock()
	r.calls[msg.LocalID]++
	attempt := r.calls[msg.LocalID]
	respond := r.respond
	r.mu.Unlock()
	return respond(msg, attempt)
}

func (r *sendRecorder) count(localID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[localID]
}

func okResponse(msg QueuedMessage, attempt int) (*ServerMessage, error) {
	return &ServerMessage{ID: 100, ChatID: msg.ChatID, Content: msg.Content, LocalID: msg.LocalID, SentAt: time.Now()}, nil
}

func testOptions() Options {
	return Options{
		BatchSize:  10,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Rand:       rand.New(rand.NewSource(1)),
	}
}

func collectEvents(t *testing.T, q *SendQueue) (<-chan Event, func()) {
	t.Helper()
	ch := make(chan Event, 16)
	dispose := q.Subscribe(func(evt Event) { ch <- evt })
	return ch, dispose
}

func waitForEvent(t *testing.T, ch <-chan Event, kind string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestEnqueueDeliversAndDrains(t *testing.T) {
	recorder := newSendRecorder(okResponse)
	q, err := NewSendQueue(NewMemoryStorage(), recorder.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	events, dispose := collectEvents(t, q)
	defer dispose()

	localID, err := q.Enqueue(7, "Hei!", "TEXT")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitForEvent(t, events, EventMessageQueued)
	evt := waitForEvent(t, events, EventMessageSent)
	if evt.Item.LocalID != localID {
		t.Errorf("sent event for %q, want %q", evt.Item.LocalID, localID)
	}
	if evt.ServerMessage == nil || evt.ServerMessage.LocalID != localID {
		t.Error("sent event missing the server message")
	}

	if stats := q.Stats(); stats.Total != 0 {
		t.Errorf("queue not drained after delivery: %+v", stats)
	}
	if got := recorder.count(localID); got != 1 {
		t.Errorf("send called %d times, want 1", got)
	}
}

func TestTransientFailureRetriesUntilSuccess(t *testing.T) {
	recorder := newSendRecorder(func(msg QueuedMessage, attempt int) (*ServerMessage, error) {
		if attempt < 3 {
			return nil, errors.New("connection refused")
		}
		return okResponse(msg, attempt)
	})
	q, err := NewSendQueue(NewMemoryStorage(), recorder.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	events, dispose := collectEvents(t, q)
	defer dispose()

	localID, _ := q.Enqueue(7, "Hei!", "TEXT")
	waitForEvent(t, events, EventMessageSent)

	if got := recorder.count(localID); got != 3 {
		t.Errorf("send called %d times, want 3", got)
	}
}

func TestTerminalFailureDoesNotRetry(t *testing.T) {
	recorder := newSendRecorder(func(msg QueuedMessage, attempt int) (*ServerMessage, error) {
		return nil, Terminal("content rejected")
	})
	q, err := NewSendQueue(NewMemoryStorage(), recorder.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	events, dispose := collectEvents(t, q)
	defer dispose()

	localID, _ := q.Enqueue(7, "Hei!", "TEXT")
	evt := waitForEvent(t, events, EventMessageFailed)
	if evt.Err != "content rejected" {
		t.Errorf("failure reason %q", evt.Err)
	}

	// Give any stray retry a chance to fire.
	time.Sleep(20 * time.Millisecond)
	if got := recorder.count(localID); got != 1 {
		t.Errorf("send called %d times after terminal failure, want 1", got)
	}
	if stats := q.Stats(); stats.Failed != 1 {
		t.Errorf("stats = %+v, want one failed item", stats)
	}
}

func TestRetryBudgetExhaustedMarksFailed(t *testing.T) {
	recorder := newSendRecorder(func(msg QueuedMessage, attempt int) (*ServerMessage, error) {
		return nil, errors.New("server unavailable")
	})
	q, err := NewSendQueue(NewMemoryStorage(), recorder.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	events, dispose := collectEvents(t, q)
	defer dispose()

	localID, _ := q.Enqueue(7, "Hei!", "TEXT")
	waitForEvent(t, events, EventMessageFailed)

	if got := recorder.count(localID); got != 3 {
		t.Errorf("send called %d times, want MaxRetries=3", got)
	}
}

func TestUserRetryRequeuesFailedItem(t *testing.T) {
	var succeed bool
	var mu sync.Mutex
	recorder := newSendRecorder(func(msg QueuedMessage, attempt int) (*ServerMessage, error) {
		mu.Lock()
		ok := succeed
		mu.Unlock()
		if !ok {
			return nil, Terminal("rejected")
		}
		return okResponse(msg, attempt)
	})
	q, err := NewSendQueue(NewMemoryStorage(), recorder.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	events, dispose := collectEvents(t, q)
	defer dispose()

	localID, _ := q.Enqueue(7, "Hei!", "TEXT")
	waitForEvent(t, events, EventMessageFailed)

	mu.Lock()
	succeed = true
	mu.Unlock()

	if err := q.Retry(localID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	waitForEvent(t, events, EventMessageSent)

	if err := q.Retry(localID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Retry on delivered item: got %v, want ErrNotFailed", err)
	}
}

func TestCrashRecoveryResetsSendingItems(t *testing.T) {
	dir := t.TempDir()
	storage := NewFileStorage(dir)

	// Simulate a process that died mid-send.
	err := storage.Save([]QueuedMessage{
		{LocalID: "interrupted", ChatID: 1, Content: "Hei", Type: "TEXT", Status: StatusSending, EnqueuedAt: time.Now()},
		{LocalID: "delivered", ChatID: 1, Content: "old", Type: "TEXT", Status: StatusSent, EnqueuedAt: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}

	recorder := newSendRecorder(okResponse)
	q, err := NewSendQueue(storage, recorder.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}

	pending := q.Pending(0)
	if len(pending) != 1 {
		t.Fatalf("restored %d items, want 1 (sent items dropped)", len(pending))
	}
	if pending[0].Status != StatusPending {
		t.Errorf("restored status %q, want pending", pending[0].Status)
	}

	events, dispose := collectEvents(t, q)
	defer dispose()
	q.ProcessOnce(context.Background())
	waitForEvent(t, events, EventMessageSent)

	if got := recorder.count("interrupted"); got != 1 {
		t.Errorf("interrupted item sent %d times, want 1", got)
	}
}

func TestQueuePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	blocked := newSendRecorder(func(msg QueuedMessage, attempt int) (*ServerMessage, error) {
		return nil, errors.New("offline")
	})
	q1, err := NewSendQueue(NewFileStorage(dir), blocked.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	events, dispose := collectEvents(t, q1)
	localID, _ := q1.Enqueue(3, "Hei fra toget", "TEXT")
	waitForEvent(t, events, EventMessageFailed)
	dispose()

	// New process, network back.
	recorder := newSendRecorder(okResponse)
	q2, err := NewSendQueue(NewFileStorage(dir), recorder.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	restored := q2.Pending(3)
	if len(restored) != 1 || restored[0].LocalID != localID {
		t.Fatalf("restored items = %+v, want the undelivered message", restored)
	}
	if restored[0].Content != "Hei fra toget" {
		t.Errorf("restored content %q", restored[0].Content)
	}
}

func TestClearRemovesChatItems(t *testing.T) {
	gate := make(chan struct{})
	recorder := newSendRecorder(func(msg QueuedMessage, attempt int) (*ServerMessage, error) {
		<-gate
		return okResponse(msg, attempt)
	})
	q, err := NewSendQueue(NewMemoryStorage(), recorder.send, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	events, dispose := collectEvents(t, q)
	defer dispose()

	q.Enqueue(1, "a", "TEXT")
	q.Enqueue(2, "b", "TEXT")
	waitForEvent(t, events, EventMessageQueued)
	waitForEvent(t, events, EventMessageQueued)

	if err := q.Clear(1); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	close(gate)

	waitForEvent(t, events, EventMessageSent) // chat 2 still delivers

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case evt := <-events:
			if evt.Kind == EventMessageSent && evt.Item.ChatID == 1 {
				t.Fatal("cleared item still reported as sent")
			}
		case <-deadline:
			if remaining := q.Pending(1); len(remaining) != 0 {
				t.Errorf("chat 1 still has %d queued items", len(remaining))
			}
			return
		}
	}
}

func TestRetryTimerTracksEarliestPendingItem(t *testing.T) {
	store := NewMemoryStorage()
	now := time.Now()
	// "worn" carries a high retry count, so its next backoff lands far
	// out; "fresh" retries almost immediately.
	seed := []QueuedMessage{
		{LocalID: "fresh", ChatID: 1, Content: "a", Type: "TEXT", EnqueuedAt: now.Add(-2 * time.Second), Status: StatusPending},
		{LocalID: "worn", ChatID: 1, Content: "b", Type: "TEXT", EnqueuedAt: now.Add(-time.Second), Status: StatusPending, RetryCount: 5},
	}
	if err := store.Save(seed); err != nil {
		t.Fatal(err)
	}

	recorder := newSendRecorder(func(msg QueuedMessage, attempt int) (*ServerMessage, error) {
		if msg.LocalID == "worn" || attempt == 1 {
			return nil, errors.New("connection refused")
		}
		return okResponse(msg, attempt)
	})

	opts := Options{
		BatchSize:  10,
		MaxRetries: 10,
		BaseDelay:  25 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Rand:       rand.New(rand.NewSource(1)),
	}
	q, err := NewSendQueue(store, recorder.send, opts)
	if err != nil {
		t.Fatal(err)
	}
	events, dispose := collectEvents(t, q)
	defer dispose()

	start := time.Now()
	q.ProcessOnce(context.Background())

	// Both items fail their first pass. The timer must fire for the
	// short backoff even though the long one was armed after it.
	evt := waitForEvent(t, events, EventMessageSent)
	if evt.Item.LocalID != "fresh" {
		t.Fatalf("sent event for %q, want fresh", evt.Item.LocalID)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("short-backoff retry took %v, starved by a later long backoff", elapsed)
	}
}
