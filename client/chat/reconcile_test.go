// client/chat/reconcile_test.go

package chatclient

import (
	"testing"
	"time"
)

func TestReconcileMergesServerAndQueued(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	server := []*ServerMessage{
		{ID: 2, LocalID: "b", Content: "second", SentAt: base.Add(time.Minute)},
		{ID: 1, LocalID: "a", Content: "first", SentAt: base},
	}
	local := []QueuedMessage{
		{LocalID: "c", Content: "still queued", EnqueuedAt: base.Add(3 * time.Minute), Status: StatusPending},
		{LocalID: "b", Content: "second", EnqueuedAt: base.Add(time.Minute), Status: StatusSending},
	}

	out := Reconcile(local, server)
	if len(out) != 3 {
		t.Fatalf("got %d rows, want 3 (queued duplicate of %q dropped)", len(out), "b")
	}

	wantOrder := []string{"a", "b", "c"}
	for i, want := range wantOrder {
		if out[i].LocalID != want {
			t.Errorf("row %d = %q, want %q", i, out[i].LocalID, want)
		}
	}
	if out[0].Pending || out[1].Pending {
		t.Error("committed rows flagged pending")
	}
	if !out[2].Pending || out[2].Queued == nil {
		t.Error("queued row must be pending with its queue item attached")
	}
	if out[1].Server == nil || out[1].Server.ID != 2 {
		t.Error("server copy must win over the queued duplicate")
	}
}

func TestReconcileOrdersServerByTimeThenID(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := []*ServerMessage{
		{ID: 5, SentAt: base},
		{ID: 3, SentAt: base},
		{ID: 4, SentAt: base.Add(-time.Second)},
	}

	out := Reconcile(nil, server)
	got := []int64{out[0].Server.ID, out[1].Server.ID, out[2].Server.ID}
	want := []int64{4, 3, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestReconcileEmptyInputs(t *testing.T) {
	if out := Reconcile(nil, nil); len(out) != 0 {
		t.Errorf("empty inputs produced %d rows", len(out))
	}
}
