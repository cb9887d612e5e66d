// client/chat/reconcile.go

package chatclient

import "sort"

// RenderedMessage is one row of a chat timeline: either a committed
// server message or a locally queued one still awaiting delivery.
type RenderedMessage struct {
	LocalID string
	Server  *ServerMessage
	Queued  *QueuedMessage
	Pending bool
}

// Reconcile merges the server's message list with locally queued items
// into a single render order. A server message and a queued item with
// the same local id are the same message; the server copy wins and the
// local one is dropped. Unmatched queued items render after committed
// history, oldest enqueued first.
func Reconcile(local []QueuedMessage, server []*ServerMessage) []RenderedMessage {
	committed := make(map[string]bool, len(server))
	out := make([]RenderedMessage, 0, len(server)+len(local))

	sorted := make([]*ServerMessage, len(server))
	copy(sorted, server)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].SentAt.Equal(sorted[j].SentAt) {
			return sorted[i].SentAt.Before(sorted[j].SentAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	for _, msg := range sorted {
		if msg.LocalID != "" {
			committed[msg.LocalID] = true
		}
		out = append(out, RenderedMessage{LocalID: msg.LocalID, Server: msg})
	}

	queued := make([]QueuedMessage, len(local))
	copy(queued, local)
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].EnqueuedAt.Before(queued[j].EnqueuedAt)
	})
	for i := range queued {
		item := queued[i]
		if committed[item.LocalID] {
			continue
		}
		out = append(out, RenderedMessage{LocalID: item.LocalID, Queued: &queued[i], Pending: true})
	}

	return out
}
