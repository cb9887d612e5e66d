// internal/chat/handlers_test.go

package chat

import (
	"net/http/httptest"
	"testing"
)

func TestParseListQueryClampsLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"absent falls back to default", "", 20},
		{"zero falls back to default", "limit=0", 20},
		{"negative falls back to default", "limit=-5", 20},
		{"within range kept", "limit=30", 30},
		{"above max clamped", "limit=1000000", 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/chats/1/messages?"+tc.query, nil)
			q, err := parseListQuery(r, 20, 100)
			if err != nil {
				t.Fatalf("parseListQuery: %v", err)
			}
			if q.Limit != tc.want {
				t.Errorf("limit = %d, want %d", q.Limit, tc.want)
			}
		})
	}
}

func TestParseListQueryRejectsBadCursor(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/chats/1/messages?after=yesterday", nil)
	if _, err := parseListQuery(r, 20, 100); err == nil {
		t.Fatal("expected an error for a non-RFC3339 cursor")
	}
}

func TestClampLimit(t *testing.T) {
	if got := clampLimit(0, 20, 100); got != 20 {
		t.Errorf("clampLimit(0) = %d, want default", got)
	}
	if got := clampLimit(250, 20, 100); got != 100 {
		t.Errorf("clampLimit(250) = %d, want max", got)
	}
	if got := clampLimit(7, 20, 100); got != 7 {
		t.Errorf("clampLimit(7) = %d, want 7", got)
	}
}
