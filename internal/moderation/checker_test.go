// internal/moderation/checker_test.go

package moderation

import (
	"context"
	"testing"
)

func TestCheckerSanitizesContent(t *testing.T) {
	c := NewChecker()

	tests := []struct {
		name    string
		in      string
		allowed bool
		want    string
	}{
		{"plain text", "Hei, er du ledig?", true, "Hei, er du ledig?"},
		{"surrounding whitespace", "  Hei  ", true, "Hei"},
		{"only whitespace", "   \t  ", false, ""},
		{"empty", "", false, ""},
		{"control characters stripped", "Hei\x00\x07du", true, "Heidu"},
		{"newlines kept", "Hei\ndu", true, "Hei\ndu"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			check, err := c.CheckContentSafety(context.Background(), tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if check.Allowed != tc.allowed {
				t.Errorf("allowed = %v, want %v", check.Allowed, tc.allowed)
			}
			if check.Allowed && check.Sanitized != tc.want {
				t.Errorf("sanitized = %q, want %q", check.Sanitized, tc.want)
			}
		})
	}
}
