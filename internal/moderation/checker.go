// internal/moderation/checker.go
// Content checks applied to every outgoing message

package moderation

import (
	"context"
	"strings"
	"unicode"

	"github.com/lektorhjelp/lektorhjelp-backend/internal/chat"
)

// Checker sanitizes message content before it is stored. It trims
// surrounding whitespace, strips control characters, and rejects
// messages that are empty after cleanup.
type Checker struct{}

func NewChecker() *Checker {
	return &Checker{}
}

func (c *Checker) CheckContentSafety(ctx context.Context, content string) (*chat.ContentCheck, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, content)
	cleaned = strings.TrimSpace(cleaned)

	return &chat.ContentCheck{
		Allowed:   cleaned != "",
		Sanitized: cleaned,
	}, nil
}
