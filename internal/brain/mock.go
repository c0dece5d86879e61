package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no provider is
// configured. Replies are emitted word by word so consumers exercise real
// multi-fragment streams.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) StreamReply(ctx context.Context, req MessageRequest, onFragment FragmentHandler) (MessageResponse, error) {
	select {
	case <-ctx.Done():
		return MessageResponse{}, ctx.Err()
	default:
	}

	text := buildMockReply(req)
	var out strings.Builder
	for i, word := range strings.Fields(text) {
		fragment := word
		if i > 0 {
			fragment = " " + word
		}
		out.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return MessageResponse{}, err
			}
		}
	}
	return MessageResponse{Text: out.String()}, nil
}

func buildMockReply(req MessageRequest) string {
	base := strings.TrimSpace(req.InputText)
	if base == "" {
		base = "I am listening."
	}

	// Quote the most recent user turn, not the assistant's own reply.
	var lastUser string
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == RoleUser {
			lastUser = strings.TrimSpace(req.History[i].Content)
			break
		}
	}
	if lastUser == "" {
		return fmt.Sprintf("I heard you: %s", base)
	}
	return fmt.Sprintf("I heard you: %s. Earlier you said: %s", base, lastUser)
}
