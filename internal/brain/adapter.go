package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Turn is one role-tagged line of conversation context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessageRequest is the normalized request sent to the language model.
// History holds the bounded window oldest first; InputText is the new turn.
type MessageRequest struct {
	SessionID string `json:"session_id"`
	System    string `json:"system,omitempty"`
	History   []Turn `json:"history,omitempty"`
	InputText string `json:"input_text"`
}

// MessageResponse is the final response after streaming fragments.
type MessageResponse struct {
	Text string `json:"text"`
}

// FragmentHandler receives streaming text fragments in provider order.
// Returning an error stops the stream at the next yield point.
type FragmentHandler func(fragment string) error

// ErrUpstreamUnavailable marks failures before the first fragment was
// emitted; callers may fail the whole request cleanly.
var ErrUpstreamUnavailable = errors.New("brain upstream unavailable")

// Adapter bridges the chat pipeline with a hosted language model.
type Adapter interface {
	StreamReply(ctx context.Context, req MessageRequest, onFragment FragmentHandler) (MessageResponse, error)
}

// Config controls adapter construction.
type Config struct {
	Mode    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("brain API key is required for openai mode")
		}
		return NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, errors.New("brain base URL is required for http mode")
		}
		return NewHTTPAdapter(cfg.BaseURL, cfg.Timeout), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	if strings.TrimSpace(cfg.APIKey) != "" {
		return NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.Model)
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		return NewHTTPAdapter(cfg.BaseURL, cfg.Timeout)
	}
	return NewMockAdapter()
}
