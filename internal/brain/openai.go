package brain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIAdapter streams completions from any OpenAI-compatible endpoint
// (Groq, OpenAI, local inference servers exposing the same API).
type OpenAIAdapter struct {
	client *openai.Client
	model  string
}

func NewOpenAIAdapter(apiKey, baseURL, model string) *OpenAIAdapter {
	clientCfg := openai.DefaultConfig(apiKey)
	if u := strings.TrimSpace(baseURL); u != "" {
		clientCfg.BaseURL = u
	}
	if strings.TrimSpace(model) == "" {
		model = "llama3-70b-8192"
	}
	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (a *OpenAIAdapter) StreamReply(ctx context.Context, req MessageRequest, onFragment FragmentHandler) (MessageResponse, error) {
	stream, err := a.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    a.model,
		Messages: convertMessages(req),
		Stream:   true,
	})
	if err != nil {
		return MessageResponse{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer stream.Close()

	var out strings.Builder
	emitted := false
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !emitted {
				return MessageResponse{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
			}
			return MessageResponse{}, fmt.Errorf("stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		emitted = true
		out.WriteString(delta)
		if onFragment != nil {
			if err := onFragment(delta); err != nil {
				return MessageResponse{}, err
			}
		}
	}

	return MessageResponse{Text: out.String()}, nil
}

func convertMessages(req MessageRequest) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.InputText,
	})
	return msgs
}
