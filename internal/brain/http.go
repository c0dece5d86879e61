package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vaani-ai/vaani/internal/reliability"
)

// HTTPAdapter forwards requests to a generic streaming completion endpoint
// speaking NDJSON or SSE, one text fragment per event.
type HTTPAdapter struct {
	url    string
	client *http.Client
}

func NewHTTPAdapter(url string, timeout time.Duration) *HTTPAdapter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPAdapter{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) StreamReply(ctx context.Context, req MessageRequest, onFragment FragmentHandler) (MessageResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	res, err := a.connect(ctx, payload)
	if err != nil {
		return MessageResponse{}, err
	}
	defer res.Body.Close()

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") || strings.Contains(ct, "application/json") {
		return a.consumeStreaming(res.Body, onFragment)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return MessageResponse{}, fmt.Errorf("read response: %w", err)
	}
	text := strings.TrimSpace(string(body))
	if text != "" && onFragment != nil {
		if err := onFragment(text); err != nil {
			return MessageResponse{}, err
		}
	}
	return MessageResponse{Text: text}, nil
}

const connectRetries = 2

// connect opens the upstream stream, retrying transient failures. Nothing
// has been emitted yet at this stage, so retrying is safe.
func (a *HTTPAdapter) connect(ctx context.Context, payload []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= connectRetries; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
			case <-time.After(wait):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		res, err := a.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
			continue
		}
		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return res, nil
		}

		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		lastErr = fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, res.StatusCode, string(body))
		if !reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (a *HTTPAdapter) consumeStreaming(body io.Reader, onFragment FragmentHandler) (MessageResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	emitted := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		fragment := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			fragment = extractText(obj)
		}
		if fragment == "" {
			continue
		}
		emitted = true
		out.WriteString(fragment)
		if onFragment != nil {
			if err := onFragment(fragment); err != nil {
				return MessageResponse{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if !emitted {
			return MessageResponse{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return MessageResponse{}, fmt.Errorf("stream read: %w", err)
	}

	return MessageResponse{Text: out.String()}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"content", "text", "delta", "output"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
