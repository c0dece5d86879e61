package brain

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestHTTPAdapterConsumeNDJSON(t *testing.T) {
	a := NewHTTPAdapter("http://example.test", 0)
	stream := strings.NewReader(strings.Join([]string{
		`{"content":"Hel"}`,
		`{"content":"lo"}`,
	}, "\n"))

	var fragments []string
	resp, err := a.consumeStreaming(stream, func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if resp.Text != "Hello" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "Hello")
	}
	if strings.Join(fragments, "") != "Hello" {
		t.Fatalf("fragments = %q, want %q", strings.Join(fragments, ""), "Hello")
	}
}

func TestHTTPAdapterConsumeSSE(t *testing.T) {
	a := NewHTTPAdapter("http://example.test", 0)
	stream := strings.NewReader(strings.Join([]string{
		"data: {\"content\":\"नम\"}",
		"",
		"data: {\"content\":\"स्ते\"}",
		"",
	}, "\n"))

	resp, err := a.consumeStreaming(stream, nil)
	if err != nil {
		t.Fatalf("consumeStreaming() error = %v", err)
	}
	if resp.Text != "नमस्ते" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "नमस्ते")
	}
}

func TestHTTPAdapterBadStatusIsUpstreamUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()

	a := NewHTTPAdapter(ts.URL, 0)
	_, err := a.StreamReply(context.Background(), MessageRequest{InputText: "hi"}, nil)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("StreamReply() error = %v, want ErrUpstreamUnavailable", err)
	}
}

func TestHTTPAdapterFragmentHandlerErrorStopsStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"content\":\"a\"}\n{\"content\":\"b\"}\n"))
	}))
	defer ts.Close()

	boom := errors.New("sink closed")
	a := NewHTTPAdapter(ts.URL, 0)
	_, err := a.StreamReply(context.Background(), MessageRequest{InputText: "hi"}, func(string) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("StreamReply() error = %v, want sink error", err)
	}
}

func TestHTTPAdapterRetriesTransientStatusBeforeStreaming(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{\"content\":\"ok\"}\n"))
	}))
	defer ts.Close()

	a := NewHTTPAdapter(ts.URL, 0)
	resp, err := a.StreamReply(context.Background(), MessageRequest{InputText: "hi"}, nil)
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("resp.Text = %q, want %q", resp.Text, "ok")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("upstream calls = %d, want 2", got)
	}
}

func TestHTTPAdapterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer ts.Close()

	a := NewHTTPAdapter(ts.URL, 0)
	if _, err := a.StreamReply(context.Background(), MessageRequest{InputText: "hi"}, nil); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("StreamReply() error = %v, want ErrUpstreamUnavailable", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestNewAdapterModes(t *testing.T) {
	if _, err := NewAdapter(Config{Mode: "http"}); err == nil {
		t.Fatalf("http mode without URL should fail")
	}
	if _, err := NewAdapter(Config{Mode: "openai"}); err == nil {
		t.Fatalf("openai mode without key should fail")
	}
	if _, err := NewAdapter(Config{Mode: "banana"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
	a, err := NewAdapter(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("auto mode error = %v", err)
	}
	if _, ok := a.(*MockAdapter); !ok {
		t.Fatalf("auto mode with no provider config should fall back to mock, got %T", a)
	}
}

func TestMockAdapterQuotesLastUserTurn(t *testing.T) {
	a := NewMockAdapter()
	resp, err := a.StreamReply(context.Background(), MessageRequest{
		History: []Turn{
			{Role: RoleUser, Content: "what is GST"},
			{Role: RoleAssistant, Content: "GST is a tax"},
		},
		InputText: "and TDS?",
	}, nil)
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if !strings.Contains(resp.Text, "Earlier you said: what is GST") {
		t.Fatalf("resp.Text = %q, want last user turn quoted", resp.Text)
	}
	if strings.Contains(resp.Text, "GST is a tax") {
		t.Fatalf("resp.Text = %q quotes the assistant turn", resp.Text)
	}
}

func TestMockAdapterStreamsOrderedFragments(t *testing.T) {
	a := NewMockAdapter()
	var fragments []string
	resp, err := a.StreamReply(context.Background(), MessageRequest{InputText: "hello there"}, func(f string) error {
		fragments = append(fragments, f)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamReply() error = %v", err)
	}
	if len(fragments) < 2 {
		t.Fatalf("mock should emit multiple fragments, got %d", len(fragments))
	}
	if strings.Join(fragments, "") != resp.Text {
		t.Fatalf("concatenated fragments %q != final text %q", strings.Join(fragments, ""), resp.Text)
	}
}
