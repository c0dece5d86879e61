package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaani-ai/vaani/internal/brain"
	"github.com/vaani-ai/vaani/internal/chat"
	"github.com/vaani-ai/vaani/internal/config"
	"github.com/vaani-ai/vaani/internal/memory"
	"github.com/vaani-ai/vaani/internal/observability"
	"github.com/vaani-ai/vaani/internal/transcribe"
)

type fakePipeline struct {
	mu        sync.Mutex
	fragments []string
	err       error
	lastUser  string
	lastSess  string
}

func (p *fakePipeline) StreamReply(ctx context.Context, sessionID, userText string, sink chat.FragmentSink) (string, error) {
	p.mu.Lock()
	p.lastSess = sessionID
	p.lastUser = userText
	fragments := p.fragments
	failWith := p.err
	p.mu.Unlock()

	if failWith != nil {
		return "", failWith
	}
	var full strings.Builder
	for _, f := range fragments {
		if err := sink.WriteFragment(f); err != nil {
			return "", err
		}
		full.WriteString(f)
	}
	return full.String(), nil
}

func (p *fakePipeline) last() (sessionID, userText string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSess, p.lastUser
}

func (p *fakePipeline) script(fragments []string, err error) {
	p.mu.Lock()
	p.fragments = fragments
	p.err = err
	p.mu.Unlock()
}

type fakeTranscriber struct {
	result transcribe.Result
	err    error
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, rawAudio []byte, formatHint string) (transcribe.Result, error) {
	return t.result, t.err
}

func newTestServer(t *testing.T, pipeline Pipeline, transcriber Transcriber) (*Server, memory.Store) {
	t.Helper()
	store := memory.NewInMemoryStore(3, 0)
	metrics := observability.NewMetrics("httptest_" + strings.ReplaceAll(t.Name(), "/", "_"))
	cfg := config.Config{BrainMode: "mock"}
	return New(cfg, store, pipeline, transcriber, nil, metrics), store
}

func decodeNDJSON(t *testing.T, body []byte) []map[string]any {
	t.Helper()
	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(sc.Bytes(), &obj); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", sc.Text(), err)
		}
		lines = append(lines, obj)
	}
	return lines
}

func TestStreamEmitsFragmentLines(t *testing.T) {
	pipeline := &fakePipeline{fragments: []string{"नम", "स्ते"}}
	srv, _ := newTestServer(t, pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/stream",
		strings.NewReader(`{"message":"hello","session_id":"s1"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}
	lines := decodeNDJSON(t, rec.Body.Bytes())
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %v", len(lines), lines)
	}
	if lines[0]["content"] != "नम" || lines[1]["content"] != "स्ते" {
		t.Fatalf("fragments = %v", lines)
	}
	if sess, user := pipeline.last(); sess != "s1" || user != "hello" {
		t.Fatalf("pipeline saw session=%q user=%q", sess, user)
	}
}

func TestStreamMintsSessionIDWhenMissing(t *testing.T) {
	pipeline := &fakePipeline{fragments: []string{"hi"}}
	srv, _ := newTestServer(t, pipeline, nil)

	req := httptest.NewRequest(http.MethodPost, "/stream",
		strings.NewReader(`{"message":"hello"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	minted := rec.Header().Get("X-Session-Id")
	if minted == "" {
		t.Fatal("expected minted session id header")
	}
	if sess, _ := pipeline.last(); sess != minted {
		t.Fatalf("pipeline session %q != header %q", sess, minted)
	}
}

func TestStreamRejectsEmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t, &fakePipeline{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/stream",
		strings.NewReader(`{"message":"  ","session_id":"s1"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStreamUpstreamUnavailableIs502(t *testing.T) {
	srv, _ := newTestServer(t, &fakePipeline{err: brain.ErrUpstreamUnavailable}, nil)

	req := httptest.NewRequest(http.MethodPost, "/stream",
		strings.NewReader(`{"message":"hello","session_id":"s1"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error == "" {
		t.Fatal("expected error message in body")
	}
}

func TestResetIsIdempotent(t *testing.T) {
	srv, store := newTestServer(t, &fakePipeline{}, nil)
	ctx := context.Background()
	if err := store.Append(ctx, "s1", "u", "a"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/reset_conversation/s1", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("reset %d status = %d", i, rec.Code)
		}
	}

	history, err := store.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history not cleared: %+v", history)
	}
}

func multipartAudio(t *testing.T, filename, sessionID string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write([]byte("FAKEAUDIO"))
	if sessionID != "" {
		mw.WriteField("session_id", sessionID)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestTranscribeReturnsText(t *testing.T) {
	srv, _ := newTestServer(t, &fakePipeline{}, &fakeTranscriber{result: transcribe.OK("hello world")})

	body, ct := multipartAudio(t, "clip.webm", "")
	req := httptest.NewRequest(http.MethodPost, "/transcribe/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["transcription"] != "hello world" {
		t.Fatalf("transcription = %q", resp["transcription"])
	}
}

func TestTranscribeDegradedOutcomeIsStill200(t *testing.T) {
	srv, _ := newTestServer(t, &fakePipeline{}, &fakeTranscriber{result: transcribe.NotUnderstood()})

	body, ct := multipartAudio(t, "clip.wav", "")
	req := httptest.NewRequest(http.MethodPost, "/transcribe/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !strings.Contains(resp["transcription"], "Could not understand audio") {
		t.Fatalf("transcription = %q", resp["transcription"])
	}
}

func TestUploadFileRunsChatCycle(t *testing.T) {
	pipeline := &fakePipeline{fragments: []string{"sure", " thing"}}
	srv, _ := newTestServer(t, pipeline, &fakeTranscriber{result: transcribe.OK("book a slot")})

	body, ct := multipartAudio(t, "clip.webm", "s7")
	req := httptest.NewRequest(http.MethodPost, "/uploadfile/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	lines := decodeNDJSON(t, rec.Body.Bytes())
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %v", len(lines), lines)
	}
	if lines[0]["transcription"] != "book a slot" {
		t.Fatalf("first line = %v", lines[0])
	}
	if lines[1]["content"] != "sure" || lines[2]["content"] != " thing" {
		t.Fatalf("fragments = %v", lines[1:])
	}
	if sess, user := pipeline.last(); sess != "s7" || user != "book a slot" {
		t.Fatalf("pipeline saw session=%q user=%q", sess, user)
	}
}

func TestUploadFileEmitsErrorLineWhenStreamFails(t *testing.T) {
	pipeline := &fakePipeline{err: brain.ErrUpstreamUnavailable}
	srv, store := newTestServer(t, pipeline, &fakeTranscriber{result: transcribe.OK("hello")})

	body, ct := multipartAudio(t, "clip.webm", "s9")
	req := httptest.NewRequest(http.MethodPost, "/uploadfile/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	lines := decodeNDJSON(t, rec.Body.Bytes())
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %v", len(lines), lines)
	}
	if lines[0]["transcription"] != "hello" {
		t.Fatalf("first line = %v", lines[0])
	}
	if lines[1]["error"] != "assistant is unavailable" {
		t.Fatalf("terminal line = %v, want error object", lines[1])
	}

	history, err := store.History(context.Background(), "s9")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("failed exchange was committed: %+v", history)
	}
}

func TestUploadFileSkipsChatWhenNotRecognized(t *testing.T) {
	pipeline := &fakePipeline{fragments: []string{"should not run"}}
	srv, _ := newTestServer(t, pipeline, &fakeTranscriber{result: transcribe.TransportError(nil)})

	body, ct := multipartAudio(t, "clip.wav", "s7")
	req := httptest.NewRequest(http.MethodPost, "/uploadfile/", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	lines := decodeNDJSON(t, rec.Body.Bytes())
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %v", len(lines), lines)
	}
	if _, user := pipeline.last(); user != "" {
		t.Fatalf("pipeline ran with %q", user)
	}
}

func dialStreamWS(t *testing.T, srv *Server, sessionID string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream/ws"
	if sessionID != "" {
		wsURL += "?session_id=" + sessionID
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestStreamWSDeliversFragmentsThenDoneFrame(t *testing.T) {
	pipeline := &fakePipeline{fragments: []string{"नम", "स्ते"}}
	srv, _ := newTestServer(t, pipeline, nil)
	conn := dialStreamWS(t, srv, "ws1")

	if err := conn.WriteJSON(map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("write message: %v", err)
	}

	first := readWSFrame(t, conn)
	if first["content"] != "नम" {
		t.Fatalf("first frame = %v", first)
	}
	second := readWSFrame(t, conn)
	if second["content"] != "स्ते" {
		t.Fatalf("second frame = %v", second)
	}
	done := readWSFrame(t, conn)
	if done["done"] != true {
		t.Fatalf("terminal frame = %v, want done frame", done)
	}
	if sess, user := pipeline.last(); sess != "ws1" || user != "hello" {
		t.Fatalf("pipeline saw session=%q user=%q", sess, user)
	}
}

func TestStreamWSErrorFrameKeepsConnectionOpen(t *testing.T) {
	pipeline := &fakePipeline{err: brain.ErrUpstreamUnavailable}
	srv, store := newTestServer(t, pipeline, nil)
	conn := dialStreamWS(t, srv, "ws2")

	if err := conn.WriteJSON(map[string]string{"message": "first"}); err != nil {
		t.Fatalf("write message: %v", err)
	}
	frame := readWSFrame(t, conn)
	if frame["error"] == nil || frame["error"] == "" {
		t.Fatalf("frame = %v, want error frame", frame)
	}
	if frame["done"] != nil {
		t.Fatalf("failed exchange produced a done frame: %v", frame)
	}

	history, err := store.History(context.Background(), "ws2")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("failed exchange was committed: %+v", history)
	}

	// The loop keeps serving after a failed exchange.
	pipeline.script([]string{"ok"}, nil)
	if err := conn.WriteJSON(map[string]string{"message": "second"}); err != nil {
		t.Fatalf("write second message: %v", err)
	}
	if frame := readWSFrame(t, conn); frame["content"] != "ok" {
		t.Fatalf("recovery frame = %v", frame)
	}
	if frame := readWSFrame(t, conn); frame["done"] != true {
		t.Fatalf("recovery terminal frame = %v", frame)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, &fakePipeline{}, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}
