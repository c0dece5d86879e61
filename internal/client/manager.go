// Package client is the Go SDK for the vaani backend: it keeps a registry
// of local conversation threads, streams replies fragment by fragment, and
// mirrors the server's commit rules in its local transcript.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vaani-ai/vaani/internal/audio"
)

var (
	// ErrSendInFlight is returned when a thread already has a stream open.
	ErrSendInFlight = errors.New("a reply is already streaming for this thread")
	// ErrUnknownThread is returned for thread ids the manager has not seen.
	ErrUnknownThread = errors.New("unknown thread")
)

// Message is one committed line of a thread transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Thread is one local conversation. Its ID doubles as the backend session
// id, so resetting or streaming a thread always addresses the same server
// history.
type Thread struct {
	ID string

	mu       sync.Mutex
	messages []Message
	inFlight bool
}

// Messages returns a copy of the committed transcript.
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Thread) beginSend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inFlight {
		return ErrSendInFlight
	}
	t.inFlight = true
	return nil
}

func (t *Thread) endSend() {
	t.mu.Lock()
	t.inFlight = false
	t.mu.Unlock()
}

func (t *Thread) commit(userText, assistantText string) {
	t.mu.Lock()
	t.messages = append(t.messages,
		Message{Role: RoleUser, Content: userText},
		Message{Role: RoleAssistant, Content: assistantText},
	)
	t.mu.Unlock()
}

// Manager owns the thread registry and the HTTP transport.
type Manager struct {
	baseURL string
	httpc   *http.Client

	mu      sync.Mutex
	threads map[string]*Thread
	active  string
}

func NewManager(baseURL string, httpc *http.Client) *Manager {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
		threads: make(map[string]*Thread),
	}
}

// NewThread registers a fresh thread, resets its server-side history, and
// makes it the active thread. A reset failure is not fatal: a brand new
// uuid has no server history to clear.
func (m *Manager) NewThread(ctx context.Context) (*Thread, error) {
	t := &Thread{ID: uuid.NewString()}

	m.mu.Lock()
	m.threads[t.ID] = t
	m.active = t.ID
	m.mu.Unlock()

	_ = m.resetRemote(ctx, t.ID)
	return t, nil
}

// AdoptThread registers a thread under an existing session id without
// resetting it, for callers resuming a persisted session. It becomes the
// active thread when none is selected.
func (m *Manager) AdoptThread(id string) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		t = &Thread{ID: id}
		m.threads[id] = t
	}
	if m.active == "" {
		m.active = id
	}
	return t
}

// Select makes an existing thread the active one. It never touches server
// state; switching threads must not disturb an in-flight stream elsewhere.
func (m *Manager) Select(threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[threadID]; !ok {
		return ErrUnknownThread
	}
	m.active = threadID
	return nil
}

// Active returns the currently selected thread, or nil when none exists.
func (m *Manager) Active() *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threads[m.active]
}

// ThreadIDs lists registered thread ids in stable order.
func (m *Manager) ThreadIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) thread(threadID string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return nil, ErrUnknownThread
	}
	return t, nil
}

// Send streams one exchange on the thread. Fragments are delivered to
// onFragment as they arrive; the exchange is committed to the local
// transcript only after the stream finishes cleanly. One stream per thread
// at a time.
func (m *Manager) Send(ctx context.Context, threadID, text string, onFragment func(fragment string)) (string, error) {
	t, err := m.thread(threadID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty message")
	}
	if err := t.beginSend(); err != nil {
		return "", err
	}
	defer t.endSend()

	body, err := json.Marshal(map[string]string{"message": text, "session_id": t.ID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/stream", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("stream request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stream request: status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	reply, err := consumeFragments(resp.Body, onFragment)
	if err != nil {
		return "", err
	}

	t.commit(text, reply)
	return reply, nil
}

// consumeFragments reads NDJSON fragment lines until EOF and returns the
// concatenated reply.
func consumeFragments(r io.Reader, onFragment func(string)) (string, error) {
	var full strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var frag struct {
			Content string `json:"content"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &frag); err != nil {
			return "", fmt.Errorf("bad stream line %q: %w", line, err)
		}
		if frag.Error != "" {
			return "", fmt.Errorf("stream failed: %s", frag.Error)
		}
		if frag.Content == "" {
			continue
		}
		full.WriteString(frag.Content)
		if onFragment != nil {
			onFragment(frag.Content)
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return full.String(), nil
}

// SendAudio transcribes the clip and, when real speech came back, runs a
// normal Send with the transcript. Sentinel transcripts are returned to the
// caller for display but never forwarded to the assistant.
func (m *Manager) SendAudio(ctx context.Context, threadID string, clip []byte, filename string, onFragment func(fragment string)) (transcript, reply string, err error) {
	if _, err := m.thread(threadID); err != nil {
		return "", "", err
	}

	transcript, err = m.transcribeClip(ctx, clip, filename)
	if err != nil {
		return "", "", err
	}
	if !recognized(transcript) {
		return transcript, "", nil
	}

	reply, err = m.Send(ctx, threadID, transcript, onFragment)
	return transcript, reply, err
}

// SendPCM wraps raw mono 16-bit little-endian PCM in a WAV container and
// sends it like any other clip. Useful for callers that capture from a
// microphone and have no encoder of their own.
func (m *Manager) SendPCM(ctx context.Context, threadID string, pcm []byte, sampleRate int, onFragment func(fragment string)) (transcript, reply string, err error) {
	return m.SendAudio(ctx, threadID, audio.EncodeWAVPCM16LE(pcm, sampleRate), "clip.wav", onFragment)
}

func (m *Manager) transcribeClip(ctx context.Context, clip []byte, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(clip); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/transcribe/", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe request: status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var parsed struct {
		Transcription string `json:"transcription"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return parsed.Transcription, nil
}

// Speak fetches synthesized audio for the given text from the server.
// lang may be empty to use the server default.
func (m *Manager) Speak(ctx context.Context, text, lang string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{"text": text, "lang": lang})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech request: status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return io.ReadAll(resp.Body)
}

// Reset clears the thread on the server and locally. Safe to call twice.
func (m *Manager) Reset(ctx context.Context, threadID string) error {
	t, err := m.thread(threadID)
	if err != nil {
		return err
	}
	if err := m.resetRemote(ctx, threadID); err != nil {
		return err
	}
	t.mu.Lock()
	t.messages = nil
	t.mu.Unlock()
	return nil
}

func (m *Manager) resetRemote(ctx context.Context, threadID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/reset_conversation/"+threadID, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("reset request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reset request: status %d", resp.StatusCode)
	}
	return nil
}

// recognized reports whether a transcript carries real speech rather than
// a recognizer sentinel.
func recognized(transcript string) bool {
	s := strings.TrimSpace(transcript)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "Could not understand audio") {
		return false
	}
	if strings.HasPrefix(s, "Could not request results from") {
		return false
	}
	return true
}

func readErrorBody(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(raw))
}
