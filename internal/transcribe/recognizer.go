package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vaani-ai/vaani/internal/reliability"
)

// Recognizer invokes the speech-recognition capability on a canonical WAV
// artifact and returns the recognized text. Empty text with a nil error
// means the audio was intelligible-format but not understood.
type Recognizer interface {
	Recognize(ctx context.Context, wavPath string) (string, error)
}

// HTTPRecognizer posts canonical WAV audio to a speech-recognition HTTP API
// as a multipart form, requesting multi-locale recognition.
type HTTPRecognizer struct {
	endpoint string
	apiKey   string
	language string
	client   *http.Client

	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewHTTPRecognizer(endpoint, apiKey, language string, timeout time.Duration) *HTTPRecognizer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if strings.TrimSpace(language) == "" {
		language = "hi-IN,en-US"
	}
	return &HTTPRecognizer{
		endpoint:    strings.TrimSpace(endpoint),
		apiKey:      strings.TrimSpace(apiKey),
		language:    language,
		client:      &http.Client{Timeout: timeout},
		maxRetries:  2,
		backoffBase: 300 * time.Millisecond,
		backoffCap:  3 * time.Second,
	}
}

func (r *HTTPRecognizer) Recognize(ctx context.Context, wavPath string) (string, error) {
	wav, err := os.ReadFile(wavPath)
	if err != nil {
		return "", fmt.Errorf("read canonical audio: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, r.backoffBase, r.backoffCap)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, retryable, err := r.doRequest(ctx, wav)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", lastErr
}

func (r *HTTPRecognizer) doRequest(ctx context.Context, wav []byte) (text string, retryable bool, err error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", false, err
	}
	if _, err := fw.Write(wav); err != nil {
		return "", false, err
	}
	_ = mw.WriteField("language", r.language)
	_ = mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, &body)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("recognition request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, fmt.Errorf("read recognition response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", reliability.IsRetryableHTTPStatus(resp.StatusCode),
			fmt.Errorf("recognition HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return "", false, fmt.Errorf("parse recognition response: %w", err)
	}
	return strings.TrimSpace(out.Text), false, nil
}
