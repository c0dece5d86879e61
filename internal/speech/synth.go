package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrSynthUnavailable marks transport or upstream failures from the
// synthesis service.
var ErrSynthUnavailable = errors.New("speech synthesis unavailable")

// Synthesizer turns assistant text into spoken audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// HTTPSynthesizer calls a hosted text-to-speech endpoint and caches the
// rendered audio per (text, lang) pair, so repeated replies replay without
// another round trip.
type HTTPSynthesizer struct {
	client      *resty.Client
	defaultLang string

	mu    sync.Mutex
	cache map[string][]byte
}

func NewHTTPSynthesizer(baseURL, defaultLang string, timeout time.Duration) *HTTPSynthesizer {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	return &HTTPSynthesizer{
		client:      client,
		defaultLang: defaultLang,
		cache:       make(map[string][]byte),
	}
}

func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty synthesis text")
	}
	if lang == "" {
		lang = s.defaultLang
	}

	key := lang + "\x00" + text
	s.mu.Lock()
	if audio, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return audio, nil
	}
	s.mu.Unlock()

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": text, "lang": lang}).
		Post("/synthesize")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthUnavailable, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrSynthUnavailable, resp.StatusCode())
	}
	audio := resp.Body()
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", ErrSynthUnavailable)
	}

	s.mu.Lock()
	s.cache[key] = audio
	s.mu.Unlock()
	return audio, nil
}

// CacheSize reports how many rendered utterances are resident.
func (s *HTTPSynthesizer) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
