package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/vaani-ai/vaani/internal/chat"
	"github.com/vaani-ai/vaani/internal/config"
	"github.com/vaani-ai/vaani/internal/memory"
	"github.com/vaani-ai/vaani/internal/observability"
	"github.com/vaani-ai/vaani/internal/speech"
	"github.com/vaani-ai/vaani/internal/transcribe"
)

// Pipeline runs one chat exchange, streaming fragments into the sink.
type Pipeline interface {
	StreamReply(ctx context.Context, sessionID, userText string, sink chat.FragmentSink) (string, error)
}

// Transcriber converts uploaded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, rawAudio []byte, formatHint string) (transcribe.Result, error)
}

type Server struct {
	cfg         config.Config
	store       memory.Store
	pipeline    Pipeline
	transcriber Transcriber
	synth       speech.Synthesizer
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, store memory.Store, pipeline Pipeline, transcriber Transcriber, synth speech.Synthesizer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		pipeline:    pipeline,
		transcriber: transcriber,
		synth:       synth,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/stream", s.handleStream)
	r.Get("/stream/ws", s.handleStreamWS)
	r.Post("/transcribe/", s.handleTranscribe)
	r.Post("/uploadfile/", s.handleUploadFile)
	r.Post("/reset_conversation/{session_id}", s.handleReset)
	r.Post("/speech", s.handleSpeech)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"brain":  s.cfg.BrainMode,
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
