package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vaani-ai/vaani/internal/brain"
)

type streamRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type streamFragment struct {
	Content string `json:"content"`
}

type streamDone struct {
	Done bool `json:"done"`
}

// ndjsonSink writes one JSON object per fragment and flushes each line so
// the client sees text as the model produces it.
type ndjsonSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	enc     *json.Encoder
	emitted bool
}

func newNDJSONSink(w http.ResponseWriter, flusher http.Flusher) *ndjsonSink {
	return &ndjsonSink{w: w, flusher: flusher, enc: json.NewEncoder(w)}
}

func (s *ndjsonSink) WriteFragment(fragment string) error {
	if err := s.enc.Encode(streamFragment{Content: fragment}); err != nil {
		return err
	}
	s.emitted = true
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		// Unknown or absent session ids start a fresh conversation rather
		// than failing the request.
		sessionID = uuid.NewString()
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Session-Id", sessionID)

	sink := newNDJSONSink(w, flusher)
	if _, err := s.pipeline.StreamReply(r.Context(), sessionID, req.Message, sink); err != nil {
		if !sink.emitted {
			if errors.Is(err, brain.ErrUpstreamUnavailable) {
				respondError(w, http.StatusBadGateway, "assistant is unavailable")
				return
			}
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		// Mid-stream failures cannot change the status line; the truncated
		// body and closed connection are the signal.
		return
	}
	s.updateSessionGauge()
}

type sessionCounter interface {
	SessionCount() int
}

func (s *Server) updateSessionGauge() {
	if c, ok := s.store.(sessionCounter); ok {
		s.metrics.ActiveSessions.Set(float64(c.SessionCount()))
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := s.store.Reset(r.Context(), sessionID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.updateSessionGauge()
	respondJSON(w, http.StatusOK, map[string]string{
		"message":    "conversation reset",
		"session_id": sessionID,
	})
}

// wsSink forwards fragments as individual JSON frames.
type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) WriteFragment(fragment string) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(streamFragment{Content: fragment})
}

// handleStreamWS serves the same exchange loop over a websocket: each text
// frame from the client carries one message, the reply streams back as
// fragment frames and ends with a done frame.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	for {
		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			continue
		}
		if req.SessionID != "" {
			sessionID = req.SessionID
		}

		if _, err := s.pipeline.StreamReply(r.Context(), sessionID, req.Message, wsSink{conn: conn}); err != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = conn.WriteJSON(errorResponse{Error: err.Error()})
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(streamDone{Done: true}); err != nil {
			return
		}
	}
}
