package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vaani-ai/vaani/internal/brain"
	"github.com/vaani-ai/vaani/internal/speech"
	"github.com/vaani-ai/vaani/internal/transcribe"
)

const maxUploadBytes = 25 << 20

func (s *Server) readUpload(r *http.Request) ([]byte, string, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", err
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", err
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return nil, "", err
	}
	return raw, filepath.Ext(header.Filename), nil
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	raw, ext, err := s.readUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}

	result, err := s.transcriber.Transcribe(r.Context(), raw, ext)
	if err != nil {
		s.metrics.Transcriptions.WithLabelValues("error").Inc()
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.Transcriptions.WithLabelValues(transcriptionOutcome(result)).Inc()

	// Degraded outcomes still answer 200 with the sentinel text, matching
	// what voice clients display verbatim.
	respondJSON(w, http.StatusOK, map[string]string{"transcription": result.Text()})
}

// handleUploadFile transcribes the upload and, when speech was recognized,
// runs a full chat exchange in the same response. The body is NDJSON: a
// transcription line, then the usual fragment lines.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	raw, ext, err := s.readUpload(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	sessionID := strings.TrimSpace(r.FormValue("session_id"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	result, err := s.transcriber.Transcribe(r.Context(), raw, ext)
	if err != nil {
		s.metrics.Transcriptions.WithLabelValues("error").Inc()
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.Transcriptions.WithLabelValues(transcriptionOutcome(result)).Inc()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Session-Id", sessionID)

	enc := json.NewEncoder(w)
	_ = enc.Encode(map[string]string{"transcription": result.Text()})
	if flusher != nil {
		flusher.Flush()
	}
	if !result.Recognized() {
		// Nothing usable was heard; the sentinel line is the whole reply
		// and the conversation stays untouched.
		return
	}

	sink := newNDJSONSink(w, flusher)
	if _, err := s.pipeline.StreamReply(r.Context(), sessionID, result.Text(), sink); err != nil {
		// The status line is already committed; a terminal error object is
		// the in-band failure signal.
		msg := err.Error()
		if errors.Is(err, brain.ErrUpstreamUnavailable) {
			msg = "assistant is unavailable"
		}
		_ = enc.Encode(errorResponse{Error: msg})
		if flusher != nil {
			flusher.Flush()
		}
		return
	}
	s.updateSessionGauge()
}

type speechRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if s.synth == nil {
		respondError(w, http.StatusNotImplemented, "speech synthesis not configured")
		return
	}
	var req speechRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := s.synth.Synthesize(r.Context(), req.Text, req.Lang)
	if err != nil {
		if errors.Is(err, speech.ErrSynthUnavailable) {
			s.metrics.ProviderErrors.WithLabelValues("synth", "unavailable").Inc()
			respondError(w, http.StatusBadGateway, "speech synthesis unavailable")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func transcriptionOutcome(result transcribe.Result) string {
	switch result.Kind() {
	case transcribe.KindOK:
		return "ok"
	case transcribe.KindNotUnderstood:
		return "not_understood"
	default:
		return "transport_error"
	}
}
