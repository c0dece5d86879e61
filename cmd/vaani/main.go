package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vaani-ai/vaani/internal/brain"
	"github.com/vaani-ai/vaani/internal/chat"
	"github.com/vaani-ai/vaani/internal/config"
	"github.com/vaani-ai/vaani/internal/httpapi"
	"github.com/vaani-ai/vaani/internal/memory"
	"github.com/vaani-ai/vaani/internal/observability"
	"github.com/vaani-ai/vaani/internal/speech"
	"github.com/vaani-ai/vaani/internal/transcribe"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryWindow, cfg.SessionIdleTTL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL != "" {
		log.Printf("memory store: postgres, window %d", cfg.HistoryWindow)
	} else {
		log.Printf("memory store: in-memory, window %d", cfg.HistoryWindow)
	}

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:    cfg.BrainMode,
		BaseURL: cfg.BrainBaseURL,
		APIKey:  cfg.BrainAPIKey,
		Model:   cfg.BrainModel,
		Timeout: cfg.BrainTimeout,
	})
	if err != nil {
		log.Fatalf("brain adapter init failed: %v", err)
	}

	pipeline := chat.NewPipeline(store, adapter, cfg.SystemPrompt, metrics)

	transcriber := transcribe.New(
		transcribe.NewFFmpegDecoder(cfg.FFmpegPath),
		transcribe.NewHTTPRecognizer(cfg.RecognizerURL, cfg.RecognizerAPIKey, cfg.RecognizerLanguage, cfg.RecognizerTimeout),
		cfg.UploadDir,
	)

	var synth speech.Synthesizer
	if cfg.SynthURL != "" {
		synth = speech.NewHTTPSynthesizer(cfg.SynthURL, cfg.SynthVoice, cfg.SynthTimeout)
		log.Printf("speech synthesis: %s", cfg.SynthURL)
	}

	api := httpapi.New(cfg, store, pipeline, transcriber, synth, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if ms, ok := store.(*memory.InMemoryStore); ok && cfg.SessionIdleTTL > 0 {
		ms.StartJanitor(runCtx, time.Minute)
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
