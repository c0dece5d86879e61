package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vaani-ai/vaani/internal/client"
)

type options struct {
	baseURL     string
	statePath   string
	sendTimeout time.Duration
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "vaanicli: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "vaanicli: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var sendTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "vaani server base URL")
	flag.StringVar(&cfg.statePath, "state", defaultStatePath(), "path for saved thread state")
	flag.IntVar(&sendTimeoutMS, "send-timeout-ms", 120000, "timeout per streamed reply in milliseconds")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if sendTimeoutMS <= 0 {
		return options{}, fmt.Errorf("send-timeout-ms must be > 0")
	}
	cfg.sendTimeout = time.Duration(sendTimeoutMS) * time.Millisecond
	return cfg, nil
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vaani-threads.json"
	}
	return filepath.Join(home, ".vaani", "threads.json")
}

func run(cfg options) error {
	manager := client.NewManager(cfg.baseURL, nil)
	if err := manager.LoadState(cfg.statePath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load state: %v\n", err)
	}

	ctx := context.Background()
	if manager.Active() == nil {
		// First run: resume under the stable per-install token so server
		// history survives restarts even before any state file exists.
		token, err := client.ClientToken(filepath.Join(filepath.Dir(cfg.statePath), "client-token"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not load client token: %v\n", err)
			if _, err := manager.NewThread(ctx); err != nil {
				return fmt.Errorf("create initial thread: %w", err)
			}
		} else {
			manager.AdoptThread(token)
		}
	}

	fmt.Println("vaani interactive client. Commands: /new /list /select <id> /reset /audio <path> /pcm <path> [rate] /say <out.mp3> /quit")
	fmt.Printf("active thread: %s\n", manager.Active().ID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, manager, line); quit {
				break
			}
			continue
		}

		sendText(ctx, manager, cfg.sendTimeout, line)
	}

	if err := manager.SaveState(cfg.statePath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not save state: %v\n", err)
	}
	return scanner.Err()
}

func runCommand(ctx context.Context, manager *client.Manager, line string) (quit bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/new":
		thread, err := manager.NewThread(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "new thread: %v\n", err)
			return false
		}
		fmt.Printf("new thread %s (active)\n", thread.ID)
	case "/list":
		active := ""
		if t := manager.Active(); t != nil {
			active = t.ID
		}
		for _, id := range manager.ThreadIDs() {
			marker := " "
			if id == active {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, id)
		}
	case "/select":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /select <thread-id>")
			return false
		}
		if err := manager.Select(fields[1]); err != nil {
			fmt.Fprintf(os.Stderr, "select: %v\n", err)
			return false
		}
		fmt.Printf("active thread: %s\n", fields[1])
	case "/reset":
		t := manager.Active()
		if t == nil {
			fmt.Fprintln(os.Stderr, "no active thread")
			return false
		}
		if err := manager.Reset(ctx, t.ID); err != nil {
			fmt.Fprintf(os.Stderr, "reset: %v\n", err)
			return false
		}
		fmt.Println("conversation reset")
	case "/audio":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /audio <path>")
			return false
		}
		sendAudio(ctx, manager, fields[1])
	case "/pcm":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /pcm <path> [sample-rate]")
			return false
		}
		rate := 16000
		if len(fields) > 2 {
			n, err := strconv.Atoi(fields[2])
			if err != nil || n <= 0 {
				fmt.Fprintln(os.Stderr, "sample-rate must be a positive integer")
				return false
			}
			rate = n
		}
		sendRawPCM(ctx, manager, fields[1], rate)
	case "/say":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /say <output.mp3>")
			return false
		}
		saveSpokenReply(ctx, manager, fields[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", fields[0])
	}
	return false
}

func sendText(ctx context.Context, manager *client.Manager, timeout time.Duration, text string) {
	thread := manager.Active()
	if thread == nil {
		fmt.Fprintln(os.Stderr, "no active thread; use /new")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := manager.Send(sendCtx, thread.ID, text, func(fragment string) {
		fmt.Print(fragment)
	})
	fmt.Println()
	if err != nil {
		if errors.Is(err, client.ErrSendInFlight) {
			fmt.Fprintln(os.Stderr, "still streaming the previous reply")
			return
		}
		fmt.Fprintf(os.Stderr, "send: %v\n", err)
	}
}

// saveSpokenReply synthesizes the last assistant reply and writes the audio
// to path.
func saveSpokenReply(ctx context.Context, manager *client.Manager, path string) {
	thread := manager.Active()
	if thread == nil {
		fmt.Fprintln(os.Stderr, "no active thread")
		return
	}

	var last string
	for _, msg := range thread.Messages() {
		if msg.Role == client.RoleAssistant {
			last = msg.Content
		}
	}
	if last == "" {
		fmt.Fprintln(os.Stderr, "nothing to speak yet")
		return
	}

	audio, err := manager.Speak(ctx, last, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "speak: %v\n", err)
		return
	}
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write audio: %v\n", err)
		return
	}
	fmt.Printf("spoken reply saved to %s\n", path)
}

// sendRawPCM reads headerless mono 16-bit PCM and lets the SDK wrap it in
// a WAV container before upload.
func sendRawPCM(ctx context.Context, manager *client.Manager, path string, sampleRate int) {
	thread := manager.Active()
	if thread == nil {
		fmt.Fprintln(os.Stderr, "no active thread; use /new")
		return
	}

	pcm, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read pcm: %v\n", err)
		return
	}

	transcript, _, err := manager.SendPCM(ctx, thread.ID, pcm, sampleRate, func(fragment string) {
		fmt.Print(fragment)
	})
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pcm send: %v\n", err)
		return
	}
	fmt.Printf("[heard: %s]\n", transcript)
}

func sendAudio(ctx context.Context, manager *client.Manager, path string) {
	thread := manager.Active()
	if thread == nil {
		fmt.Fprintln(os.Stderr, "no active thread; use /new")
		return
	}

	clip, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read audio: %v\n", err)
		return
	}

	transcript, _, err := manager.SendAudio(ctx, thread.ID, clip, filepath.Base(path), func(fragment string) {
		fmt.Print(fragment)
	})
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "audio send: %v\n", err)
		return
	}
	fmt.Printf("[heard: %s]\n", transcript)
}
