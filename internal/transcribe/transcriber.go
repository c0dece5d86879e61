package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Transcriber turns arbitrary uploaded audio into text: decode to canonical
// WAV, then recognize. Recognition failures degrade to sentinel Results so
// the chat path always receives a string; only decode failures and local IO
// problems surface as errors.
type Transcriber struct {
	decoder    Decoder
	recognizer Recognizer
	workDir    string
}

func New(decoder Decoder, recognizer Recognizer, workDir string) *Transcriber {
	if strings.TrimSpace(workDir) == "" {
		workDir = os.TempDir()
	}
	return &Transcriber{
		decoder:    decoder,
		recognizer: recognizer,
		workDir:    workDir,
	}
}

// Transcribe writes raw upload bytes to a transient file, normalizes them
// and invokes recognition. Transient artifacts use fresh uuid names (never
// the client-supplied filename) and are removed on every exit path.
func (t *Transcriber) Transcribe(ctx context.Context, rawAudio []byte, formatHint string) (Result, error) {
	if len(rawAudio) == 0 {
		return Result{}, fmt.Errorf("%w: empty upload", ErrUnsupportedFormat)
	}

	id := uuid.NewString()
	inputPath := filepath.Join(t.workDir, "upload-"+id+extForHint(formatHint))
	wavPath := filepath.Join(t.workDir, "canonical-"+id+".wav")
	defer func() {
		_ = os.Remove(inputPath)
		_ = os.Remove(wavPath)
	}()

	if err := os.WriteFile(inputPath, rawAudio, 0o600); err != nil {
		return Result{}, fmt.Errorf("stage upload: %w", err)
	}

	if err := t.decoder.ToWAV(ctx, inputPath, wavPath); err != nil {
		return Result{}, err
	}

	text, err := t.recognizer.Recognize(ctx, wavPath)
	if err != nil {
		return TransportError(err), nil
	}
	if text == "" {
		return NotUnderstood(), nil
	}
	return OK(text), nil
}

func extForHint(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	hint = strings.TrimPrefix(hint, ".")
	if hint == "" {
		return ".bin"
	}
	// Keep only a conservative extension charset; the hint comes from
	// client-supplied filenames.
	for _, r := range hint {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".bin"
		}
	}
	if len(hint) > 8 {
		return ".bin"
	}
	return "." + hint
}
