package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/vaani-ai/vaani/internal/audio"
)

// ErrUnsupportedFormat marks uploads that could not be decoded into the
// canonical PCM/WAV form. It is user-correctable, unlike transport errors.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decoder normalizes an uploaded audio file into canonical mono 16kHz WAV.
type Decoder interface {
	ToWAV(ctx context.Context, inputPath, outputPath string) error
}

// FFmpegDecoder shells out to ffmpeg for container/codec handling; the
// service itself never parses compressed audio.
type FFmpegDecoder struct {
	binary string
}

func NewFFmpegDecoder(binary string) *FFmpegDecoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegDecoder{binary: binary}
}

func (d *FFmpegDecoder) ToWAV(ctx context.Context, inputPath, outputPath string) error {
	path, err := exec.LookPath(d.binary)
	if err != nil {
		// Without ffmpeg we can still pass through uploads that are
		// already WAV; everything else is undecodable here.
		return copyThroughIfWAV(inputPath, outputPath)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outputPath,
	}
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, detail)
	}
	return nil
}

func copyThroughIfWAV(inputPath, outputPath string) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	if !audio.IsWAV(data) {
		return fmt.Errorf("%w: ffmpeg unavailable and input is not WAV", ErrUnsupportedFormat)
	}
	return os.WriteFile(outputPath, data, 0o644)
}
