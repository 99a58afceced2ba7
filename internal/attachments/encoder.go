package attachments

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Encoder transcodes audio and probes durations.
type Encoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
	Probe(ctx context.Context, path string) (float64, error)
}

// FFmpeg shells out to ffmpeg and ffprobe. Every invocation is bounded by
// Timeout.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

// NewFFmpeg builds an FFmpeg encoder with defaults for empty settings.
func NewFFmpeg(ffmpegPath, ffprobePath string, timeout time.Duration) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Timeout: timeout}
}

// Transcode converts the input to AAC in an M4A container at 128kbps.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-y",
		"-i", inputPath,
		"-c:a", "aac",
		"-b:a", "128k",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg timed out after %s: %w", f.Timeout, ctx.Err())
		}
		return fmt.Errorf("ffmpeg conversion failed: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

// Probe returns the media duration in seconds.
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseDuration(string(out))
}

func parseDuration(out string) (float64, error) {
	value := strings.TrimSpace(out)
	if value == "" || value == "N/A" {
		return 0, fmt.Errorf("duration unavailable")
	}
	duration, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	return duration, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
