package services

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DurationProbe measures the length of an audio clip in seconds.
type DurationProbe func(ctx context.Context, audio []byte, ext string) (int, error)

// FFProbeDuration reads the container duration with ffprobe. The binary is
// optional; callers treat an error as "unknown".
func FFProbeDuration(ctx context.Context, audio []byte, ext string) (int, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, fmt.Errorf("ffprobe not available: %w", err)
	}
	tmpFile, err := os.CreateTemp("", "audio-duration-*"+ext)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(audio); err != nil {
		_ = tmpFile.Close()
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	_ = tmpFile.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx,
		"ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		tmpFile.Name(),
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	raw := strings.TrimSpace(string(output))
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("duration not reported")
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return int(math.Round(seconds)), nil
}
