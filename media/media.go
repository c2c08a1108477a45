// Package media renders uploaded audio files into videos suitable for publishing,
// using ffmpeg. A provided thumbnail becomes the looped still frame; without one a
// plain background is synthesized.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FFmpegProcessor implements pipeline.AudioProcessor by shelling out to ffmpeg.
type FFmpegProcessor struct {
	// DataDir is where rendered videos are written.
	DataDir string
	// Timeout bounds a single render; zero means no bound beyond ctx.
	Timeout time.Duration
}

func NewFFmpegProcessor(dataDir string) *FFmpegProcessor {
	return &FFmpegProcessor{DataDir: dataDir, Timeout: 30 * time.Minute}
}

// Process renders audioPath into an mp4. thumbnailPath, when non-empty, must be a
// local image file; it is looped as the video track. Returns the rendered file path.
func (p *FFmpegProcessor) Process(ctx context.Context, audioPath, thumbnailPath string) (string, error) {
	if audioPath == "" {
		return "", fmt.Errorf("no audio file to process")
	}
	if _, err := os.Stat(audioPath); err != nil {
		return "", fmt.Errorf("audio file: %w", err)
	}
	if err := os.MkdirAll(p.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir data dir: %w", err)
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	outPath := filepath.Join(p.DataDir, fmt.Sprintf("video_%s.mp4", uuid.New().String()[:8]))

	var args []string
	if thumbnailPath != "" {
		args = []string{"-y", "-loop", "1", "-i", thumbnailPath, "-i", audioPath,
			"-c:v", "libx264", "-tune", "stillimage", "-c:a", "aac", "-b:a", "192k",
			"-pix_fmt", "yuv420p", "-shortest", outPath}
	} else {
		// No thumbnail: synthesize a black 720p frame for the duration of the audio.
		args = []string{"-y", "-f", "lavfi", "-i", "color=c=black:s=1280x720:r=2", "-i", audioPath,
			"-c:v", "libx264", "-tune", "stillimage", "-c:a", "aac", "-b:a", "192k",
			"-pix_fmt", "yuv420p", "-shortest", outPath}
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.Remove(outPath)
		slog.Error("ffmpeg render failed", slog.Any("err", err), slog.String("out", tail(string(out), 2000)), slog.String("component", "media"))
		return "", fmt.Errorf("ffmpeg: %w", err)
	}
	slog.Info("rendered video", slog.String("path", outPath), slog.Duration("duration", time.Since(start)), slog.String("component", "media"))
	return outPath, nil
}

// Release removes a local temp artifact. A missing file is not an error; release is
// best-effort by contract.
func Release(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
