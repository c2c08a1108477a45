package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestProcessRejectsMissingAudio(t *testing.T) {
	p := NewFFmpegProcessor(t.TempDir())

	if _, err := p.Process(context.Background(), "", ""); err == nil {
		t.Fatal("expected error for empty audio path")
	}
	if _, err := p.Process(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"), ""); err == nil {
		t.Fatal("expected error for nonexistent audio file")
	}
}

func TestReleaseToleratesMissingFile(t *testing.T) {
	if err := Release(""); err != nil {
		t.Fatalf("Release(\"\") = %v", err)
	}
	if err := Release(filepath.Join(t.TempDir(), "gone.mp4")); err != nil {
		t.Fatalf("Release(missing) = %v", err)
	}
}

func TestReleaseRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := Release(path); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("file still present after release")
	}
}

func TestTail(t *testing.T) {
	if got := tail("hello", 10); got != "hello" {
		t.Fatalf("tail short = %q", got)
	}
	if got := tail(strings.Repeat("a", 10)+"end", 3); got != "end" {
		t.Fatalf("tail long = %q", got)
	}
}
