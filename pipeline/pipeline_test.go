package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/audiocast/backend/conversation"
	"github.com/onnwee/audiocast/backend/telemetry"
	"github.com/onnwee/audiocast/backend/testutil"
)

type fakeProcessor struct {
	video string
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (p *fakeProcessor) Process(ctx context.Context, audioPath, thumbnailPath string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.video, p.err
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakePublisher struct {
	url string
	err error

	mu        sync.Mutex
	thumbnail string
	privacy   string
}

func (p *fakePublisher) Publish(ctx context.Context, credentialsPath, videoPath, title, description, privacy, thumbnailPath string) (string, error) {
	p.mu.Lock()
	p.thumbnail = thumbnailPath
	p.privacy = privacy
	p.mu.Unlock()
	return p.url, p.err
}

type fixture struct {
	orch     *Orchestrator
	convs    *testutil.MemConversationStore
	notifier *testutil.RecordingNotifier
	released *[]string
}

func newFixture(t *testing.T, proc *fakeProcessor, pub *fakePublisher) fixture {
	t.Helper()
	telemetry.Init()
	convs := testutil.NewMemConversationStore()
	accts := testutil.NewMemAccountStore("Main")
	manager := conversation.NewManager(convs, accts)
	notifier := &testutil.RecordingNotifier{}
	var released []string
	var relMu sync.Mutex
	release := func(path string) error {
		relMu.Lock()
		defer relMu.Unlock()
		released = append(released, path)
		return nil
	}
	allowed := func(id string) bool { return id != "999" }
	orch := NewOrchestrator(convs, accts, manager, proc, pub, notifier, allowed, release)
	return fixture{orch: orch, convs: convs, notifier: notifier, released: &released}
}

func seedProcessing(t *testing.T, f fixture, userID string) {
	t.Helper()
	conv, err := f.convs.GetOrCreate(context.Background(), userID)
	if err != nil {
		t.Fatal(err)
	}
	conv.State = conversation.StateProcessing
	conv.AccountID = sql.NullInt64{Int64: 1, Valid: true}
	conv.AudioPath = sql.NullString{String: "/tmp/a.mp3", Valid: true}
	conv.ThumbnailPath = sql.NullString{String: "/tmp/t.jpg", Valid: true}
	conv.Title = sql.NullString{String: "Title", Valid: true}
	conv.Description = sql.NullString{String: "Desc", Valid: true}
	conv.Privacy = "unlisted"
	if err := f.convs.Save(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
}

func messagesContain(msgs []string, substr string) bool {
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

func TestRunHappyPath(t *testing.T) {
	proc := &fakeProcessor{video: "/tmp/v.mp4"}
	pub := &fakePublisher{url: "https://www.youtube.com/watch?v=abc"}
	f := newFixture(t, proc, pub)
	seedProcessing(t, f, "u1")

	if err := f.orch.Run(context.Background(), "u1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := f.notifier.Messages()
	for _, want := range []string{"Processing uploaded audio...", "Uploading to YouTube...", "Done!\nhttps://www.youtube.com/watch?v=abc"} {
		if !messagesContain(msgs, want) {
			t.Fatalf("missing %q in %v", want, msgs)
		}
	}
	if pub.privacy != "unlisted" {
		t.Fatalf("privacy = %q", pub.privacy)
	}
	if got := *f.released; len(got) != 3 {
		t.Fatalf("released = %v", got)
	}
	conv := f.convs.Get("u1")
	if conv.State != conversation.StateIdle {
		t.Fatalf("state = %q, want idle after completion", conv.State)
	}
	if conv.AudioPath.Valid || conv.Title.Valid {
		t.Fatal("workflow fields not cleared")
	}
}

func TestRunSkipsWhenNotProcessing(t *testing.T) {
	proc := &fakeProcessor{video: "/tmp/v.mp4"}
	f := newFixture(t, proc, &fakePublisher{url: "x"})

	// Fresh conversation is idle; a stray trigger must not invoke collaborators.
	if err := f.orch.Run(context.Background(), "u1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if proc.callCount() != 0 {
		t.Fatal("processor invoked for idle conversation")
	}
	if len(f.notifier.Messages()) != 0 {
		t.Fatalf("unexpected notifications: %v", f.notifier.Messages())
	}
}

func TestRunIsIdempotentAfterCompletion(t *testing.T) {
	proc := &fakeProcessor{video: "/tmp/v.mp4"}
	f := newFixture(t, proc, &fakePublisher{url: "x"})
	seedProcessing(t, f, "u1")

	if err := f.orch.Run(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if err := f.orch.Run(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if proc.callCount() != 1 {
		t.Fatalf("processor invoked %d times, want 1", proc.callCount())
	}
}

func TestRunSingleFlightPerUser(t *testing.T) {
	proc := &fakeProcessor{video: "/tmp/v.mp4", delay: 100 * time.Millisecond}
	f := newFixture(t, proc, &fakePublisher{url: "x"})
	seedProcessing(t, f, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.orch.Run(context.Background(), "u1")
		}()
	}
	wg.Wait()
	if proc.callCount() != 1 {
		t.Fatalf("processor invoked %d times, want 1", proc.callCount())
	}
}

func TestRunProcessingFailureResets(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("ffmpeg exploded")}
	f := newFixture(t, proc, &fakePublisher{url: "x"})
	seedProcessing(t, f, "u1")

	if err := f.orch.Run(context.Background(), "u1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !messagesContain(f.notifier.Messages(), "Error processing upload: ffmpeg exploded") {
		t.Fatalf("missing failure notice in %v", f.notifier.Messages())
	}
	if f.convs.Get("u1").State != conversation.StateIdle {
		t.Fatal("conversation not reset after failure")
	}
}

func TestRunPublishFailureReleasesVideo(t *testing.T) {
	proc := &fakeProcessor{video: "/tmp/v.mp4"}
	pub := &fakePublisher{err: errors.New("quota exceeded")}
	f := newFixture(t, proc, pub)
	seedProcessing(t, f, "u1")

	if err := f.orch.Run(context.Background(), "u1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := *f.released; len(got) != 1 || got[0] != "/tmp/v.mp4" {
		t.Fatalf("released = %v, want just the video", got)
	}
	if f.convs.Get("u1").State != conversation.StateIdle {
		t.Fatal("conversation not reset after publish failure")
	}
}

func TestRunMissingAccountNotifiesAndResets(t *testing.T) {
	proc := &fakeProcessor{video: "/tmp/v.mp4"}
	f := newFixture(t, proc, &fakePublisher{url: "x"})
	seedProcessing(t, f, "u1")

	conv := f.convs.Get("u1")
	conv.AccountID = sql.NullInt64{Int64: 42, Valid: true} // no such account
	if err := f.convs.Save(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.Run(context.Background(), "u1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !messagesContain(f.notifier.Messages(), "Error: No account selected.") {
		t.Fatalf("missing notice in %v", f.notifier.Messages())
	}
	if proc.callCount() != 0 {
		t.Fatal("processor invoked without a valid account")
	}
	if f.convs.Get("u1").State != conversation.StateIdle {
		t.Fatal("conversation not reset")
	}
}

func TestRunRemoteThumbnailNotPassedAlong(t *testing.T) {
	proc := &fakeProcessor{video: "/tmp/v.mp4"}
	pub := &fakePublisher{url: "x"}
	f := newFixture(t, proc, pub)
	seedProcessing(t, f, "u1")

	conv := f.convs.Get("u1")
	conv.ThumbnailPath = sql.NullString{String: "https://example.com/t.jpg", Valid: true}
	if err := f.convs.Save(context.Background(), conv); err != nil {
		t.Fatal(err)
	}

	if err := f.orch.Run(context.Background(), "u1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pub.thumbnail != "" {
		t.Fatalf("publisher got remote thumbnail %q", pub.thumbnail)
	}
	// Only video and audio are local artifacts here.
	if got := *f.released; len(got) != 2 {
		t.Fatalf("released = %v", got)
	}
}

func TestRunUnauthorizedUserIsSilentNoop(t *testing.T) {
	proc := &fakeProcessor{video: "/tmp/v.mp4"}
	f := newFixture(t, proc, &fakePublisher{url: "x"})
	seedProcessing(t, f, "999")

	if err := f.orch.Run(context.Background(), "999"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if proc.callCount() != 0 || len(f.notifier.Messages()) != 0 {
		t.Fatal("unauthorized run reached collaborators")
	}
}
