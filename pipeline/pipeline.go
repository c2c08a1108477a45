// Package pipeline hands completed workflows to the audio-processing and publish
// collaborators: it renders the audio into a video, publishes it to the destination
// account, reports progress back to the user, and cleans up local artifacts. Each
// workflow materializes at most once and every run, success or failure, returns the
// conversation to idle.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/audiocast/backend/conversation"
	"github.com/onnwee/audiocast/backend/telemetry"
)

// AudioProcessor converts an audio file (plus optional local thumbnail) into a video file.
type AudioProcessor interface {
	Process(ctx context.Context, audioPath, thumbnailPath string) (videoPath string, err error)
}

// Publisher uploads a finished video to the hosting platform using the account's
// stored credentials and returns the published URL.
type Publisher interface {
	Publish(ctx context.Context, credentialsPath, videoPath, title, description, privacy, thumbnailPath string) (string, error)
}

// Notifier sends a text message back to a user through the owning transport.
type Notifier interface {
	Send(ctx context.Context, userID, text string) error
}

// Orchestrator runs the handoff for conversations that reached the processing state.
type Orchestrator struct {
	conversations conversation.ConversationStore
	accounts      conversation.AccountStore
	convos        *conversation.Manager
	processor     AudioProcessor
	publisher     Publisher
	notifier      Notifier
	allowed       func(userID string) bool

	// release deletes one local temp artifact; best-effort, swapped in tests.
	release func(path string) error

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewOrchestrator(
	conversations conversation.ConversationStore,
	accounts conversation.AccountStore,
	convos *conversation.Manager,
	processor AudioProcessor,
	publisher Publisher,
	notifier Notifier,
	allowed func(string) bool,
	release func(string) error,
) *Orchestrator {
	return &Orchestrator{
		conversations: conversations,
		accounts:      accounts,
		convos:        convos,
		processor:     processor,
		publisher:     publisher,
		notifier:      notifier,
		allowed:       allowed,
		release:       release,
		inflight:      make(map[string]struct{}),
	}
}

// Run executes the pipeline for one user. It is safe to call for a user whose
// conversation is no longer in processing (the run is skipped) and safe to call
// concurrently (one flight per user at a time).
func (o *Orchestrator) Run(ctx context.Context, userID string) error {
	if !o.allowed(userID) {
		// Silent no-op: unauthorized ids never reach collaborators.
		return nil
	}

	o.mu.Lock()
	if _, busy := o.inflight[userID]; busy {
		o.mu.Unlock()
		slog.Debug("upload already in flight", slog.String("user_id", userID), slog.String("component", "pipeline"))
		return nil
	}
	o.inflight[userID] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, userID)
		o.mu.Unlock()
	}()

	conv, err := o.conversations.GetOrCreate(ctx, userID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.State != conversation.StateProcessing {
		// Already completed or reset; never re-invoke the collaborators.
		slog.Debug("conversation not in processing; skipping run", slog.String("user_id", userID), slog.String("state", conv.State), slog.String("component", "pipeline"))
		return nil
	}

	logger := slog.Default().With(slog.String("user_id", userID), slog.String("component", "pipeline"))
	telemetry.UploadRuns.Inc()
	start := time.Now()

	if !conv.AccountID.Valid {
		logger.Error("no account associated at processing time")
		o.notify(ctx, userID, "Error: No account selected.")
		return o.convos.Reset(ctx, userID)
	}
	account, err := o.accounts.FindByID(ctx, conv.AccountID.Int64)
	if err == nil && account == nil {
		err = fmt.Errorf("account %d not found", conv.AccountID.Int64)
	}
	if err != nil {
		logger.Error("account lookup failed", slog.Any("err", err))
		o.notify(ctx, userID, "Error: No account selected.")
		return o.convos.Reset(ctx, userID)
	}

	audioPath := conv.AudioPath.String
	thumbnail := conv.ThumbnailPath.String
	// Remote thumbnail sentinels are passed through to nobody: only local files go to
	// the processor and publisher.
	localThumb := thumbnail
	if strings.HasPrefix(thumbnail, "http") {
		localThumb = ""
	}

	o.notify(ctx, userID, "Processing uploaded audio...")
	procStart := time.Now()
	videoPath, err := o.processor.Process(ctx, audioPath, localThumb)
	if err != nil {
		telemetry.UploadsFailed.Inc()
		logger.Error("audio processing failed", slog.Any("err", err), slog.Duration("duration", time.Since(procStart)))
		return o.fail(ctx, userID, err)
	}
	procDur := time.Since(procStart)
	telemetry.ProcessDuration.Observe(procDur.Seconds())
	logger.Info("audio processed", slog.String("video", videoPath), slog.Duration("duration", procDur))

	o.notify(ctx, userID, "Uploading to YouTube...")
	upStart := time.Now()
	publishedURL, err := o.publisher.Publish(ctx, account.CredentialsPath, videoPath, conv.Title.String, conv.Description.String, conv.Privacy, localThumb)
	if err != nil {
		telemetry.UploadsFailed.Inc()
		logger.Error("publish failed", slog.Any("err", err), slog.Duration("duration", time.Since(upStart)))
		o.cleanup(logger, videoPath)
		return o.fail(ctx, userID, err)
	}
	upDur := time.Since(upStart)
	telemetry.UploadsSucceeded.Inc()
	telemetry.PublishDuration.Observe(upDur.Seconds())

	o.notify(ctx, userID, "Done!\n"+publishedURL)

	// Release each artifact independently; one failure must not stop the others.
	o.cleanup(logger, videoPath, audioPath, localThumb)

	logger.Info("workflow complete",
		slog.String("published_url", publishedURL),
		slog.Duration("process_duration", procDur),
		slog.Duration("upload_duration", upDur),
		slog.Duration("total_duration", time.Since(start)))

	return o.convos.Reset(ctx, userID)
}

// fail reports the error to the user and unconditionally resets the conversation so
// the user is never stuck in processing. There is no retry.
func (o *Orchestrator) fail(ctx context.Context, userID string, cause error) error {
	o.notify(ctx, userID, fmt.Sprintf("Error processing upload: %v", cause))
	if err := o.convos.Reset(ctx, userID); err != nil {
		return fmt.Errorf("reset after failure: %w", err)
	}
	return nil
}

func (o *Orchestrator) cleanup(logger *slog.Logger, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := o.release(p); err != nil {
			logger.Warn("temp file release failed", slog.String("path", p), slog.Any("err", err))
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, userID, text string) {
	if err := o.notifier.Send(ctx, userID, text); err != nil {
		slog.Error("notify failed", slog.String("user_id", userID), slog.Any("err", err), slog.String("component", "pipeline"))
	}
}
