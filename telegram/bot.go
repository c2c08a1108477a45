// Package telegram adapts the two messaging transports to the core: the stateless
// Bot API webhook (parsing, sends, one-time media downloads) and the persistent user
// session, reached through a local MTProto bridge sidecar.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/onnwee/audiocast/backend/config"
)

// Bot wraps the Telegram Bot API for outbound sends, allow-list broadcasts, and
// media downloads into DATA_DIR.
type Bot struct {
	api    *tgbotapi.BotAPI
	cfg    *config.Config
	client *http.Client
}

func NewBot(cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &Bot{
		api: api,
		cfg: cfg,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// Send delivers a text message to one chat. Sends to ids outside the allow-list are
// refused here as a last line of defense.
func (b *Bot) Send(ctx context.Context, userID, text string) error {
	if !b.cfg.Allowed(userID) {
		slog.Warn("refusing send to unauthorized chat", slog.String("user_id", userID), slog.String("component", "telegram"))
		return nil
	}
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", userID, err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Broadcast sends a text to every allow-listed chat. Used for out-of-band handshake
// prompts; failures are logged per recipient and do not stop the rest.
func (b *Bot) Broadcast(ctx context.Context, text string) {
	for _, id := range b.cfg.AllowedChatIDs {
		if err := b.Send(ctx, id, text); err != nil {
			slog.Error("broadcast send failed", slog.String("user_id", id), slog.Any("err", err), slog.String("component", "telegram"))
		}
	}
}

// DownloadFile fetches a file by Telegram file id into DATA_DIR and returns the
// local path. prefix and ext shape the temp file name.
func (b *Bot) DownloadFile(ctx context.Context, fileID, prefix, ext string) (string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	fileURL := file.Link(b.api.Token)
	if fileURL == "" {
		return "", fmt.Errorf("empty file link from Telegram")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(b.cfg.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir data dir: %w", err)
	}
	path := filepath.Join(b.cfg.DataDir, fmt.Sprintf("%s_%s%s", prefix, uuid.New().String()[:8], ext))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	slog.Debug("downloaded media", slog.String("file_id", fileID), slog.String("path", path), slog.String("component", "telegram"))
	return path, nil
}
