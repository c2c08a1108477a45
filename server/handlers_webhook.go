package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/onnwee/audiocast/backend/conversation"
	dbpkg "github.com/onnwee/audiocast/backend/db"
	"github.com/onnwee/audiocast/backend/session"
	"github.com/onnwee/audiocast/backend/telemetry"
	"github.com/onnwee/audiocast/backend/youtubeapi"
)

// HandleWebhook receives Bot API updates. POST carries an update; GET is the
// registration-time verification ping.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx)

	// Media downloads are deferred until after the allow-list gate, so
	// unauthorized senders cost nothing.
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil || msg.Chat == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	userID := fmt.Sprintf("%d", msg.Chat.ID)

	if !h.cfg.Allowed(userID) {
		logger.Warn("unauthorized webhook sender", slog.String("user_id", userID), slog.String("component", "http"))
		telemetry.MessagesRejected.Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "unauthorized"})
		return
	}
	telemetry.MessagesHandled.Inc()

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	// Session handshake capture: while a sign-in is waiting, a short numeric
	// message is the login code and any message is the 2FA password.
	if text != "" && h.handshake.WaitingForCode() {
		if code, ok := session.ExtractLoginCode(text); ok {
			h.submitHandshake(ctx, userID, "code", func() error { return h.handshake.SubmitCode(code) })
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
	}
	if text != "" && h.handshake.WaitingForPassword() {
		h.submitHandshake(ctx, userID, "password", func() error { return h.handshake.SubmitPassword(strings.TrimSpace(text)) })
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if h.cfg.GoogleClientID == "" {
		h.send(ctx, userID, "Server not configured. Set GOOGLE_CLIENT_ID in .env")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	in, err := h.bot.ParseUpdate(ctx, &update)
	if err != nil {
		logger.Error("media download failed", slog.String("user_id", userID), slog.Any("err", err), slog.String("component", "http"))
		h.send(ctx, userID, "Failed to download media. Try again.")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if in == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	res, err := h.convos.Process(ctx, userID, conversation.Message{
		Text:      in.Text,
		ImagePath: in.ImagePath,
		AudioPath: in.AudioPath,
	})
	if err != nil {
		logger.Error("conversation processing failed", slog.String("user_id", userID), slog.Any("err", err), slog.String("component", "http"))
		h.send(ctx, userID, "Something went wrong. Try again.")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if res.Action != nil && res.Action.Name == conversation.ActionCreateAccount {
		h.handleCreateAccount(ctx, userID, res.Action.AccountName)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	// Entry into processing hands the user off to the upload pipeline. The
	// request context ends with this response, so detach it.
	if res.State == conversation.StateProcessing {
		go func() {
			if err := h.uploads.Run(context.WithoutCancel(ctx), userID); err != nil {
				slog.Error("upload run failed", slog.String("user_id", userID), slog.Any("err", err), slog.String("component", "http"))
			}
		}()
	}

	if res.Reply != "" {
		h.send(ctx, userID, res.Reply)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateAccount performs the side action the state machine delegated: create
// the account row, derive its credentials location, and hand back an OAuth link
// whose state ties the callback to this account and chat.
func (h *Handlers) handleCreateAccount(ctx context.Context, userID, accountName string) {
	credsPath := youtubeapi.CredentialsPath(h.cfg.CredentialsDir, accountName)
	acct, err := dbpkg.CreateAccount(ctx, h.db, accountName, credsPath)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Error("account creation failed", slog.String("name", accountName), slog.Any("err", err), slog.String("component", "http"))
		h.send(ctx, userID, "Failed to create account. Try again.")
		return
	}

	// State format: account_id:chat_id, so the callback can confirm in-chat.
	state := fmt.Sprintf("%d:%s", acct.ID, userID)
	authURL := h.youtube.AuthCodeURL(state)

	if err := h.convos.Reset(ctx, userID); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("conversation reset failed", slog.String("user_id", userID), slog.Any("err", err), slog.String("component", "http"))
	}
	h.send(ctx, userID, "Click to authorize:\n"+authURL)
}

func (h *Handlers) submitHandshake(ctx context.Context, userID, kind string, submit func() error) {
	logger := telemetry.LoggerWithCorr(ctx)
	if err := submit(); err != nil {
		logger.Warn("handshake submission rejected", slog.String("kind", kind), slog.Any("err", err), slog.String("component", "http"))
		return
	}
	switch kind {
	case "code":
		h.send(ctx, userID, "Code received! Authenticating...")
	default:
		h.send(ctx, userID, "Password received! Authenticating...")
	}
}

func (h *Handlers) send(ctx context.Context, userID, text string) {
	if err := h.bot.Send(ctx, userID, text); err != nil {
		telemetry.LoggerWithCorr(ctx).Error("bot send failed", slog.String("user_id", userID), slog.Any("err", err), slog.String("component", "http"))
	}
}
