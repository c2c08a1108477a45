package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	dbpkg "github.com/onnwee/audiocast/backend/db"
	"github.com/onnwee/audiocast/backend/telemetry"
)

// HandleGoogleOAuthCallback completes the Google authorization started from chat.
// The state parameter is "accountID:chatID": the account row to bind the token to
// and the chat to confirm in.
func (h *Handlers) HandleGoogleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := telemetry.LoggerWithCorr(ctx)

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		http.Error(w, "Authorization denied: "+errMsg, http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	accountID, chatID, err := parseOAuthState(state)
	if err != nil {
		logger.Warn("bad oauth state", slog.String("state", state), slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	acct, err := dbpkg.FindAccountByID(ctx, h.db, accountID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if acct == nil {
		http.Error(w, "unknown account", http.StatusNotFound)
		return
	}

	if err := h.youtube.Exchange(ctx, code, acct.CredentialsPath); err != nil {
		logger.Error("oauth exchange failed", slog.Int64("account_id", accountID), slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	logger.Info("account authorized", slog.Int64("account_id", accountID), slog.String("name", acct.Name), slog.String("component", "http"))

	if err := h.convos.Reset(ctx, chatID); err != nil {
		logger.Error("conversation reset failed", slog.String("user_id", chatID), slog.Any("err", err), slog.String("component", "http"))
	}
	h.send(ctx, chatID, fmt.Sprintf("Account '%s' authorized successfully! You can now upload audio.", acct.Name))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body><h3>Authorization complete.</h3><p>You can close this window and return to Telegram.</p></body></html>"))
}

func parseOAuthState(state string) (accountID int64, chatID string, err error) {
	parts := strings.SplitN(state, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", fmt.Errorf("malformed state")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed account id: %w", err)
	}
	return id, parts[1], nil
}
