package server

import (
	"errors"
	"net/http"

	"github.com/onnwee/audiocast/backend/session"
)

// HandleAuthCode submits the Telegram login code out of band, for operators who
// prefer not to relay it through the bot chat. Accepts ?code= or a JSON body.
func (h *Handlers) HandleAuthCode(w http.ResponseWriter, r *http.Request) {
	code := credentialParam(r, "code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code"})
		return
	}
	if !h.handshake.WaitingForCode() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Not waiting for a verification code"})
		return
	}
	if err := h.handshake.SubmitCode(code); err != nil {
		writeJSON(w, submissionStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Code submitted successfully. Authentication in progress..."})
}

// HandleAuthPassword submits the 2FA password out of band.
func (h *Handlers) HandleAuthPassword(w http.ResponseWriter, r *http.Request) {
	password := credentialParam(r, "password")
	if password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing password"})
		return
	}
	if !h.handshake.WaitingForPassword() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "Not waiting for a 2FA password"})
		return
	}
	if err := h.handshake.SubmitPassword(password); err != nil {
		writeJSON(w, submissionStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "Password submitted successfully. Authentication in progress..."})
}

// HandleAuthStatus reports the session sign-in state.
func (h *Handlers) HandleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"is_running":           h.handshake.Running(),
		"waiting_for_code":     h.handshake.WaitingForCode(),
		"waiting_for_password": h.handshake.WaitingForPassword(),
	})
}

func credentialParam(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	if r.Method != http.MethodPost {
		return ""
	}
	var body map[string]string
	if err := decodeJSONBody(r, &body); err != nil {
		return ""
	}
	return body[name]
}

func submissionStatus(err error) int {
	if errors.Is(err, session.ErrNotWaiting) || errors.Is(err, session.ErrAlreadySubmitted) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
