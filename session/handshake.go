// Package session manages the persistent messaging session: the interactive
// code/password handshake required to establish it, and the client that listens for
// messages on it once established.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/onnwee/audiocast/backend/telemetry"
)

var (
	// ErrNotWaiting is returned when a credential is submitted while no request is open.
	ErrNotWaiting = errors.New("session: not waiting for a credential")
	// ErrAlreadySubmitted is returned when a second credential arrives for the same
	// open request before the waiter has resumed.
	ErrAlreadySubmitted = errors.New("session: credential already submitted")
	// ErrRequestOpen is returned when a request phase is started while one is already open.
	ErrRequestOpen = errors.New("session: credential request already open")
)

// Broadcaster publishes out-of-band prompts to every allow-listed user.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string)
}

// Handshake coordinates the sign-in exchange: the session start routine blocks in
// RequestCode/RequestPassword while a human supplies values through either transport
// via SubmitCode/SubmitPassword. Each phase is a single-waiter one-shot: the first
// submission while the request is open wins, later ones are rejected.
//
// The code phase always precedes the password phase; the password phase runs only if
// the session negotiation demands it (two-factor enabled). Handshake state is not
// persisted; a restart re-authenticates unless the underlying session is durable.
type Handshake struct {
	broadcaster Broadcaster

	mu              sync.Mutex
	running         bool
	waitingCode     bool
	waitingPassword bool
	codeSubmitted   bool
	passSubmitted   bool
	codeCh          chan string
	passCh          chan string
}

func NewHandshake(b Broadcaster) *Handshake {
	return &Handshake{broadcaster: b}
}

// Running reports whether the session is fully established.
func (h *Handshake) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Handshake) setRunning(v bool) {
	h.mu.Lock()
	h.running = v
	h.mu.Unlock()
	telemetry.SetSessionRunning(v)
}

// WaitingForCode reports whether a login code request is open.
func (h *Handshake) WaitingForCode() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitingCode
}

// WaitingForPassword reports whether a two-factor password request is open.
func (h *Handshake) WaitingForPassword() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.waitingPassword
}

// RequestCode opens the code phase, prompts all allow-listed users, and blocks until
// a code is submitted or ctx is cancelled.
func (h *Handshake) RequestCode(ctx context.Context) (string, error) {
	h.mu.Lock()
	if h.waitingCode {
		h.mu.Unlock()
		return "", ErrRequestOpen
	}
	h.waitingCode = true
	h.codeSubmitted = false
	h.codeCh = make(chan string, 1)
	ch := h.codeCh
	h.mu.Unlock()
	telemetry.SetHandshakeWaiting(true)

	defer func() {
		h.mu.Lock()
		h.waitingCode = false
		h.mu.Unlock()
		telemetry.SetHandshakeWaiting(false)
	}()

	h.broadcaster.Broadcast(ctx, "Telegram sent a login code. Reply with the code to finish signing in.")
	slog.Info("waiting for login code", slog.String("component", "session"))

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RequestPassword opens the password phase; symmetric to RequestCode.
func (h *Handshake) RequestPassword(ctx context.Context) (string, error) {
	h.mu.Lock()
	if h.waitingPassword {
		h.mu.Unlock()
		return "", ErrRequestOpen
	}
	h.waitingPassword = true
	h.passSubmitted = false
	h.passCh = make(chan string, 1)
	ch := h.passCh
	h.mu.Unlock()
	telemetry.SetHandshakeWaiting(true)

	defer func() {
		h.mu.Lock()
		h.waitingPassword = false
		h.mu.Unlock()
		telemetry.SetHandshakeWaiting(false)
	}()

	h.broadcaster.Broadcast(ctx, "Two-factor auth is enabled. Reply with your password to finish signing in.")
	slog.Info("waiting for two-factor password", slog.String("component", "session"))

	select {
	case v := <-ch:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SubmitCode delivers a login code to the open code request. Either transport may
// call this; the first submission wins.
func (h *Handshake) SubmitCode(code string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.waitingCode {
		return ErrNotWaiting
	}
	if h.codeSubmitted {
		return ErrAlreadySubmitted
	}
	h.codeSubmitted = true
	h.codeCh <- code
	return nil
}

// SubmitPassword delivers a two-factor password to the open password request.
func (h *Handshake) SubmitPassword(password string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.waitingPassword {
		return ErrNotWaiting
	}
	if h.passSubmitted {
		return ErrAlreadySubmitted
	}
	h.passSubmitted = true
	h.passCh <- password
	return nil
}
