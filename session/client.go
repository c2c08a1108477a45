package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/audiocast/backend/conversation"
)

// Negotiator performs the underlying sign-in exchange for the persistent session.
// The wire protocol behind it is out of scope here; it is reduced to the calls the
// handshake sequence needs.
type Negotiator interface {
	Authorized(ctx context.Context) (bool, error)
	SendCode(ctx context.Context, phone string) error
	// SignIn submits the login code and reports whether a two-factor password is
	// still required.
	SignIn(ctx context.Context, phone, code string) (passwordNeeded bool, err error)
	CheckPassword(ctx context.Context, password string) error
}

// Incoming is one message delivered on the persistent session. Media referenced by
// the message has already been materialized to local files by the transport.
type Incoming struct {
	UserID    string
	Text      string
	AudioPath string
	ImagePath string
	FromSelf  bool
}

// Transport is the persistent session reduced to opaque receive/send primitives.
type Transport interface {
	Updates(ctx context.Context) (<-chan Incoming, error)
	Send(ctx context.Context, userID, text string) error
}

// UploadRunner hands a completed workflow to the background pipeline.
type UploadRunner interface {
	Run(ctx context.Context, userID string) error
}

// Client owns the persistent session: it drives the handshake on start, then
// dispatches incoming messages into the conversation state machine.
type Client struct {
	phone     string
	allowed   func(userID string) bool
	neg       Negotiator
	transport Transport
	handshake *Handshake
	convos    *conversation.Manager
	uploads   UploadRunner
}

func NewClient(phone string, allowed func(string) bool, neg Negotiator, transport Transport, hs *Handshake, convos *conversation.Manager, uploads UploadRunner) *Client {
	return &Client{
		phone:     phone,
		allowed:   allowed,
		neg:       neg,
		transport: transport,
		handshake: hs,
		convos:    convos,
		uploads:   uploads,
	}
}

// Handshake returns the client's handshake so other entry points (the webhook, the
// auth HTTP endpoints) can submit credentials and read status.
func (c *Client) Handshake() *Handshake { return c.handshake }

// Start signs the session in (blocking on the handshake when credentials are
// required) and then consumes updates until ctx is cancelled.
func (c *Client) Start(ctx context.Context) error {
	defer c.handshake.setRunning(false)

	if err := c.signIn(ctx); err != nil {
		return fmt.Errorf("session sign-in: %w", err)
	}
	c.handshake.setRunning(true)
	slog.Info("session established", slog.String("component", "session"))

	updates, err := c.transport.Updates(ctx)
	if err != nil {
		return fmt.Errorf("session updates: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			slog.Info("session listener stopped", slog.String("component", "session"))
			return nil
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Client) signIn(ctx context.Context) error {
	authorized, err := c.neg.Authorized(ctx)
	if err != nil {
		return err
	}
	if authorized {
		return nil
	}

	if err := c.neg.SendCode(ctx, c.phone); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	code, err := c.handshake.RequestCode(ctx)
	if err != nil {
		return err
	}
	passwordNeeded, err := c.neg.SignIn(ctx, c.phone, code)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if !passwordNeeded {
		return nil
	}

	password, err := c.handshake.RequestPassword(ctx)
	if err != nil {
		return err
	}
	if err := c.neg.CheckPassword(ctx, password); err != nil {
		return fmt.Errorf("check password: %w", err)
	}
	return nil
}

// handleMessage gates, captures handshake credentials, and dispatches into the
// conversation state machine. Errors are reported to the user and logged, never
// allowed to kill the listener loop.
func (c *Client) handleMessage(ctx context.Context, msg Incoming) {
	if msg.FromSelf {
		return
	}
	if !c.allowed(msg.UserID) {
		slog.Warn("unauthorized session message dropped", slog.String("user_id", msg.UserID), slog.String("component", "session"))
		if err := c.transport.Send(ctx, msg.UserID, "You are not authorized to use this bot."); err != nil {
			slog.Error("unauthorized notice send failed", slog.Any("err", err), slog.String("component", "session"))
		}
		return
	}

	// Either transport may satisfy an open credential request; first one wins.
	if c.handshake.WaitingForCode() {
		if code, ok := ExtractLoginCode(msg.Text); ok {
			if err := c.handshake.SubmitCode(code); err == nil {
				c.send(ctx, msg.UserID, "Code received! Authenticating...")
			}
			return
		}
	}
	if c.handshake.WaitingForPassword() && strings.TrimSpace(msg.Text) != "" {
		if err := c.handshake.SubmitPassword(strings.TrimSpace(msg.Text)); err == nil {
			c.send(ctx, msg.UserID, "Password received! Authenticating...")
		}
		return
	}

	if msg.AudioPath != "" {
		c.send(ctx, msg.UserID, "Audio file received! Processing...")
	}

	res, err := c.convos.Process(ctx, msg.UserID, conversation.Message{
		Text:      msg.Text,
		ImagePath: msg.ImagePath,
		AudioPath: msg.AudioPath,
	})
	if err != nil {
		slog.Error("conversation processing failed", slog.String("user_id", msg.UserID), slog.Any("err", err), slog.String("component", "session"))
		c.send(ctx, msg.UserID, "Something went wrong. Send 'upload' to start.")
		return
	}

	if res.Action != nil {
		// Account creation needs the authorization link flow, which only the webhook
		// transport wires up. Point the user there rather than drop the request.
		slog.Warn("side action not supported on session transport", slog.String("action", res.Action.Name), slog.String("component", "session"))
		c.send(ctx, msg.UserID, "Adding accounts is handled by the bot chat. Message the bot directly to add an account.")
		return
	}

	if res.Reply != "" {
		c.send(ctx, msg.UserID, res.Reply)
	}

	if res.State == conversation.StateProcessing {
		go func() {
			if err := c.uploads.Run(context.WithoutCancel(ctx), msg.UserID); err != nil {
				slog.Error("upload run failed", slog.String("user_id", msg.UserID), slog.Any("err", err), slog.String("component", "session"))
			}
		}()
	}
}

func (c *Client) send(ctx context.Context, userID, text string) {
	if err := c.transport.Send(ctx, userID, text); err != nil {
		slog.Error("session send failed", slog.String("user_id", userID), slog.Any("err", err), slog.String("component", "session"))
	}
}

// ExtractLoginCode reports whether text looks like a Telegram login code: digits
// only once spaces and dashes are stripped, 4 to 8 of them.
func ExtractLoginCode(text string) (string, bool) {
	clean := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(text))
	if len(clean) < 4 || len(clean) > 8 {
		return "", false
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return clean, true
}
