package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/audiocast/backend/session"
)

// Bridge talks to the MTProto sidecar over local HTTP. The sidecar owns the
// session file and the wire protocol; this client drives sign-in and relays
// messages. It implements session.Negotiator and session.Transport.
type Bridge struct {
	baseURL string
	client  *http.Client
	poll    *http.Client
}

func NewBridge(baseURL string) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		// Long-poll requests hold the connection open until messages arrive.
		poll: &http.Client{Timeout: 90 * time.Second},
	}
}

func (b *Bridge) Authorized(ctx context.Context) (bool, error) {
	var out struct {
		Authorized bool `json:"authorized"`
	}
	if err := b.getJSON(ctx, "/session/status", &out); err != nil {
		return false, err
	}
	return out.Authorized, nil
}

func (b *Bridge) SendCode(ctx context.Context, phone string) error {
	return b.postJSON(ctx, "/session/send_code", map[string]string{"phone": phone}, nil)
}

func (b *Bridge) SignIn(ctx context.Context, phone, code string) (bool, error) {
	var out struct {
		PasswordNeeded bool `json:"password_needed"`
	}
	err := b.postJSON(ctx, "/session/sign_in", map[string]string{"phone": phone, "code": code}, &out)
	if err != nil {
		return false, err
	}
	return out.PasswordNeeded, nil
}

func (b *Bridge) CheckPassword(ctx context.Context, password string) error {
	return b.postJSON(ctx, "/session/check_password", map[string]string{"password": password}, nil)
}

// Updates long-polls the bridge for incoming session messages. The returned
// channel closes when ctx is cancelled.
func (b *Bridge) Updates(ctx context.Context) (<-chan session.Incoming, error) {
	// Fail fast if the bridge is unreachable.
	if _, err := b.Authorized(ctx); err != nil {
		return nil, fmt.Errorf("bridge unreachable: %w", err)
	}

	out := make(chan session.Incoming)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			msgs, err := b.fetchUpdates(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("bridge update poll failed", slog.Any("err", err), slog.String("component", "telegram"))
				select {
				case <-time.After(5 * time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			for _, m := range msgs {
				select {
				case out <- m:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bridge) Send(ctx context.Context, userID, text string) error {
	return b.postJSON(ctx, "/session/send", map[string]string{"user_id": userID, "text": text}, nil)
}

func (b *Bridge) fetchUpdates(ctx context.Context) ([]session.Incoming, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/session/updates", nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.poll.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bridge updates: status %d: %s", resp.StatusCode, string(body))
	}
	var payload struct {
		Messages []struct {
			UserID    string `json:"user_id"`
			Text      string `json:"text"`
			AudioPath string `json:"audio_path"`
			ImagePath string `json:"image_path"`
			FromSelf  bool   `json:"from_self"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	msgs := make([]session.Incoming, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		msgs = append(msgs, session.Incoming{
			UserID:    m.UserID,
			Text:      m.Text,
			AudioPath: m.AudioPath,
			ImagePath: m.ImagePath,
			FromSelf:  m.FromSelf,
		})
	}
	return msgs, nil
}

func (b *Bridge) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return err
	}
	return b.do(req, out)
}

func (b *Bridge) postJSON(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

func (b *Bridge) do(req *http.Request, out any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bridge %s: status %d: %s", req.URL.Path, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
