package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/onnwee/audiocast/backend/testutil"
)

func TestBridgeAuthorized(t *testing.T) {
	srv := testutil.NewMockBridgeServer(t)
	srv.MockStatus(true)

	b := NewBridge(srv.URL)
	ok, err := b.Authorized(context.Background())
	if err != nil {
		t.Fatalf("Authorized: %v", err)
	}
	if !ok {
		t.Fatal("expected authorized")
	}
}

func TestBridgeSignInFlow(t *testing.T) {
	srv := testutil.NewMockBridgeServer(t)
	var gotPhone, gotCode string
	srv.Handlers["/session/send_code"] = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPhone = body["phone"]
		w.WriteHeader(http.StatusOK)
	}
	srv.Handlers["/session/sign_in"] = func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotCode = body["code"]
		_ = json.NewEncoder(w).Encode(map[string]bool{"password_needed": true})
	}
	srv.Handlers["/session/check_password"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}

	b := NewBridge(srv.URL)
	ctx := context.Background()
	if err := b.SendCode(ctx, "+15550100"); err != nil {
		t.Fatalf("SendCode: %v", err)
	}
	if gotPhone != "+15550100" {
		t.Fatalf("phone = %q", gotPhone)
	}
	needed, err := b.SignIn(ctx, "+15550100", "12345")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !needed {
		t.Fatal("expected password_needed")
	}
	if gotCode != "12345" {
		t.Fatalf("code = %q", gotCode)
	}
	if err := b.CheckPassword(ctx, "hunter2"); err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
}

func TestBridgeErrorStatusSurfaced(t *testing.T) {
	srv := testutil.NewMockBridgeServer(t)
	srv.Handlers["/session/send_code"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flood wait", http.StatusTooManyRequests)
	}
	b := NewBridge(srv.URL)
	if err := b.SendCode(context.Background(), "+15550100"); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestBridgeUpdatesDeliverMessages(t *testing.T) {
	srv := testutil.NewMockBridgeServer(t)
	srv.MockStatus(true)
	srv.MockUpdates([]map[string]any{
		{"user_id": "100", "text": "hello", "from_self": false},
		{"user_id": "100", "audio_path": "/data/a.mp3", "from_self": false},
		{"user_id": "100", "text": "me", "from_self": true},
	})

	b := NewBridge(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.Updates(ctx)
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case msg := <-ch:
			switch {
			case msg.FromSelf:
				got = append(got, "self")
			case msg.AudioPath != "":
				got = append(got, "audio:"+msg.AudioPath)
			default:
				got = append(got, "text:"+msg.Text)
			}
		case <-timeout:
			t.Fatalf("only received %v", got)
		}
	}
	if got[0] != "text:hello" || got[1] != "audio:/data/a.mp3" || got[2] != "self" {
		t.Fatalf("got %v", got)
	}
}

func TestBridgeUpdatesFailFastWhenUnreachable(t *testing.T) {
	b := NewBridge("http://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := b.Updates(ctx); err == nil {
		t.Fatal("expected error for unreachable bridge")
	}
}
