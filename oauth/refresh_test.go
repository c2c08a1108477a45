package oauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/audiocast/backend/testutil"
)

func TestStartRefresherWalksAccounts(t *testing.T) {
	db := testutil.SetupTestDB(t)

	_, _ = db.Exec(`DELETE FROM accounts WHERE name IN ('t_ref1','t_ref2','t_nocreds')`)
	for _, row := range []struct{ name, path string }{
		{"t_ref1", "/creds/t_ref1_credentials.json"},
		{"t_ref2", "/creds/t_ref2_credentials.json"},
		{"t_nocreds", ""},
	} {
		if _, err := db.Exec(`INSERT INTO accounts (name, credentials_path, created_at) VALUES ($1,$2,NOW())`, row.name, row.path); err != nil {
			t.Fatalf("insert account: %v", err)
		}
	}

	var mu sync.Mutex
	var seen []string
	fn := func(ctx context.Context, credentialsPath string, window time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, credentialsPath)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	StartRefresher(ctx, db, 20*time.Millisecond, time.Minute, fn)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	var got []string
	for _, p := range seen {
		if p == "/creds/t_ref1_credentials.json" || p == "/creds/t_ref2_credentials.json" {
			got = append(got, p)
		}
		if p == "" {
			t.Fatal("refresh called for account without credentials path")
		}
	}
	if len(got) < 2 {
		t.Fatalf("expected both accounts refreshed, saw %v", seen)
	}
}

func TestStartRefresherStopsOnCancel(t *testing.T) {
	db := testutil.SetupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 64)
	StartRefresher(ctx, db, 10*time.Millisecond, time.Minute, func(context.Context, string, time.Duration) error {
		select {
		case called <- struct{}{}:
		default:
		}
		return nil
	})
	cancel()
	// After cancellation no further sweeps run; drain briefly and expect silence.
	time.Sleep(50 * time.Millisecond)
	drained := len(called)
	time.Sleep(100 * time.Millisecond)
	if len(called) > drained {
		t.Fatal("refresher kept running after cancel")
	}
}
