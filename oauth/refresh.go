// Package oauth provides background token refresh scheduling for upload-destination
// accounts whose credentials are persisted as per-account token files. It performs
// jittered checks and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	dbpkg "github.com/onnwee/audiocast/backend/db"
)

// RefreshFunc refreshes one account's credential file when its token expires within window.
type RefreshFunc func(ctx context.Context, credentialsPath string, window time.Duration) error

// StartRefresher launches a goroutine that periodically walks the accounts table and
// refreshes any credential file whose token is near expiry.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, db *sql.DB, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if window <= 0 {
		window = 20 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}

			accounts, err := dbpkg.ListAccounts(ctx, db)
			if err != nil {
				slog.Warn("refresher account list failed", slog.Any("err", err), slog.String("component", "oauth_refresh"))
				continue
			}
			for _, a := range accounts {
				if a.CredentialsPath == "" {
					continue
				}
				rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
				err := fn(rctx, a.CredentialsPath, window)
				cancel()
				if err != nil {
					slog.Warn("token refresh failed", slog.String("account", a.Name), slog.Any("err", err), slog.String("component", "oauth_refresh"))
					continue
				}
			}
		}
	}()
}
