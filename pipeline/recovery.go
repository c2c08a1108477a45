package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	dbpkg "github.com/onnwee/audiocast/backend/db"
)

// StartRecoveryJob runs a loop that picks up conversations left in processing (for
// example after a restart killed their in-flight run) and hands them back to the
// orchestrator. The orchestrator's state guard and single-flight map keep each
// workflow at most-once even if a trigger and the sweep race.
func StartRecoveryJob(ctx context.Context, dbc *sql.DB, orch *Orchestrator) {
	interval := 2 * time.Minute
	if s := os.Getenv("UPLOAD_RECOVERY_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			interval = d
		}
	}
	slog.Info("upload recovery job starting", slog.Duration("interval", interval), slog.String("component", "pipeline"))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("upload recovery job stopped", slog.String("component", "pipeline"))
			return
		case <-ticker.C:
			if err := recoverOnce(ctx, dbc, orch); err != nil {
				slog.Warn("recovery sweep failed", slog.Any("err", err), slog.String("component", "pipeline"))
			}
		}
	}
}

func recoverOnce(ctx context.Context, dbc *sql.DB, orch *Orchestrator) error {
	_ = dbpkg.SetKV(ctx, dbc, "job_upload_recovery_last", time.Now().UTC().Format(time.RFC3339))

	rows, err := dbc.QueryContext(ctx, `SELECT user_id FROM conversations WHERE state='processing'
		AND COALESCE(updated_at, created_at) < NOW() - INTERVAL '5 minutes'`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range users {
		slog.Info("recovering stalled workflow", slog.String("user_id", id), slog.String("component", "pipeline"))
		if err := orch.Run(ctx, id); err != nil {
			slog.Warn("recovery run failed", slog.String("user_id", id), slog.Any("err", err), slog.String("component", "pipeline"))
		}
	}
	return nil
}
