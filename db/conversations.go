package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Conversation is the persisted per-user workflow record. Exactly one row exists per
// user id; rows are created lazily on first message and never hard-deleted; a reset
// returns the row to idle with all optional fields cleared.
type Conversation struct {
	UserID         string
	State          string
	AccountID      sql.NullInt64
	AudioPath      sql.NullString
	ThumbnailPath  sql.NullString
	Title          sql.NullString
	Description    sql.NullString
	Privacy        string
	LegacyVideoURL sql.NullString
}

const conversationCols = `user_id, state, account_id, audio_path, thumbnail_path, title, description, privacy, legacy_video_url`

func scanConversation(row *sql.Row) (*Conversation, error) {
	c := &Conversation{}
	err := row.Scan(&c.UserID, &c.State, &c.AccountID, &c.AudioPath, &c.ThumbnailPath, &c.Title, &c.Description, &c.Privacy, &c.LegacyVideoURL)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetOrCreateConversation returns the conversation row for a user, inserting an idle
// row if none exists yet. The insert is race-safe via ON CONFLICT DO NOTHING.
func GetOrCreateConversation(ctx context.Context, db *sql.DB, userID string) (*Conversation, error) {
	_, err := db.ExecContext(ctx, `INSERT INTO conversations (user_id, state, privacy, created_at)
		VALUES ($1, 'idle', 'public', NOW()) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	row := db.QueryRowContext(ctx, `SELECT `+conversationCols+` FROM conversations WHERE user_id=$1`, userID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return c, nil
}

// SaveConversation writes all mutable fields of a conversation row.
func SaveConversation(ctx context.Context, db *sql.DB, c *Conversation) error {
	_, err := db.ExecContext(ctx, `UPDATE conversations SET state=$1, account_id=$2, audio_path=$3,
		thumbnail_path=$4, title=$5, description=$6, privacy=$7, legacy_video_url=$8, updated_at=NOW()
		WHERE user_id=$9`,
		c.State, c.AccountID, c.AudioPath, c.ThumbnailPath, c.Title, c.Description, c.Privacy, c.LegacyVideoURL, c.UserID)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}
