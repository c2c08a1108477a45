package db

import (
	"context"
	"database/sql"
)

// ConversationStoreAdapter implements conversation.ConversationStore over *sql.DB.
type ConversationStoreAdapter struct{ DB *sql.DB }

func (s *ConversationStoreAdapter) GetOrCreate(ctx context.Context, userID string) (*Conversation, error) {
	return GetOrCreateConversation(ctx, s.DB, userID)
}

func (s *ConversationStoreAdapter) Save(ctx context.Context, c *Conversation) error {
	return SaveConversation(ctx, s.DB, c)
}

// AccountStoreAdapter implements conversation.AccountStore over *sql.DB.
type AccountStoreAdapter struct{ DB *sql.DB }

func (s *AccountStoreAdapter) List(ctx context.Context) ([]Account, error) {
	return ListAccounts(ctx, s.DB)
}

func (s *AccountStoreAdapter) Delete(ctx context.Context, id int64) error {
	return DeleteAccount(ctx, s.DB, id)
}

func (s *AccountStoreAdapter) FindByName(ctx context.Context, name string) (*Account, error) {
	return FindAccountByName(ctx, s.DB, name)
}

func (s *AccountStoreAdapter) FindByID(ctx context.Context, id int64) (*Account, error) {
	return FindAccountByID(ctx, s.DB, id)
}
