// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/onnwee/audiocast/backend/config"
	"github.com/onnwee/audiocast/backend/conversation"
	"github.com/onnwee/audiocast/backend/session"
	"github.com/onnwee/audiocast/backend/telegram"
	"github.com/onnwee/audiocast/backend/youtubeapi"
)

// UploadRunner starts the upload pipeline for one user. Satisfied by
// pipeline.Orchestrator; swapped in tests.
type UploadRunner interface {
	Run(ctx context.Context, userID string) error
}

// BotGateway covers the Bot API operations the handlers need: resolving raw
// webhook updates and sending replies. Satisfied by telegram.Bot; swapped in tests.
type BotGateway interface {
	ParseUpdate(ctx context.Context, update *tgbotapi.Update) (*telegram.Inbound, error)
	Send(ctx context.Context, userID, text string) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db        *sql.DB
	cfg       *config.Config
	bot       BotGateway
	convos    *conversation.Manager
	handshake *session.Handshake
	uploads   UploadRunner
	youtube   *youtubeapi.Service
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(db *sql.DB, cfg *config.Config, bot BotGateway, convos *conversation.Manager, hs *session.Handshake, uploads UploadRunner, yt *youtubeapi.Service) *Handlers {
	return &Handlers{
		db:        db,
		cfg:       cfg,
		bot:       bot,
		convos:    convos,
		handshake: hs,
		uploads:   uploads,
		youtube:   yt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}
