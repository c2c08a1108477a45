// Package conversation implements the per-user finite-state machine that collects
// upload workflow inputs (audio, destination account, title, description, thumbnail,
// privacy) across asynchronous message deliveries from either transport.
//
// States: idle, awaiting_audio, awaiting_account, awaiting_title, awaiting_description,
// awaiting_thumbnail, awaiting_privacy, processing, adding_account, removing_account.
// idle is initial; processing is the terminal state handed to the upload pipeline;
// every state can be exited to idle via the global cancel command.
package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	dbpkg "github.com/onnwee/audiocast/backend/db"
)

const (
	StateIdle                = "idle"
	StateAwaitingAudio       = "awaiting_audio"
	StateAwaitingAccount     = "awaiting_account"
	StateAwaitingTitle       = "awaiting_title"
	StateAwaitingDescription = "awaiting_description"
	StateAwaitingThumbnail   = "awaiting_thumbnail"
	StateAwaitingPrivacy     = "awaiting_privacy"
	StateProcessing          = "processing"
	StateAddingAccount       = "adding_account"
	StateRemovingAccount     = "removing_account"
)

// ActionCreateAccount asks the caller to create an account row and obtain an
// authorization link, outside the state machine's own responsibility.
const ActionCreateAccount = "create_account"

// SideAction is a structured instruction returned instead of a plain reply.
type SideAction struct {
	Name        string
	AccountName string
}

// Result is the tagged outcome of processing one message: either a plain text reply
// or a side action for the caller to perform. Exactly one of the two is set. State is
// the conversation state after the transition, so callers can observe the entry into
// processing and hand off to the pipeline.
type Result struct {
	Reply  string
	Action *SideAction
	State  string
}

// Message is one incoming delivery: text plus optional local media references
// resolved by the transport before dispatch. Text case is preserved; the machine
// lowercases internally only for command matching.
type Message struct {
	Text      string
	ImagePath string
	AudioPath string
}

// ConversationStore persists the one-row-per-user workflow record.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, userID string) (*dbpkg.Conversation, error)
	Save(ctx context.Context, c *dbpkg.Conversation) error
}

// AccountStore exposes the upload-destination accounts. List order defines the
// 1-based indices rendered in selection prompts.
type AccountStore interface {
	List(ctx context.Context) ([]dbpkg.Account, error)
	Delete(ctx context.Context, id int64) error
	FindByName(ctx context.Context, name string) (*dbpkg.Account, error)
	FindByID(ctx context.Context, id int64) (*dbpkg.Account, error)
}

// Manager drives state transitions. Processing for a given user is serialized with a
// per-user mutex: the two transports can deliver for the same user concurrently and
// the store offers no row-level optimistic check, so the read-modify-write must not
// interleave.
type Manager struct {
	conversations ConversationStore
	accounts      AccountStore

	// removeCreds deletes an account's stored credential material; swapped in tests.
	removeCreds func(path string) error

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(conversations ConversationStore, accounts AccountStore) *Manager {
	return &Manager{
		conversations: conversations,
		accounts:      accounts,
		removeCreds:   os.Remove,
		locks:         make(map[string]*sync.Mutex),
	}
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

const helpText = "Commands:\n" +
	"• upload - Start new upload\n" +
	"• add - Add account\n" +
	"• remove - Remove account\n" +
	"• accounts - List accounts\n" +
	"• cancel - Cancel current action"

const idleHint = "Commands:\n" +
	"• upload - Start upload\n" +
	"• add - Add account\n" +
	"• remove - Remove account\n" +
	"• accounts - List accounts"

const audioPrompt = "Send an audio file directly (.mp3, .m4a, .wav, .flac, .aac, .ogg, .opus, .wma, .m4p, .mp2, .mpa, .mpc, .ape, .aiff, .au, .m3u, .m4b, .oga, .wv, .tta)."

// Process handles one incoming message for a user and returns the response. All
// state and field mutations are persisted before returning. Store failures are
// propagated to the caller unrecovered.
func (m *Manager) Process(ctx context.Context, userID string, msg Message) (Result, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	conv, err := m.conversations.GetOrCreate(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	res, err := m.dispatch(ctx, conv, msg)
	if err != nil {
		return Result{}, err
	}
	res.State = conv.State
	return res, nil
}

func (m *Manager) dispatch(ctx context.Context, conv *dbpkg.Conversation, msg Message) (Result, error) {
	lower := strings.ToLower(strings.TrimSpace(msg.Text))

	// Global commands, recognized in any state.
	switch lower {
	case "cancel", "stop", "quit":
		if err := m.reset(ctx, conv); err != nil {
			return Result{}, err
		}
		return reply("Cancelled. Send 'upload' to start."), nil
	case "help", "?":
		return reply(helpText), nil
	case "accounts":
		return m.listAccounts(ctx)
	}

	// An arriving audio file short-circuits idle and awaiting_audio straight into
	// the upload flow.
	if msg.AudioPath != "" && (conv.State == StateIdle || conv.State == StateAwaitingAudio) {
		return m.handleAudioArrival(ctx, conv, msg.AudioPath)
	}

	switch conv.State {
	case StateIdle:
		return m.handleIdle(ctx, conv, lower)
	case StateAddingAccount:
		return m.handleAddingAccount(ctx, conv, strings.TrimSpace(msg.Text))
	case StateRemovingAccount:
		return m.handleRemovingAccount(ctx, conv, lower)
	case StateAwaitingAudio:
		if lower == "add" || lower == "add account" {
			conv.State = StateAddingAccount
			if err := m.conversations.Save(ctx, conv); err != nil {
				return Result{}, err
			}
			return reply("Enter a name for this account (e.g. MusicChannel):"), nil
		}
		return reply("Please send an audio file. (Or type 'cancel' to go back, 'add' to add account)"), nil
	case StateAwaitingAccount:
		return m.handleAwaitingAccount(ctx, conv, lower)
	case StateAwaitingTitle:
		return m.handleAwaitingTitle(ctx, conv, strings.TrimSpace(msg.Text))
	case StateAwaitingDescription:
		return m.handleAwaitingDescription(ctx, conv, strings.TrimSpace(msg.Text))
	case StateAwaitingThumbnail:
		return m.handleAwaitingThumbnail(ctx, conv, lower, msg.ImagePath)
	case StateAwaitingPrivacy:
		return m.handleAwaitingPrivacy(ctx, conv, lower)
	case StateProcessing:
		return reply("Still processing... Please wait."), nil
	}

	// Unknown persisted state value. Never reachable through the defined
	// transitions; recover by resetting.
	slog.Warn("conversation in unknown state", slog.String("user_id", conv.UserID), slog.String("state", conv.State), slog.String("component", "conversation"))
	if err := m.reset(ctx, conv); err != nil {
		return Result{}, err
	}
	return reply("Something went wrong. Send 'upload' to start."), nil
}

// Reset returns a user's conversation to idle with all optional fields cleared.
// Exposed for the pipeline and the account authorization callback.
func (m *Manager) Reset(ctx context.Context, userID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	conv, err := m.conversations.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}
	return m.reset(ctx, conv)
}

func (m *Manager) reset(ctx context.Context, conv *dbpkg.Conversation) error {
	conv.State = StateIdle
	conv.AccountID = sql.NullInt64{}
	conv.AudioPath = sql.NullString{}
	conv.ThumbnailPath = sql.NullString{}
	conv.Title = sql.NullString{}
	conv.Description = sql.NullString{}
	conv.Privacy = "public"
	conv.LegacyVideoURL = sql.NullString{}
	return m.conversations.Save(ctx, conv)
}

func (m *Manager) listAccounts(ctx context.Context) (Result, error) {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(accounts) == 0 {
		return reply("No accounts. Send 'add' to add one."), nil
	}
	var b strings.Builder
	b.WriteString("Your accounts:")
	for _, a := range accounts {
		b.WriteString("\n• " + a.Name)
	}
	return reply(b.String()), nil
}

// handleAudioArrival stores the audio reference, clears any legacy video URL, and
// advances: directly to awaiting_title when exactly one account exists (auto-select),
// otherwise to awaiting_account with a numbered list.
func (m *Manager) handleAudioArrival(ctx context.Context, conv *dbpkg.Conversation, audioPath string) (Result, error) {
	conv.AudioPath = sql.NullString{String: audioPath, Valid: true}
	conv.LegacyVideoURL = sql.NullString{}

	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(accounts) == 1 {
		conv.AccountID = sql.NullInt64{Int64: accounts[0].ID, Valid: true}
		conv.State = StateAwaitingTitle
		if err := m.conversations.Save(ctx, conv); err != nil {
			return Result{}, err
		}
		return reply(fmt.Sprintf("Using %s. Enter video title:", accounts[0].Name)), nil
	}

	conv.State = StateAwaitingAccount
	if err := m.conversations.Save(ctx, conv); err != nil {
		return Result{}, err
	}
	return reply("Choose account:\n" + renderAccountList(accounts) + "\n\nReply with number:"), nil
}

func (m *Manager) handleIdle(ctx context.Context, conv *dbpkg.Conversation, lower string) (Result, error) {
	switch lower {
	case "add", "add account":
		conv.State = StateAddingAccount
		if err := m.conversations.Save(ctx, conv); err != nil {
			return Result{}, err
		}
		return reply("Enter a name for this account (e.g. MusicChannel):"), nil

	case "remove", "remove account", "delete", "delete account":
		accounts, err := m.accounts.List(ctx)
		if err != nil {
			return Result{}, err
		}
		if len(accounts) == 0 {
			return reply("No accounts to remove."), nil
		}
		conv.State = StateRemovingAccount
		if err := m.conversations.Save(ctx, conv); err != nil {
			return Result{}, err
		}
		return reply("Which account to remove?\n" + renderAccountList(accounts) + "\n\nReply with number:"), nil

	case "upload", "start", "new":
		accounts, err := m.accounts.List(ctx)
		if err != nil {
			return Result{}, err
		}
		if len(accounts) == 0 {
			return reply("No accounts yet. Send 'add' to add an account first."), nil
		}
		conv.State = StateAwaitingAudio
		if err := m.conversations.Save(ctx, conv); err != nil {
			return Result{}, err
		}
		return reply(audioPrompt), nil
	}

	return reply(idleHint), nil
}

// handleAddingAccount validates the proposed name and hands creation back to the
// caller as a side action; the state stays adding_account until the caller confirms
// (authorization callback) or the user cancels.
func (m *Manager) handleAddingAccount(ctx context.Context, conv *dbpkg.Conversation, name string) (Result, error) {
	if name == "" {
		return reply("Please enter a valid account name."), nil
	}
	existing, err := m.accounts.FindByName(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		if err := m.reset(ctx, conv); err != nil {
			return Result{}, err
		}
		return reply(fmt.Sprintf("Account '%s' already exists.", name)), nil
	}
	return Result{Action: &SideAction{Name: ActionCreateAccount, AccountName: name}}, nil
}

func (m *Manager) handleRemovingAccount(ctx context.Context, conv *dbpkg.Conversation, lower string) (Result, error) {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return Result{}, err
	}

	choice, err := strconv.Atoi(lower)
	if err != nil {
		return reply("Enter the number of the account to remove."), nil
	}
	if choice < 1 || choice > len(accounts) {
		return reply(fmt.Sprintf("Enter a number between 1 and %d.", len(accounts))), nil
	}

	account := accounts[choice-1]
	if account.CredentialsPath != "" {
		if err := m.removeCreds(account.CredentialsPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("credential file removal failed", slog.String("path", account.CredentialsPath), slog.Any("err", err), slog.String("component", "conversation"))
		}
	}
	if err := m.accounts.Delete(ctx, account.ID); err != nil {
		return Result{}, err
	}
	if err := m.reset(ctx, conv); err != nil {
		return Result{}, err
	}
	return reply(fmt.Sprintf("Removed '%s'.", account.Name)), nil
}

func (m *Manager) handleAwaitingAccount(ctx context.Context, conv *dbpkg.Conversation, lower string) (Result, error) {
	accounts, err := m.accounts.List(ctx)
	if err != nil {
		return Result{}, err
	}

	choice, err := strconv.Atoi(lower)
	if err != nil {
		return reply("Enter the account number."), nil
	}
	if choice < 1 || choice > len(accounts) {
		return reply(fmt.Sprintf("Enter 1-%d.", len(accounts))), nil
	}

	conv.AccountID = sql.NullInt64{Int64: accounts[choice-1].ID, Valid: true}
	conv.State = StateAwaitingTitle
	if err := m.conversations.Save(ctx, conv); err != nil {
		return Result{}, err
	}
	return reply(fmt.Sprintf("Using %s. Enter video title:", accounts[choice-1].Name)), nil
}

func (m *Manager) handleAwaitingTitle(ctx context.Context, conv *dbpkg.Conversation, text string) (Result, error) {
	if text == "" {
		return reply("Enter video title:"), nil
	}
	conv.Title = sql.NullString{String: text, Valid: true}
	conv.State = StateAwaitingDescription
	if err := m.conversations.Save(ctx, conv); err != nil {
		return Result{}, err
	}
	return reply("Description? (or 'skip'):"), nil
}

func (m *Manager) handleAwaitingDescription(ctx context.Context, conv *dbpkg.Conversation, text string) (Result, error) {
	desc := text
	switch strings.ToLower(text) {
	case "skip", "none", "-":
		desc = ""
	}
	conv.Description = sql.NullString{String: desc, Valid: true}
	conv.State = StateAwaitingThumbnail
	if err := m.conversations.Save(ctx, conv); err != nil {
		return Result{}, err
	}
	return reply("Send thumbnail image:"), nil
}

func (m *Manager) handleAwaitingThumbnail(ctx context.Context, conv *dbpkg.Conversation, lower, imagePath string) (Result, error) {
	switch {
	case imagePath != "":
		conv.ThumbnailPath = sql.NullString{String: imagePath, Valid: true}
	case lower == "auto" || lower == "default" || lower == "original" || lower == "skip":
		// Null thumbnail: the source-default frame is used.
		conv.ThumbnailPath = sql.NullString{}
	default:
		return reply("Send an image or reply 'auto'."), nil
	}

	conv.State = StateAwaitingPrivacy
	if err := m.conversations.Save(ctx, conv); err != nil {
		return Result{}, err
	}
	return reply("Privacy? (public / unlisted / private):"), nil
}

var privacyChoices = map[string]string{
	"public": "public", "1": "public",
	"unlisted": "unlisted", "2": "unlisted",
	"private": "private", "3": "private",
}

func (m *Manager) handleAwaitingPrivacy(ctx context.Context, conv *dbpkg.Conversation, lower string) (Result, error) {
	privacy, ok := privacyChoices[lower]
	if !ok {
		return reply("Reply: public, unlisted, or private"), nil
	}

	// The processing state promises the pipeline a complete workflow; refuse the
	// transition if an earlier field went missing rather than hand over a broken row.
	if !conv.AccountID.Valid || !conv.AudioPath.Valid || !conv.Title.Valid {
		slog.Warn("incomplete workflow at privacy step; resetting", slog.String("user_id", conv.UserID), slog.String("component", "conversation"))
		if err := m.reset(ctx, conv); err != nil {
			return Result{}, err
		}
		return reply("Something went wrong. Send 'upload' to start."), nil
	}

	conv.Privacy = privacy
	conv.State = StateProcessing
	if err := m.conversations.Save(ctx, conv); err != nil {
		return Result{}, err
	}
	return reply("Processing... This may take a few minutes."), nil
}

func renderAccountList(accounts []dbpkg.Account) string {
	lines := make([]string, 0, len(accounts))
	for i, a := range accounts {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, a.Name))
	}
	return strings.Join(lines, "\n")
}

func reply(text string) Result { return Result{Reply: text} }
