// Package testutil provides shared test helpers: a TEST_PG_DSN-gated Postgres
// setup, in-memory store fakes, and an httptest mock of the MTProto bridge sidecar.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/onnwee/audiocast/backend/db"
)

// MemConversationStore is an in-memory conversation.ConversationStore.
type MemConversationStore struct {
	mu    sync.Mutex
	Convs map[string]*db.Conversation
}

func NewMemConversationStore() *MemConversationStore {
	return &MemConversationStore{Convs: make(map[string]*db.Conversation)}
}

func (s *MemConversationStore) GetOrCreate(ctx context.Context, userID string) (*db.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.Convs[userID]; ok {
		cp := *c
		return &cp, nil
	}
	c := &db.Conversation{UserID: userID, State: "idle", Privacy: "public"}
	s.Convs[userID] = c
	cp := *c
	return &cp, nil
}

func (s *MemConversationStore) Save(ctx context.Context, c *db.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.Convs[c.UserID] = &cp
	return nil
}

// Get returns the stored row for assertions, or nil.
func (s *MemConversationStore) Get(userID string) *db.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.Convs[userID]; ok {
		cp := *c
		return &cp
	}
	return nil
}

// MemAccountStore is an in-memory conversation.AccountStore. Accounts keep their
// insertion order, which defines the 1-based selection indices.
type MemAccountStore struct {
	mu       sync.Mutex
	Accounts []db.Account
	nextID   int64
}

func NewMemAccountStore(names ...string) *MemAccountStore {
	s := &MemAccountStore{nextID: 1}
	for _, n := range names {
		s.Add(n, "/tmp/"+n+"_credentials.json")
	}
	return s
}

func (s *MemAccountStore) Add(name, credentialsPath string) db.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := db.Account{ID: s.nextID, Name: name, CredentialsPath: credentialsPath}
	s.nextID++
	s.Accounts = append(s.Accounts, a)
	return a
}

func (s *MemAccountStore) List(ctx context.Context) ([]db.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.Account, len(s.Accounts))
	copy(out, s.Accounts)
	return out, nil
}

func (s *MemAccountStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, a := range s.Accounts {
		if a.ID == id {
			s.Accounts = append(s.Accounts[:i], s.Accounts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("account %d not found", id)
}

func (s *MemAccountStore) FindByName(ctx context.Context, name string) (*db.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.Accounts {
		if a.Name == name {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemAccountStore) FindByID(ctx context.Context, id int64) (*db.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.Accounts {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, nil
}

// RecordingNotifier captures outbound sends for assertions.
type RecordingNotifier struct {
	mu    sync.Mutex
	Sends []string
}

func (n *RecordingNotifier) Send(ctx context.Context, userID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sends = append(n.Sends, userID+": "+text)
	return nil
}

func (n *RecordingNotifier) Broadcast(ctx context.Context, text string) {
	_ = n.Send(ctx, "*", text)
}

func (n *RecordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.Sends))
	copy(out, n.Sends)
	return out
}

// MockBridgeServer mocks the MTProto bridge sidecar HTTP API.
type MockBridgeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockBridgeServer creates a new mock bridge server. Unregistered paths 404.
func NewMockBridgeServer(t *testing.T) *MockBridgeServer {
	t.Helper()
	m := &MockBridgeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockStatus registers /session/status with a fixed authorized flag.
func (m *MockBridgeServer) MockStatus(authorized bool) {
	m.Handlers["/session/status"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"authorized": authorized}) //nolint:errcheck // test mock response
	}
}

// MockUpdates registers /session/updates returning the given messages once, then
// empty batches.
func (m *MockBridgeServer) MockUpdates(messages []map[string]any) {
	delivered := false
	var mu sync.Mutex
	m.Handlers["/session/updates"] = func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if delivered {
			_ = json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]any{}}) //nolint:errcheck // test mock response
			return
		}
		delivered = true
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": messages}) //nolint:errcheck // test mock response
	}
}
