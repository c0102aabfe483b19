package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "memory.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func store(t *testing.T, s domain.MemoryStore, user, session, q, a string) {
	t.Helper()
	err := s.StoreInteraction(context.Background(), domain.Interaction{
		UserID:        user,
		SessionID:     session,
		UserMessage:   q,
		AgentResponse: a,
		Metadata:      map[string]string{"routed_to": "tool"},
	})
	if err != nil {
		t.Fatalf("StoreInteraction: %v", err)
	}
}

func TestSQLiteRecentMessages(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	store(t, s, "alice", "s1", "first question", "first answer")
	store(t, s, "alice", "s1", "second question", "second answer")
	store(t, s, "alice", "s2", "other session", "other answer")
	store(t, s, "bob", "s1", "bob question", "bob answer")

	recs, err := s.RecentMessages(ctx, "alice", "s1", 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	want := []string{"first answer", "second question", "second answer"}
	for i, w := range want {
		if recs[i].Content != w {
			t.Errorf("recs[%d] = %q, want %q", i, recs[i].Content, w)
		}
	}
	if recs[0].Role != domain.RoleAssistant || recs[1].Role != domain.RoleUser {
		t.Errorf("roles = %q, %q", recs[0].Role, recs[1].Role)
	}
	if recs[2].Metadata["routed_to"] != "tool" {
		t.Errorf("metadata = %v", recs[2].Metadata)
	}
	if recs[1].CreatedAt.IsZero() {
		t.Error("CreatedAt not restored")
	}

	none, err := s.RecentMessages(ctx, "alice", "s1", 0)
	if err != nil || none != nil {
		t.Errorf("limit 0 = %v, %v", none, err)
	}
}

func TestSQLiteSemanticSearch(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	store(t, s, "alice", "s1", "What is the weather in Paris?", "Sunny in Paris.")
	store(t, s, "alice", "s2", "Compute 2+2", "4")
	store(t, s, "bob", "s1", "Paris trip ideas", "Visit the Louvre.")

	recs, err := s.SemanticSearch(ctx, "alice", "paris?!", 5)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(recs), recs)
	}
	for _, r := range recs {
		if r.UserID != "alice" {
			t.Errorf("leaked record of %q", r.UserID)
		}
	}

	recs, err = s.SemanticSearch(ctx, "alice", "!!", 5)
	if err != nil || len(recs) != 0 {
		t.Errorf("punctuation-only query = %v, %v", recs, err)
	}
}

func TestSQLiteStoreRequiresIdentity(t *testing.T) {
	s := newTestSQLite(t)
	err := s.StoreInteraction(context.Background(), domain.Interaction{SessionID: "s"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	err = s.StoreInteraction(context.Background(), domain.Interaction{UserID: "u"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	store(t, s, "u", "s", "remember the blue widget", "noted")
	s.Close()

	s, err = NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	recs, err := s.SemanticSearch(context.Background(), "u", "widget", 5)
	if err != nil || len(recs) != 1 {
		t.Fatalf("SemanticSearch after reopen = %v, %v", recs, err)
	}
}

func TestSQLiteKeepsInteractionTimestamp(t *testing.T) {
	s := newTestSQLite(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.StoreInteraction(context.Background(), domain.Interaction{
		UserID: "u", SessionID: "s", UserMessage: "q", AgentResponse: "a", CreatedAt: at,
	}); err != nil {
		t.Fatal(err)
	}
	recs, _ := s.RecentMessages(context.Background(), "u", "s", 2)
	if len(recs) != 2 || !recs[0].CreatedAt.Equal(at) {
		t.Errorf("records = %+v", recs)
	}
}
