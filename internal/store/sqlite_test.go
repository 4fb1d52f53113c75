package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"mootbot/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := domain.User{
		Key:    "telegram:1",
		ChatID: "1",
		State:  domain.StateStarted,
	}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := s.GetUser(ctx, "telegram:1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got == nil {
		t.Fatal("expected user, got nil")
	}
	if got.State != domain.StateStarted {
		t.Fatalf("expected state started, got %s", got.State)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("CreatedAt should be populated")
	}

	got.Email = "jonas@student.ehu.lt"
	got.State = domain.StateVerified
	if err := s.UpdateUser(ctx, *got); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}

	got, err = s.GetUser(ctx, "telegram:1")
	if err != nil {
		t.Fatalf("GetUser after update: %v", err)
	}
	if got.Email != "jonas@student.ehu.lt" || got.State != domain.StateVerified {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestGetUser_Missing(t *testing.T) {
	s := testStore(t)

	got, err := s.GetUser(context.Background(), "telegram:999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing user, got %+v", got)
	}
}

func TestCreateUser_IgnoresDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := domain.User{Key: "telegram:1", ChatID: "1", State: domain.StateStarted}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("first create: %v", err)
	}
	u.State = domain.StateVerified
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("duplicate create: %v", err)
	}

	got, _ := s.GetUser(ctx, "telegram:1")
	if got.State != domain.StateStarted {
		t.Fatalf("duplicate create must not overwrite, got state %s", got.State)
	}
}

func TestMessages_PerStageHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := domain.User{Key: "telegram:1", ChatID: "1", State: domain.StateStageOne}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	add := func(stage domain.State, role, content string) {
		t.Helper()
		err := s.AddMessage(ctx, domain.MessageRecord{
			UserKey: "telegram:1",
			Stage:   stage,
			Role:    role,
			Content: content,
		})
		if err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}

	add(domain.StateStageOne, "user", "first")
	add(domain.StateStageOne, "assistant", "reply")
	add(domain.StateStageTwo, "user", "other stage")

	msgs, err := s.GetMessages(ctx, "telegram:1", domain.StateStageOne, 10)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 stage-one messages, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "reply" {
		t.Fatalf("expected chronological order, got %q then %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestGetMessages_LimitKeepsNewest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := domain.User{Key: "telegram:1", ChatID: "1", State: domain.StateStageOne}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	for _, c := range []string{"a", "b", "c", "d"} {
		if err := s.AddMessage(ctx, domain.MessageRecord{
			UserKey: "telegram:1", Stage: domain.StateStageOne, Role: "user", Content: c,
		}); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.GetMessages(ctx, "telegram:1", domain.StateStageOne, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2, got %d", len(msgs))
	}
	if msgs[0].Content != "c" || msgs[1].Content != "d" {
		t.Fatalf("expected the two newest in order, got %q then %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestClearMessages_OnlyTargetStage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := domain.User{Key: "telegram:1", ChatID: "1", State: domain.StateStageOne}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	s.AddMessage(ctx, domain.MessageRecord{UserKey: "telegram:1", Stage: domain.StateStageOne, Role: "user", Content: "x"})
	s.AddMessage(ctx, domain.MessageRecord{UserKey: "telegram:1", Stage: domain.StateStageTwo, Role: "user", Content: "y"})

	if err := s.ClearMessages(ctx, "telegram:1", domain.StateStageOne); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}

	one, _ := s.GetMessages(ctx, "telegram:1", domain.StateStageOne, 10)
	two, _ := s.GetMessages(ctx, "telegram:1", domain.StateStageTwo, 10)
	if len(one) != 0 {
		t.Fatalf("stage one should be empty, got %d", len(one))
	}
	if len(two) != 1 {
		t.Fatalf("stage two should be untouched, got %d", len(two))
	}
}

func TestDeleteUser_RemovesHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u := domain.User{Key: "telegram:1", ChatID: "1", State: domain.StateVerified}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	s.AddMessage(ctx, domain.MessageRecord{UserKey: "telegram:1", Stage: domain.StateStageOne, Role: "user", Content: "x"})

	if err := s.DeleteUser(ctx, "telegram:1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	got, _ := s.GetUser(ctx, "telegram:1")
	if got != nil {
		t.Fatal("user should be gone")
	}
	msgs, _ := s.GetMessages(ctx, "telegram:1", domain.StateStageOne, 10)
	if len(msgs) != 0 {
		t.Fatalf("history should be gone, got %d", len(msgs))
	}
}
