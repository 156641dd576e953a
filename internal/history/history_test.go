package history

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ziadkadry99/ragbudget/internal/db"
)

func setupStore(t *testing.T) *SQLStore {
	t.Helper()
	d, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewSQLStore(d)
}

func TestAppendAndGetHistory(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.AppendMessage(ctx, "s1", role, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	if err := s.AppendMessage(ctx, "s2", RoleUser, "other"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	all, err := s.GetHistory(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d entries, want 5", len(all))
	}
	for i, e := range all {
		if e.Content != fmt.Sprintf("m%d", i) {
			t.Errorf("entry %d = %q, want m%d", i, e.Content, i)
		}
	}
	if all[1].Role != RoleAssistant {
		t.Errorf("entry 1 role = %s, want assistant", all[1].Role)
	}

	last, err := s.GetHistory(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(last) != 2 || last[0].Content != "m3" || last[1].Content != "m4" {
		t.Errorf("limited history = %+v, want m3, m4", last)
	}
}

func TestAppendRejectsUnknownRole(t *testing.T) {
	s := setupStore(t)
	if err := s.AppendMessage(context.Background(), "s1", Role("tool"), "x"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestSessionsAndClear(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	created, err := s.CreateSession(ctx, "planning")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	s.AppendMessage(ctx, created.ID, RoleUser, "hello")
	s.AppendMessage(ctx, created.ID, RoleAssistant, "hi")
	s.AppendMessage(ctx, "adhoc", RoleUser, "hey")

	sessions, err := s.Sessions(ctx, 10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	counts := map[string]int{}
	for _, sess := range sessions {
		counts[sess.ID] = sess.Messages
	}
	if counts[created.ID] != 2 || counts["adhoc"] != 1 {
		t.Errorf("message counts = %v", counts)
	}

	if err := s.Clear(ctx, created.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := s.Count(ctx, created.ID); n != 0 {
		t.Errorf("messages after clear = %d, want 0", n)
	}
	if err := s.Clear(ctx, created.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Clear = %v, want ErrSessionNotFound", err)
	}
}
