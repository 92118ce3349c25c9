package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// openTestPostgres connects to TEST_DATABASE_URL, applies migrations and
// returns a store whose table is emptied after the test.
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM mod_requests`); err != nil {
		t.Fatalf("reset mod_requests: %v", err)
	}
	t.Cleanup(func() { _, _ = db.ExecContext(context.Background(), `DELETE FROM mod_requests`) })
	return NewPostgresStore(db)
}

func TestPostgresStoreLifecycle(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	item, err := s.Create(ctx, Draft{GameName: "Minecraft", CreatedBy: "u1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if item.Comments.Len() != 0 || !item.LastActivity.Equal(item.Timestamp) {
		t.Fatalf("unexpected created record: %+v", item)
	}

	for _, text := range []string{"a", "b", "c"} {
		if err := s.AppendComment(ctx, item.ID, Comment{UserID: "m1", Comment: text, Timestamp: time.Now().UTC()}); err != nil {
			t.Fatalf("AppendComment(%s) error = %v", text, err)
		}
	}

	before, _ := s.GetByID(ctx, item.ID)
	if err := s.RemoveCommentAt(ctx, item.ID, 1); err != nil {
		t.Fatalf("RemoveCommentAt() error = %v", err)
	}
	after, err := s.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if after.Comments.Len() != 2 || after.Comments[0].Comment != "a" || after.Comments[1].Comment != "c" {
		t.Fatalf("expected [a c], got %+v", after.Comments)
	}
	if !after.LastActivity.After(before.LastActivity) {
		t.Fatalf("lastActivity should move forward: %v -> %v", before.LastActivity, after.LastActivity)
	}

	if err := s.RemoveCommentAt(ctx, item.ID, 2); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("RemoveCommentAt(2) error = %v, want ErrOutOfRange", err)
	}

	name := "Minecraft Java"
	if err := s.UpdateMetadata(ctx, item.ID, Patch{GameName: &name}); err != nil {
		t.Fatalf("UpdateMetadata() error = %v", err)
	}
	edited, _ := s.GetByID(ctx, item.ID)
	if edited.GameName != name || edited.CreatedBy != "u1" || !edited.Timestamp.Equal(edited.LastActivity) {
		t.Fatalf("unexpected edited record: %+v", edited)
	}

	if err := s.Delete(ctx, item.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.GetByID(ctx, item.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID() after delete error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStoreMalformedIDIsNotFound(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	if _, err := s.GetByID(ctx, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := s.AppendComment(ctx, "not-a-uuid", Comment{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AppendComment() error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStoreGetAllOrdersByActivity(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	first, _ := s.Create(ctx, Draft{GameName: "Skyrim"})
	second, _ := s.Create(ctx, Draft{GameName: "Factorio"})
	if err := s.AppendComment(ctx, first.ID, Comment{UserID: "u1", Comment: "bump", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("AppendComment() error = %v", err)
	}

	items, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != first.ID || items[1].ID != second.ID {
		t.Fatalf("expected commented record first, got %v", gameNames(items))
	}
}
