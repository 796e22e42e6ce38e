package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/insanmiy/banward/model"
)

func TestJSONFileStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewJSONFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to create JSONFileStore: %v", err)
	}

	subject := uuid.New()
	p := model.NewTemporary(subject, "Steve", "203.0.113.7", model.KindTempBan, "spam", "admin", time.Hour)
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Failed to save punishment: %v", err)
	}
	if err := s.CacheIdentity(ctx, "Steve", subject); err != nil {
		t.Fatalf("Failed to cache identity: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	// A fresh store over the same directory must see everything.
	reopened, err := NewJSONFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to reopen JSONFileStore: %v", err)
	}
	defer reopened.Close()

	active, err := reopened.QueryActive(ctx, subject)
	if err != nil {
		t.Fatalf("Failed to query active after restart: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected 1 active record after restart, got %d", len(active))
	}
	got := active[0]
	if got.Kind != model.KindTempBan || got.Reason != "spam" || got.ExpiresAt != p.ExpiresAt {
		t.Errorf("Record changed across restart: %+v", got)
	}

	id, err := reopened.ResolveIdentity(ctx, "steve")
	if err != nil {
		t.Fatalf("Failed to resolve identity after restart: %v", err)
	}
	if id != subject {
		t.Errorf("ResolveIdentity = %v, want %v", id, subject)
	}
}

func TestJSONFileStore_DeactivationPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewJSONFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to create JSONFileStore: %v", err)
	}

	subject := uuid.New()
	p := model.NewPermanent(subject, "Steve", "", model.KindBan, "", "admin")
	if err := s.Save(ctx, p); err != nil {
		t.Fatalf("Failed to save punishment: %v", err)
	}
	if err := s.MarkInactive(ctx, subject, p.CreatedAt); err != nil {
		t.Fatalf("Failed to mark inactive: %v", err)
	}
	s.Close()

	reopened, err := NewJSONFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to reopen JSONFileStore: %v", err)
	}
	defer reopened.Close()

	active, err := reopened.QueryActive(ctx, subject)
	if err != nil {
		t.Fatalf("Failed to query active: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Deactivation lost across restart: %d active records", len(active))
	}
	history, err := reopened.QueryHistory(ctx, subject)
	if err != nil {
		t.Fatalf("Failed to query history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("History lost across restart: %d records", len(history))
	}
}

func TestJSONFileStore_CreatesDataFiles(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "data")

	s, err := NewJSONFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to create JSONFileStore: %v", err)
	}
	defer s.Close()

	if err := s.Save(ctx, model.NewPermanent(uuid.New(), "Steve", "", model.KindBan, "", "admin")); err != nil {
		t.Fatalf("Failed to save punishment: %v", err)
	}
	if err := s.CacheIdentity(ctx, "Steve", uuid.New()); err != nil {
		t.Fatalf("Failed to cache identity: %v", err)
	}

	for _, file := range []string{punishmentsFile, identitiesFile} {
		if _, err := os.Stat(filepath.Join(dir, file)); err != nil {
			t.Errorf("Expected %s to exist: %v", file, err)
		}
	}
}

func TestJSONFileStore_RejectsCorruptData(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, punishmentsFile), []byte("{not json"), 0644); err != nil {
		t.Fatalf("Failed to write corrupt file: %v", err)
	}

	if _, err := NewJSONFileStore(dir); err == nil {
		t.Fatal("Expected error opening store over corrupt data")
	}
}
