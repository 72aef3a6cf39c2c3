package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/medconnect/internal/archive"
	"github.com/MrWong99/medconnect/internal/archive/postgres"
)

// newTestStore skips unless MEDCONNECT_TEST_POSTGRES_DSN is set.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("MEDCONNECT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDCONNECT_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	s, err := postgres.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_ArchiveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	in := archive.Transcript{
		ID:        uuid.NewString(),
		SessionID: "s-1",
		DoctorID:  "d-1",
		Reason:    archive.ReasonClose,
		Messages: []archive.Entry{
			{Role: "assistant", Content: "Welcome", At: now},
			{Role: "user", Content: "Tuesday please", At: now.Add(time.Second)},
		},
		Record:        map[string]any{"date": "2026-10-20"},
		BookingResult: map[string]any{"id": "b-1"},
		StartedAt:     now,
		EndedAt:       now.Add(time.Minute),
	}
	if err := s.Archive(ctx, in); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	// Second archive of the same attempt is ignored.
	dup := in
	dup.Messages = nil
	if err := s.Archive(ctx, dup); err != nil {
		t.Fatalf("Archive duplicate: %v", err)
	}

	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != "s-1" || got.DoctorID != "d-1" || got.Reason != archive.ReasonClose {
		t.Errorf("got = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].Content != "Tuesday please" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Record["date"] != "2026-10-20" {
		t.Errorf("record = %v", got.Record)
	}
	if !got.Completed() {
		t.Error("Completed = false, want true")
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), uuid.NewString())
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("err = %v, want ErrNoRows", err)
	}
}

func TestStore_ArchiveRequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Archive(context.Background(), archive.Transcript{DoctorID: "d"}); err == nil {
		t.Error("expected error for empty id")
	}
}
