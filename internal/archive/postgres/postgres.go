// Package postgres archives transcripts in PostgreSQL.
//
// Each attempt is one row in voice_transcripts with its messages in
// voice_transcript_messages. [Migrate] creates both tables and is safe to run
// on every start.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/medconnect/internal/archive"
)

const ddl = `
CREATE TABLE IF NOT EXISTS voice_transcripts (
    id             TEXT         PRIMARY KEY,
    session_id     TEXT         NOT NULL DEFAULT '',
    doctor_id      TEXT         NOT NULL,
    reason         TEXT         NOT NULL,
    completed      BOOLEAN      NOT NULL DEFAULT false,
    record         JSONB        NOT NULL DEFAULT '{}'::jsonb,
    booking_result JSONB,
    started_at     TIMESTAMPTZ  NOT NULL,
    ended_at       TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_voice_transcripts_doctor_id
    ON voice_transcripts (doctor_id, ended_at);

CREATE TABLE IF NOT EXISTS voice_transcript_messages (
    transcript_id TEXT         NOT NULL REFERENCES voice_transcripts (id) ON DELETE CASCADE,
    seq           INT          NOT NULL,
    role          TEXT         NOT NULL,
    content       TEXT         NOT NULL,
    at            TIMESTAMPTZ  NOT NULL,
    PRIMARY KEY (transcript_id, seq)
);
`

// Migrate creates the archive tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}

// Store is an [archive.Archiver] backed by a pgx pool. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

var _ archive.Archiver = (*Store)(nil)

// New connects to dsn, verifies the connection, and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Archive writes t and its messages in one transaction. A transcript whose ID
// is already stored is left untouched.
func (s *Store) Archive(ctx context.Context, t archive.Transcript) error {
	if t.ID == "" {
		return errors.New("archive store: transcript has no id")
	}
	record := t.Record
	if record == nil {
		record = map[string]any{}
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO voice_transcripts
			    (id, session_id, doctor_id, reason, completed, record, booking_result, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, t.SessionID, t.DoctorID, string(t.Reason), t.Completed(),
			record, t.BookingResult, t.StartedAt, t.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("archive store: insert transcript: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, m := range t.Messages {
			batch.Queue(`
				INSERT INTO voice_transcript_messages (transcript_id, seq, role, content, at)
				VALUES ($1, $2, $3, $4, $5)`,
				t.ID, i, m.Role, m.Content, m.At,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("archive store: insert messages: %w", err)
		}
		return nil
	})
}

// Get loads the transcript with id. It returns [pgx.ErrNoRows] wrapped when
// no such transcript exists.
func (s *Store) Get(ctx context.Context, id string) (archive.Transcript, error) {
	t := archive.Transcript{ID: id}
	var reason string
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, doctor_id, reason, record, booking_result, started_at, ended_at
		FROM   voice_transcripts
		WHERE  id = $1`, id,
	).Scan(&t.SessionID, &t.DoctorID, &reason, &t.Record, &t.BookingResult, &t.StartedAt, &t.EndedAt)
	if err != nil {
		return archive.Transcript{}, fmt.Errorf("archive store: get %s: %w", id, err)
	}
	t.Reason = archive.Reason(reason)

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, at
		FROM   voice_transcript_messages
		WHERE  transcript_id = $1
		ORDER  BY seq`, id)
	if err != nil {
		return archive.Transcript{}, fmt.Errorf("archive store: get %s messages: %w", id, err)
	}
	t.Messages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Entry, error) {
		var e archive.Entry
		err := row.Scan(&e.Role, &e.Content, &e.At)
		return e, err
	})
	if err != nil {
		return archive.Transcript{}, fmt.Errorf("archive store: scan messages: %w", err)
	}
	return t, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
