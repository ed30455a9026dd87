// Package sqlite persists the reference coordinator's documents: one
// row per field register plus one row per vector clock entry, each
// field gated by the same LWW rule internal/document applies on the
// client, so two coordinators replaying the same operations in
// different orders converge identically.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/latticesync/lattice/internal/clock"
	"github.com/latticesync/lattice/internal/document"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Storage is the coordinator's document storage, backed by sqlite.
type Storage struct {
	db *sql.DB
}

// Open opens (creating and migrating if necessary) a sqlite database
// at path.
func Open(_ context.Context, path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Storage) Close() error { return s.db.Close() }

// ApplyField merges one field register into document_id's stored
// state using the LWW rule: it wins over what's stored if its
// timestamp is strictly newer, and it is dropped otherwise; a register
// with an equal timestamp is dropped without comparing values. It
// returns whether the stored state changed.
func (s *Storage) ApplyField(ctx context.Context, docID document.ID, field document.FieldName, reg document.FieldRegister) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existingLogical uint64
	var existingClient string
	err = tx.QueryRowContext(ctx,
		`SELECT timestamp_logical, timestamp_client FROM fields WHERE document_id = ? AND field = ?`,
		string(docID), string(field),
	).Scan(&existingLogical, &existingClient)

	switch {
	case err == sql.ErrNoRows:
		if err := insertField(ctx, tx, docID, field, reg); err != nil {
			return false, err
		}
	case err != nil:
		return false, fmt.Errorf("query existing field: %w", err)
	default:
		existing := clock.Timestamp{Logical: existingLogical, Client: clock.ClientID(existingClient)}
		if !existing.Less(reg.Timestamp) {
			return false, tx.Commit()
		}
		if err := insertField(ctx, tx, docID, field, reg); err != nil {
			return false, err
		}
	}

	if err := s.bumpClock(ctx, tx, docID, reg.Timestamp); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit field update: %w", err)
	}
	return true, nil
}

func insertField(ctx context.Context, tx *sql.Tx, docID document.ID, field document.FieldName, reg document.FieldRegister) error {
	valueJSON, err := reg.Value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal field value: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO fields (document_id, field, value, tombstone, timestamp_logical, timestamp_client)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, field) DO UPDATE SET
			value = excluded.value,
			tombstone = excluded.tombstone,
			timestamp_logical = excluded.timestamp_logical,
			timestamp_client = excluded.timestamp_client
	`, string(docID), string(field), string(valueJSON), boolToInt(reg.Tombstone), reg.Timestamp.Logical, string(reg.Timestamp.Client))
	if err != nil {
		return fmt.Errorf("upsert field: %w", err)
	}
	return nil
}

func (s *Storage) bumpClock(ctx context.Context, tx *sql.Tx, docID document.ID, ts clock.Timestamp) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO clocks (document_id, client_id, counter)
		VALUES (?, ?, ?)
		ON CONFLICT(document_id, client_id) DO UPDATE SET
			counter = MAX(counter, excluded.counter)
	`, string(docID), string(ts.Client), ts.Logical)
	if err != nil {
		return fmt.Errorf("bump clock: %w", err)
	}
	return nil
}

// LoadDocument reconstructs a full document.Document from storage.
func (s *Storage) LoadDocument(ctx context.Context, docID document.ID) (*document.Document, error) {
	doc := document.New(docID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value, tombstone, timestamp_logical, timestamp_client FROM fields WHERE document_id = ?`,
		string(docID),
	)
	if err != nil {
		return nil, fmt.Errorf("query fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var field, valueJSON, client string
		var tombstone int
		var logical uint64
		if err := rows.Scan(&field, &valueJSON, &tombstone, &logical, &client); err != nil {
			return nil, fmt.Errorf("scan field row: %w", err)
		}
		var value document.Value
		if err := value.UnmarshalJSON([]byte(valueJSON)); err != nil {
			return nil, fmt.Errorf("decode field value: %w", err)
		}
		doc.Fields[document.FieldName(field)] = document.FieldRegister{
			Value:     value,
			Tombstone: tombstone != 0,
			Timestamp: clock.Timestamp{Logical: logical, Client: clock.ClientID(client)},
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field rows: %w", err)
	}

	clockRows, err := s.db.QueryContext(ctx, `SELECT client_id, counter FROM clocks WHERE document_id = ?`, string(docID))
	if err != nil {
		return nil, fmt.Errorf("query clocks: %w", err)
	}
	defer clockRows.Close()

	vc := clock.New()
	for clockRows.Next() {
		var client string
		var counter uint64
		if err := clockRows.Scan(&client, &counter); err != nil {
			return nil, fmt.Errorf("scan clock row: %w", err)
		}
		vc[clock.ClientID(client)] = counter
	}
	if err := clockRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clock rows: %w", err)
	}
	doc.Clock = vc

	return doc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
