package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/reqflow/internal/model"

	_ "modernc.org/sqlite"
)

const schemaVersion = 2

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	location   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	source_id  TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS versions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id  TEXT NOT NULL,
	seq          INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	payload      TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	derived_from INTEGER REFERENCES versions(id),
	UNIQUE(document_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_versions_document ON versions(document_id, seq);
`

// SQLite is a Store backed by modernc.org/sqlite
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps :memory: a single database
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v == 1:
		return s.migrateV1()
	case v != schemaVersion:
		return fmt.Errorf("unsupported schema version %d (want %d)", v, schemaVersion)
	}
	return nil
}

// migrateV1 adds the conversion link to documents
func (s *SQLite) migrateV1() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("ALTER TABLE documents ADD COLUMN source_id TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	if _, err := tx.Exec("UPDATE schema_version SET version = ?", schemaVersion); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Append inserts v in a transaction that also checks seq ordering.
// UNIQUE(document_id, seq) backs the check against other processes.
func (s *SQLite) Append(ctx context.Context, v model.Version) (model.Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Version{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM versions WHERE document_id = ?", v.DocumentID).Scan(&latest); err != nil {
		return model.Version{}, fmt.Errorf("read latest seq: %w", err)
	}
	if err := checkAppend(v, int(latest.Int64)); err != nil {
		return model.Version{}, err
	}

	v = stamp(v.Clone())
	payload, err := json.Marshal(v.Payload)
	if err != nil {
		return model.Version{}, fmt.Errorf("encode payload: %w", err)
	}

	var derived sql.NullInt64
	if v.DerivedFrom != nil {
		derived = sql.NullInt64{Int64: *v.DerivedFrom, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO versions(document_id, seq, kind, payload, created_at, derived_from) VALUES(?, ?, ?, ?, ?, ?)`,
		v.DocumentID, v.Seq, v.Kind.String(), string(payload), v.CreatedAt.UTC().Format(time.RFC3339Nano), derived)
	if err != nil {
		return model.Version{}, fmt.Errorf("insert version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Version{}, fmt.Errorf("version id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Version{}, fmt.Errorf("commit append: %w", err)
	}

	v.ID = id
	return v, nil
}

const versionColumns = "id, document_id, seq, kind, payload, created_at, derived_from"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (model.Version, error) {
	var (
		v       model.Version
		kind    string
		payload string
		created string
		derived sql.NullInt64
	)
	if err := row.Scan(&v.ID, &v.DocumentID, &v.Seq, &kind, &payload, &created, &derived); err != nil {
		return model.Version{}, err
	}
	k, err := model.ParseVersionKind(kind)
	if err != nil {
		return model.Version{}, fmt.Errorf("version %d: %w", v.ID, err)
	}
	v.Kind = k
	if err := json.Unmarshal([]byte(payload), &v.Payload); err != nil {
		return model.Version{}, fmt.Errorf("decode payload of version %d: %w", v.ID, err)
	}
	if v.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return model.Version{}, fmt.Errorf("created_at of version %d: %w", v.ID, err)
	}
	if derived.Valid {
		d := derived.Int64
		v.DerivedFrom = &d
	}
	return v, nil
}

func (s *SQLite) Latest(ctx context.Context, docID string) (model.Version, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE document_id = ? ORDER BY seq DESC LIMIT 1", docID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Version{}, fmt.Errorf("document %s has no versions: %w", docID, model.ErrNotFound)
	}
	if err != nil {
		return model.Version{}, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}

func (s *SQLite) Get(ctx context.Context, id int64) (model.Version, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+versionColumns+" FROM versions WHERE id = ?", id)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Version{}, fmt.Errorf("version %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Version{}, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (s *SQLite) List(ctx context.Context, docID string) ([]model.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE document_id = ? ORDER BY seq ASC", docID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("list versions: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) PutDocument(ctx context.Context, doc model.Document) (model.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Document{}, fmt.Errorf("begin put document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM documents").Scan(&maxSeq); err != nil {
		return model.Document{}, fmt.Errorf("read document seq: %w", err)
	}
	doc, err = prepareDocument(doc, int(maxSeq.Int64)+1)
	if err != nil {
		return model.Document{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents(id, kind, seq, location, title, source_id, updated_at) VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind = excluded.kind, seq = excluded.seq, location = excluded.location,
			title = excluded.title, source_id = excluded.source_id, updated_at = excluded.updated_at`,
		doc.ID, doc.Kind.String(), doc.Seq, doc.Location, doc.Title, doc.SourceID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return model.Document{}, fmt.Errorf("upsert document: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Document{}, fmt.Errorf("commit put document: %w", err)
	}
	return doc, nil
}

func scanDocument(row rowScanner) (model.Document, error) {
	var d model.Document
	var kind string
	if err := row.Scan(&d.ID, &kind, &d.Seq, &d.Location, &d.Title, &d.SourceID); err != nil {
		return model.Document{}, err
	}
	k, err := model.ParseDocKind(kind)
	if err != nil {
		return model.Document{}, fmt.Errorf("document %s: %w", d.ID, err)
	}
	d.Kind = k
	return d, nil
}

func (s *SQLite) Document(ctx context.Context, id string) (model.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, kind, seq, location, title, source_id FROM documents WHERE id = ?", id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *SQLite) Documents(ctx context.Context) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, kind, seq, location, title, source_id FROM documents ORDER BY seq, id")
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
