package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/shield/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is limited to one connection, so transactions never interleave.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	ref        TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS sequences (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY,
	type        TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	actor       TEXT NOT NULL,
	at          INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_kind_ref ON documents(kind, ref);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_kind, entity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Begin(ctx context.Context, _ bool) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) GetDoc(ctx context.Context, kind, id string) ([]byte, error) {
	var body string
	err := t.tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE kind = ? AND id = ?`, kind, id,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get %s/%s", kind, id)
	}
	return []byte(body), nil
}

func (t *sqliteTx) PutDoc(ctx context.Context, kind, id, ref string, body []byte) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO documents (kind, id, ref, body, updated_at) VALUES (?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(kind, id) DO UPDATE SET ref = excluded.ref, body = excluded.body, updated_at = excluded.updated_at`,
		kind, id, ref, string(body),
	)
	return eris.Wrapf(err, "sqlite: put %s/%s", kind, id)
}

func (t *sqliteTx) ListDocs(ctx context.Context, kind, ref string) ([][]byte, error) {
	query := `SELECT body FROM documents WHERE kind = ?`
	args := []any{kind}
	if ref != "" {
		query += ` AND ref = ?`
		args = append(args, ref)
	}
	query += ` ORDER BY id`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", kind)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		out = append(out, []byte(body))
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list iterate")
}

func (t *sqliteTx) NextSequence(ctx context.Context) (uint64, error) {
	var v int64
	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO sequences (name, value) VALUES ('events', 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`,
	).Scan(&v)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: next sequence")
	}
	return uint64(v), nil
}

const sqliteEventColumns = `seq, type, entity_kind, entity_id, actor, at, payload, prev_hash, hash`

func (t *sqliteTx) LastEvent(ctx context.Context) (*model.Event, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM events ORDER BY seq DESC LIMIT 1`,
	)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last event")
	}
	return ev, nil
}

func (t *sqliteTx) AppendEvents(ctx context.Context, events []model.Event) error {
	for _, ev := range events {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO events (`+sqliteEventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(ev.Sequence), string(ev.Type), ev.EntityKind, ev.EntityID, ev.Actor, ev.At,
			string(ev.Payload), ev.PrevHash, ev.Hash,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: append event %d", ev.Sequence)
		}
	}
	return nil
}

func (t *sqliteTx) Events(ctx context.Context, after uint64, limit int) ([]model.Event, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM events WHERE seq > ? ORDER BY seq LIMIT ?`,
		int64(after), eventLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: events iterate")
}

func (t *sqliteTx) Commit(context.Context) error {
	return eris.Wrap(t.tx.Commit(), "sqlite: commit")
}

func (t *sqliteTx) Rollback(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return eris.Wrap(err, "sqlite: rollback")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (*model.Event, error) {
	var (
		ev      model.Event
		seq     int64
		typ     string
		payload string
	)
	if err := row.Scan(&seq, &typ, &ev.EntityKind, &ev.EntityID, &ev.Actor, &ev.At, &payload, &ev.PrevHash, &ev.Hash); err != nil {
		return nil, err
	}
	ev.Sequence = uint64(seq)
	ev.Type = model.EventType(typ)
	if payload != "" {
		ev.Payload = []byte(payload)
	}
	return &ev, nil
}
