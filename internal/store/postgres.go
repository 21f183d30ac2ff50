package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/shield/internal/model"
)

// Pool is the subset of pgxpool.Pool used by the store. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// writerLockKey is the advisory lock taken by writable transactions.
const writerLockKey int64 = 0x5348494c44 // "SHILD"

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	ref        TEXT NOT NULL DEFAULT '',
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS sequences (
	name  TEXT PRIMARY KEY,
	value BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	seq         BIGINT PRIMARY KEY,
	type        TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	actor       TEXT NOT NULL,
	at          BIGINT NOT NULL,
	payload     TEXT NOT NULL,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_kind_ref ON documents(kind, ref);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_kind, entity_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Begin opens a transaction. Writable transactions take a transaction-scoped
// advisory lock so concurrent replicas apply operations one at a time.
func (s *PostgresStore) Begin(ctx context.Context, writable bool) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	if writable {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockKey); err != nil {
			_ = tx.Rollback(ctx)
			return nil, eris.Wrap(err, "postgres: writer lock")
		}
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) GetDoc(ctx context.Context, kind, id string) ([]byte, error) {
	var body []byte
	err := t.tx.QueryRow(ctx,
		`SELECT body FROM documents WHERE kind = $1 AND id = $2`, kind, id,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s/%s", kind, id)
	}
	return body, nil
}

func (t *postgresTx) PutDoc(ctx context.Context, kind, id, ref string, body []byte) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO documents (kind, id, ref, body, updated_at) VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (kind, id) DO UPDATE SET ref = EXCLUDED.ref, body = EXCLUDED.body, updated_at = now()`,
		kind, id, ref, body,
	)
	return eris.Wrapf(err, "postgres: put %s/%s", kind, id)
}

func (t *postgresTx) ListDocs(ctx context.Context, kind, ref string) ([][]byte, error) {
	query := `SELECT body FROM documents WHERE kind = $1`
	args := []any{kind}
	if ref != "" {
		query += ` AND ref = $2`
		args = append(args, ref)
	}
	query += ` ORDER BY id`

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", kind)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		out = append(out, body)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list iterate")
}

func (t *postgresTx) NextSequence(ctx context.Context) (uint64, error) {
	var v int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO sequences (name, value) VALUES ('events', 1)
		 ON CONFLICT (name) DO UPDATE SET value = sequences.value + 1
		 RETURNING value`,
	).Scan(&v)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: next sequence")
	}
	return uint64(v), nil
}

const postgresEventColumns = `seq, type, entity_kind, entity_id, actor, at, payload, prev_hash, hash`

func (t *postgresTx) LastEvent(ctx context.Context) (*model.Event, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+postgresEventColumns+` FROM events ORDER BY seq DESC LIMIT 1`,
	)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last event")
	}
	return ev, nil
}

func (t *postgresTx) AppendEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, []any{
			int64(ev.Sequence), string(ev.Type), ev.EntityKind, ev.EntityID, ev.Actor, ev.At,
			string(ev.Payload), ev.PrevHash, ev.Hash,
		})
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"events"},
		[]string{"seq", "type", "entity_kind", "entity_id", "actor", "at", "payload", "prev_hash", "hash"},
		pgx.CopyFromRows(rows),
	)
	return eris.Wrap(err, "postgres: append events")
}

func (t *postgresTx) Events(ctx context.Context, after uint64, limit int) ([]model.Event, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+postgresEventColumns+` FROM events WHERE seq > $1 ORDER BY seq LIMIT $2`,
		int64(after), eventLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		out = append(out, *ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: events iterate")
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(ctx), "postgres: commit")
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return eris.Wrap(err, "postgres: rollback")
}
