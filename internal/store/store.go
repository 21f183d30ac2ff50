// Package store persists engine records as JSON documents together with
// the hash-chained event log and the global sequence counter.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shield/internal/model"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = eris.New("store: record not found")

// Store opens transactions against the backing database.
type Store interface {
	// Begin opens a transaction. A writable transaction holds the single
	// writer slot until it commits or rolls back.
	Begin(ctx context.Context, writable bool) (Tx, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is one all-or-nothing unit of work.
type Tx interface {
	// GetDoc returns the body of kind/id, or ErrNotFound.
	GetDoc(ctx context.Context, kind, id string) ([]byte, error)
	// PutDoc inserts or replaces kind/id. ref is an optional secondary key
	// (the owning policy of a claim, the owner of a policy).
	PutDoc(ctx context.Context, kind, id, ref string, body []byte) error
	// ListDocs returns all bodies of kind, in id order. A non-empty ref
	// restricts the result to documents with that secondary key.
	ListDocs(ctx context.Context, kind, ref string) ([][]byte, error)

	// NextSequence allocates the next value of the global sequence.
	NextSequence(ctx context.Context) (uint64, error)
	// LastEvent returns the most recent event, or nil when the log is empty.
	LastEvent(ctx context.Context) (*model.Event, error)
	AppendEvents(ctx context.Context, events []model.Event) error
	// Events returns up to limit events with a sequence above after.
	Events(ctx context.Context, after uint64, limit int) ([]model.Event, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DefaultEventLimit caps Events when the caller passes a non-positive limit.
const DefaultEventLimit = 500

// Get loads kind/id into a new T.
func Get[T any](ctx context.Context, tx Tx, kind, id string) (*T, error) {
	body, err := tx.GetDoc(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, eris.Wrapf(err, "store: decode %s/%s", kind, id)
	}
	return &v, nil
}

// Put stores v as kind/id.
func Put(ctx context.Context, tx Tx, kind, id, ref string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "store: encode %s/%s", kind, id)
	}
	return tx.PutDoc(ctx, kind, id, ref, body)
}

// List loads every document of kind, optionally filtered by ref.
func List[T any](ctx context.Context, tx Tx, kind, ref string) ([]T, error) {
	bodies, err := tx.ListDocs(ctx, kind, ref)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(bodies))
	for _, b := range bodies {
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, eris.Wrapf(err, "store: decode %s", kind)
		}
		out = append(out, v)
	}
	return out, nil
}

func eventLimit(limit int) int {
	if limit <= 0 || limit > DefaultEventLimit {
		return DefaultEventLimit
	}
	return limit
}
