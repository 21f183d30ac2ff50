// Package audit maintains and verifies the SHA-256 hash chain over the
// engine's event log.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/store"
)

// GenesisHash is the PrevHash of the first event.
var GenesisHash = strings.Repeat("0", 64)

// Hash returns sha256(prev || canonical JSON of ev without its hashes).
func Hash(prev string, ev model.Event) (string, error) {
	ev.PrevHash, ev.Hash = "", ""
	body, err := json.Marshal(ev)
	if err != nil {
		return "", eris.Wrapf(err, "audit: encode event %d", ev.Sequence)
	}
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Chain links events onto prev in order, filling PrevHash and Hash.
// It returns the hash of the last event.
func Chain(prev string, events []model.Event) (string, error) {
	if prev == "" {
		prev = GenesisHash
	}
	for i := range events {
		h, err := Hash(prev, events[i])
		if err != nil {
			return "", err
		}
		events[i].PrevHash = prev
		events[i].Hash = h
		prev = h
	}
	return prev, nil
}

// Result is the outcome of a verification.
type Result struct {
	Valid        bool   `json:"valid"`
	Records      int    `json:"records"`
	LastSequence uint64 `json:"last_sequence"`
	LastHash     string `json:"last_hash,omitempty"`
	// Gaps counts places where a sequence skips ahead of its predecessor.
	Gaps         int    `json:"gaps"`
	BrokenAt     uint64 `json:"broken_at,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Verifier checks events one at a time so long logs can be paged.
type Verifier struct {
	prev    string
	lastSeq uint64
	count   int
	gaps    int
	broken  *Result
}

// NewVerifier starts at the genesis link.
func NewVerifier() *Verifier {
	return &Verifier{prev: GenesisHash}
}

func (v *Verifier) fail(ev model.Event, format string, args ...any) {
	v.broken = &Result{
		Records:      v.count,
		LastSequence: v.lastSeq,
		LastHash:     v.prev,
		Gaps:         v.gaps,
		BrokenAt:     ev.Sequence,
		Error:        fmt.Sprintf(format, args...),
	}
}

// Add checks the next event. It returns false once the chain is broken.
func (v *Verifier) Add(ev model.Event) (bool, error) {
	if v.broken != nil {
		return false, nil
	}
	if ev.Sequence <= v.lastSeq {
		v.fail(ev, "sequence %d does not follow %d", ev.Sequence, v.lastSeq)
		return false, nil
	}
	if ev.PrevHash != v.prev {
		v.fail(ev, "prev_hash mismatch: expected %s, got %s", v.prev, ev.PrevHash)
		return false, nil
	}
	want, err := Hash(v.prev, ev)
	if err != nil {
		return false, err
	}
	if ev.Hash != want {
		v.fail(ev, "hash mismatch: expected %s, got %s", want, ev.Hash)
		return false, nil
	}
	if v.count > 0 && ev.Sequence != v.lastSeq+1 {
		v.gaps++
	}
	v.prev = ev.Hash
	v.lastSeq = ev.Sequence
	v.count++
	return true, nil
}

// Result reports the verification so far.
func (v *Verifier) Result() Result {
	if v.broken != nil {
		return *v.broken
	}
	r := Result{Valid: true, Records: v.count, LastSequence: v.lastSeq, Gaps: v.gaps}
	if v.count > 0 {
		r.LastHash = v.prev
	}
	return r
}

// Verify recomputes the chain over events, which must start at the
// beginning of the log.
func Verify(events []model.Event) (Result, error) {
	v := NewVerifier()
	for _, ev := range events {
		ok, err := v.Add(ev)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}
	}
	return v.Result(), nil
}

// VerifyStore pages through the whole event log of st.
func VerifyStore(ctx context.Context, st store.Store, pageSize int) (Result, error) {
	tx, err := st.Begin(ctx, false)
	if err != nil {
		return Result{}, eris.Wrap(err, "audit: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	v := NewVerifier()
	var after uint64
	for {
		page, err := tx.Events(ctx, after, pageSize)
		if err != nil {
			return Result{}, eris.Wrap(err, "audit: read events")
		}
		if len(page) == 0 {
			return v.Result(), nil
		}
		for _, ev := range page {
			ok, err := v.Add(ev)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				return v.Result(), nil
			}
			after = ev.Sequence
		}
	}
}
