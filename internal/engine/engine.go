// Package engine runs every state-changing operation of the insurance
// program as one atomic unit. An operation authenticates its caller, takes
// the global state lock, opens a store transaction, validates and mutates
// the records it loaded, moves value, appends hash-chained events and
// commits. Nothing is written when any step fails.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shield/internal/archive"
	"github.com/sells-group/shield/internal/audit"
	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/claims"
	"github.com/sells-group/shield/internal/events"
	"github.com/sells-group/shield/internal/fault"
	"github.com/sells-group/shield/internal/ledger"
	"github.com/sells-group/shield/internal/lock"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/reputation"
	"github.com/sells-group/shield/internal/store"
)

// Clock supplies the current time in Unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// FixedClock only moves when told to.
type FixedClock struct {
	mu  sync.Mutex
	now int64
}

// NewFixedClock returns a clock stopped at now.
func NewFixedClock(now int64) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now.
func (c *FixedClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by seconds.
func (c *FixedClock) Advance(seconds int64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}

// Transferer moves value between accounts within the operation's
// transaction. An error aborts the operation.
type Transferer interface {
	Transfer(ctx context.Context, tx store.Tx, t model.Transfer) error
}

// Crediter is a transfer facility that keeps balances and can mint them,
// like ledger.Book.
type Crediter interface {
	Credit(ctx context.Context, tx store.Tx, account string, amount uint64) error
	Balance(ctx context.Context, tx store.Tx, account string) (uint64, error)
}

// Deps are the collaborators of an Engine. Only Store is required; the
// rest default to a local lock, the system clock, the in-store book, trusted
// callers without roles, native reputation, no archive and no publisher.
type Deps struct {
	Store      store.Store
	Locker     lock.Locker
	Clock      Clock
	Transfers  Transferer
	Auth       auth.Provider
	Reputation reputation.Provider
	Archive    archive.Archiver
	Events     events.Publisher
}

// Engine executes program operations.
type Engine struct {
	store      store.Store
	locker     lock.Locker
	clock      Clock
	transfers  Transferer
	auth       auth.Provider
	reputation reputation.Provider
	archive    archive.Archiver
	events     events.Publisher
	log        *zap.Logger
}

// New builds an Engine from d.
func New(d Deps) (*Engine, error) {
	if d.Store == nil {
		return nil, eris.New("engine: store is required")
	}
	e := &Engine{
		store:      d.Store,
		locker:     d.Locker,
		clock:      d.Clock,
		transfers:  d.Transfers,
		auth:       d.Auth,
		reputation: d.Reputation,
		archive:    d.Archive,
		events:     d.Events,
		log:        zap.L().With(zap.String("component", "engine")),
	}
	if e.locker == nil {
		e.locker = lock.NewLocal()
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.transfers == nil {
		e.transfers = ledger.NewBook()
	}
	if e.auth == nil {
		e.auth = auth.NewTrusted(auth.Roles{})
	}
	if e.reputation == nil {
		e.reputation = reputation.NewNative(d.Store)
	}
	if e.archive == nil {
		e.archive = archive.Nop{}
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	return e, nil
}

// Now returns the engine clock reading.
func (e *Engine) Now() int64 { return e.clock.Now() }

func (e *Engine) reject(name, actor string, err error) error {
	e.log.Warn("operation rejected",
		zap.String("operation", name),
		zap.String("actor", actor),
		zap.String("code", fault.CodeOf(err)),
		zap.Error(err),
	)
	return err
}

// authorize verifies cred and checks that its identity may perform a. It
// returns the provider's canonical identity, which every operation keys
// owners, voters and providers by.
func (e *Engine) authorize(ctx context.Context, name string, cred auth.Credential, a auth.Action) (string, error) {
	identity, err := e.auth.VerifyCaller(ctx, cred)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			return "", e.reject(name, cred.Identity, fault.ErrUnauthorized.Wrap(err))
		}
		return "", e.reject(name, cred.Identity, eris.Wrap(err, "engine: verify caller"))
	}
	if identity == "" {
		return "", e.reject(name, cred.Identity, fault.ErrUnauthorized.With("credential for %q did not verify", cred.Identity))
	}
	if !e.auth.Permission(ctx, identity, a) {
		return "", e.reject(name, identity, fault.ErrUnauthorized.With("%q may not %s", identity, a))
	}
	return identity, nil
}

// isAdmin reports whether an already verified identity holds the admin role.
func (e *Engine) isAdmin(ctx context.Context, identity string) bool {
	return e.auth.Permission(ctx, identity, auth.ActionAdmin)
}

// score returns the caller's reputation. An explicit value wins over the
// provider. It must be called before an operation opens its transaction.
func (e *Engine) score(ctx context.Context, identity string, explicit *uint8) (uint8, error) {
	if explicit != nil {
		return *explicit, nil
	}
	s, err := e.reputation.Score(ctx, identity)
	if err != nil {
		return 0, eris.Wrapf(err, "engine: reputation of %s", identity)
	}
	return s, nil
}

type write struct {
	kind, id, ref string
	v             any
}

type pending struct {
	identity string
	outcome  reputation.Outcome
}

// op is the state of one running operation.
type op struct {
	e     *Engine
	ctx   context.Context
	tx    store.Tx
	actor string
	st    claims.Stamp

	ag       *model.Aggregates
	writes   []write
	events   []model.Event
	archived []write
	outcomes []pending
	fields   []zap.Field
	// sent holds the transfers made so far.
	sent []model.Transfer
}

// run executes fn as one atomic operation on behalf of actor.
func (e *Engine) run(ctx context.Context, name, actor string, fn func(*op) error) error {
	o, err := e.execute(ctx, actor, fn)
	if err != nil {
		return e.reject(name, actor, err)
	}
	if len(o.events) == 0 {
		e.log.Debug("operation changed nothing", zap.String("operation", name), zap.String("actor", actor))
		return nil
	}
	fields := append([]zap.Field{
		zap.String("operation", name),
		zap.String("actor", actor),
		zap.Uint64("sequence", o.st.Seq),
		zap.Int("events", len(o.events)),
	}, o.fields...)
	e.log.Info("operation committed", fields...)
	e.settle(ctx, o)
	return nil
}

func (e *Engine) execute(ctx context.Context, actor string, fn func(*op) error) (*op, error) {
	release, err := e.locker.Acquire(ctx, lock.StateKey)
	if err != nil {
		return nil, eris.Wrap(err, "engine: acquire state lock")
	}
	defer release()

	tx, err := e.store.Begin(ctx, true)
	if err != nil {
		return nil, eris.Wrap(err, "engine: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	seq, err := tx.NextSequence(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: allocate sequence")
	}
	o := &op{e: e, ctx: ctx, tx: tx, actor: actor, st: claims.Stamp{Seq: seq, At: e.clock.Now()}}
	if err := fn(o); err != nil {
		return nil, err
	}
	if len(o.events) == 0 {
		return o, nil
	}
	if err := o.flush(); err != nil {
		e.stranded(o, err)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		e.stranded(o, err)
		return nil, eris.Wrap(err, "engine: commit")
	}
	e.events.Publish(o.events...)
	return o, nil
}

// stranded reports transfers an external facility completed for an
// operation that then failed to commit. The rollback does not undo them; a
// replay under the same key is collapsed by the gateway, anything else needs
// reconciling by hand. Transfers on an in-transaction ledger roll back.
func (e *Engine) stranded(o *op, cause error) {
	if _, book := e.transfers.(Crediter); book {
		return
	}
	for _, t := range o.sent {
		e.log.Error("transfer completed but operation rolled back",
			zap.String("actor", o.actor),
			zap.Uint64("sequence", o.st.Seq),
			zap.String("from", t.From),
			zap.String("to", t.To),
			zap.Uint64("amount", t.Amount),
			zap.String("memo", t.Memo),
			zap.String("idempotency_key", t.Key),
			zap.Error(cause),
		)
	}
}

// settle runs the best-effort work that follows a commit.
func (e *Engine) settle(ctx context.Context, o *op) {
	for _, r := range o.archived {
		if err := e.archive.Archive(ctx, r.kind, r.id, r.v); err != nil {
			e.log.Warn("archive failed", zap.String("kind", r.kind), zap.String("id", r.id), zap.Error(err))
		}
	}
	for _, p := range o.outcomes {
		if err := e.reputation.RecordOutcome(ctx, p.identity, p.outcome); err != nil {
			e.log.Warn("record reputation outcome failed",
				zap.String("identity", p.identity),
				zap.String("outcome", string(p.outcome)),
				zap.Error(err),
			)
		}
	}
}

func (o *op) flush() error {
	ctx := o.ctx
	if o.ag != nil {
		singletons := []write{
			{kind: model.KindProgram, id: model.SingletonID, v: o.ag.Program},
			{kind: model.KindPool, id: model.SingletonID, v: o.ag.Pool},
		}
		if o.ag.Calibrator != nil {
			singletons = append(singletons, write{kind: model.KindCalibrator, id: model.SingletonID, v: o.ag.Calibrator})
		}
		o.writes = append(singletons, o.writes...)
	}
	for _, w := range o.writes {
		if err := store.Put(ctx, o.tx, w.kind, w.id, w.ref, w.v); err != nil {
			return eris.Wrapf(err, "engine: write %s/%s", w.kind, w.id)
		}
	}

	o.events[0].Sequence = o.st.Seq
	for i := 1; i < len(o.events); i++ {
		seq, err := o.tx.NextSequence(ctx)
		if err != nil {
			return eris.Wrap(err, "engine: allocate sequence")
		}
		o.events[i].Sequence = seq
	}
	last, err := o.tx.LastEvent(ctx)
	if err != nil {
		return eris.Wrap(err, "engine: read last event")
	}
	var prev string
	if last != nil {
		prev = last.Hash
	}
	if _, err := audit.Chain(prev, o.events); err != nil {
		return err
	}
	return eris.Wrap(o.tx.AppendEvents(ctx, o.events), "engine: append events")
}

// aggregates loads the program, pool and calibrator once per operation.
// They are written back on commit.
func (o *op) aggregates() (*model.Aggregates, error) {
	if o.ag != nil {
		return o.ag, nil
	}
	ag, err := loadAggregates(o.ctx, o.tx)
	if err != nil {
		return nil, err
	}
	o.ag = ag
	return ag, nil
}

// save queues v to be written as kind/id when the operation commits.
// Saving the same record twice keeps one write.
func (o *op) save(kind, id, ref string, v any) {
	for i, w := range o.writes {
		if w.kind == kind && w.id == id {
			o.writes[i] = write{kind: kind, id: id, ref: ref, v: v}
			return
		}
	}
	o.writes = append(o.writes, write{kind: kind, id: id, ref: ref, v: v})
}

// emit records an event. The payload is encoded immediately.
func (o *op) emit(typ model.EventType, kind, id string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrapf(err, "engine: encode %s payload", typ)
	}
	o.events = append(o.events, model.Event{
		Type:       typ,
		EntityKind: kind,
		EntityID:   id,
		Actor:      o.actor,
		At:         o.st.At,
		Payload:    body,
	})
	return nil
}

func (o *op) transfer(t model.Transfer) error {
	if t.Key == "" {
		t.Key = uuid.NewString()
	}
	if err := o.e.transfers.Transfer(o.ctx, o.tx, t); err != nil {
		return err
	}
	o.sent = append(o.sent, t)
	return nil
}

func (o *op) archive(kind, id string, v any) {
	o.archived = append(o.archived, write{kind: kind, id: id, v: v})
}

func (o *op) outcome(identity string, out reputation.Outcome) {
	o.outcomes = append(o.outcomes, pending{identity: identity, outcome: out})
}

func (o *op) with(fields ...zap.Field) {
	o.fields = append(o.fields, fields...)
}

func (o *op) product(id string) (*model.Product, error) {
	return get[model.Product](o.ctx, o.tx, model.KindProduct, id, fault.ErrProductNotFound)
}

func (o *op) policy(id string) (*model.Policy, error) {
	return get[model.Policy](o.ctx, o.tx, model.KindPolicy, id, fault.ErrPolicyNotFound)
}

func (o *op) claim(id string) (*model.Claim, error) {
	return get[model.Claim](o.ctx, o.tx, model.KindClaim, id, fault.ErrClaimNotFound)
}

func loadAggregates(ctx context.Context, tx store.Tx) (*model.Aggregates, error) {
	program, err := get[model.ProgramState](ctx, tx, model.KindProgram, model.SingletonID, fault.ErrNotInitialized)
	if err != nil {
		return nil, err
	}
	pool, err := get[model.RiskPool](ctx, tx, model.KindPool, model.SingletonID, fault.ErrNotInitialized)
	if err != nil {
		return nil, err
	}
	cal, err := store.Get[model.BayesianParameters](ctx, tx, model.KindCalibrator, model.SingletonID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "engine: load calibrator")
	}
	return &model.Aggregates{Program: program, Pool: pool, Calibrator: cal}, nil
}

// get loads kind/id, mapping a missing record to the missing error.
func get[T any](ctx context.Context, tx store.Tx, kind, id string, missing *fault.Error) (*T, error) {
	v, err := store.Get[T](ctx, tx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, missing.With("%s %q not found", kind, id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "engine: load %s/%s", kind, id)
	}
	return v, nil
}
