// Package coordinator applies board mutations optimistically: the mirror
// changes first, the server is asked second, and the result is either
// reconciled into the mirror or rolled back by reloading authoritative state.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trelow-offline/cachesync"
	"trelow-offline/domain"
	"trelow-offline/mirror"
)

// Remote is the authoritative server as seen by the coordinator.
type Remote interface {
	GetBoard(ctx context.Context, boardID string) (domain.Board, error)
	CreateColumn(ctx context.Context, boardID, title string) (domain.Column, error)
	UpdateColumn(ctx context.Context, columnID domain.ID, title string) (domain.Column, error)
	DeleteColumn(ctx context.Context, columnID domain.ID) error
	CreateTask(ctx context.Context, columnID domain.ID, in domain.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, taskID domain.ID, in domain.TaskInput) (domain.Task, error)
	DeleteTask(ctx context.Context, taskID domain.ID) error
	MoveTask(ctx context.Context, taskID, destination domain.ID) (domain.Task, error)
}

// Store persists confirmed snapshots for offline use.
type Store interface {
	Save(ctx context.Context, snap mirror.Snapshot) error
	Load(ctx context.Context, boardID string) (mirror.Snapshot, bool, error)
	ForgetColumn(ctx context.Context, columnID domain.ID) error
}

// Notifier delivers cache deltas to the cache-owning context.
type Notifier interface {
	Post(msg cachesync.Message) bool
}

// State is a step of a mutation's lifecycle.
type State int

const (
	StateValidating State = iota
	StateApplying
	StateAwaitingRemote
	StateReconciling
	StateReverting
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateApplying:
		return "applying-optimistic"
	case StateAwaitingRemote:
		return "awaiting-remote"
	case StateReconciling:
		return "reconciling"
	case StateReverting:
		return "reverting"
	}
	return "unknown"
}

type Coordinator struct {
	boardID string
	session *mirror.Session
	remote  Remote
	store   Store
	notify  Notifier
	log     *log.Logger
	tracer  trace.Tracer
	pending *registry
	now     func() time.Time
}

type Option func(*Coordinator)

func WithStore(s Store) Option { return func(c *Coordinator) { c.store = s } }

func WithNotifier(n Notifier) Option { return func(c *Coordinator) { c.notify = n } }

func WithTracer(t trace.Tracer) Option { return func(c *Coordinator) { c.tracer = t } }

// New binds a coordinator to the session of an open board.
func New(session *mirror.Session, remote Remote, logger *log.Logger, opts ...Option) *Coordinator {
	if session == nil || remote == nil {
		panic("session and remote are required")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	c := &Coordinator{
		boardID: session.Snapshot().BoardID,
		session: session,
		remote:  remote,
		log:     logger,
		pending: newRegistry(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("trelow-offline/coordinator")
	}
	return c
}

// Session returns the mirror the coordinator writes to.
func (c *Coordinator) Session() *mirror.Session { return c.session }

// Reload replaces the mirror with a fresh fetch of the board. When the server
// cannot be reached the last persisted snapshot is published instead and the
// returned error wraps ErrStale.
func (c *Coordinator) Reload(ctx context.Context) error {
	b, err := c.remote.GetBoard(ctx, c.boardID)
	if err == nil {
		snap := mirror.FromBoard(b)
		c.session.Replace(snap)
		c.persist(ctx, snap)
		return nil
	}
	if snap, ok := c.loadPersisted(ctx); ok {
		c.session.Replace(snap)
		return fmt.Errorf("%w: %w", ErrStale, err)
	}
	return err
}

// mutation describes one optimistic operation. run drives it through the
// lifecycle states.
type mutation struct {
	op string
	// created is the pending id this mutation introduces, if any.
	created domain.ID
	// refs are the ids the remote call needs in authoritative form.
	refs     []domain.ID
	validate func(mirror.Snapshot) error
	apply    func(mirror.Snapshot) mirror.Snapshot
	// discard undoes apply when a referenced creation was rolled back.
	discard func(mirror.Snapshot) mirror.Snapshot
	// call performs the remote request with refs resolved, returning the
	// reconciliation to publish and the cache deltas to post.
	call func(ctx context.Context, ids []domain.ID) (outcome, error)
}

type outcome struct {
	reconcile func(mirror.Snapshot) mirror.Snapshot
	confirmed domain.ID
	deltas    []delta
	forget    []domain.ID
}

type delta struct {
	entity   domain.EntityType
	action   domain.Action
	data     any
	columnID domain.ID
}

func (c *Coordinator) run(ctx context.Context, m mutation) (err error) {
	ctx, span := c.tracer.Start(ctx, "coordinator."+m.op,
		trace.WithAttributes(attribute.String("board.id", c.boardID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	entry := c.log.WithFields(log.Fields{"op": m.op, "board": c.boardID})
	enter := func(s State) {
		span.AddEvent(s.String())
		entry.WithField("state", s.String()).Debug("mutation state")
	}

	enter(StateValidating)
	if err := m.validate(c.session.Snapshot()); err != nil {
		c.discardCreated(m)
		return err
	}

	enter(StateApplying)
	var base mirror.Snapshot
	c.session.Update(func(cur mirror.Snapshot) mirror.Snapshot {
		base = cur
		return m.apply(cur)
	})

	enter(StateAwaitingRemote)
	ids := make([]domain.ID, len(m.refs))
	for i, ref := range m.refs {
		id, rerr := c.pending.resolve(ctx, ref)
		if errors.Is(rerr, ErrDiscarded) {
			entry.WithField("ref", ref.String()).Info("referenced entity discarded, dropping mutation")
			if m.discard != nil {
				c.session.Update(m.discard)
			}
			c.discardCreated(m)
			return &RevertedError{Op: m.op, Err: rerr}
		}
		if rerr != nil {
			return c.revert(ctx, m, base, entry, enter, rerr)
		}
		ids[i] = id
	}

	out, err := m.call(ctx, ids)
	if err != nil {
		return c.revert(ctx, m, base, entry, enter, err)
	}

	enter(StateReconciling)
	snap := c.session.Update(out.reconcile)
	if !m.created.IsZero() {
		c.pending.confirm(m.created, out.confirmed)
	}
	c.persist(ctx, snap)
	for _, id := range out.forget {
		if c.store != nil {
			if err := c.store.ForgetColumn(ctx, id); err != nil {
				entry.WithError(err).Warn("unable to forget column")
			}
		}
	}
	for _, d := range out.deltas {
		c.post(entry, d)
	}
	return nil
}

// revert discards the optimistic state: a fresh authoritative fetch, else
// the last persisted snapshot, else the snapshot from before the mutation.
func (c *Coordinator) revert(ctx context.Context, m mutation, base mirror.Snapshot, entry *log.Entry, enter func(State), cause error) error {
	enter(StateReverting)
	entry.WithError(cause).Warn("mutation failed, reverting")
	c.discardCreated(m)

	rctx := context.WithoutCancel(ctx)
	if b, err := c.remote.GetBoard(rctx, c.boardID); err == nil {
		snap := mirror.FromBoard(b)
		c.session.Replace(snap)
		c.persist(rctx, snap)
	} else if snap, ok := c.loadPersisted(rctx); ok {
		entry.WithError(err).Warn("reload failed, restoring saved snapshot")
		c.session.Replace(snap)
	} else {
		entry.WithError(err).Warn("reload failed, restoring previous snapshot")
		c.session.Replace(base)
	}
	return &RevertedError{Op: m.op, Err: cause}
}

func (c *Coordinator) discardCreated(m mutation) {
	if !m.created.IsZero() {
		c.pending.discard(m.created)
	}
}

func (c *Coordinator) persist(ctx context.Context, snap mirror.Snapshot) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, snap); err != nil {
		c.log.WithError(err).WithField("board", c.boardID).Warn("unable to persist snapshot")
	}
}

func (c *Coordinator) loadPersisted(ctx context.Context) (mirror.Snapshot, bool) {
	if c.store == nil {
		return mirror.Snapshot{}, false
	}
	snap, ok, err := c.store.Load(ctx, c.boardID)
	if err != nil {
		c.log.WithError(err).WithField("board", c.boardID).Warn("unable to load saved snapshot")
		return mirror.Snapshot{}, false
	}
	return snap, ok
}

func (c *Coordinator) post(entry *log.Entry, d delta) {
	if c.notify == nil {
		return
	}
	colID := ""
	if !d.columnID.IsZero() {
		colID = c.pending.lookup(d.columnID).String()
	}
	msg, err := cachesync.Delta(c.boardID, d.entity, d.action, d.data, colID)
	if err != nil {
		entry.WithError(err).Error("unable to encode cache delta")
		return
	}
	if !c.notify.Post(msg) {
		entry.WithFields(log.Fields{"entity": d.entity, "action": d.action}).Warn("cache delta dropped")
	}
}
