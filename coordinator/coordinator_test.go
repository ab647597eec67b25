package coordinator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"trelow-offline/cachesync"
	"trelow-offline/domain"
	"trelow-offline/mirror"
	"trelow-offline/remote"
	"trelow-offline/storage"
)

type harness struct {
	server   *fakeServer
	session  *mirror.Session
	notes    *recorder
	kv       memKV
	exporter *tracetest.InMemoryExporter
	c        *Coordinator
}

func newHarness(t *testing.T, cols ...domain.Column) *harness {
	t.Helper()
	h := &harness{server: newFakeServer(cols...), notes: &recorder{}, kv: memKV{}}
	h.session = mirror.NewSession(h.server.snapshot())

	h.exporter = tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(h.exporter)))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger, _ := test.NewNullLogger()
	h.c = New(h.session, h.server, logger,
		WithStore(mirror.NewPersister(h.kv)),
		WithNotifier(h.notes),
		WithTracer(tp.Tracer("coordinator-test")),
	)
	return h
}

func col(id, title string, tasks ...domain.Task) domain.Column {
	for i := range tasks {
		tasks[i].ColumnID = domain.Authoritative(id)
		if tasks[i].Priority == "" {
			tasks[i].Priority = domain.PriorityMedium
		}
		tasks[i].CreatedAt = createdAt
	}
	return domain.Column{ID: domain.Authoritative(id), Title: title, Tasks: tasks}
}

func task(id, title string) domain.Task {
	return domain.Task{ID: domain.Authoritative(id), Title: title}
}

func TestAddTaskPublishesPendingThenReconciles(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do"))

	var seen mirror.Snapshot
	h.server.on("create_task", func() error {
		seen = h.session.Snapshot()
		return nil
	})

	got, err := h.c.AddTask(context.Background(), domain.Authoritative("col-1"), domain.TaskInput{Title: "Buy milk"})
	require.NoError(t, err)
	require.Equal(t, "task-42", got.ID.String())

	require.Len(t, seen.Columns[0].Tasks, 1)
	optimistic := seen.Columns[0].Tasks[0]
	require.True(t, optimistic.ID.IsPending())
	require.Equal(t, "Buy milk", optimistic.Title)
	require.Equal(t, domain.PriorityMedium, optimistic.Priority)

	require.Equal(t, shape(h.server.snapshot()), shape(h.session.Snapshot()))
	require.Equal(t, []string{"col-1|To Do", "  task-42|Buy milk|medium|col-1"}, shape(h.session.Snapshot()))

	saved, ok, err := mirror.NewPersister(h.kv).Load(context.Background(), "b1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, shape(h.session.Snapshot()), shape(saved))
}

func TestAddTaskScenarioUpdatesCachedTaskList(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do"))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	cache, err := storage.NewCaches(rc, 0).Open(context.Background(), "trelow-offline-v1")
	require.NoError(t, err)
	path := cachesync.TasksPath("b1", "col-1")
	require.NoError(t, cache.Put(context.Background(), path, storage.Entry{
		Status: http.StatusOK, StatusText: "OK",
		Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`[]`),
	}))

	_, err = h.c.AddTask(context.Background(), domain.Authoritative("col-1"), domain.TaskInput{Title: "Buy milk", Priority: domain.PriorityMedium})
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	syncer := cachesync.NewSynchronizer(cache, logger)
	msgs := h.notes.all()
	require.Len(t, msgs, 1)
	require.Equal(t, "col-1", msgs[0].ColumnID)
	syncer.Apply(context.Background(), msgs[0])

	e, ok, err := cache.Match(context.Background(), path)
	require.NoError(t, err)
	require.True(t, ok)
	var cached []domain.Task
	require.NoError(t, sonic.Unmarshal(e.Body, &cached))
	require.Len(t, cached, 1)
	require.Equal(t, "task-42", cached[0].ID.String())
	require.Equal(t, "Buy milk", cached[0].Title)
	require.Equal(t, domain.PriorityMedium, cached[0].Priority)
}

func TestFailedMutationRevertsToServerState(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do", task("t1", "Write docs")))
	rejected := &remote.Error{Status: http.StatusInternalServerError, Message: "db down"}
	h.server.on("update_task", func() error { return rejected })

	_, err := h.c.UpdateTask(context.Background(), domain.Authoritative("t1"), domain.TaskInput{Title: "Rewrite docs"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrReverted)
	var rerr *remote.Error
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, http.StatusInternalServerError, rerr.Status)

	require.Equal(t, shape(h.server.snapshot()), shape(h.session.Snapshot()))
	require.Empty(t, h.notes.all())
}

func TestRevertFallsBackToPersistedThenBase(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do"))
	ctx := context.Background()
	_, err := h.c.AddColumn(ctx, "Doing")
	require.NoError(t, err)
	persisted := shape(h.session.Snapshot())

	offline := errors.New("offline")
	h.server.on("create_column", func() error { return offline })
	h.server.on("get_board", func() error { return offline })

	_, err = h.c.AddColumn(ctx, "Done")
	require.ErrorIs(t, err, ErrReverted)
	require.ErrorIs(t, err, offline)
	require.Equal(t, persisted, shape(h.session.Snapshot()))

	// Without a saved snapshot the pre-mutation state comes back.
	logger, _ := test.NewNullLogger()
	bare := New(mirror.NewSession(h.session.Snapshot()), h.server, logger)
	before := shape(bare.Session().Snapshot())
	_, err = bare.AddColumn(ctx, "Done")
	require.ErrorIs(t, err, ErrReverted)
	require.Equal(t, before, shape(bare.Session().Snapshot()))
}

func TestValidationFailsWithoutSideEffects(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do", task("t1", "a")))
	ctx := context.Background()
	version := h.session.Version()

	_, err := h.c.AddTask(ctx, domain.Authoritative("col-1"), domain.TaskInput{Title: "  "})
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, domain.ErrEmptyTitle)

	_, err = h.c.AddTask(ctx, domain.Authoritative("col-1"), domain.TaskInput{Title: "x", Priority: "urgent"})
	require.ErrorIs(t, err, domain.ErrInvalidPriority)

	_, err = h.c.AddTask(ctx, domain.Authoritative("nope"), domain.TaskInput{Title: "x"})
	require.ErrorIs(t, err, ErrNotFound)

	err = h.c.DeleteTask(ctx, domain.Authoritative("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = h.c.RenameColumn(ctx, domain.Authoritative("col-1"), "")
	require.ErrorIs(t, err, ErrValidation)

	require.Equal(t, version, h.session.Version())
	require.Empty(t, h.server.calls)
}

func TestMoveTaskIsAtomic(t *testing.T) {
	h := newHarness(t,
		col("col-1", "To Do", task("t1", "a"), task("t2", "b")),
		col("col-2", "Done"),
	)

	var mu sync.Mutex
	var bad []string
	unsubscribe := h.session.Subscribe(func(s mirror.Snapshot, _ uint64) {
		count := 0
		for _, c := range s.Columns {
			for _, tk := range c.Tasks {
				if tk.ID.String() == "t2" {
					count++
				}
			}
		}
		if count != 1 {
			mu.Lock()
			bad = append(bad, shape(s)...)
			mu.Unlock()
		}
	})
	defer unsubscribe()

	moved, err := h.c.MoveTask(context.Background(), domain.Authoritative("t2"), domain.Authoritative("col-2"))
	require.NoError(t, err)
	require.Equal(t, "col-2", moved.ColumnID.String())
	require.Empty(t, bad)
	require.Equal(t, []string{
		"col-1|To Do", "  t1|a|medium|col-1",
		"col-2|Done", "  t2|b|medium|col-2",
	}, shape(h.session.Snapshot()))

	msgs := h.notes.all()
	require.Len(t, msgs, 2)
	require.Equal(t, domain.ActionDelete, msgs[0].Action)
	require.Equal(t, "col-1", msgs[0].ColumnID)
	require.Equal(t, domain.ActionAdd, msgs[1].Action)
	require.Equal(t, "col-2", msgs[1].ColumnID)
}

func TestMoveToSameColumnIsRejected(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do", task("t1", "a")))
	_, err := h.c.MoveTask(context.Background(), domain.Authoritative("t1"), domain.Authoritative("col-1"))
	require.ErrorIs(t, err, ErrValidation)
	require.Zero(t, h.server.called("move_task"))
}

func TestDeleteColumnCascades(t *testing.T) {
	h := newHarness(t,
		col("col-1", "To Do", task("t1", "a"), task("t2", "b")),
		col("col-2", "Done", task("t3", "c")),
	)
	ctx := context.Background()
	require.NoError(t, mirror.NewPersister(h.kv).Save(ctx, h.session.Snapshot()))

	require.NoError(t, h.c.DeleteColumn(ctx, domain.Authoritative("col-1")))

	require.Equal(t, []string{"t3"}, taskIDs(h.session.Snapshot()))
	require.Equal(t, shape(h.server.snapshot()), shape(h.session.Snapshot()))
	_, ok := h.kv[mirror.TasksKey("col-1")]
	require.False(t, ok, "task list of deleted column still persisted")

	msgs := h.notes.all()
	require.Len(t, msgs, 1)
	require.Equal(t, domain.EntityColumn, msgs[0].EntityType)
	require.Equal(t, domain.ActionDelete, msgs[0].Action)
	require.JSONEq(t, `{"id":"col-1"}`, string(msgs[0].Data))
}

func TestRenameAndDeleteTask(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do", task("t1", "a"), task("t2", "b")))
	ctx := context.Background()

	renamed, err := h.c.RenameColumn(ctx, domain.Authoritative("col-1"), "Backlog")
	require.NoError(t, err)
	require.Equal(t, "Backlog", renamed.Title)

	updated, err := h.c.UpdateTask(ctx, domain.Authoritative("t1"), domain.TaskInput{Title: "A", Priority: domain.PriorityHigh})
	require.NoError(t, err)
	require.Equal(t, domain.PriorityHigh, updated.Priority)

	require.NoError(t, h.c.DeleteTask(ctx, domain.Authoritative("t2")))
	require.Equal(t, []string{"col-1|Backlog", "  t1|A|high|col-1"}, shape(h.session.Snapshot()))
	require.Equal(t, shape(h.server.snapshot()), shape(h.session.Snapshot()))
}

func TestTaskOnPendingColumnWaitsForIt(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do"))
	ctx := context.Background()

	release := make(chan struct{})
	h.server.on("create_column", func() error {
		<-release
		return nil
	})

	colDone := make(chan error, 1)
	go func() {
		_, err := h.c.AddColumn(ctx, "Doing")
		colDone <- err
	}()

	var pending domain.ID
	require.Eventually(t, func() bool {
		s := h.session.Snapshot()
		if len(s.Columns) == 2 {
			pending = s.Columns[1].ID
			return true
		}
		return false
	}, time.Second, 5*time.Millisecond)
	require.True(t, pending.IsPending())

	taskDone := make(chan error, 1)
	go func() {
		_, err := h.c.AddTask(ctx, pending, domain.TaskInput{Title: "Ship"})
		taskDone <- err
	}()

	require.Eventually(t, func() bool {
		return len(h.session.Snapshot().Columns[1].Tasks) == 1
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, h.server.called("create_task"), "task sent before its column exists")

	close(release)
	require.NoError(t, <-colDone)
	require.NoError(t, <-taskDone)

	require.Equal(t, []string{"col-1|To Do", "col-2|Doing", "  task-42|Ship|medium|col-2"}, shape(h.session.Snapshot()))
	require.Equal(t, shape(h.server.snapshot()), shape(h.session.Snapshot()))
}

func TestTaskOnDiscardedColumnIsDroppedLocally(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do"))
	ctx := context.Background()

	release := make(chan struct{})
	h.server.on("create_column", func() error {
		<-release
		return &remote.Error{Status: http.StatusForbidden, Message: "forbidden"}
	})

	colDone := make(chan error, 1)
	go func() {
		_, err := h.c.AddColumn(ctx, "Doing")
		colDone <- err
	}()
	require.Eventually(t, func() bool { return len(h.session.Snapshot().Columns) == 2 }, time.Second, 5*time.Millisecond)
	pending := h.session.Snapshot().Columns[1].ID

	taskDone := make(chan error, 1)
	go func() {
		_, err := h.c.AddTask(ctx, pending, domain.TaskInput{Title: "Ship"})
		taskDone <- err
	}()
	require.Eventually(t, func() bool { return len(h.session.Snapshot().Columns[1].Tasks) == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	require.ErrorIs(t, <-colDone, ErrReverted)
	err := <-taskDone
	require.ErrorIs(t, err, ErrReverted)
	require.ErrorIs(t, err, ErrDiscarded)

	require.Zero(t, h.server.called("create_task"))
	require.Equal(t, []string{"col-1|To Do"}, shape(h.session.Snapshot()))
}

func TestDeletedPendingColumnIsNotShownAgain(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do"))
	ctx := context.Background()

	var (
		mu        sync.Mutex
		published [][]string
	)
	stop := h.session.Subscribe(func(s mirror.Snapshot, _ uint64) {
		mu.Lock()
		published = append(published, shape(s))
		mu.Unlock()
	})
	defer stop()

	release := make(chan struct{})
	h.server.on("create_column", func() error {
		<-release
		return nil
	})
	colDone := make(chan error, 1)
	go func() {
		_, err := h.c.AddColumn(ctx, "Doing")
		colDone <- err
	}()
	require.Eventually(t, func() bool { return len(h.session.Snapshot().Columns) == 2 }, time.Second, 5*time.Millisecond)
	pending := h.session.Snapshot().Columns[1].ID

	delDone := make(chan error, 1)
	go func() { delDone <- h.c.DeleteColumn(ctx, pending) }()
	require.Eventually(t, func() bool { return len(h.session.Snapshot().Columns) == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-colDone)
	require.NoError(t, <-delDone)

	mu.Lock()
	defer mu.Unlock()
	for i, snap := range published[1:] {
		require.Equal(t, []string{"col-1|To Do"}, snap, "publish %d shows the deleted column", i+1)
	}
	require.Equal(t, 1, h.server.called("delete_column"))
	require.Equal(t, shape(h.server.snapshot()), shape(h.session.Snapshot()))
}

func TestDeletedPendingTaskIsNotShownAgain(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do"))
	ctx := context.Background()

	var (
		mu      sync.Mutex
		flicker bool
	)
	release := make(chan struct{})
	h.server.on("create_task", func() error {
		<-release
		return nil
	})
	taskDone := make(chan error, 1)
	go func() {
		_, err := h.c.AddTask(ctx, domain.Authoritative("col-1"), domain.TaskInput{Title: "Ship"})
		taskDone <- err
	}()
	require.Eventually(t, func() bool { return len(h.session.Snapshot().Columns[0].Tasks) == 1 }, time.Second, 5*time.Millisecond)
	pending := h.session.Snapshot().Columns[0].Tasks[0].ID

	delDone := make(chan error, 1)
	go func() { delDone <- h.c.DeleteTask(ctx, pending) }()
	require.Eventually(t, func() bool { return len(h.session.Snapshot().Columns[0].Tasks) == 0 }, time.Second, 5*time.Millisecond)

	stop := h.session.Subscribe(func(s mirror.Snapshot, _ uint64) {
		mu.Lock()
		if len(s.Columns[0].Tasks) != 0 {
			flicker = true
		}
		mu.Unlock()
	})
	defer stop()

	close(release)
	require.NoError(t, <-taskDone)
	require.NoError(t, <-delDone)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, flicker, "deleted task was published again")
	require.Equal(t, []string{"col-1|To Do"}, shape(h.session.Snapshot()))
	require.Equal(t, shape(h.server.snapshot()), shape(h.session.Snapshot()))
}

func TestReloadFallsBackToSavedSnapshot(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do", task("t1", "a")))
	ctx := context.Background()
	require.NoError(t, h.c.Reload(ctx))
	want := shape(h.session.Snapshot())

	h.session.Replace(mirror.Snapshot{BoardID: "b1"})
	h.server.on("get_board", func() error { return errors.New("offline") })

	err := h.c.Reload(ctx)
	require.ErrorIs(t, err, ErrStale)
	require.Equal(t, want, shape(h.session.Snapshot()))
}

func TestMutationSpanRecordsStates(t *testing.T) {
	h := newHarness(t, col("col-1", "To Do"))
	_, err := h.c.AddTask(context.Background(), domain.Authoritative("col-1"), domain.TaskInput{Title: "Buy milk"})
	require.NoError(t, err)

	spans := h.exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "coordinator.add_task", spans[0].Name)
	var states []string
	for _, ev := range spans[0].Events {
		states = append(states, ev.Name)
	}
	require.Equal(t, []string{"validating", "applying-optimistic", "awaiting-remote", "reconciling"}, states)
}
