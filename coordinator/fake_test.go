package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"trelow-offline/cachesync"
	"trelow-offline/domain"
	"trelow-offline/mirror"
	"trelow-offline/remote"
)

var createdAt = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeServer is an in-memory authoritative server. hooks run before an
// operation touches state; a non-nil error fails the call.
type fakeServer struct {
	mu       sync.Mutex
	board    domain.Board
	nextTask int
	nextCol  int
	calls    []string
	hooks    map[string]func() error
}

func newFakeServer(cols ...domain.Column) *fakeServer {
	for i := range cols {
		cols[i].BoardID = "b1"
		if cols[i].Tasks == nil {
			cols[i].Tasks = []domain.Task{}
		}
	}
	return &fakeServer{
		board:    domain.Board{ID: "b1", Content: "Sprint", Columns: cols},
		nextTask: 42,
		nextCol:  len(cols) + 1,
		hooks:    map[string]func() error{},
	}
}

func (f *fakeServer) on(op string, fn func() error) {
	f.mu.Lock()
	f.hooks[op] = fn
	f.mu.Unlock()
}

func (f *fakeServer) enter(op string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	hook := f.hooks[op]
	f.mu.Unlock()
	if hook != nil {
		return hook()
	}
	return nil
}

func (f *fakeServer) called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *fakeServer) snapshot() mirror.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return mirror.FromBoard(f.board)
}

func (f *fakeServer) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	if err := f.enter("get_board"); err != nil {
		return domain.Board{}, err
	}
	return f.snapshot().Board(), nil
}

func (f *fakeServer) CreateColumn(ctx context.Context, boardID, title string) (domain.Column, error) {
	if err := f.enter("create_column"); err != nil {
		return domain.Column{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	col := domain.Column{ID: domain.Authoritative(fmt.Sprintf("col-%d", f.nextCol)), Title: title, BoardID: boardID, Tasks: []domain.Task{}}
	f.nextCol++
	f.board.Columns = append(f.board.Columns, col)
	return col, nil
}

func (f *fakeServer) UpdateColumn(ctx context.Context, id domain.ID, title string) (domain.Column, error) {
	if err := f.enter("update_column"); err != nil {
		return domain.Column{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.board.Columns {
		if c.ID == id {
			f.board.Columns[i].Title = title
			return domain.Column{ID: id, Title: title, BoardID: c.BoardID}, nil
		}
	}
	return domain.Column{}, &remote.Error{Status: http.StatusNotFound, Message: "column not found"}
}

func (f *fakeServer) DeleteColumn(ctx context.Context, id domain.ID) error {
	if err := f.enter("delete_column"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, _, ok := mirror.FromBoard(f.board).RemoveColumn(id)
	if !ok {
		return &remote.Error{Status: http.StatusNotFound, Message: "column not found"}
	}
	f.board.Columns = snap.Columns
	return nil
}

func (f *fakeServer) CreateTask(ctx context.Context, columnID domain.ID, in domain.TaskInput) (domain.Task, error) {
	if err := f.enter("create_task"); err != nil {
		return domain.Task{}, err
	}
	if columnID.IsPending() {
		return domain.Task{}, remote.ErrPendingID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t := domain.Task{
		ID:        domain.Authoritative(fmt.Sprintf("task-%d", f.nextTask)),
		Title:     in.Title,
		Content:   in.Content,
		ColumnID:  columnID,
		Priority:  in.Priority.OrDefault(),
		CreatedAt: createdAt,
	}
	snap, ok := mirror.FromBoard(f.board).PrependTask(columnID, t)
	if !ok {
		return domain.Task{}, &remote.Error{Status: http.StatusNotFound, Message: "column not found"}
	}
	f.nextTask++
	f.board.Columns = snap.Columns
	return t, nil
}

func (f *fakeServer) UpdateTask(ctx context.Context, id domain.ID, in domain.TaskInput) (domain.Task, error) {
	if err := f.enter("update_task"); err != nil {
		return domain.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := mirror.FromBoard(f.board)
	t, _, ok := snap.FindTask(id)
	if !ok {
		return domain.Task{}, &remote.Error{Status: http.StatusNotFound, Message: "task not found"}
	}
	t = in.Apply(t)
	snap, _ = snap.ReplaceTask(id, t)
	f.board.Columns = snap.Columns
	return t, nil
}

func (f *fakeServer) DeleteTask(ctx context.Context, id domain.ID) error {
	if err := f.enter("delete_task"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, _, _, ok := mirror.FromBoard(f.board).RemoveTask(id)
	if !ok {
		return &remote.Error{Status: http.StatusNotFound, Message: "task not found"}
	}
	f.board.Columns = snap.Columns
	return nil
}

func (f *fakeServer) MoveTask(ctx context.Context, id, dest domain.ID) (domain.Task, error) {
	if err := f.enter("move_task"); err != nil {
		return domain.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, t, ok := mirror.FromBoard(f.board).MoveTask(id, dest)
	if !ok {
		return domain.Task{}, &remote.Error{Status: http.StatusNotFound, Message: "task not found"}
	}
	f.board.Columns = snap.Columns
	return t, nil
}

// recorder collects posted cache messages.
type recorder struct {
	mu   sync.Mutex
	msgs []cachesync.Message
}

func (r *recorder) Post(msg cachesync.Message) bool {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return true
}

func (r *recorder) all() []cachesync.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cachesync.Message(nil), r.msgs...)
}

type memKV map[string]string

func (m memKV) GetItem(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m memKV) SetItem(_ context.Context, key, value string) error {
	m[key] = value
	return nil
}

func (m memKV) RemoveItem(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

// shape renders a snapshot as comparable lines: columns in order, then their
// tasks in order.
func shape(s mirror.Snapshot) []string {
	var out []string
	for _, c := range s.Columns {
		out = append(out, c.ID.String()+"|"+c.Title)
		for _, t := range c.Tasks {
			out = append(out, fmt.Sprintf("  %s|%s|%s|%s", t.ID, t.Title, t.Priority, t.ColumnID))
		}
	}
	return out
}

func taskIDs(s mirror.Snapshot) []string {
	var ids []string
	for _, c := range s.Columns {
		for _, t := range c.Tasks {
			ids = append(ids, t.ID.String())
		}
	}
	sort.Strings(ids)
	return ids
}
