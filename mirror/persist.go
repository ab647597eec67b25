package mirror

import (
	"context"
	"errors"

	"github.com/bytedance/sonic"

	"trelow-offline/domain"
)

// KV is the synchronous string-keyed store used for the fastest offline reads.
type KV interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

const BoardsKey = "cached-boards"

func BoardKey(boardID string) string { return "cached-board-" + boardID }

func ColumnsKey(boardID string) string { return "cached-board-" + boardID + "-columns" }

func TasksKey(columnID string) string { return "cached-column-" + columnID + "-tasks" }

// Persister writes confirmed snapshots to the local store and reads them back
// when the network is gone.
type Persister struct {
	kv KV
}

func NewPersister(kv KV) *Persister {
	if kv == nil {
		panic("mirror.NewPersister: store is nil")
	}
	return &Persister{kv: kv}
}

// Save stores the confirmed part of snap: the board, its column list and one
// task list per column. Pending entities are never written.
func (p *Persister) Save(ctx context.Context, snap Snapshot) error {
	snap = snap.WithoutPending()
	board := snap.Board()
	if err := p.setJSON(ctx, BoardKey(snap.BoardID), board); err != nil {
		return err
	}
	if err := p.setJSON(ctx, ColumnsKey(snap.BoardID), board.Columns); err != nil {
		return err
	}
	var errs []error
	for _, c := range board.Columns {
		if err := p.setJSON(ctx, TasksKey(c.ID.String()), c.Tasks); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ForgetColumn drops the stored task list of a deleted column.
func (p *Persister) ForgetColumn(ctx context.Context, columnID domain.ID) error {
	return p.kv.RemoveItem(ctx, TasksKey(columnID.String()))
}

// Load rebuilds the last saved snapshot of boardID. It falls back to the
// column list plus per-column task lists when the board entry is missing.
func (p *Persister) Load(ctx context.Context, boardID string) (Snapshot, bool, error) {
	var board domain.Board
	ok, err := p.getJSON(ctx, BoardKey(boardID), &board)
	if err != nil {
		return Snapshot{}, false, err
	}
	if ok {
		return FromBoard(board), true, nil
	}

	var cols []domain.Column
	ok, err = p.getJSON(ctx, ColumnsKey(boardID), &cols)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	for i := range cols {
		var tasks []domain.Task
		if _, err := p.getJSON(ctx, TasksKey(cols[i].ID.String()), &tasks); err != nil {
			return Snapshot{}, false, err
		}
		if tasks != nil {
			cols[i].Tasks = tasks
		}
	}
	return FromBoard(domain.Board{ID: boardID, Columns: cols}), true, nil
}

// SaveBoards stores the board list.
func (p *Persister) SaveBoards(ctx context.Context, boards []domain.Board) error {
	return p.setJSON(ctx, BoardsKey, boards)
}

// LoadBoards returns the stored board list.
func (p *Persister) LoadBoards(ctx context.Context) ([]domain.Board, bool, error) {
	var boards []domain.Board
	ok, err := p.getJSON(ctx, BoardsKey, &boards)
	return boards, ok, err
}

// ForgetBoard drops everything stored for boardID.
func (p *Persister) ForgetBoard(ctx context.Context, boardID string) error {
	var cols []domain.Column
	if _, err := p.getJSON(ctx, ColumnsKey(boardID), &cols); err != nil {
		return err
	}
	errs := make([]error, 0, len(cols)+2)
	for _, c := range cols {
		errs = append(errs, p.kv.RemoveItem(ctx, TasksKey(c.ID.String())))
	}
	errs = append(errs, p.kv.RemoveItem(ctx, ColumnsKey(boardID)), p.kv.RemoveItem(ctx, BoardKey(boardID)))
	return errors.Join(errs...)
}

func (p *Persister) setJSON(ctx context.Context, key string, v any) error {
	data, err := sonic.MarshalString(v)
	if err != nil {
		return err
	}
	return p.kv.SetItem(ctx, key, data)
}

func (p *Persister) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := p.kv.GetItem(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := sonic.UnmarshalString(raw, v); err != nil {
		return false, err
	}
	return true, nil
}
