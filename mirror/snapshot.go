// Package mirror holds the client's in-memory view of the open board.
//
// A Snapshot is immutable: every operation returns a new Snapshot and leaves
// the receiver untouched, so published snapshots can be shared with readers
// without locking.
package mirror

import (
	"trelow-offline/domain"
)

// Snapshot is one published state of the open board.
type Snapshot struct {
	BoardID string
	Content string
	Columns []domain.Column
}

// FromBoard builds a snapshot from an authoritative board fetch.
func FromBoard(b domain.Board) Snapshot {
	s := Snapshot{BoardID: b.ID, Content: b.Content}
	s.Columns = cloneColumns(b.Columns)
	return s
}

// Board converts the snapshot back to its wire representation.
func (s Snapshot) Board() domain.Board {
	return domain.Board{ID: s.BoardID, Content: s.Content, Columns: cloneColumns(s.Columns)}
}

// Column returns the column with id.
func (s Snapshot) Column(id domain.ID) (domain.Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Column{}, false
}

// FindTask returns the task with id and the id of the column holding it.
func (s Snapshot) FindTask(id domain.ID) (domain.Task, domain.ID, bool) {
	for _, c := range s.Columns {
		for _, t := range c.Tasks {
			if t.ID == id {
				return t, c.ID, true
			}
		}
	}
	return domain.Task{}, domain.ID{}, false
}

// AppendColumn adds col after the existing columns.
func (s Snapshot) AppendColumn(col domain.Column) Snapshot {
	cols := make([]domain.Column, 0, len(s.Columns)+1)
	cols = append(cols, s.Columns...)
	if col.Tasks == nil {
		col.Tasks = []domain.Task{}
	}
	cols = append(cols, col)
	s.Columns = cols
	return s
}

// RenameColumn sets the title of column id.
func (s Snapshot) RenameColumn(id domain.ID, title string) (Snapshot, bool) {
	return s.mapColumn(id, func(c domain.Column) domain.Column {
		c.Title = title
		return c
	})
}

// RemoveColumn drops column id together with its tasks.
func (s Snapshot) RemoveColumn(id domain.ID) (Snapshot, domain.Column, bool) {
	cols := make([]domain.Column, 0, len(s.Columns))
	var removed domain.Column
	found := false
	for _, c := range s.Columns {
		if c.ID == id {
			removed = c
			found = true
			continue
		}
		cols = append(cols, c)
	}
	if !found {
		return s, domain.Column{}, false
	}
	s.Columns = cols
	return s, removed, true
}

// ReplaceColumn swaps column id for col, keeping the tasks already shown
// under it and repointing their column reference.
func (s Snapshot) ReplaceColumn(id domain.ID, col domain.Column) (Snapshot, bool) {
	return s.mapColumn(id, func(c domain.Column) domain.Column {
		tasks := make([]domain.Task, len(c.Tasks))
		for i, t := range c.Tasks {
			t.ColumnID = col.ID
			tasks[i] = t
		}
		col.Tasks = tasks
		return col
	})
}

// PrependTask inserts t at the top of column columnID.
func (s Snapshot) PrependTask(columnID domain.ID, t domain.Task) (Snapshot, bool) {
	return s.mapColumn(columnID, func(c domain.Column) domain.Column {
		t.ColumnID = c.ID
		tasks := make([]domain.Task, 0, len(c.Tasks)+1)
		tasks = append(tasks, t)
		tasks = append(tasks, c.Tasks...)
		c.Tasks = tasks
		return c
	})
}

// ReplaceTask swaps task id for t wherever it is shown.
func (s Snapshot) ReplaceTask(id domain.ID, t domain.Task) (Snapshot, bool) {
	found := false
	cols := make([]domain.Column, len(s.Columns))
	for i, c := range s.Columns {
		for j, cur := range c.Tasks {
			if cur.ID != id {
				continue
			}
			tasks := append([]domain.Task(nil), c.Tasks...)
			t.ColumnID = c.ID
			tasks[j] = t
			c.Tasks = tasks
			found = true
			break
		}
		cols[i] = c
	}
	if !found {
		return s, false
	}
	s.Columns = cols
	return s, true
}

// RemoveTask drops task id and reports the column it was in.
func (s Snapshot) RemoveTask(id domain.ID) (Snapshot, domain.Task, domain.ID, bool) {
	cols := make([]domain.Column, len(s.Columns))
	var (
		removed domain.Task
		from    domain.ID
		found   bool
	)
	for i, c := range s.Columns {
		if !found {
			for j, t := range c.Tasks {
				if t.ID != id {
					continue
				}
				tasks := make([]domain.Task, 0, len(c.Tasks)-1)
				tasks = append(tasks, c.Tasks[:j]...)
				tasks = append(tasks, c.Tasks[j+1:]...)
				c.Tasks = tasks
				removed, from, found = t, c.ID, true
				break
			}
		}
		cols[i] = c
	}
	if !found {
		return s, domain.Task{}, domain.ID{}, false
	}
	s.Columns = cols
	return s, removed, from, true
}

// MoveTask removes task id from its column and prepends it to target in a
// single step, so no snapshot ever shows the task in zero or two columns.
func (s Snapshot) MoveTask(id, target domain.ID) (Snapshot, domain.Task, bool) {
	if _, ok := s.Column(target); !ok {
		return s, domain.Task{}, false
	}
	next, t, _, ok := s.RemoveTask(id)
	if !ok {
		return s, domain.Task{}, false
	}
	next, _ = next.PrependTask(target, t)
	t.ColumnID = target
	return next, t, true
}

// WithoutPending drops every column and task that has not been confirmed by
// the server.
func (s Snapshot) WithoutPending() Snapshot {
	cols := make([]domain.Column, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.ID.IsPending() {
			continue
		}
		tasks := make([]domain.Task, 0, len(c.Tasks))
		for _, t := range c.Tasks {
			if !t.ID.IsPending() {
				tasks = append(tasks, t)
			}
		}
		c.Tasks = tasks
		cols = append(cols, c)
	}
	s.Columns = cols
	return s
}

func (s Snapshot) mapColumn(id domain.ID, fn func(domain.Column) domain.Column) (Snapshot, bool) {
	cols := make([]domain.Column, len(s.Columns))
	found := false
	for i, c := range s.Columns {
		if c.ID == id && !found {
			c = fn(c)
			found = true
		}
		cols[i] = c
	}
	if !found {
		return s, false
	}
	s.Columns = cols
	return s, true
}

func cloneColumns(in []domain.Column) []domain.Column {
	out := make([]domain.Column, len(in))
	for i, c := range in {
		tasks := make([]domain.Task, len(c.Tasks))
		copy(tasks, c.Tasks)
		c.Tasks = tasks
		out[i] = c
	}
	return out
}
