package coordinator

import (
	"context"

	"trelow-offline/domain"
	"trelow-offline/mirror"
)

// AddTask creates a task at the top of column columnID. A column that is
// itself still pending is waited for; if its creation fails the task is
// dropped locally without contacting the server.
func (c *Coordinator) AddTask(ctx context.Context, columnID domain.ID, in domain.TaskInput) (domain.Task, error) {
	columnID = c.pending.lookup(columnID)
	in.Priority = in.Priority.OrDefault()
	pendingID := c.pending.add()
	var created domain.Task
	err := c.run(ctx, mutation{
		op:      "add_task",
		created: pendingID,
		refs:    []domain.ID{columnID},
		validate: func(s mirror.Snapshot) error {
			if err := in.Validate(); err != nil {
				return invalid(err)
			}
			if _, ok := s.Column(columnID); !ok {
				return notFound("column", columnID)
			}
			return nil
		},
		apply: func(s mirror.Snapshot) mirror.Snapshot {
			next, _ := s.PrependTask(columnID, domain.Task{
				ID:        pendingID,
				Title:     in.Title,
				Content:   in.Content,
				Priority:  in.Priority,
				CreatedAt: c.now().UTC(),
			})
			return next
		},
		discard: func(s mirror.Snapshot) mirror.Snapshot {
			next, _, _, _ := s.RemoveTask(pendingID)
			return next
		},
		call: func(ctx context.Context, ids []domain.ID) (outcome, error) {
			t, err := c.remote.CreateTask(ctx, ids[0], in)
			if err != nil {
				return outcome{}, err
			}
			if t.ColumnID.IsZero() {
				t.ColumnID = ids[0]
			}
			created = t
			return outcome{
				confirmed: t.ID,
				reconcile: func(s mirror.Snapshot) mirror.Snapshot {
					if next, ok := s.ReplaceTask(pendingID, t); ok {
						return next
					}
					if _, _, ok := s.FindTask(t.ID); ok || c.pending.isDeleted(pendingID) {
						return s
					}
					next, _ := s.PrependTask(t.ColumnID, t)
					return next
				},
				deltas: []delta{{entity: domain.EntityTask, action: domain.ActionAdd, data: t, columnID: t.ColumnID}},
			}, nil
		},
	})
	return created, err
}

// UpdateTask edits task id. Empty content and priority keep the current
// values.
func (c *Coordinator) UpdateTask(ctx context.Context, id domain.ID, in domain.TaskInput) (domain.Task, error) {
	id = c.pending.lookup(id)
	var updated domain.Task
	err := c.run(ctx, mutation{
		op:   "update_task",
		refs: []domain.ID{id},
		validate: func(s mirror.Snapshot) error {
			if err := in.Validate(); err != nil {
				return invalid(err)
			}
			t, _, ok := s.FindTask(id)
			if !ok {
				return notFound("task", id)
			}
			merged := in.Apply(t)
			in = domain.TaskInput{Title: in.Title, Content: merged.Content, Priority: merged.Priority.OrDefault()}
			return nil
		},
		apply: func(s mirror.Snapshot) mirror.Snapshot {
			t, _, ok := s.FindTask(id)
			if !ok {
				return s
			}
			next, _ := s.ReplaceTask(id, in.Apply(t))
			return next
		},
		call: func(ctx context.Context, ids []domain.ID) (outcome, error) {
			t, err := c.remote.UpdateTask(ctx, ids[0], in)
			if err != nil {
				return outcome{}, err
			}
			updated = t
			return outcome{
				reconcile: func(s mirror.Snapshot) mirror.Snapshot {
					next, _ := s.ReplaceTask(ids[0], t)
					return next
				},
				deltas: []delta{{entity: domain.EntityTask, action: domain.ActionUpdate, data: t, columnID: c.columnOf(ids[0], t)}},
			}, nil
		},
	})
	return updated, err
}

// DeleteTask removes task id.
func (c *Coordinator) DeleteTask(ctx context.Context, id domain.ID) error {
	id = c.pending.lookup(id)
	var from domain.ID
	return c.run(ctx, mutation{
		op:   "delete_task",
		refs: []domain.ID{id},
		validate: func(s mirror.Snapshot) error {
			var ok bool
			if _, from, ok = s.FindTask(id); !ok {
				return notFound("task", id)
			}
			return nil
		},
		apply: func(s mirror.Snapshot) mirror.Snapshot {
			c.pending.markDeleted(id)
			next, _, _, _ := s.RemoveTask(id)
			return next
		},
		call: func(ctx context.Context, ids []domain.ID) (outcome, error) {
			if err := c.remote.DeleteTask(ctx, ids[0]); err != nil {
				return outcome{}, err
			}
			return outcome{
				reconcile: func(s mirror.Snapshot) mirror.Snapshot {
					next, _, _, _ := s.RemoveTask(ids[0])
					return next
				},
				deltas: []delta{{entity: domain.EntityTask, action: domain.ActionDelete, data: entityRef{ID: ids[0]}, columnID: from}},
			}, nil
		},
	})
}

// MoveTask moves task id to the top of column target. The mirror never shows
// the task in zero or two columns.
func (c *Coordinator) MoveTask(ctx context.Context, id, target domain.ID) (domain.Task, error) {
	id = c.pending.lookup(id)
	target = c.pending.lookup(target)
	var (
		from  domain.ID
		moved domain.Task
	)
	err := c.run(ctx, mutation{
		op:   "move_task",
		refs: []domain.ID{id, target},
		validate: func(s mirror.Snapshot) error {
			var ok bool
			if moved, from, ok = s.FindTask(id); !ok {
				return notFound("task", id)
			}
			if _, ok := s.Column(target); !ok {
				return notFound("column", target)
			}
			if from == target {
				return invalid(errSameColumn)
			}
			return nil
		},
		apply: func(s mirror.Snapshot) mirror.Snapshot {
			next, _, _ := s.MoveTask(id, target)
			return next
		},
		discard: func(s mirror.Snapshot) mirror.Snapshot {
			next, _, _ := s.MoveTask(id, from)
			return next
		},
		call: func(ctx context.Context, ids []domain.ID) (outcome, error) {
			t, err := c.remote.MoveTask(ctx, ids[0], ids[1])
			if err != nil {
				return outcome{}, err
			}
			t.ColumnID = ids[1]
			moved = t
			return outcome{
				reconcile: func(s mirror.Snapshot) mirror.Snapshot {
					if _, cur, ok := s.FindTask(ids[0]); ok && cur != ids[1] {
						s, _, _ = s.MoveTask(ids[0], ids[1])
					}
					next, _ := s.ReplaceTask(ids[0], t)
					return next
				},
				deltas: []delta{
					{entity: domain.EntityTask, action: domain.ActionDelete, data: entityRef{ID: ids[0]}, columnID: from},
					{entity: domain.EntityTask, action: domain.ActionAdd, data: t, columnID: ids[1]},
				},
			}, nil
		},
	})
	if err != nil {
		return domain.Task{}, err
	}
	return moved, nil
}

// columnOf returns the column holding task id, falling back to the column
// the server reported.
func (c *Coordinator) columnOf(id domain.ID, t domain.Task) domain.ID {
	if _, col, ok := c.session.Snapshot().FindTask(id); ok {
		return col
	}
	return t.ColumnID
}
