package coordinator

import (
	"context"

	"trelow-offline/domain"
	"trelow-offline/mirror"
)

// AddColumn appends a column titled title. The column is shown at once under
// a pending id and gets its server id when the create succeeds.
func (c *Coordinator) AddColumn(ctx context.Context, title string) (domain.Column, error) {
	pendingID := c.pending.add()
	var created domain.Column
	err := c.run(ctx, mutation{
		op:      "add_column",
		created: pendingID,
		validate: func(mirror.Snapshot) error {
			if err := domain.ValidateTitle(title); err != nil {
				return invalid(err)
			}
			return nil
		},
		apply: func(s mirror.Snapshot) mirror.Snapshot {
			return s.AppendColumn(domain.Column{ID: pendingID, Title: title, BoardID: s.BoardID})
		},
		call: func(ctx context.Context, _ []domain.ID) (outcome, error) {
			col, err := c.remote.CreateColumn(ctx, c.boardID, title)
			if err != nil {
				return outcome{}, err
			}
			if col.Tasks == nil {
				col.Tasks = []domain.Task{}
			}
			created = col
			return outcome{
				confirmed: col.ID,
				reconcile: func(s mirror.Snapshot) mirror.Snapshot {
					if next, ok := s.ReplaceColumn(pendingID, col); ok {
						return next
					}
					if _, ok := s.Column(col.ID); ok || c.pending.isDeleted(pendingID) {
						return s
					}
					return s.AppendColumn(col)
				},
				deltas: []delta{{entity: domain.EntityColumn, action: domain.ActionAdd, data: col}},
			}, nil
		},
	})
	return created, err
}

// RenameColumn changes the title of column id.
func (c *Coordinator) RenameColumn(ctx context.Context, id domain.ID, title string) (domain.Column, error) {
	id = c.pending.lookup(id)
	var updated domain.Column
	err := c.run(ctx, mutation{
		op:   "rename_column",
		refs: []domain.ID{id},
		validate: func(s mirror.Snapshot) error {
			if err := domain.ValidateTitle(title); err != nil {
				return invalid(err)
			}
			if _, ok := s.Column(id); !ok {
				return notFound("column", id)
			}
			return nil
		},
		apply: func(s mirror.Snapshot) mirror.Snapshot {
			next, _ := s.RenameColumn(id, title)
			return next
		},
		call: func(ctx context.Context, ids []domain.ID) (outcome, error) {
			col, err := c.remote.UpdateColumn(ctx, ids[0], title)
			if err != nil {
				return outcome{}, err
			}
			updated = col
			return outcome{
				reconcile: func(s mirror.Snapshot) mirror.Snapshot {
					next, _ := s.RenameColumn(ids[0], col.Title)
					return next
				},
				deltas: []delta{{entity: domain.EntityColumn, action: domain.ActionUpdate, data: col}},
			}, nil
		},
	})
	return updated, err
}

// DeleteColumn removes column id and every task in it.
func (c *Coordinator) DeleteColumn(ctx context.Context, id domain.ID) error {
	id = c.pending.lookup(id)
	return c.run(ctx, mutation{
		op:   "delete_column",
		refs: []domain.ID{id},
		validate: func(s mirror.Snapshot) error {
			if _, ok := s.Column(id); !ok {
				return notFound("column", id)
			}
			return nil
		},
		apply: func(s mirror.Snapshot) mirror.Snapshot {
			c.pending.markDeleted(id)
			next, _, _ := s.RemoveColumn(id)
			return next
		},
		call: func(ctx context.Context, ids []domain.ID) (outcome, error) {
			if err := c.remote.DeleteColumn(ctx, ids[0]); err != nil {
				return outcome{}, err
			}
			return outcome{
				reconcile: func(s mirror.Snapshot) mirror.Snapshot {
					next, _, _ := s.RemoveColumn(ids[0])
					return next
				},
				deltas: []delta{{entity: domain.EntityColumn, action: domain.ActionDelete, data: entityRef{ID: ids[0]}}},
				forget: []domain.ID{ids[0]},
			}, nil
		},
	})
}

// entityRef is the payload of delete deltas.
type entityRef struct {
	ID domain.ID `json:"id"`
}
