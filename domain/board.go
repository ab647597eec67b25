package domain

import "time"

// Board is the top-level container of columns.
type Board struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatorID string    `json:"creatorId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Columns   []Column  `json:"columns,omitempty"`
}
