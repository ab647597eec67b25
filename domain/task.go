package domain

import (
	"strings"
	"time"
)

// Priority ranks a task on the board.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// OrDefault returns medium for an empty priority, matching the server default.
func (p Priority) OrDefault() Priority {
	if p == "" {
		return PriorityMedium
	}
	return p
}

// Task represents a single card in a column.
type Task struct {
	ID        ID        `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	ColumnID  ID        `json:"columnId"`
	Priority  Priority  `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
	UserID    string    `json:"userId,omitempty"`
}

// TaskInput carries the user-editable fields of a task.
type TaskInput struct {
	Title    string   `json:"title"`
	Content  string   `json:"content,omitempty"`
	Priority Priority `json:"priority"`
}

// Validate checks the fields the server requires.
func (in TaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return ErrEmptyTitle
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}

// Apply returns t with the input's fields. An empty content keeps the
// existing body.
func (in TaskInput) Apply(t Task) Task {
	t.Title = in.Title
	if in.Content != "" {
		t.Content = in.Content
	}
	if in.Priority != "" {
		t.Priority = in.Priority
	}
	return t
}
