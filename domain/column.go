package domain

import "strings"

// Column is a named bucket of tasks on a board.
type Column struct {
	ID      ID     `json:"id"`
	Title   string `json:"title"`
	BoardID string `json:"boardId,omitempty"`
	Tasks   []Task `json:"tasks"`
}

// ValidateTitle rejects blank column titles.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrEmptyTitle
	}
	return nil
}
