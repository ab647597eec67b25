package domain

import "errors"

// EntityType names the kind of entity a cache delta refers to.
type EntityType string

const (
	EntityBoard  EntityType = "board"
	EntityColumn EntityType = "column"
	EntityTask   EntityType = "task"
)

// Action is the kind of change applied to an entity.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var (
	ErrEmptyTitle      = errors.New("title is required")
	ErrInvalidPriority = errors.New("priority must be one of low, medium, high")
)
