package cachesync

import (
	"encoding/json"
	"errors"

	"github.com/bytedance/sonic"

	"trelow-offline/domain"
)

// MessageType is the fixed vocabulary understood by the cache-owning context.
type MessageType string

const (
	CacheBoard     MessageType = "CACHE_BOARD"
	CacheAllBoards MessageType = "CACHE_ALL_BOARDS"
	UpdateCache    MessageType = "UPDATE_CACHE"
	CacheBoardData MessageType = "CACHE_BOARD_DATA"
)

var ErrUnknownMessage = errors.New("cachesync: unknown message type")

// Message is posted by the main context to the cache-owning context.
type Message struct {
	Type       MessageType       `json:"type"`
	BoardID    string            `json:"boardId,omitempty"`
	EntityType domain.EntityType `json:"entityType,omitempty"`
	Action     domain.Action     `json:"action,omitempty"`
	Data       json.RawMessage   `json:"data,omitempty"`
	ColumnID   string            `json:"columnId,omitempty"`
}

// Validate checks that the fields required by the message type are present.
func (m Message) Validate() error {
	switch m.Type {
	case CacheAllBoards:
		return nil
	case CacheBoard:
		if m.BoardID == "" {
			return errors.New("cachesync: CACHE_BOARD requires boardId")
		}
		return nil
	case UpdateCache:
		if m.BoardID == "" {
			return errors.New("cachesync: UPDATE_CACHE requires boardId")
		}
		switch m.Action {
		case domain.ActionAdd, domain.ActionUpdate, domain.ActionDelete:
		default:
			return errors.New("cachesync: UPDATE_CACHE requires a valid action")
		}
		if len(m.Data) == 0 {
			return errors.New("cachesync: UPDATE_CACHE requires data")
		}
		return nil
	case CacheBoardData:
		if m.BoardID == "" || len(m.Data) == 0 {
			return errors.New("cachesync: CACHE_BOARD_DATA requires boardId and data")
		}
		return nil
	}
	return ErrUnknownMessage
}

// Delta builds an UPDATE_CACHE message carrying data as the authoritative
// entity.
func Delta(boardID string, entity domain.EntityType, action domain.Action, data any, columnID string) (Message, error) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:       UpdateCache,
		BoardID:    boardID,
		EntityType: entity,
		Action:     action,
		Data:       raw,
		ColumnID:   columnID,
	}, nil
}

// NewBoard builds the CACHE_BOARD_DATA message for a freshly created board.
func NewBoard(b domain.Board) (Message, error) {
	raw, err := sonic.Marshal(b)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: CacheBoardData, BoardID: b.ID, Action: domain.ActionAdd, Data: raw}, nil
}
