// Package cachesync keeps the durable response cache consistent with
// mutations confirmed by the server, without refetching.
package cachesync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"trelow-offline/domain"
	"trelow-offline/storage"
)

// Cache is the subset of the cache layer the synchronizer patches.
type Cache interface {
	Match(ctx context.Context, path string) (storage.Entry, bool, error)
	Put(ctx context.Context, path string, e storage.Entry) error
	Delete(ctx context.Context, path string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

var errMissingID = errors.New("entity has no id")

type Synchronizer struct {
	cache Cache
	log   *log.Logger
}

func NewSynchronizer(cache Cache, logger *log.Logger) *Synchronizer {
	if cache == nil {
		panic("cache is not initialized")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	return &Synchronizer{cache: cache, log: logger}
}

// Apply patches the cache for an UPDATE_CACHE or CACHE_BOARD_DATA message.
// Failures are logged and swallowed; the next successful fetch through the
// interception layer repairs any entry left stale.
func (s *Synchronizer) Apply(ctx context.Context, msg Message) {
	entry := s.log.WithFields(log.Fields{
		"type":   msg.Type,
		"board":  msg.BoardID,
		"entity": msg.EntityType,
		"action": msg.Action,
	})
	if err := msg.Validate(); err != nil {
		entry.WithError(err).Warn("cache delta rejected")
		return
	}
	var err error
	switch {
	case msg.Type == CacheBoardData:
		err = s.addBoard(ctx, msg.BoardID, msg.Data)
	case msg.Type != UpdateCache:
		err = ErrUnknownMessage
	case msg.EntityType == domain.EntityBoard:
		err = s.applyBoard(ctx, msg)
	case msg.EntityType == domain.EntityColumn:
		err = s.applyColumn(ctx, msg)
	case msg.EntityType == domain.EntityTask:
		err = s.applyTask(ctx, msg)
	default:
		err = errors.New("unknown entity type")
	}
	if err != nil {
		entry.WithError(err).Error("cache update failed")
		return
	}
	entry.Debug("cache updated")
}

func (s *Synchronizer) applyTask(ctx context.Context, msg Message) error {
	if msg.ColumnID == "" {
		return errors.New("task delta without column id")
	}
	return errors.Join(
		s.patchList(ctx, TasksPath(msg.BoardID, msg.ColumnID), msg.Action, msg.Data, true),
		s.patchBoard(ctx, msg),
	)
}

func (s *Synchronizer) applyColumn(ctx context.Context, msg Message) error {
	errs := []error{
		s.patchList(ctx, ColumnsPath(msg.BoardID), msg.Action, msg.Data, false),
		s.patchBoard(ctx, msg),
	}
	if msg.Action == domain.ActionDelete {
		id, err := entityID(msg.Data)
		if err == nil {
			_, err = s.cache.Delete(ctx, TasksPath(msg.BoardID, id))
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// patchBoard applies a column or task delta to the columns nested in the
// cached board entry. Untouched columns keep their bytes.
func (s *Synchronizer) patchBoard(ctx context.Context, msg Message) error {
	path := BoardPath(msg.BoardID)
	e, ok, err := s.cache.Match(ctx, path)
	if err != nil || !ok {
		return err
	}
	var board map[string]json.RawMessage
	if err := sonic.Unmarshal(e.Body, &board); err != nil {
		return err
	}
	cols, err := rawList(board["columns"])
	if err != nil {
		return err
	}

	if msg.EntityType == domain.EntityTask {
		cols, err = patchNestedTasks(cols, msg.ColumnID, msg.Action, msg.Data)
	} else if msg.Action == domain.ActionUpdate {
		cols, err = mergeColumn(cols, msg.Data)
	} else {
		cols, err = patchItems(cols, msg.Action, msg.Data, false)
	}
	if err != nil {
		return err
	}

	board["columns"] = joinArray(cols)
	body, err := sonic.ConfigStd.Marshal(board)
	if err != nil {
		return err
	}
	e.Body = body
	e.StoredAt = time.Time{}
	return s.cache.Put(ctx, path, e)
}

// patchNestedTasks patches the tasks array of column columnID. A column that
// is not cached is left alone.
func patchNestedTasks(cols []json.RawMessage, columnID string, action domain.Action, data json.RawMessage) ([]json.RawMessage, error) {
	for i, raw := range cols {
		if id, err := entityID(raw); err != nil || id != columnID {
			continue
		}
		var col map[string]json.RawMessage
		if err := sonic.Unmarshal(raw, &col); err != nil {
			return nil, err
		}
		tasks, err := rawList(col["tasks"])
		if err != nil {
			return nil, err
		}
		if tasks, err = patchItems(tasks, action, data, true); err != nil {
			return nil, err
		}
		col["tasks"] = joinArray(tasks)
		if cols[i], err = sonic.ConfigStd.Marshal(col); err != nil {
			return nil, err
		}
		return cols, nil
	}
	return cols, nil
}

// mergeColumn overlays the fields of an updated column onto the nested one,
// keeping its tasks.
func mergeColumn(cols []json.RawMessage, data json.RawMessage) ([]json.RawMessage, error) {
	id, err := entityID(data)
	if err != nil {
		return nil, err
	}
	var update map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &update); err != nil {
		return nil, err
	}
	delete(update, "tasks")
	for i, raw := range cols {
		if itID, err := entityID(raw); err != nil || itID != id {
			continue
		}
		var col map[string]json.RawMessage
		if err := sonic.Unmarshal(raw, &col); err != nil {
			return nil, err
		}
		for k, v := range update {
			col[k] = v
		}
		if cols[i], err = sonic.ConfigStd.Marshal(col); err != nil {
			return nil, err
		}
	}
	return cols, nil
}

// rawList splits a JSON array into its elements. Absent and null are empty.
func rawList(raw json.RawMessage) ([]json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := sonic.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Synchronizer) applyBoard(ctx context.Context, msg Message) error {
	switch msg.Action {
	case domain.ActionAdd:
		return s.addBoard(ctx, msg.BoardID, msg.Data)
	case domain.ActionUpdate:
		e, ok, err := s.cache.Match(ctx, BoardPath(msg.BoardID))
		if err != nil {
			return err
		}
		if ok {
			e.Body = msg.Data
			e.StoredAt = time.Time{}
			if err := s.cache.Put(ctx, BoardPath(msg.BoardID), e); err != nil {
				return err
			}
		}
		return s.patchList(ctx, BoardsPath, domain.ActionUpdate, msg.Data, false)
	default:
		return s.purgeBoard(ctx, msg.BoardID, msg.Data)
	}
}

func (s *Synchronizer) addBoard(ctx context.Context, boardID string, data json.RawMessage) error {
	if err := s.patchList(ctx, BoardsPath, domain.ActionAdd, data, false); err != nil {
		return err
	}
	return s.cache.Put(ctx, BoardPath(boardID), storage.Entry{
		Status:     http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       data,
	})
}

// purgeBoard drops the board's entry, everything nested under it and every
// column-scoped entry of its columns. Column ids come from the delta payload
// and, when it carries none, from the cached column list.
func (s *Synchronizer) purgeBoard(ctx context.Context, boardID string, data json.RawMessage) error {
	var payload struct {
		Columns []struct {
			ID string `json:"id"`
		} `json:"columns"`
	}
	_ = sonic.Unmarshal(data, &payload)
	columnIDs := make([]string, 0, len(payload.Columns))
	for _, c := range payload.Columns {
		columnIDs = append(columnIDs, c.ID)
	}
	if len(columnIDs) == 0 {
		if e, ok, err := s.cache.Match(ctx, ColumnsPath(boardID)); err == nil && ok {
			var items []json.RawMessage
			if err := sonic.Unmarshal(e.Body, &items); err == nil {
				for _, it := range items {
					if id, err := entityID(it); err == nil {
						columnIDs = append(columnIDs, id)
					}
				}
			}
		}
	}

	keys, err := s.cache.Keys(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, k := range keys {
		if underBoard(k, boardID) || underColumn(k, columnIDs) {
			if _, err := s.cache.Delete(ctx, k); err != nil {
				errs = append(errs, err)
			}
		}
	}
	boardRef, _ := sonic.Marshal(map[string]string{"id": boardID})
	errs = append(errs, s.patchList(ctx, BoardsPath, domain.ActionDelete, boardRef, false))
	return errors.Join(errs...)
}

// patchList rewrites a cached JSON array in place. Elements other than the
// one added, replaced or removed keep their exact bytes. A missing entry is
// left missing: it is populated by the next network read.
func (s *Synchronizer) patchList(ctx context.Context, path string, action domain.Action, data json.RawMessage, prepend bool) error {
	e, ok, err := s.cache.Match(ctx, path)
	if err != nil || !ok {
		return err
	}
	var items []json.RawMessage
	if err := sonic.Unmarshal(e.Body, &items); err != nil {
		return err
	}
	if items, err = patchItems(items, action, data, prepend); err != nil {
		return err
	}

	e.Body = joinArray(items)
	e.StoredAt = time.Time{}
	return s.cache.Put(ctx, path, e)
}

// patchItems adds, replaces or removes the element of items whose id matches
// data. Add is idempotent.
func patchItems(items []json.RawMessage, action domain.Action, data json.RawMessage, prepend bool) ([]json.RawMessage, error) {
	id, err := entityID(data)
	if err != nil {
		return nil, err
	}
	switch action {
	case domain.ActionAdd:
		items = withoutID(items, id)
		if prepend {
			return append([]json.RawMessage{data}, items...), nil
		}
		return append(items, data), nil
	case domain.ActionUpdate:
		for i, it := range items {
			if itID, err := entityID(it); err == nil && itID == id {
				items[i] = data
			}
		}
	case domain.ActionDelete:
		items = withoutID(items, id)
	}
	return items, nil
}

// joinArray writes items back as a JSON array without re-encoding them.
func joinArray(items []json.RawMessage) []byte {
	out := make([]byte, 0, 2+len(items)*64)
	out = append(out, '[')
	for i, it := range items {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, it...)
	}
	return append(out, ']')
}

func withoutID(items []json.RawMessage, id string) []json.RawMessage {
	out := items[:0:0]
	for _, it := range items {
		if itID, err := entityID(it); err == nil && itID == id {
			continue
		}
		out = append(out, it)
	}
	return out
}

func entityID(raw json.RawMessage) (string, error) {
	var ref struct {
		ID string `json:"id"`
	}
	if err := sonic.Unmarshal(raw, &ref); err != nil {
		return "", err
	}
	if ref.ID == "" {
		return "", errMissingID
	}
	return ref.ID, nil
}
