package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"trelow-offline/cachesync"
	"trelow-offline/domain"
)

// BoardsRemote is the board-list part of the server API.
type BoardsRemote interface {
	ListBoards(ctx context.Context) ([]domain.Board, error)
	CreateBoard(ctx context.Context, content string) (domain.Board, error)
	DeleteBoard(ctx context.Context, boardID string) error
}

// BoardStore persists the board list.
type BoardStore interface {
	SaveBoards(ctx context.Context, boards []domain.Board) error
	LoadBoards(ctx context.Context) ([]domain.Board, bool, error)
	ForgetBoard(ctx context.Context, boardID string) error
}

// Boards keeps the user's board list.
type Boards struct {
	remote BoardsRemote
	store  BoardStore
	notify Notifier
	log    *log.Logger

	mu   sync.Mutex
	list []domain.Board
}

func NewBoards(remote BoardsRemote, store BoardStore, notify Notifier, logger *log.Logger) *Boards {
	if remote == nil {
		panic("remote is required")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	return &Boards{remote: remote, store: store, notify: notify, log: logger}
}

// List returns a copy of the current board list.
func (b *Boards) List() []domain.Board {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.list)
}

// Load fetches the board list, falling back to the saved copy offline.
func (b *Boards) Load(ctx context.Context) error {
	boards, err := b.remote.ListBoards(ctx)
	if err == nil {
		b.set(boards)
		b.save(ctx, boards)
		if b.notify != nil && !b.notify.Post(cachesync.Message{Type: cachesync.CacheAllBoards}) {
			b.log.Warn("preload request dropped")
		}
		return nil
	}
	if b.store != nil {
		saved, ok, lerr := b.store.LoadBoards(ctx)
		if lerr != nil {
			b.log.WithError(lerr).Warn("unable to load saved boards")
		} else if ok {
			b.set(saved)
			return fmt.Errorf("%w: %w", ErrStale, err)
		}
	}
	return err
}

// Create adds a board once the server has accepted it and tells the cache
// about it.
func (b *Boards) Create(ctx context.Context, content string) (domain.Board, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Board{}, invalid(domain.ErrEmptyTitle)
	}
	board, err := b.remote.CreateBoard(ctx, content)
	if err != nil {
		return domain.Board{}, err
	}
	b.mu.Lock()
	b.list = append(slices.Clone(b.list), board)
	boards := slices.Clone(b.list)
	b.mu.Unlock()
	b.save(ctx, boards)

	if msg, err := cachesync.NewBoard(board); err != nil {
		b.log.WithError(err).Error("unable to encode board for cache")
	} else if b.notify != nil && !b.notify.Post(msg) {
		b.log.WithField("board", board.ID).Warn("cache message dropped")
	}
	return board, nil
}

// Delete removes board id from the list at once; the list is reloaded if the
// server refuses.
func (b *Boards) Delete(ctx context.Context, id string) error {
	b.mu.Lock()
	idx := slices.IndexFunc(b.list, func(x domain.Board) bool { return x.ID == id })
	if idx < 0 {
		b.mu.Unlock()
		return fmt.Errorf("%w: board %s", ErrNotFound, id)
	}
	removed := b.list[idx]
	b.list = slices.Delete(slices.Clone(b.list), idx, idx+1)
	b.mu.Unlock()

	if err := b.remote.DeleteBoard(ctx, id); err != nil {
		b.log.WithError(err).WithField("board", id).Warn("board delete failed, reloading")
		if lerr := b.Load(context.WithoutCancel(ctx)); lerr != nil && !errors.Is(lerr, ErrStale) {
			b.mu.Lock()
			b.list = slices.Insert(slices.Clone(b.list), min(idx, len(b.list)), removed)
			b.mu.Unlock()
		}
		return &RevertedError{Op: "delete_board", Err: err}
	}

	if b.store != nil {
		if err := b.store.ForgetBoard(ctx, id); err != nil {
			b.log.WithError(err).WithField("board", id).Warn("unable to forget board")
		}
	}
	b.save(ctx, b.List())
	if b.notify != nil {
		msg, err := cachesync.Delta(id, domain.EntityBoard, domain.ActionDelete, removed, "")
		if err != nil {
			b.log.WithError(err).Error("unable to encode board delta")
		} else if !b.notify.Post(msg) {
			b.log.WithField("board", id).Warn("cache delta dropped")
		}
	}
	return nil
}

func (b *Boards) set(boards []domain.Board) {
	b.mu.Lock()
	b.list = slices.Clone(boards)
	b.mu.Unlock()
}

func (b *Boards) save(ctx context.Context, boards []domain.Board) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveBoards(ctx, boards); err != nil {
		b.log.WithError(err).Warn("unable to save boards")
	}
}
