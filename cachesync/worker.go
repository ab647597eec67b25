package cachesync

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Preloader bulk-fetches boards into the cache.
type Preloader interface {
	CacheBoard(ctx context.Context, boardID string) error
	CacheAllBoards(ctx context.Context) error
}

// Worker owns the cache-side handling of mailbox messages. Deltas are applied
// one at a time in arrival order; preloads run in the background and a second
// request for a preload already in flight is dropped.
type Worker struct {
	sync    *Synchronizer
	preload Preloader
	log     *log.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewWorker(s *Synchronizer, p Preloader, logger *log.Logger) *Worker {
	if s == nil || p == nil {
		panic("synchronizer and preloader are required")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	return &Worker{sync: s, preload: p, log: logger, inflight: make(map[string]struct{})}
}

// Run drains msgs until it is closed or ctx is done, then waits for
// background preloads to finish.
func (w *Worker) Run(ctx context.Context, msgs <-chan Message) {
	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			w.Handle(ctx, msg)
		}
	}
}

// Handle processes a single message.
func (w *Worker) Handle(ctx context.Context, msg Message) {
	switch msg.Type {
	case UpdateCache, CacheBoardData:
		w.sync.Apply(ctx, msg)
	case CacheBoard:
		if msg.BoardID == "" {
			w.log.Warn("CACHE_BOARD without boardId ignored")
			return
		}
		w.spawn(ctx, "board:"+msg.BoardID, func(ctx context.Context) error {
			return w.preload.CacheBoard(ctx, msg.BoardID)
		})
	case CacheAllBoards:
		w.spawn(ctx, "all", w.preload.CacheAllBoards)
	default:
		w.log.WithField("type", msg.Type).Warn("unknown cache message ignored")
	}
}

// Wait blocks until background preloads have finished.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) spawn(ctx context.Context, key string, fn func(context.Context) error) {
	w.mu.Lock()
	if _, busy := w.inflight[key]; busy {
		w.mu.Unlock()
		w.log.WithField("preload", key).Debug("preload already running")
		return
	}
	w.inflight[key] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inflight, key)
			w.mu.Unlock()
		}()
		if err := fn(ctx); err != nil {
			w.log.WithError(err).WithField("preload", key).Error("preload failed")
			return
		}
		w.log.WithField("preload", key).Info("preload finished")
	}()
}
