package intercept

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"trelow-offline/cachesync"
)

// Preloader warms the cache with whole boards so they stay usable offline.
type Preloader struct {
	i     *Interceptor
	batch int
	log   *log.Logger
}

func NewPreloader(i *Interceptor, batch int, logger *log.Logger) *Preloader {
	if i == nil {
		panic("interceptor is not initialized")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	if batch <= 0 {
		batch = 3
	}
	return &Preloader{i: i, batch: batch, log: logger}
}

// CacheBoard caches the board, its column list and every column's task list.
// A failing task list is skipped; a failing board or column list aborts.
func (p *Preloader) CacheBoard(ctx context.Context, boardID string) error {
	if _, err := p.cachePath(ctx, cachesync.BoardPath(boardID)); err != nil {
		return err
	}
	body, err := p.cachePath(ctx, cachesync.ColumnsPath(boardID))
	if err != nil {
		return err
	}
	ids, err := listIDs(body)
	if err != nil {
		return fmt.Errorf("columns of %s: %w", boardID, err)
	}
	for _, columnID := range ids {
		if _, err := p.cachePath(ctx, cachesync.TasksPath(boardID, columnID)); err != nil {
			p.log.WithError(err).WithFields(log.Fields{"board": boardID, "column": columnID}).Warn("task list not cached")
		}
	}
	p.log.WithFields(log.Fields{"board": boardID, "columns": len(ids)}).Debug("board cached")
	return nil
}

// CacheAllBoards caches the board list, then every board in fixed-size
// batches. A board that fails to preload does not stop the others.
func (p *Preloader) CacheAllBoards(ctx context.Context) error {
	body, err := p.cachePath(ctx, cachesync.BoardsPath)
	if err != nil {
		return err
	}
	ids, err := listIDs(body)
	if err != nil {
		return fmt.Errorf("board list: %w", err)
	}
	failed := 0
	for start := 0; start < len(ids); start += p.batch {
		end := min(start+p.batch, len(ids))
		results := make([]error, end-start)
		g, gctx := errgroup.WithContext(ctx)
		for n, id := range ids[start:end] {
			g.Go(func() error {
				results[n] = p.CacheBoard(gctx, id)
				return nil
			})
		}
		_ = g.Wait()
		for n, err := range results {
			if err != nil {
				failed++
				p.log.WithError(err).WithField("board", ids[start+n]).Error("board preload failed")
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	p.log.WithFields(log.Fields{"boards": len(ids), "failed": failed}).Info("boards preloaded")
	return nil
}

func (p *Preloader) cachePath(ctx context.Context, path string) ([]byte, error) {
	e, err := p.i.fetchPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if !e.OK() {
		return nil, fmt.Errorf("%s: status %d", path, e.Status)
	}
	if err := p.i.cache.Put(ctx, path, e); err != nil {
		return nil, err
	}
	return e.Body, nil
}

func listIDs(body []byte) ([]string, error) {
	var items []struct {
		ID string `json:"id"`
	}
	if err := sonic.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID != "" {
			ids = append(ids, it.ID)
		}
	}
	return ids, nil
}
