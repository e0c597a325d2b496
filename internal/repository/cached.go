package repository

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/hiroki-koketsu/todo-backend/internal/cache"
	"github.com/hiroki-koketsu/todo-backend/internal/model"
	"golang.org/x/sync/singleflight"
)

var listSorts = []model.SortField{model.SortNone, model.SortByDueDate, model.SortByCreatedOn}

// CachedStore wraps a TaskStore with a read-through cache of task listings.
// Any successful write drops every cached listing. Cache failures are logged
// and the wrapped store answers instead.
//
// Each write bumps a generation counter before dropping the listings. A load
// only writes its result back if no write happened while it ran, so a listing
// read before a write never lands in the cache after it.
type CachedStore struct {
	next   TaskStore
	cache  *cache.Cache
	logger *slog.Logger
	group  singleflight.Group
	gen    atomic.Uint64
}

// NewCachedStore creates a CachedStore in front of next.
func NewCachedStore(next TaskStore, c *cache.Cache, logger *slog.Logger) *CachedStore {
	return &CachedStore{next: next, cache: c, logger: logger}
}

func listKey(sort model.SortField) string {
	if sort == model.SortNone {
		return "tasks:list:natural"
	}
	return "tasks:list:" + string(sort)
}

// FindAll serves the listing from cache, loading it from the wrapped store on a miss.
// Concurrent misses share one load. The load is detached from the caller's
// cancellation so that one caller giving up does not fail the others; each
// caller still returns as soon as its own ctx is done.
func (s *CachedStore) FindAll(ctx context.Context, sort model.SortField) ([]*model.Task, error) {
	key := listKey(sort)

	var tasks []*model.Task
	found, err := s.cache.Get(ctx, key, &tasks)
	if err != nil {
		s.logger.WarnContext(ctx, "task list cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	if found {
		return tasks, nil
	}

	gen := s.gen.Load()
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		return s.load(loadCtx, key, sort, gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*model.Task), nil
	}
}

func (s *CachedStore) load(ctx context.Context, key string, sort model.SortField, gen uint64) ([]*model.Task, error) {
	tasks, err := s.next.FindAll(ctx, sort)
	if err != nil {
		return nil, err
	}

	if s.gen.Load() != gen {
		return tasks, nil
	}
	if err := s.cache.Set(ctx, key, tasks); err != nil {
		s.logger.WarnContext(ctx, "task list cache write failed", slog.String("key", key), slog.Any("error", err))
		return tasks, nil
	}
	// A write landed between the check and the Set.
	if s.gen.Load() != gen {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.WarnContext(ctx, "task list cache invalidation failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return tasks, nil
}

// Insert inserts through to the wrapped store.
func (s *CachedStore) Insert(ctx context.Context, nt model.NewTask) (*model.Task, error) {
	task, err := s.next.Insert(ctx, nt)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return task, nil
}

// FindByIDAndSet updates through to the wrapped store.
func (s *CachedStore) FindByIDAndSet(ctx context.Context, id string, update model.TaskUpdate) (*model.Task, error) {
	task, err := s.next.FindByIDAndSet(ctx, id, update)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return task, nil
}

// FindByIDAndDelete deletes through to the wrapped store.
func (s *CachedStore) FindByIDAndDelete(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.next.FindByIDAndDelete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return task, nil
}

// Count is never cached.
func (s *CachedStore) Count(ctx context.Context) (int64, error) {
	return s.next.Count(ctx)
}

func (s *CachedStore) invalidate(ctx context.Context) {
	s.gen.Add(1)
	keys := make([]string, len(listSorts))
	for i, sort := range listSorts {
		keys[i] = listKey(sort)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.WarnContext(ctx, "task list cache invalidation failed", slog.Any("error", err))
	}
}
