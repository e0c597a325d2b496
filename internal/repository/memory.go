package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/todo-backend/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MemoryStore provides an in-memory storage for tasks.
// Listing without a sort field returns tasks in insertion order.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
	order []string
	now   func() time.Time
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*model.Task),
		now:   time.Now,
	}
}

// Insert adds a new task to the store.
func (s *MemoryStore) Insert(ctx context.Context, nt model.NewTask) (*model.Task, error) {
	_, span := tracer.Start(ctx, "TaskStore.Insert",
		trace.WithAttributes(attribute.String("task.title", nt.Title)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	task := &model.Task{
		ID:          uuid.New().String(),
		Title:       nt.Title,
		Description: nt.Description,
		DueDate:     nt.DueDate,
		CreatedOn:   s.now().UTC().Truncate(time.Millisecond),
		Completed:   false,
	}

	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)

	span.SetAttributes(attribute.String("task.id", task.ID))
	return clone(task), nil
}

// FindAll returns every task ordered by sort.
func (s *MemoryStore) FindAll(ctx context.Context, sort model.SortField) ([]*model.Task, error) {
	_, span := tracer.Start(ctx, "TaskStore.FindAll",
		trace.WithAttributes(attribute.String("task.sort", string(sort))),
	)
	defer span.End()

	s.mu.RLock()
	tasks := make([]*model.Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, clone(s.tasks[id]))
	}
	s.mu.RUnlock()

	switch sort {
	case model.SortByDueDate:
		slices.SortStableFunc(tasks, func(a, b *model.Task) int {
			return a.DueDate.Compare(b.DueDate)
		})
	case model.SortByCreatedOn:
		slices.SortStableFunc(tasks, func(a, b *model.Task) int {
			return cmp.Compare(a.CreatedOn.UnixNano(), b.CreatedOn.UnixNano())
		})
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// FindByIDAndSet applies update to the task and returns the updated task.
func (s *MemoryStore) FindByIDAndSet(ctx context.Context, id string, update model.TaskUpdate) (*model.Task, error) {
	_, span := tracer.Start(ctx, "TaskStore.FindByIDAndSet",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		span.SetAttributes(attribute.Bool("task.found", false))
		return nil, model.ErrTaskNotFound
	}

	update.Apply(task)

	span.SetAttributes(attribute.Bool("task.found", true))
	return clone(task), nil
}

// FindByIDAndDelete removes a task and returns its last state.
func (s *MemoryStore) FindByIDAndDelete(ctx context.Context, id string) (*model.Task, error) {
	_, span := tracer.Start(ctx, "TaskStore.FindByIDAndDelete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		span.SetAttributes(attribute.Bool("task.found", false))
		return nil, model.ErrTaskNotFound
	}

	delete(s.tasks, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })

	span.SetAttributes(attribute.Bool("task.found", true))
	return task, nil
}

// Count returns the current number of tasks.
func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.tasks)), nil
}

func clone(t *model.Task) *model.Task {
	c := *t
	return &c
}
