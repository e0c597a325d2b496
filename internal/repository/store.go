package repository

import (
	"context"

	"github.com/hiroki-koketsu/todo-backend/internal/model"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/todo-backend/internal/repository")

// TaskStore is the persistence contract for tasks.
//
// FindByIDAndSet and FindByIDAndDelete return model.ErrTaskNotFound when no
// task has the given id. Any other error is a storage failure.
type TaskStore interface {
	Insert(ctx context.Context, task model.NewTask) (*model.Task, error)
	FindAll(ctx context.Context, sort model.SortField) ([]*model.Task, error)
	FindByIDAndSet(ctx context.Context, id string, update model.TaskUpdate) (*model.Task, error)
	FindByIDAndDelete(ctx context.Context, id string) (*model.Task, error)
	Count(ctx context.Context) (int64, error)
}

var (
	_ TaskStore = (*MemoryStore)(nil)
	_ TaskStore = (*MongoStore)(nil)
	_ TaskStore = (*CachedStore)(nil)
)
