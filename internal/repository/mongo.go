package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/todo-backend/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TasksCollection is the collection holding task documents.
const TasksCollection = "tasks"

// Connect opens a client to uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo connection string is empty")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return client, nil
}

// MongoStore persists tasks in a MongoDB collection.
type MongoStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoStore creates a MongoStore over the tasks collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		coll: db.Collection(TasksCollection),
		now:  time.Now,
	}
}

// IndexModels are the secondary indexes backing the list sort options.
func IndexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "dueDate", Value: 1}}},
		{Keys: bson.D{{Key: "createdOn", Value: 1}}},
	}
}

// EnsureIndexes creates the ascending dueDate and createdOn indexes.
// It is meant to run once at startup, before serving requests.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "TaskStore.EnsureIndexes")
	defer span.End()

	names, err := s.coll.Indexes().CreateMany(ctx, IndexModels())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create indexes")
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	span.SetAttributes(attribute.StringSlice("index.names", names))
	return nil
}

// Insert adds a new task document.
func (s *MongoStore) Insert(ctx context.Context, nt model.NewTask) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskStore.Insert",
		trace.WithAttributes(attribute.String("task.title", nt.Title)),
	)
	defer span.End()

	task := &model.Task{
		ID:          uuid.New().String(),
		Title:       nt.Title,
		Description: nt.Description,
		DueDate:     nt.DueDate,
		CreatedOn:   s.now().UTC().Truncate(time.Millisecond),
		Completed:   false,
	}

	if _, err := s.coll.InsertOne(ctx, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert")
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	return task, nil
}

// FindAll returns every task ordered by sort. SortNone leaves the store's
// natural order.
func (s *MongoStore) FindAll(ctx context.Context, sort model.SortField) ([]*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskStore.FindAll",
		trace.WithAttributes(attribute.String("task.sort", string(sort))),
	)
	defer span.End()

	opts := options.Find()
	if sort != model.SortNone {
		opts.SetSort(bson.D{{Key: string(sort), Value: 1}})
	}

	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find")
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}

	tasks := make([]*model.Task, 0)
	if err := cursor.All(ctx, &tasks); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// FindByIDAndSet sets the non-nil fields of update and returns the task as
// it is after the write.
func (s *MongoStore) FindByIDAndSet(ctx context.Context, id string, update model.TaskUpdate) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskStore.FindByIDAndSet",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if !model.IsTaskID(id) {
		span.SetAttributes(attribute.Bool("task.found", false))
		return nil, model.ErrTaskNotFound
	}

	filter := bson.D{{Key: "_id", Value: id}}

	var res *mongo.SingleResult
	if update.IsEmpty() {
		res = s.coll.FindOne(ctx, filter)
	} else {
		res = s.coll.FindOneAndUpdate(ctx, filter,
			bson.D{{Key: "$set", Value: setDocument(update)}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		)
	}

	task, err := decodeTask(res)
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			span.SetAttributes(attribute.Bool("task.found", false))
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "update")
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	span.SetAttributes(attribute.Bool("task.found", true))
	return task, nil
}

// FindByIDAndDelete removes a task document and returns its prior state.
func (s *MongoStore) FindByIDAndDelete(ctx context.Context, id string) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskStore.FindByIDAndDelete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if !model.IsTaskID(id) {
		span.SetAttributes(attribute.Bool("task.found", false))
		return nil, model.ErrTaskNotFound
	}

	task, err := decodeTask(s.coll.FindOneAndDelete(ctx, bson.D{{Key: "_id", Value: id}}))
	if err != nil {
		if errors.Is(err, model.ErrTaskNotFound) {
			span.SetAttributes(attribute.Bool("task.found", false))
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete")
		return nil, fmt.Errorf("failed to delete task: %w", err)
	}

	span.SetAttributes(attribute.Bool("task.found", true))
	return task, nil
}

// Count returns the number of task documents.
func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

func setDocument(u model.TaskUpdate) bson.D {
	set := bson.D{}
	if u.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *u.Title})
	}
	if u.Description != nil {
		set = append(set, bson.E{Key: "description", Value: *u.Description})
	}
	if u.DueDate != nil {
		set = append(set, bson.E{Key: "dueDate", Value: *u.DueDate})
	}
	if u.Completed != nil {
		set = append(set, bson.E{Key: "completed", Value: *u.Completed})
	}
	return set
}

func decodeTask(res *mongo.SingleResult) (*model.Task, error) {
	var task model.Task
	if err := res.Decode(&task); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, model.ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}
