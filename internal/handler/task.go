package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/todo-backend/internal/model"
	"github.com/hiroki-koketsu/todo-backend/internal/repository"
	"github.com/hiroki-koketsu/todo-backend/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/todo-backend/internal/handler")

const maxBodyBytes = 1 << 20

// route describes one task endpoint and the messages it answers with.
type route struct {
	method   string
	pattern  string
	success  string
	notFound string
	failure  string
}

var (
	listRoute = route{
		method:  http.MethodGet,
		pattern: "/tasks",
		failure: "Error grabbing tasks!",
	}
	createRoute = route{
		method:  http.MethodPost,
		pattern: "/tasks/todo",
		success: "New task created successfully!",
		failure: "Error creating the task!",
	}
	completeRoute = route{
		method:   http.MethodPatch,
		pattern:  "/tasks/complete/{id}",
		success:  "Task set to 'complete'",
		notFound: "Task not found!",
		failure:  "Error completing the task!",
	}
	notCompleteRoute = route{
		method:   http.MethodPatch,
		pattern:  "/tasks/notComplete/{id}",
		success:  "Task set to 'not complete'",
		notFound: "Task not found!",
		failure:  "Error setting the task to 'not complete'!",
	}
	updateRoute = route{
		method:   http.MethodPut,
		pattern:  "/tasks/update/{id}",
		success:  "Task update successfully",
		notFound: "task not found!",
		failure:  "Error editing the task!",
	}
	deleteRoute = route{
		method:   http.MethodDelete,
		pattern:  "/tasks/delete/{id}",
		success:  "Task deleted successfully",
		notFound: "task not found!",
		failure:  "Error deleting the task!",
	}
)

// TaskResponse is the body returned by every single-task operation.
type TaskResponse struct {
	Task    *model.Task `json:"task"`
	Message string      `json:"message"`
}

// ErrorResponse is the body returned on any failure.
type ErrorResponse struct {
	Message string `json:"message"`
}

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	store   repository.TaskStore
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(store repository.TaskStore, logger *slog.Logger, metrics *telemetry.Metrics) *TaskHandler {
	return &TaskHandler{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// Routes returns the chi router with task routes, to be mounted at /tasks.
func (h *TaskHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/todo", h.Create)
	r.Patch("/complete/{id}", h.Complete)
	r.Patch("/notComplete/{id}", h.NotComplete)
	r.Put("/update/{id}", h.Update)
	r.Delete("/delete/{id}", h.Delete)

	return r
}

// List returns all tasks, optionally ordered by the sortBy query parameter.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sort := model.ParseSortField(r.URL.Query().Get("sortBy"))

	ctx, span := tracer.Start(r.Context(), "TaskHandler.List",
		trace.WithAttributes(attribute.String("task.sort", string(sort))),
	)
	defer span.End()

	tasks, err := h.store.FindAll(ctx, sort)
	if err != nil {
		h.fail(ctx, w, span, listRoute, start, err)
		return
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	h.logger.InfoContext(ctx, "tasks listed", slog.Int("count", len(tasks)), slog.String("sort", string(sort)))

	h.respondJSON(w, http.StatusOK, tasks)
	h.recordMetrics(ctx, listRoute, http.StatusOK, start)
}

// Create adds a new task.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx, span := tracer.Start(r.Context(), "TaskHandler.Create")
	defer span.End()

	var req model.CreateTaskRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(ctx, w, span, createRoute, start, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(ctx, w, span, createRoute, start, err)
		return
	}
	nt, err := req.NewTask()
	if err != nil {
		h.fail(ctx, w, span, createRoute, start, err)
		return
	}

	task, err := h.store.Insert(ctx, nt)
	if err != nil {
		h.fail(ctx, w, span, createRoute, start, err)
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	h.succeed(ctx, w, createRoute, start, task)
}

// Complete sets the completed flag of a task to the value in the body.
func (h *TaskHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.setCompleted(w, r, completeRoute, "TaskHandler.Complete")
}

// NotComplete sets the completed flag of a task to the value in the body.
// It differs from Complete only in the route and the messages.
func (h *TaskHandler) NotComplete(w http.ResponseWriter, r *http.Request) {
	h.setCompleted(w, r, notCompleteRoute, "TaskHandler.NotComplete")
}

func (h *TaskHandler) setCompleted(w http.ResponseWriter, r *http.Request, rt route, spanName string) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(r.Context(), spanName,
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var req model.SetCompletedRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(ctx, w, span, rt, start, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(ctx, w, span, rt, start, err)
		return
	}

	span.SetAttributes(attribute.Bool("task.completed", *req.Completed))

	task, err := h.store.FindByIDAndSet(ctx, id, req.TaskUpdate())
	if err != nil {
		h.fail(ctx, w, span, rt, start, err)
		return
	}

	h.succeed(ctx, w, rt, start, task)
}

// Update replaces the title, description and due date of a task.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(r.Context(), "TaskHandler.Update",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	var req model.UpdateTaskRequest
	if err := h.decode(w, r, &req); err != nil {
		h.fail(ctx, w, span, updateRoute, start, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(ctx, w, span, updateRoute, start, err)
		return
	}
	update, err := req.TaskUpdate()
	if err != nil {
		h.fail(ctx, w, span, updateRoute, start, err)
		return
	}

	task, err := h.store.FindByIDAndSet(ctx, id, update)
	if err != nil {
		h.fail(ctx, w, span, updateRoute, start, err)
		return
	}

	h.succeed(ctx, w, updateRoute, start, task)
}

// Delete removes a task and echoes its last state.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(r.Context(), "TaskHandler.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	task, err := h.store.FindByIDAndDelete(ctx, id)
	if err != nil {
		h.fail(ctx, w, span, deleteRoute, start, err)
		return
	}

	h.succeed(ctx, w, deleteRoute, start, task)
}

// Health returns a health check response.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into dst. Any decoding problem is a validation failure.
func (h *TaskHandler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.DebugContext(r.Context(), "invalid request body", slog.Any("error", err))
		return model.ErrInvalidBody
	}
	return nil
}

func (h *TaskHandler) succeed(ctx context.Context, w http.ResponseWriter, rt route, start time.Time, task *model.Task) {
	h.logger.InfoContext(ctx, rt.success, slog.String("id", task.ID))
	h.respondJSON(w, http.StatusOK, TaskResponse{Task: task, Message: rt.success})
	h.recordMetrics(ctx, rt, http.StatusOK, start)
}

// fail maps err to a status code. Anything but a missing task is a 500 with
// the route's generic message; error detail stays in the log.
func (h *TaskHandler) fail(ctx context.Context, w http.ResponseWriter, span trace.Span, rt route, start time.Time, err error) {
	var status int
	var message string

	switch {
	case errors.Is(err, model.ErrTaskNotFound):
		status, message = http.StatusNotFound, rt.notFound
		h.logger.WarnContext(ctx, "task not found", slog.String("route", rt.pattern))
		span.SetAttributes(attribute.Bool("task.found", false))
	case errors.Is(err, model.ErrValidation):
		status, message = http.StatusInternalServerError, rt.failure
		h.logger.WarnContext(ctx, "validation failed", slog.String("route", rt.pattern), slog.Any("error", err))
		span.SetAttributes(attribute.String("task.validation", err.Error()))
	default:
		status, message = http.StatusInternalServerError, rt.failure
		h.logger.ErrorContext(ctx, rt.failure, slog.String("route", rt.pattern), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, rt.failure)
	}

	h.respondJSON(w, status, ErrorResponse{Message: message})
	h.recordMetrics(ctx, rt, status, start)
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Error("failed to encode response", slog.Any("error", err))
		}
	}
}

func (h *TaskHandler) recordMetrics(ctx context.Context, rt route, status int, start time.Time) {
	duration := time.Since(start).Seconds()

	attrs := metric.WithAttributes(
		attribute.String("http.method", rt.method),
		attribute.String("http.route", rt.pattern),
		attribute.Int("http.status_code", status),
	)

	h.metrics.RequestCounter.Add(ctx, 1, attrs)
	h.metrics.RequestDuration.Record(ctx, duration, attrs)
}
