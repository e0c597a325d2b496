package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/todo-backend/internal/model"
	"github.com/hiroki-koketsu/todo-backend/internal/repository"
	"github.com/hiroki-koketsu/todo-backend/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

func newTestServer(t *testing.T, store repository.TaskStore) http.Handler {
	t.Helper()

	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"), store.Count)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(NewTaskHandler(store, logger, metrics))
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTaskResponse(t *testing.T, rec *httptest.ResponseRecorder) TaskResponse {
	t.Helper()
	var resp TaskResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Task)
	return resp
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Message
}

func createTask(t *testing.T, h http.Handler, title, dueDate string) *model.Task {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/tasks/todo", map[string]any{
		"title": title, "description": "desc", "dueDate": dueDate,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeTaskResponse(t, rec).Task
}

func TestCreateTask(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())

	rec := do(t, h, http.MethodPost, "/tasks/todo", map[string]any{
		"title": "Buy milk", "description": "2%", "dueDate": "2025-01-10",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeTaskResponse(t, rec)
	assert.Equal(t, "New task created successfully!", resp.Message)
	assert.NotEmpty(t, resp.Task.ID)
	assert.False(t, resp.Task.Completed)
	assert.Equal(t, "Buy milk", resp.Task.Title)
	assert.True(t, resp.Task.DueDate.Equal(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)))
	assert.WithinDuration(t, time.Now(), resp.Task.CreatedOn, 5*time.Second)
}

func TestCreateTaskJSONShape(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())

	rec := do(t, h, http.MethodPost, "/tasks/todo", map[string]any{
		"title": "a", "description": "b", "dueDate": "2025-01-10T10:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	task := raw["task"]
	for _, key := range []string{"id", "title", "description", "dueDate", "createdOn", "completed"} {
		assert.Contains(t, task, key)
	}
	assert.Equal(t, "2025-01-10T10:00:00Z", task["dueDate"])
	assert.Equal(t, false, task["completed"])
}

func TestCreateTaskValidationFailsBeforeStorage(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"missing title", map[string]any{"description": "d", "dueDate": "2025-01-10"}},
		{"blank description", map[string]any{"title": "t", "description": " ", "dueDate": "2025-01-10"}},
		{"missing due date", map[string]any{"title": "t", "description": "d"}},
		{"unparsable due date", map[string]any{"title": "t", "description": "d", "dueDate": "tomorrow"}},
		{"numeric due date", map[string]any{"title": "t", "description": "d", "dueDate": 1736467200000}},
		{"malformed json", "{not json"},
		{"empty body", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := repository.NewMemoryStore()
			h := newTestServer(t, store)

			rec := do(t, h, http.MethodPost, "/tasks/todo", tt.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, "Error creating the task!", decodeMessage(t, rec))

			n, _ := store.Count(context.Background())
			assert.Zero(t, n)
		})
	}
}

func TestListTasksSorting(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())

	for _, due := range []string{"2025-03-01", "2025-01-01", "2025-02-01"} {
		createTask(t, h, "task "+due, due)
		time.Sleep(2 * time.Millisecond)
	}

	list := func(query string) []model.Task {
		rec := do(t, h, http.MethodGet, "/tasks"+query, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var tasks []model.Task
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&tasks))
		return tasks
	}

	byDue := list("?sortBy=dueDate")
	require.Len(t, byDue, 3)
	for i := 1; i < len(byDue); i++ {
		assert.False(t, byDue[i].DueDate.Before(byDue[i-1].DueDate))
	}

	byCreated := list("?sortBy=createdOn")
	require.Len(t, byCreated, 3)
	for i := 1; i < len(byCreated); i++ {
		assert.False(t, byCreated[i].CreatedOn.Before(byCreated[i-1].CreatedOn))
	}

	assert.Len(t, list(""), 3)
	assert.Len(t, list("?sortBy=title"), 3)
}

func TestListTasksEmpty(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())

	rec := do(t, h, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestCompleteThenNotComplete(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())
	created := createTask(t, h, "Buy milk", "2025-01-10")

	rec := do(t, h, http.MethodPatch, "/tasks/complete/"+created.ID, map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeTaskResponse(t, rec)
	assert.Equal(t, "Task set to 'complete'", resp.Message)
	assert.True(t, resp.Task.Completed)

	rec = do(t, h, http.MethodPatch, "/tasks/notComplete/"+created.ID, map[string]any{"completed": false})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeTaskResponse(t, rec)
	assert.Equal(t, "Task set to 'not complete'", resp.Message)
	assert.False(t, resp.Task.Completed)

	assert.Equal(t, created.ID, resp.Task.ID)
	assert.Equal(t, created.Title, resp.Task.Title)
	assert.Equal(t, created.Description, resp.Task.Description)
	assert.True(t, created.DueDate.Equal(resp.Task.DueDate))
	assert.True(t, created.CreatedOn.Equal(resp.Task.CreatedOn))
}

func TestCompleteRoutesApplyBodyVerbatim(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())
	created := createTask(t, h, "t", "2025-01-10")

	rec := do(t, h, http.MethodPatch, "/tasks/notComplete/"+created.ID, map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeTaskResponse(t, rec).Task.Completed)

	rec = do(t, h, http.MethodPatch, "/tasks/complete/"+created.ID, map[string]any{"completed": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeTaskResponse(t, rec).Task.Completed)
}

func TestCompleteValidation(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())
	created := createTask(t, h, "t", "2025-01-10")

	rec := do(t, h, http.MethodPatch, "/tasks/complete/"+created.ID, map[string]any{})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error completing the task!", decodeMessage(t, rec))

	rec = do(t, h, http.MethodPatch, "/tasks/notComplete/"+created.ID, map[string]any{"completed": "yes"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error setting the task to 'not complete'!", decodeMessage(t, rec))
}

func TestUnknownIDShapesAreNotFound(t *testing.T) {
	store := repository.NewMemoryStore()
	h := newTestServer(t, store)
	createTask(t, h, "t", "2025-01-10")
	validTask := map[string]any{"title": "t", "description": "d", "dueDate": "2025-01-10"}

	for _, id := range []string{"000000000000000000000000", "nonexistent-id"} {
		rec := do(t, h, http.MethodPut, "/tasks/update/"+id, validTask)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
		assert.Equal(t, "task not found!", decodeMessage(t, rec))

		rec = do(t, h, http.MethodPatch, "/tasks/complete/"+id, map[string]any{"completed": true})
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
		assert.Equal(t, "Task not found!", decodeMessage(t, rec))

		rec = do(t, h, http.MethodPatch, "/tasks/notComplete/"+id, map[string]any{"completed": false})
		assert.Equal(t, http.StatusNotFound, rec.Code, id)

		rec = do(t, h, http.MethodDelete, "/tasks/delete/"+id, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
		assert.Equal(t, "task not found!", decodeMessage(t, rec))
	}

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateTask(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())
	created := createTask(t, h, "old", "2025-01-10")

	rec := do(t, h, http.MethodPatch, "/tasks/complete/"+created.ID, map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/tasks/update/"+created.ID, map[string]any{
		"title": "new", "description": "new desc", "dueDate": "2025-02-20T08:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeTaskResponse(t, rec)
	assert.Equal(t, "Task update successfully", resp.Message)
	assert.Equal(t, "new", resp.Task.Title)
	assert.Equal(t, "new desc", resp.Task.Description)
	assert.True(t, resp.Task.DueDate.Equal(time.Date(2025, 2, 20, 8, 0, 0, 0, time.UTC)))

	assert.Equal(t, created.ID, resp.Task.ID)
	assert.True(t, created.CreatedOn.Equal(resp.Task.CreatedOn))
	assert.True(t, resp.Task.Completed)
}

func TestUpdateNonexistentTask(t *testing.T) {
	store := repository.NewMemoryStore()
	h := newTestServer(t, store)

	rec := do(t, h, http.MethodPut, "/tasks/update/"+uuid.New().String(), map[string]any{
		"title": "t", "description": "d", "dueDate": "2025-01-10",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "task not found!", decodeMessage(t, rec))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdateValidation(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())
	created := createTask(t, h, "t", "2025-01-10")

	rec := do(t, h, http.MethodPut, "/tasks/update/"+created.ID, map[string]any{
		"title": "t", "description": "d", "dueDate": "13/45/2025",
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error editing the task!", decodeMessage(t, rec))

	rec = do(t, h, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []model.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tasks))
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].DueDate.Equal(created.DueDate))
}

func TestTaskLifecycleScenario(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())

	rec := do(t, h, http.MethodPost, "/tasks/todo", map[string]any{
		"title": "Buy milk", "description": "2%", "dueDate": "2025-01-10",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	created := decodeTaskResponse(t, rec).Task
	require.NotEmpty(t, created.ID)
	require.False(t, created.Completed)

	rec = do(t, h, http.MethodPatch, "/tasks/complete/"+created.ID, map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeTaskResponse(t, rec).Task.Completed)

	rec = do(t, h, http.MethodDelete, "/tasks/delete/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeTaskResponse(t, rec)
	assert.Equal(t, "Task deleted successfully", resp.Message)
	assert.Equal(t, created.ID, resp.Task.ID)
	assert.True(t, resp.Task.Completed)

	rec = do(t, h, http.MethodDelete, "/tasks/delete/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "task not found!", decodeMessage(t, rec))
}

func TestDeletedTaskIsNotFoundEverywhere(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())
	created := createTask(t, h, "t", "2025-01-10")

	rec := do(t, h, http.MethodDelete, "/tasks/delete/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPut, "/tasks/update/"+created.ID, map[string]any{
		"title": "t", "description": "d", "dueDate": "2025-01-10",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPatch, "/tasks/complete/"+created.ID, map[string]any{"completed": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found!", decodeMessage(t, rec))

	rec = do(t, h, http.MethodPatch, "/tasks/notComplete/"+created.ID, map[string]any{"completed": false})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodDelete, "/tasks/delete/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// failingStore fails every operation with a storage error.
type failingStore struct{}

var errStoreDown = errors.New("connection refused: mongo-0.internal:27017")

func (failingStore) Insert(context.Context, model.NewTask) (*model.Task, error) {
	return nil, errStoreDown
}

func (failingStore) FindAll(context.Context, model.SortField) ([]*model.Task, error) {
	return nil, errStoreDown
}

func (failingStore) FindByIDAndSet(context.Context, string, model.TaskUpdate) (*model.Task, error) {
	return nil, errStoreDown
}

func (failingStore) FindByIDAndDelete(context.Context, string) (*model.Task, error) {
	return nil, errStoreDown
}

func (failingStore) Count(context.Context) (int64, error) {
	return 0, errStoreDown
}

func TestStorageFailuresAreGeneric(t *testing.T) {
	h := newTestServer(t, failingStore{})
	id := uuid.New().String()
	validTask := map[string]any{"title": "t", "description": "d", "dueDate": "2025-01-10"}

	tests := []struct {
		method, path string
		body         any
		want         string
	}{
		{http.MethodGet, "/tasks", nil, "Error grabbing tasks!"},
		{http.MethodPost, "/tasks/todo", validTask, "Error creating the task!"},
		{http.MethodPatch, "/tasks/complete/" + id, map[string]any{"completed": true}, "Error completing the task!"},
		{http.MethodPatch, "/tasks/notComplete/" + id, map[string]any{"completed": false}, "Error setting the task to 'not complete'!"},
		{http.MethodPut, "/tasks/update/" + id, validTask, "Error editing the task!"},
		{http.MethodDelete, "/tasks/delete/" + id, nil, "Error deleting the task!"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			body := rec.Body.String()
			assert.NotContains(t, body, "mongo-0.internal")
			assert.JSONEq(t, `{"message":"`+tt.want+`"}`, body)
		})
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORSAllowsAnyOrigin(t *testing.T) {
	h := newTestServer(t, repository.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/tasks/delete/"+uuid.New().String(), nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Less(t, rec.Code, 300)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
