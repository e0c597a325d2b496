package model

import (
	"time"
)

// Task represents a todo item in the system.
type Task struct {
	ID          string    `json:"id" bson:"_id"`
	Title       string    `json:"title" bson:"title"`
	Description string    `json:"description" bson:"description"`
	DueDate     time.Time `json:"dueDate" bson:"dueDate"`
	CreatedOn   time.Time `json:"createdOn" bson:"createdOn"`
	Completed   bool      `json:"completed" bson:"completed"`
}

// NewTask holds the client-supplied fields of a task about to be inserted.
// The store assigns ID, CreatedOn and Completed.
type NewTask struct {
	Title       string
	Description string
	DueDate     time.Time
}

// TaskUpdate is a partial update. Nil fields are left untouched.
type TaskUpdate struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Completed   *bool
}

// IsEmpty reports whether the update would change nothing.
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.DueDate == nil && u.Completed == nil
}

// Apply writes the non-nil fields of u onto t.
func (u TaskUpdate) Apply(t *Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.DueDate != nil {
		t.DueDate = *u.DueDate
	}
	if u.Completed != nil {
		t.Completed = *u.Completed
	}
}

// SortField selects the ordering of a task listing.
type SortField string

const (
	SortNone        SortField = ""
	SortByDueDate   SortField = "dueDate"
	SortByCreatedOn SortField = "createdOn"
)

// ParseSortField resolves the sortBy query value. Unknown values mean no ordering.
func ParseSortField(s string) SortField {
	switch SortField(s) {
	case SortByDueDate:
		return SortByDueDate
	case SortByCreatedOn:
		return SortByCreatedOn
	default:
		return SortNone
	}
}

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	Title       string `json:"title" validate:"required,nonblank"`
	Description string `json:"description" validate:"required,nonblank"`
	DueDate     string `json:"dueDate" validate:"required,duedate"`
}

// UpdateTaskRequest represents the request body for editing a task.
type UpdateTaskRequest struct {
	Title       string `json:"title" validate:"required,nonblank"`
	Description string `json:"description" validate:"required,nonblank"`
	DueDate     string `json:"dueDate" validate:"required,duedate"`
}

// SetCompletedRequest represents the body of the complete/notComplete routes.
type SetCompletedRequest struct {
	Completed *bool `json:"completed" validate:"required"`
}

// Validate checks if the CreateTaskRequest is valid.
func (r *CreateTaskRequest) Validate() error {
	return validateStruct(r)
}

// NewTask converts a validated request into insertable fields.
func (r *CreateTaskRequest) NewTask() (NewTask, error) {
	due, err := ParseDueDate(r.DueDate)
	if err != nil {
		return NewTask{}, err
	}
	return NewTask{Title: r.Title, Description: r.Description, DueDate: due}, nil
}

// Validate checks if the UpdateTaskRequest is valid.
func (r *UpdateTaskRequest) Validate() error {
	return validateStruct(r)
}

// TaskUpdate converts a validated request into a partial update of the
// editable fields. Completed is never touched by an edit.
func (r *UpdateTaskRequest) TaskUpdate() (TaskUpdate, error) {
	due, err := ParseDueDate(r.DueDate)
	if err != nil {
		return TaskUpdate{}, err
	}
	title, description := r.Title, r.Description
	return TaskUpdate{Title: &title, Description: &description, DueDate: &due}, nil
}

// Validate checks if the SetCompletedRequest is valid.
func (r *SetCompletedRequest) Validate() error {
	return validateStruct(r)
}

// TaskUpdate returns an update touching only the completed flag.
func (r *SetCompletedRequest) TaskUpdate() TaskUpdate {
	completed := *r.Completed
	return TaskUpdate{Completed: &completed}
}

// TaskError represents a domain error for tasks.
type TaskError struct {
	Message    string
	validation bool
}

func (e TaskError) Error() string {
	return e.Message
}

// Is lets every validation error match ErrValidation.
func (e TaskError) Is(target error) bool {
	t, ok := target.(TaskError)
	return ok && t == ErrValidation && e.validation
}

var (
	ErrTaskNotFound = TaskError{Message: "task not found"}

	ErrValidation          = TaskError{Message: "invalid task data", validation: true}
	ErrTitleRequired       = TaskError{Message: "title is required", validation: true}
	ErrDescriptionRequired = TaskError{Message: "description is required", validation: true}
	ErrDueDateRequired     = TaskError{Message: "dueDate is required", validation: true}
	ErrDueDateInvalid      = TaskError{Message: "dueDate must be an ISO 8601 date or date-time", validation: true}
	ErrCompletedRequired   = TaskError{Message: "completed must be a boolean", validation: true}
	ErrInvalidBody         = TaskError{Message: "invalid request body", validation: true}
)
