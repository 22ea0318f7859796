// Package store defines persistence for tasks and the user directory.
//
// Three implementations exist: an in-memory store in this package, a
// database/sql store for PostgreSQL and MySQL in store/sqlstore, and a
// MongoDB store in store/mongostore. All of them satisfy the conformance
// suite in store/storetest.
package store

import (
	"context"
	"errors"

	"github.com/abefas/tasktracker/models"
)

// ErrNotFound is returned when a task or user does not exist. Stores also
// return it for ids that are malformed for the backend, since such an id
// can never name a record.
var ErrNotFound = errors.New("not found")

// TaskStore is CRUD over task records.
type TaskStore interface {
	// CreateTask assigns an id and timestamps and stores the task.
	CreateTask(ctx context.Context, task models.NewTask) (*models.Task, error)

	// GetTask returns a single task or ErrNotFound.
	GetTask(ctx context.Context, id string) (*models.Task, error)

	// ListTasks returns tasks matching filter, newest first.
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)

	// UpdateTask applies the non-nil fields of patch and returns the
	// updated task, or ErrNotFound.
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)

	// DeleteTask removes the task permanently, or returns ErrNotFound.
	DeleteTask(ctx context.Context, id string) error
}

// UserDirectory maps subject ids onto application users.
type UserDirectory interface {
	// FindOrCreateUser returns the user for subjectID, creating a
	// non-admin record if none exists. created reports whether this
	// call performed the insert. Concurrent calls for the same subject
	// create at most one record.
	FindOrCreateUser(ctx context.Context, subjectID, email string) (user *models.User, created bool, err error)

	// GetUser returns the user or ErrNotFound.
	GetUser(ctx context.Context, subjectID string) (*models.User, error)

	// SetAdmin changes the admin flag of an existing user, or returns
	// ErrNotFound if the subject has never signed in.
	SetAdmin(ctx context.Context, subjectID string, isAdmin bool) (*models.User, error)

	// ListUsers returns every user ordered by creation time.
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Store is a complete backend.
type Store interface {
	TaskStore
	UserDirectory

	// Close releases the backend connection.
	Close(ctx context.Context) error
}
