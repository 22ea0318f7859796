// Package sqlstore implements store.Store on database/sql for PostgreSQL
// (lib/pq) and MySQL (go-sql-driver/mysql).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/thejerf/abtime"

	"github.com/abefas/tasktracker/models"
	"github.com/abefas/tasktracker/store"
)

const taskColumns = "id, title, description, completed, owner_subject_id, created_at, updated_at"

const userColumns = "subject_id, email, is_admin, created_at"

// Store holds the database connection and the dialect used to talk to it.
type Store struct {
	DB      *sql.DB
	dialect Dialect
	clock   abtime.AbstractTime
}

// New wraps an open database. A nil clock means real time.
func New(db *sql.DB, dialect Dialect, clock abtime.AbstractTime) *Store {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &Store{DB: db, dialect: dialect, clock: clock}
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, nt models.NewTask) (*models.Task, error) {
	now := store.Timestamp(s.clock)
	t := models.Task{
		ID:             uuid.NewString(),
		Title:          nt.Title,
		Description:    nt.Description,
		OwnerSubjectID: nt.OwnerSubjectID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	_, err := s.DB.ExecContext(ctx, s.dialect.Rebind(
		"INSERT INTO tasks ("+taskColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)"),
		t.ID, t.Title, t.Description, t.Completed, t.OwnerSubjectID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.DB.QueryRowContext(ctx, s.dialect.Rebind(
		"SELECT "+taskColumns+" FROM tasks WHERE id = ?"), id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to retrieve task: %w", err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	var args []any
	if filter.OwnerSubjectID != "" {
		query += " WHERE owner_subject_id = ?"
		args = append(args, filter.OwnerSubjectID)
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.DB.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return tasks, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	if patch.Empty() {
		return s.GetTask(ctx, id)
	}

	var sets []string
	var args []any
	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *patch.Title)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, *patch.Completed)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, store.Timestamp(s.clock), id)

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := s.DB.ExecContext(ctx, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	// MySQL reports zero affected rows when the values did not change,
	// so existence is decided by reading the row back.
	return s.GetTask(ctx, id)
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, s.dialect.Rebind("DELETE FROM tasks WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindOrCreateUser(ctx context.Context, subjectID, email string) (*models.User, bool, error) {
	res, err := s.DB.ExecContext(ctx, s.dialect.Rebind(s.dialect.insertUserIfAbsent),
		subjectID, email, store.Timestamp(s.clock))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert user: %w", err)
	}

	user, err := s.GetUser(ctx, subjectID)
	if err != nil {
		return nil, false, err
	}
	return user, rowsAffected == 1, nil
}

func (s *Store) GetUser(ctx context.Context, subjectID string) (*models.User, error) {
	row := s.DB.QueryRowContext(ctx, s.dialect.Rebind(
		"SELECT "+userColumns+" FROM users WHERE subject_id = ?"), subjectID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}
	return u, nil
}

func (s *Store) SetAdmin(ctx context.Context, subjectID string, isAdmin bool) (*models.User, error) {
	if _, err := s.DB.ExecContext(ctx, s.dialect.Rebind(
		"UPDATE users SET is_admin = ? WHERE subject_id = ?"), isAdmin, subjectID); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return s.GetUser(ctx, subjectID)
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC, subject_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return users, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Completed, &t.OwnerSubjectID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.SubjectID, &u.Email, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

var _ store.Store = (*Store)(nil)

