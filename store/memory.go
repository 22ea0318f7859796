package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/abtime"

	"github.com/abefas/tasktracker/models"
)

// Memory is a Store held in process memory. It is used for local
// development and as the reference implementation in tests.
type Memory struct {
	abtime.AbstractTime

	mu    sync.RWMutex
	tasks map[string]models.Task
	users map[string]models.User
}

// NewMemory returns an empty in-memory store. A nil clock means real time.
func NewMemory(clock abtime.AbstractTime) *Memory {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &Memory{
		AbstractTime: clock,
		tasks:        make(map[string]models.Task),
		users:        make(map[string]models.User),
	}
}

func (m *Memory) CreateTask(ctx context.Context, nt models.NewTask) (*models.Task, error) {
	now := Timestamp(m)
	task := models.Task{
		ID:             uuid.NewString(),
		Title:          nt.Title,
		Description:    nt.Description,
		OwnerSubjectID: nt.OwnerSubjectID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	return &task, nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &task, nil
}

func (m *Memory) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	m.mu.RLock()
	tasks := make([]models.Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if filter.Matches(&task) {
			tasks = append(tasks, task)
		}
	}
	m.mu.RUnlock()

	SortNewestFirst(tasks)
	return tasks, nil
}

func (m *Memory) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !patch.Empty() {
		patch.Apply(&task)
		task.UpdatedAt = Timestamp(m)
		m.tasks[id] = task
	}
	return &task, nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) FindOrCreateUser(ctx context.Context, subjectID, email string) (*models.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user, ok := m.users[subjectID]; ok {
		return &user, false, nil
	}
	user := models.User{
		SubjectID: subjectID,
		Email:     email,
		IsAdmin:   false,
		CreatedAt: Timestamp(m),
	}
	m.users[subjectID] = user
	return &user, true, nil
}

func (m *Memory) GetUser(ctx context.Context, subjectID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

func (m *Memory) SetAdmin(ctx context.Context, subjectID string, isAdmin bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	user.IsAdmin = isAdmin
	m.users[subjectID] = user
	return &user, nil
}

func (m *Memory) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	users := make([]models.User, 0, len(m.users))
	for _, user := range m.users {
		users = append(users, user)
	}
	m.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].SubjectID < users[j].SubjectID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (m *Memory) Close(ctx context.Context) error { return nil }

// SortNewestFirst orders tasks by descending creation time, breaking ties
// by id so listings are stable.
func SortNewestFirst(tasks []models.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID > tasks[j].ID
		}
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// Timestamp reads clock at the millisecond precision every backend can
// round-trip, so a task read back compares equal to the one returned by
// CreateTask.
func Timestamp(clock abtime.AbstractTime) time.Time {
	return clock.Now().UTC().Truncate(time.Millisecond)
}
