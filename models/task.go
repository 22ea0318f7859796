package models

import "time"

// Task represents a task record. OwnerSubjectID is set once at creation.
type Task struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Completed      bool      `json:"completed"`
	OwnerSubjectID string    `json:"ownerSubjectId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewTask carries the fields a store needs to create a task. The owner
// always comes from the caller's Identity, never from the request body.
type NewTask struct {
	Title          string
	Description    string
	OwnerSubjectID string
}

// TaskPatch is a partial update. A nil field keeps its stored value;
// Completed pointing at false is applied like any other value.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil
}

// Apply copies the provided fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}

// TaskFilter narrows a listing. An empty OwnerSubjectID lists every task.
type TaskFilter struct {
	OwnerSubjectID string
}

// Matches reports whether t passes the filter.
func (f TaskFilter) Matches(t *Task) bool {
	return f.OwnerSubjectID == "" || t.OwnerSubjectID == f.OwnerSubjectID
}
