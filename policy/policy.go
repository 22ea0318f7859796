// Package policy decides whether an identity may perform an operation on
// a task. Every function here is pure: no I/O, no logging, no clock.
//
// Existence is not a policy concern. Callers that need the owner look the
// task up first and report a missing task as not found before asking the
// policy. Delete ignores the owner, so it is checked before any lookup.
package policy

import (
	"errors"

	"github.com/abefas/tasktracker/models"
)

// ErrForbidden is returned by Authorize when the policy denies access.
var ErrForbidden = errors.New("forbidden")

// Operation names an action on the task collection.
type Operation string

const (
	OpCreate Operation = "create"
	OpList   Operation = "list"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Decision is the outcome of a policy check.
type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

// Decide maps (identity, operation, owner) to a decision. owner is the
// subject id recorded on the task and is ignored for create and list.
func Decide(id models.Identity, op Operation, owner string) Decision {
	if !id.Authenticated() {
		return Deny
	}
	switch op {
	case OpCreate, OpList:
		return Allow
	case OpRead, OpUpdate:
		if id.IsAdmin() || owner == id.SubjectID {
			return Allow
		}
		return Deny
	case OpDelete:
		// Ownership does not matter here.
		if id.IsAdmin() {
			return Allow
		}
		return Deny
	}
	return Deny
}

// Authorize is Decide expressed as an error.
func Authorize(id models.Identity, op Operation, owner string) error {
	if Decide(id, op, owner) == Deny {
		return ErrForbidden
	}
	return nil
}

// ListFilter returns the store filter that scopes a listing for id:
// admins see every task, everyone else only their own.
func ListFilter(id models.Identity) models.TaskFilter {
	if id.IsAdmin() {
		return models.TaskFilter{}
	}
	return models.TaskFilter{OwnerSubjectID: id.SubjectID}
}

// NewTaskFor builds the store input for a create, stamping the caller as
// owner.
func NewTaskFor(id models.Identity, title, description string) models.NewTask {
	return models.NewTask{
		Title:          title,
		Description:    description,
		OwnerSubjectID: id.SubjectID,
	}
}
