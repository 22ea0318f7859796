package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/abefas/tasktracker/auth"
	"github.com/abefas/tasktracker/middleware"
	"github.com/abefas/tasktracker/models"
	"github.com/abefas/tasktracker/policy"
	"github.com/abefas/tasktracker/store"
)

// Handlers struct holds the task store, allowing methods to share it.
type Handlers struct {
	Store  store.TaskStore
	Logger *slog.Logger
}

// NewHandlers is a constructor for the Handlers struct.
func NewHandlers(tasks store.TaskStore, logger *slog.Logger) *Handlers {
	return &Handlers{Store: tasks, Logger: logger}
}

// createTaskRequest is the body of POST /tasks. Any other field the
// client sends, such as an owner or id, is ignored.
type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// respondWithJSON is a helper function to format and send JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithMessage(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"message": message})
}

// respondWithError maps err onto a status code. Storage failures are
// logged and reported with a generic message.
func (h *Handlers) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondWithMessage(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, policy.ErrForbidden):
		respondWithMessage(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, auth.ErrUnauthenticated):
		respondWithMessage(w, http.StatusUnauthorized, "Invalid token")
	default:
		h.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		respondWithMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

// identity returns the caller, writing a 401 if the middleware did not
// run.
func (h *Handlers) identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		respondWithMessage(w, http.StatusUnauthorized, "No token provided")
	}
	return identity, ok
}

// GetTasks lists the tasks visible to the caller: all of them for an
// admin, otherwise only the caller's own.
func (h *Handlers) GetTasks(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := policy.Authorize(identity, policy.OpList, ""); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	tasks, err := h.Store.ListTasks(r.Context(), policy.ListFilter(identity))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	respondWithJSON(w, http.StatusOK, tasks)
}

// GetTask retrieves a single task by its ID.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	task, err := h.Store.GetTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := policy.Authorize(identity, policy.OpRead, task.OwnerSubjectID); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}

// CreateTask creates a new task owned by the caller.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithMessage(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()
	if req.Title == "" {
		respondWithMessage(w, http.StatusBadRequest, "Title is required")
		return
	}
	if err := policy.Authorize(identity, policy.OpCreate, ""); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	task, err := h.Store.CreateTask(r.Context(), policy.NewTaskFor(identity, req.Title, req.Description))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.Logger.Debug("task created", "id", task.ID, "owner", task.OwnerSubjectID)
	respondWithJSON(w, http.StatusCreated, task)
}

// UpdateTask applies a partial update. Only the fields present in the
// body change.
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var patch models.TaskPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondWithMessage(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	id := mux.Vars(r)["id"]
	existing, err := h.Store.GetTask(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if err := policy.Authorize(identity, policy.OpUpdate, existing.OwnerSubjectID); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	task, err := h.Store.UpdateTask(r.Context(), id, patch)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}

// DeleteTask deletes a task by its ID. Only admins may delete.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	// Delete ignores ownership, so the role is checked before the lookup
	// and a non-admin gets 403 whether or not the id exists.
	if err := policy.Authorize(identity, policy.OpDelete, ""); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.Store.DeleteTask(r.Context(), id); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.Logger.Info("task deleted", "id", id, "by", identity.SubjectID)
	respondWithMessage(w, http.StatusOK, "Deleted")
}

// Me returns the caller's resolved identity.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, identity)
}

// Health reports that the process is serving.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
