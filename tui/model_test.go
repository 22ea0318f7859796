package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abefas/tasktracker/client"
	"github.com/abefas/tasktracker/models"
)

// fakeAPI records calls and answers from canned data.
type fakeAPI struct {
	tasks     []models.Task
	identity  *models.Identity
	meErr     error
	createErr error
	deleteErr error
	created   []string
	updated   map[string]models.TaskPatch
	deleted   []string
}

func (f *fakeAPI) Me(ctx context.Context) (*models.Identity, error) {
	if f.meErr != nil {
		return nil, f.meErr
	}
	return f.identity, nil
}

func (f *fakeAPI) ListTasks(ctx context.Context) ([]models.Task, error) {
	return append([]models.Task(nil), f.tasks...), nil
}

func (f *fakeAPI) CreateTask(ctx context.Context, title, description string) (*models.Task, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, title)
	return &models.Task{ID: "new-" + title, Title: title}, nil
}

func (f *fakeAPI) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	if f.updated == nil {
		f.updated = make(map[string]models.TaskPatch)
	}
	f.updated[id] = patch
	for _, task := range f.tasks {
		if task.ID == id {
			patch.Apply(&task)
			return &task, nil
		}
	}
	return nil, &client.APIError{Status: 404, Message: "Task not found"}
}

func (f *fakeAPI) DeleteTask(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func testTasks() []models.Task {
	created := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
	return []models.Task{
		{ID: "t3", Title: "Write report", CreatedAt: created.Add(2 * time.Hour)},
		{ID: "t2", Title: "Buy milk", Completed: true, CreatedAt: created.Add(time.Hour)},
		{ID: "t1", Title: "Call plumber", CreatedAt: created},
	}
}

// send delivers message and then feeds the result of the returned
// command back into the model, the way the bubbletea runtime would.
func send(t *testing.T, model Model, message tea.Msg) Model {
	t.Helper()
	updated, cmd := model.Update(message)
	model = updated.(Model)
	if cmd != nil {
		if result := cmd(); result != nil {
			updated, _ = model.Update(result)
			model = updated.(Model)
		}
	}
	return model
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func loaded(t *testing.T, api *fakeAPI) Model {
	t.Helper()
	model := NewModel(api)
	updated, _ := model.Update(model.loadTasks()())
	return updated.(Model)
}

func TestLoadShowsSections(t *testing.T) {
	model := loaded(t, &fakeAPI{tasks: testTasks()})

	view := model.View()
	for _, want := range []string{"Pending Tasks (2)", "Completed Tasks (1)", "Write report", "Call plumber", "Buy milk"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if strings.Contains(view, "No pending tasks") {
		t.Error("empty-state message shown with pending tasks")
	}
}

func TestHeaderShowsIdentity(t *testing.T) {
	api := &fakeAPI{identity: &models.Identity{SubjectID: "u1", Email: "alice@example.com", Role: models.RoleAdmin}}
	model := loaded(t, api)
	model = send(t, model, model.loadIdentity()())

	title := strings.SplitN(model.View(), "\n", 2)[0]
	if !strings.Contains(title, "alice@example.com (admin)") {
		t.Errorf("title line = %q", title)
	}

	api.identity = &models.Identity{SubjectID: "u2", Role: models.RoleUser}
	model = send(t, model, model.loadIdentity()())
	if title := strings.SplitN(model.View(), "\n", 2)[0]; !strings.Contains(title, "u2 (user)") {
		t.Errorf("title line without email = %q", title)
	}
}

func TestIdentityFailureShowsNotice(t *testing.T) {
	model := loaded(t, &fakeAPI{meErr: errors.New("connection refused")})
	model = send(t, model, model.loadIdentity()())
	if model.notice != client.MsgMeFailed {
		t.Errorf("notice = %q", model.notice)
	}
	if title := strings.SplitN(model.View(), "\n", 2)[0]; strings.Contains(title, "(") {
		t.Errorf("title line = %q", title)
	}
}

func TestDescriptionRenderedUnderTitle(t *testing.T) {
	tasks := testTasks()
	tasks[0].Description = "Quarterly numbers for the board"
	model := loaded(t, &fakeAPI{tasks: tasks})

	lines := strings.Split(model.View(), "\n")
	for i, line := range lines {
		if strings.Contains(line, "Write report") {
			if i+1 >= len(lines) || !strings.Contains(lines[i+1], "Quarterly numbers for the board") {
				t.Errorf("description not under its title:\n%s", model.View())
			}
			return
		}
	}
	t.Errorf("task missing:\n%s", model.View())
}

func TestEmptyState(t *testing.T) {
	model := loaded(t, &fakeAPI{})
	view := model.View()
	if !strings.Contains(view, "No pending tasks. Great job!") || !strings.Contains(view, "Pending Tasks (0)") {
		t.Errorf("view:\n%s", view)
	}
}

func TestCreateFromInput(t *testing.T) {
	api := &fakeAPI{tasks: testTasks()}
	model := loaded(t, api)

	for _, r := range "Feed cat" {
		updated, _ := model.Update(runes(string(r)))
		model = updated.(Model)
	}
	model = send(t, model, tea.KeyMsg{Type: tea.KeyEnter})

	if len(api.created) != 1 || api.created[0] != "Feed cat" {
		t.Fatalf("created = %v", api.created)
	}
	if model.input.Value() != "" {
		t.Errorf("input not cleared: %q", model.input.Value())
	}
	if !strings.Contains(model.View(), "Pending Tasks (3)") {
		t.Errorf("new task not listed:\n%s", model.View())
	}

	// Blank input creates nothing.
	model = send(t, model, tea.KeyMsg{Type: tea.KeyEnter})
	if len(api.created) != 1 {
		t.Errorf("blank input created a task: %v", api.created)
	}
}

func TestCreateFailureShowsFallback(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("connection reset")}
	model := loaded(t, api)
	updated, _ := model.Update(runes("x"))
	model = send(t, updated.(Model), tea.KeyMsg{Type: tea.KeyEnter})

	if model.notice != client.MsgCreateFailed {
		t.Errorf("notice = %q", model.notice)
	}
	if model.input.Value() != "x" {
		t.Errorf("input lost on failure: %q", model.input.Value())
	}
}

func TestToggleAndDelete(t *testing.T) {
	api := &fakeAPI{tasks: testTasks()}
	model := loaded(t, api)
	model = send(t, model, tea.KeyMsg{Type: tea.KeyTab})
	if model.focus != FocusList {
		t.Fatalf("focus = %v after tab", model.focus)
	}

	// Cursor order is pending (t3, t1) then completed (t2).
	model = send(t, model, runes("j"))
	model = send(t, model, tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	patch, ok := api.updated["t1"]
	if !ok || patch.Completed == nil || !*patch.Completed || patch.Title != nil {
		t.Fatalf("toggle sent %+v", api.updated)
	}
	if !strings.Contains(model.View(), "Completed Tasks (2)") {
		t.Errorf("toggle not reflected:\n%s", model.View())
	}

	model = send(t, model, runes("d"))
	if len(api.deleted) != 1 {
		t.Fatalf("deleted = %v", api.deleted)
	}
	if len(model.tasks) != 2 {
		t.Errorf("tasks after delete = %d", len(model.tasks))
	}
}

func TestDeleteForbiddenShowsServerMessage(t *testing.T) {
	api := &fakeAPI{tasks: testTasks(), deleteErr: &client.APIError{Status: 403, Message: "Forbidden"}}
	model := loaded(t, api)
	model = send(t, model, tea.KeyMsg{Type: tea.KeyTab})
	model = send(t, model, runes("d"))

	if model.notice != "Forbidden" || len(model.tasks) != 3 {
		t.Errorf("notice %q, %d tasks", model.notice, len(model.tasks))
	}
	if !strings.Contains(model.View(), "Forbidden") {
		t.Error("notice not rendered")
	}
}

func TestCursorBounds(t *testing.T) {
	model := loaded(t, &fakeAPI{tasks: testTasks()})
	model = send(t, model, tea.KeyMsg{Type: tea.KeyTab})

	for i := 0; i < 5; i++ {
		model = send(t, model, runes("j"))
	}
	if model.cursor != 2 {
		t.Errorf("cursor = %d after moving past the end", model.cursor)
	}
	for i := 0; i < 5; i++ {
		model = send(t, model, runes("k"))
	}
	if model.cursor != 0 {
		t.Errorf("cursor = %d after moving past the start", model.cursor)
	}
}

func TestQuitOnlyFromList(t *testing.T) {
	model := loaded(t, &fakeAPI{})

	updated, _ := model.Update(runes("q"))
	model = updated.(Model)
	if model.input.Value() != "q" {
		t.Errorf("q in input = %q, want typed", model.input.Value())
	}

	model = send(t, model, tea.KeyMsg{Type: tea.KeyTab})
	_, cmd := model.Update(runes("q"))
	if cmd == nil {
		t.Fatal("q in list returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q in list did not quit")
	}
}
