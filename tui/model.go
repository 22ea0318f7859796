// Package tui is a terminal front end for the task tracker. It shows an
// input for new tasks above two lists, pending and completed, and keeps
// them in step with the server through the client package.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abefas/tasktracker/client"
	"github.com/abefas/tasktracker/models"
)

// requestTimeout bounds every API call made from a command.
const requestTimeout = 15 * time.Second

// API is the subset of *client.Client the model uses.
type API interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	CreateTask(ctx context.Context, title, description string) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	Me(ctx context.Context) (*models.Identity, error)
}

// FocusRegion identifies which part of the screen receives keys.
type FocusRegion int

const (
	// FocusInput sends keystrokes to the new-task input.
	FocusInput FocusRegion = iota
	// FocusList sends keystrokes to the task list.
	FocusList
)

type identityLoadedMsg struct {
	identity *models.Identity
	err      error
}

type tasksLoadedMsg struct {
	tasks []models.Task
	err   error
}

type taskCreatedMsg struct {
	task *models.Task
	err  error
}

type taskUpdatedMsg struct {
	task *models.Task
	err  error
}

type taskDeletedMsg struct {
	id  string
	err error
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	identityStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	headerStyle    = lipgloss.NewStyle().Bold(true).MarginTop(1)
	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Strikethrough(true)
	emptyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Italic(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model is the bubbletea model of the task list.
type Model struct {
	api      API
	keys     KeyMap
	identity *models.Identity

	input  textinput.Model
	focus  FocusRegion
	tasks  []models.Task
	cursor int
	notice string

	loading bool
}

// NewModel returns a model that talks to api.
func NewModel(api API) Model {
	input := textinput.New()
	input.Placeholder = "What needs to be done?"
	input.CharLimit = 200
	input.Focus()

	return Model{
		api:     api,
		keys:    DefaultKeyMap,
		input:   input,
		focus:   FocusInput,
		loading: true,
	}
}

func (model Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, model.loadIdentity(), model.loadTasks())
}

func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		return model.handleKey(message)

	case identityLoadedMsg:
		if message.err != nil {
			model.notice = errorMessage(message.err, client.MsgMeFailed)
			return model, nil
		}
		model.identity = message.identity

	case tasksLoadedMsg:
		model.loading = false
		if message.err != nil {
			model.notice = errorMessage(message.err, client.MsgLoadFailed)
			return model, nil
		}
		model.tasks = message.tasks
		model.notice = ""
		model.clampCursor()

	case taskCreatedMsg:
		if message.err != nil {
			model.notice = errorMessage(message.err, client.MsgCreateFailed)
			return model, nil
		}
		model.tasks = append([]models.Task{*message.task}, model.tasks...)
		model.input.Reset()
		model.notice = ""

	case taskUpdatedMsg:
		if message.err != nil {
			model.notice = errorMessage(message.err, client.MsgUpdateFailed)
			return model, nil
		}
		for i := range model.tasks {
			if model.tasks[i].ID == message.task.ID {
				model.tasks[i] = *message.task
			}
		}
		model.notice = ""

	case taskDeletedMsg:
		if message.err != nil {
			model.notice = errorMessage(message.err, client.MsgDeleteFailed)
			return model, nil
		}
		kept := model.tasks[:0:0]
		for _, task := range model.tasks {
			if task.ID != message.id {
				kept = append(kept, task)
			}
		}
		model.tasks = kept
		model.notice = ""
		model.clampCursor()
	}
	return model, nil
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(message, model.keys.ForceQuit) {
		return model, tea.Quit
	}
	if key.Matches(message, model.keys.FocusToggle) {
		model.toggleFocus()
		return model, nil
	}

	if model.focus == FocusInput {
		if key.Matches(message, model.keys.Submit) {
			title := strings.TrimSpace(model.input.Value())
			if title == "" {
				return model, nil
			}
			return model, model.createTask(title)
		}
		var cmd tea.Cmd
		model.input, cmd = model.input.Update(message)
		return model, cmd
	}

	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Up):
		if model.cursor > 0 {
			model.cursor--
		}
	case key.Matches(message, model.keys.Down):
		if model.cursor < len(model.tasks)-1 {
			model.cursor++
		}
	case key.Matches(message, model.keys.Toggle):
		if task, ok := model.selected(); ok {
			completed := !task.Completed
			return model, model.updateTask(task.ID, models.TaskPatch{Completed: &completed})
		}
	case key.Matches(message, model.keys.Delete):
		if task, ok := model.selected(); ok {
			return model, model.deleteTask(task.ID)
		}
	case key.Matches(message, model.keys.Reload):
		model.loading = true
		return model, model.loadTasks()
	}
	return model, nil
}

func (model *Model) toggleFocus() {
	if model.focus == FocusInput {
		model.focus = FocusList
		model.input.Blur()
		return
	}
	model.focus = FocusInput
	model.input.Focus()
}

// ordered returns pending tasks followed by completed ones, the order in
// which they are drawn and in which the cursor moves.
func (model Model) ordered() (pending, completed []models.Task) {
	for _, task := range model.tasks {
		if task.Completed {
			completed = append(completed, task)
		} else {
			pending = append(pending, task)
		}
	}
	return pending, completed
}

func (model Model) selected() (models.Task, bool) {
	pending, completed := model.ordered()
	all := append(pending, completed...)
	if model.cursor < 0 || model.cursor >= len(all) {
		return models.Task{}, false
	}
	return all[model.cursor], true
}

func (model *Model) clampCursor() {
	if model.cursor >= len(model.tasks) {
		model.cursor = len(model.tasks) - 1
	}
	if model.cursor < 0 {
		model.cursor = 0
	}
}

func (model Model) loadIdentity() tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		identity, err := api.Me(ctx)
		return identityLoadedMsg{identity: identity, err: err}
	}
}

func (model Model) loadTasks() tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		tasks, err := api.ListTasks(ctx)
		return tasksLoadedMsg{tasks: tasks, err: err}
	}
}

func (model Model) createTask(title string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		task, err := api.CreateTask(ctx, title, "")
		return taskCreatedMsg{task: task, err: err}
	}
}

func (model Model) updateTask(id string, patch models.TaskPatch) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		task, err := api.UpdateTask(ctx, id, patch)
		return taskUpdatedMsg{task: task, err: err}
	}
}

func (model Model) deleteTask(id string) tea.Cmd {
	api := model.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return taskDeletedMsg{id: id, err: api.DeleteTask(ctx, id)}
	}
}

// errorMessage prefers the server's message and falls back to a generic
// one for the action.
func errorMessage(err error, fallback string) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func (model Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Task Tracker"))
	if model.identity != nil {
		who := model.identity.Email
		if who == "" {
			who = model.identity.SubjectID
		}
		b.WriteString("  " + identityStyle.Render(fmt.Sprintf("%s (%s)", who, model.identity.Role)))
	}
	b.WriteString("\n\n")
	b.WriteString(model.input.View())
	b.WriteString("\n")

	pending, completed := model.ordered()
	index := 0
	renderTask := func(task models.Task) {
		prefix := "  "
		line := "[ ] " + task.Title
		if task.Completed {
			line = completedStyle.Render("[x] " + task.Title)
		}
		if model.focus == FocusList && index == model.cursor {
			prefix = cursorStyle.Render("> ")
		}
		b.WriteString(prefix + line + "\n")
		if task.Description != "" {
			b.WriteString("      " + detailStyle.Render(task.Description) + "\n")
		}
		index++
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("Pending Tasks (%d)", len(pending))))
	b.WriteString("\n")
	switch {
	case model.loading && len(model.tasks) == 0:
		b.WriteString("  Loading...\n")
	case len(pending) == 0:
		b.WriteString("  " + emptyStyle.Render("No pending tasks. Great job!") + "\n")
	}
	for _, task := range pending {
		renderTask(task)
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("Completed Tasks (%d)", len(completed))))
	b.WriteString("\n")
	for _, task := range completed {
		renderTask(task)
	}

	if model.notice != "" {
		b.WriteString("\n" + noticeStyle.Render(model.notice) + "\n")
	}

	help := []string{"enter add", "tab focus", "j/k move", "space complete", "d delete", "r reload", "q quit"}
	b.WriteString("\n" + helpStyle.Render(strings.Join(help, " • ")) + "\n")
	return b.String()
}
