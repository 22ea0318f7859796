// Package storetest is a conformance suite for store.Store
// implementations. Each backend's tests call Run with a factory that
// returns an empty store driven by the supplied manual clock.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/thejerf/abtime"

	"github.com/abefas/tasktracker/models"
	"github.com/abefas/tasktracker/store"
)

// Factory returns a fresh, empty store whose timestamps come from clock.
type Factory func(t *testing.T, clock abtime.AbstractTime) store.Store

// Epoch is the time the manual clock starts at.
var Epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

// Run executes every conformance test against stores built by open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store, clock *abtime.ManualTime)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"GetUnknown", testGetUnknown},
		{"ListOrderAndFilter", testListOrderAndFilter},
		{"ListEmpty", testListEmpty},
		{"PartialUpdate", testPartialUpdate},
		{"EmptyUpdate", testEmptyUpdate},
		{"UpdateUnknown", testUpdateUnknown},
		{"Delete", testDelete},
		{"FindOrCreateUser", testFindOrCreateUser},
		{"FindOrCreateUserConcurrent", testFindOrCreateUserConcurrent},
		{"SetAdmin", testSetAdmin},
		{"ListUsers", testListUsers},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			clock := abtime.NewManualAtTime(Epoch)
			s := open(t, clock)
			t.Cleanup(func() {
				if err := s.Close(context.Background()); err != nil {
					t.Errorf("Close: %v", err)
				}
			})
			test.fn(t, s, clock)
		})
	}
}

func mustCreate(t *testing.T, s store.Store, title, owner string) *models.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), models.NewTask{
		Title:          title,
		Description:    title + " description",
		OwnerSubjectID: owner,
	})
	if err != nil {
		t.Fatalf("CreateTask(%q): %v", title, err)
	}
	return task
}

func testCreateAndGet(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	ctx := context.Background()
	created := mustCreate(t, s, "write report", "alice")

	if created.ID == "" {
		t.Fatal("CreateTask returned an empty id")
	}
	if created.Completed {
		t.Error("new task should not be completed")
	}
	if created.OwnerSubjectID != "alice" {
		t.Errorf("OwnerSubjectID = %q, want alice", created.OwnerSubjectID)
	}
	if !created.CreatedAt.Equal(Epoch) || !created.UpdatedAt.Equal(Epoch) {
		t.Errorf("timestamps = %v/%v, want %v", created.CreatedAt, created.UpdatedAt, Epoch)
	}

	fetched, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	normalize(created)
	normalize(fetched)
	if diff := deep.Equal(created, fetched); diff != nil {
		t.Errorf("fetched task differs from created: %v", diff)
	}
}

func testGetUnknown(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	ctx := context.Background()
	mustCreate(t, s, "exists", "alice")

	for _, id := range []string{"not-a-real-id", "000000000000000000000000", "0b7e7e1a-6f0e-4f1e-9b7e-000000000000", ""} {
		if _, err := s.GetTask(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("GetTask(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func testListOrderAndFilter(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	ctx := context.Background()
	first := mustCreate(t, s, "first", "alice")
	clock.Advance(time.Second)
	second := mustCreate(t, s, "second", "bob")
	clock.Advance(time.Second)
	third := mustCreate(t, s, "third", "alice")

	all, err := s.ListTasks(ctx, models.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if got, want := ids(all), []string{third.ID, second.ID, first.ID}; deep.Equal(got, want) != nil {
		t.Errorf("ListTasks(all) = %v, want %v", got, want)
	}

	mine, err := s.ListTasks(ctx, models.TaskFilter{OwnerSubjectID: "alice"})
	if err != nil {
		t.Fatalf("ListTasks(alice): %v", err)
	}
	if got, want := ids(mine), []string{third.ID, first.ID}; deep.Equal(got, want) != nil {
		t.Errorf("ListTasks(alice) = %v, want %v", got, want)
	}
	for _, task := range mine {
		if task.OwnerSubjectID != "alice" {
			t.Errorf("filtered listing returned task owned by %q", task.OwnerSubjectID)
		}
	}
}

func testListEmpty(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	tasks, err := s.ListTasks(context.Background(), models.TaskFilter{OwnerSubjectID: "nobody"})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("ListTasks = %d tasks, want none", len(tasks))
	}
}

func testPartialUpdate(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	ctx := context.Background()
	created := mustCreate(t, s, "x", "alice")
	clock.Advance(time.Minute)

	done := true
	updated, err := s.UpdateTask(ctx, created.ID, models.TaskPatch{Completed: &done})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if !updated.Completed {
		t.Error("Completed = false, want true")
	}
	if updated.Title != "x" || updated.Description != created.Description {
		t.Errorf("untouched fields changed: %+v", updated)
	}
	if updated.OwnerSubjectID != "alice" {
		t.Errorf("owner changed to %q", updated.OwnerSubjectID)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt moved from %v to %v", created.CreatedAt, updated.CreatedAt)
	}
	if !updated.UpdatedAt.Equal(Epoch.Add(time.Minute)) {
		t.Errorf("UpdatedAt = %v, want %v", updated.UpdatedAt, Epoch.Add(time.Minute))
	}

	// An explicit false must be written, not skipped.
	notDone := false
	title := "renamed"
	updated, err = s.UpdateTask(ctx, created.ID, models.TaskPatch{Completed: &notDone, Title: &title})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Completed || updated.Title != "renamed" {
		t.Errorf("second update = %+v, want completed=false title=renamed", updated)
	}

	fetched, err := s.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	normalize(updated)
	normalize(fetched)
	if diff := deep.Equal(updated, fetched); diff != nil {
		t.Errorf("stored task differs from update result: %v", diff)
	}
}

func testEmptyUpdate(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	created := mustCreate(t, s, "x", "alice")
	clock.Advance(time.Minute)

	updated, err := s.UpdateTask(context.Background(), created.ID, models.TaskPatch{})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	normalize(created)
	normalize(updated)
	if diff := deep.Equal(created, updated); diff != nil {
		t.Errorf("empty patch changed the task: %v", diff)
	}
}

func testUpdateUnknown(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	done := true
	for _, id := range []string{"missing", "000000000000000000000000"} {
		_, err := s.UpdateTask(context.Background(), id, models.TaskPatch{Completed: &done})
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("UpdateTask(%q) error = %v, want ErrNotFound", id, err)
		}
	}
}

func testDelete(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	ctx := context.Background()
	keep := mustCreate(t, s, "keep", "alice")
	drop := mustCreate(t, s, "drop", "alice")

	if err := s.DeleteTask(ctx, drop.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if _, err := s.GetTask(ctx, drop.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTask after delete error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteTask(ctx, drop.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteTask error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetTask(ctx, keep.ID); err != nil {
		t.Errorf("unrelated task disappeared: %v", err)
	}
}

func testFindOrCreateUser(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	ctx := context.Background()
	user, created, err := s.FindOrCreateUser(ctx, "uid-1", "one@example.com")
	if err != nil {
		t.Fatalf("FindOrCreateUser: %v", err)
	}
	if !created {
		t.Error("first call should create the user")
	}
	if user.IsAdmin {
		t.Error("new users must not be admins")
	}
	if user.SubjectID != "uid-1" || user.Email != "one@example.com" {
		t.Errorf("user = %+v", user)
	}

	clock.Advance(time.Hour)
	again, created, err := s.FindOrCreateUser(ctx, "uid-1", "changed@example.com")
	if err != nil {
		t.Fatalf("FindOrCreateUser: %v", err)
	}
	if created {
		t.Error("second call should not create a user")
	}
	normalizeUser(user)
	normalizeUser(again)
	if diff := deep.Equal(user, again); diff != nil {
		t.Errorf("second lookup differs: %v", diff)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("ListUsers = %d users, want 1", len(users))
	}
}

func testFindOrCreateUserConcurrent(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := s.FindOrCreateUser(context.Background(), "racer", "racer@example.com")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if created {
				creates++
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("FindOrCreateUser errors: %v", errs)
	}
	if creates != 1 {
		t.Errorf("%d callers reported creating the user, want 1", creates)
	}
	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Errorf("ListUsers = %d users, want 1", len(users))
	}
}

func testSetAdmin(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	ctx := context.Background()
	if _, err := s.SetAdmin(ctx, "ghost", true); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SetAdmin(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetUser(ctx, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("SetAdmin on an unknown subject must not create it, GetUser error = %v", err)
	}

	if _, _, err := s.FindOrCreateUser(ctx, "boss", "boss@example.com"); err != nil {
		t.Fatalf("FindOrCreateUser: %v", err)
	}
	promoted, err := s.SetAdmin(ctx, "boss", true)
	if err != nil {
		t.Fatalf("SetAdmin: %v", err)
	}
	if !promoted.IsAdmin {
		t.Error("SetAdmin(true) returned a non-admin")
	}

	user, created, err := s.FindOrCreateUser(ctx, "boss", "boss@example.com")
	if err != nil {
		t.Fatalf("FindOrCreateUser: %v", err)
	}
	if created || !user.IsAdmin {
		t.Errorf("lookup after promotion = %+v created=%v", user, created)
	}

	demoted, err := s.SetAdmin(ctx, "boss", false)
	if err != nil {
		t.Fatalf("SetAdmin: %v", err)
	}
	if demoted.IsAdmin {
		t.Error("SetAdmin(false) returned an admin")
	}
}

func testListUsers(t *testing.T, s store.Store, clock *abtime.ManualTime) {
	ctx := context.Background()
	for _, uid := range []string{"u1", "u2", "u3"} {
		if _, _, err := s.FindOrCreateUser(ctx, uid, uid+"@example.com"); err != nil {
			t.Fatalf("FindOrCreateUser(%s): %v", uid, err)
		}
		clock.Advance(time.Second)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	var got []string
	for _, user := range users {
		got = append(got, user.SubjectID)
	}
	if diff := deep.Equal(got, []string{"u1", "u2", "u3"}); diff != nil {
		t.Errorf("ListUsers order: %v", diff)
	}
}

func ids(tasks []models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ID)
	}
	return out
}

// normalize strips location data that drivers attach differently, so
// deep.Equal compares instants.
func normalize(task *models.Task) {
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
}

func normalizeUser(user *models.User) {
	user.CreatedAt = user.CreatedAt.UTC()
}
