package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/thejerf/abtime"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/abefas/tasktracker/store"
	"github.com/abefas/tasktracker/store/storetest"
)

func TestTaskDocumentModel(t *testing.T) {
	oid := primitive.NewObjectID()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	doc := taskDocument{
		ID:        oid,
		Title:     "t",
		OwnerUID:  "alice",
		CreatedAt: created,
		UpdatedAt: created,
	}
	task := doc.model()
	if task.ID != oid.Hex() {
		t.Errorf("ID = %q, want %q", task.ID, oid.Hex())
	}
	if task.OwnerSubjectID != "alice" {
		t.Errorf("OwnerSubjectID = %q, want alice", task.OwnerSubjectID)
	}
	if task.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", task.CreatedAt.Location())
	}
}

func TestConformance(t *testing.T) {
	uri := os.Getenv("TASKTRACKER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TASKTRACKER_TEST_MONGO_URI not set")
	}
	storetest.Run(t, func(t *testing.T, clock abtime.AbstractTime) store.Store {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			t.Fatalf("mongo.Connect: %v", err)
		}
		db := client.Database("tasktracker_test")
		if err := db.Drop(ctx); err != nil {
			t.Fatalf("dropping test database: %v", err)
		}
		s := New(client, "tasktracker_test", clock)
		if err := s.EnsureIndexes(ctx); err != nil {
			t.Fatalf("EnsureIndexes: %v", err)
		}
		return s
	})
}
