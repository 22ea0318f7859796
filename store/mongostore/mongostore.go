// Package mongostore implements store.Store on MongoDB. Documents keep
// the field names of the original collections (uid, ownerUid, isAdmin,
// createdAt) so an existing database can be served without migration.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thejerf/abtime"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/abefas/tasktracker/models"
	"github.com/abefas/tasktracker/store"
)

const (
	tasksCollection = "tasks"
	usersCollection = "users"
)

type taskDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Completed   bool               `bson:"completed"`
	OwnerUID    string             `bson:"ownerUid"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func (d *taskDocument) model() models.Task {
	return models.Task{
		ID:             d.ID.Hex(),
		Title:          d.Title,
		Description:    d.Description,
		Completed:      d.Completed,
		OwnerSubjectID: d.OwnerUID,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

type userDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UID       string             `bson:"uid"`
	Email     string             `bson:"email"`
	IsAdmin   bool               `bson:"isAdmin"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func (d *userDocument) model() models.User {
	return models.User{
		SubjectID: d.UID,
		Email:     d.Email,
		IsAdmin:   d.IsAdmin,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

// Store serves tasks and users from one MongoDB database.
type Store struct {
	client *mongo.Client
	tasks  *mongo.Collection
	users  *mongo.Collection
	clock  abtime.AbstractTime
}

// New uses the named database on an already connected client. A nil
// clock means real time.
func New(client *mongo.Client, database string, clock abtime.AbstractTime) *Store {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	db := client.Database(database)
	return &Store{
		client: client,
		tasks:  db.Collection(tasksCollection),
		users:  db.Collection(usersCollection),
		clock:  clock,
	}
}

// EnsureIndexes creates the unique subject index that FindOrCreateUser
// relies on, plus the owner/recency index used by listings.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "uid", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create users index: %w", err)
	}
	_, err = s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerUid", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create tasks index: %w", err)
	}
	return nil
}

func (s *Store) CreateTask(ctx context.Context, nt models.NewTask) (*models.Task, error) {
	now := store.Timestamp(s.clock)
	doc := taskDocument{
		ID:          primitive.NewObjectID(),
		Title:       nt.Title,
		Description: nt.Description,
		OwnerUID:    nt.OwnerSubjectID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.tasks.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}
	task := doc.model()
	return &task, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}
	var doc taskDocument
	err = s.tasks.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to retrieve task: %w", err)
	}
	task := doc.model()
	return &task, nil
}

func (s *Store) ListTasks(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	query := bson.D{}
	if filter.OwnerSubjectID != "" {
		query = bson.D{{Key: "ownerUid", Value: filter.OwnerSubjectID}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := s.tasks.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve tasks: %w", err)
	}
	var docs []taskDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}

	tasks := make([]models.Task, 0, len(docs))
	for i := range docs {
		tasks = append(tasks, docs[i].model())
	}
	return tasks, nil
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	if patch.Empty() {
		return s.GetTask(ctx, id)
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, store.ErrNotFound
	}

	set := bson.D{}
	if patch.Title != nil {
		set = append(set, bson.E{Key: "title", Value: *patch.Title})
	}
	if patch.Description != nil {
		set = append(set, bson.E{Key: "description", Value: *patch.Description})
	}
	if patch.Completed != nil {
		set = append(set, bson.E{Key: "completed", Value: *patch.Completed})
	}
	set = append(set, bson.E{Key: "updatedAt", Value: store.Timestamp(s.clock)})

	var doc taskDocument
	err = s.tasks.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	task := doc.model()
	return &task, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return store.ErrNotFound
	}
	res, err := s.tasks.DeleteOne(ctx, bson.D{{Key: "_id", Value: oid}})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindOrCreateUser(ctx context.Context, subjectID, email string) (*models.User, bool, error) {
	filter := bson.D{{Key: "uid", Value: subjectID}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "email", Value: email},
		{Key: "isAdmin", Value: false},
		{Key: "createdAt", Value: store.Timestamp(s.clock)},
	}}}
	opts := options.Update().SetUpsert(true)

	res, err := s.users.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		// Two first requests raced on the unique uid index; the loser
		// now finds the winner's document.
		res, err = s.users.UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	user, err := s.GetUser(ctx, subjectID)
	if err != nil {
		return nil, false, err
	}
	return user, res.UpsertedCount == 1, nil
}

func (s *Store) GetUser(ctx context.Context, subjectID string) (*models.User, error) {
	var doc userDocument
	err := s.users.FindOne(ctx, bson.D{{Key: "uid", Value: subjectID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to retrieve user: %w", err)
	}
	user := doc.model()
	return &user, nil
}

func (s *Store) SetAdmin(ctx context.Context, subjectID string, isAdmin bool) (*models.User, error) {
	var doc userDocument
	err := s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "uid", Value: subjectID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "isAdmin", Value: isAdmin}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	user := doc.model()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "uid", Value: 1}})
	cursor, err := s.users.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve users: %w", err)
	}
	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	users := make([]models.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].model())
	}
	return users, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ store.Store = (*Store)(nil)
