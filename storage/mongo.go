package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskboard-api/domain"
	"taskboard-api/ordering"
)

// MongoStore keeps one document per task. Writes of a mutation run in a
// session transaction, so the deployment must be a replica set.
type MongoStore struct {
	client *mongo.Client
	tasks  *mongo.Collection
}

type taskDocument struct {
	ID       string `bson:"_id"`
	OwnerID  string `bson:"ownerId"`
	Name     string `bson:"name"`
	Priority string `bson:"priority"`
	Deadline string `bson:"deadline"`
	Stage    int    `bson:"stage"`
	Rank     int    `bson:"rank"`
	Version  int64  `bson:"version"`
}

// NewMongoStore connects to uri and prepares the tasks collection.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "stage", Value: 1}, {Key: "rank", Value: 1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{client: client, tasks: coll}, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toDocument(t domain.Task, version int64) taskDocument {
	return taskDocument{
		ID:       t.ID,
		OwnerID:  t.OwnerID,
		Name:     t.Name,
		Priority: string(t.Priority),
		Deadline: t.Deadline,
		Stage:    int(t.Stage),
		Rank:     t.Rank,
		Version:  version,
	}
}

func fromDocument(d taskDocument) domain.Task {
	return domain.Task{
		ID:       d.ID,
		OwnerID:  d.OwnerID,
		Name:     d.Name,
		Priority: domain.Priority(d.Priority),
		Deadline: d.Deadline,
		Stage:    domain.Stage(d.Stage),
		Rank:     d.Rank,
		ETag:     strconv.FormatInt(d.Version, 10),
	}
}

func (s *MongoStore) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "stage", Value: 1}, {Key: "rank", Value: 1}})
	cur, err := s.tasks.Find(ctx, bson.M{"ownerId": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []taskDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(docs))
	for _, d := range docs {
		tasks = append(tasks, fromDocument(d))
	}
	return tasks, nil
}

func (s *MongoStore) GetTask(ctx context.Context, ownerID, taskID string) (*domain.Task, error) {
	var d taskDocument
	err := s.tasks.FindOne(ctx, bson.M{"_id": taskID, "ownerId": ownerID}).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	t := fromDocument(d)
	return &t, nil
}

// ApplyMutation writes the mutation inside a transaction. Updates and
// deletes are filtered on the version carried in the task ETag.
func (s *MongoStore) ApplyMutation(ctx context.Context, ownerID string, m ordering.Mutation) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		for _, t := range m.Upserts {
			if err := s.writeTask(sc, ownerID, t); err != nil {
				return nil, err
			}
		}
		for _, t := range m.Deletes {
			if err := s.deleteTask(sc, ownerID, t); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *MongoStore) writeTask(ctx context.Context, ownerID string, t domain.Task) error {
	if t.OwnerID != ownerID {
		return fmt.Errorf("task %s is not owned by %s", t.ID, ownerID)
	}
	if t.ETag == "" {
		_, err := s.tasks.InsertOne(ctx, toDocument(t, 1))
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert task %s: %w", t.ID, domain.ErrConcurrencyConflict)
		}
		return err
	}
	version, err := strconv.ParseInt(t.ETag, 10, 64)
	if err != nil {
		return fmt.Errorf("task %s has malformed version %q", t.ID, t.ETag)
	}
	doc := toDocument(t, version+1)
	res, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": t.ID, "ownerId": ownerID, "version": version}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, domain.ErrConcurrencyConflict)
	}
	return nil
}

func (s *MongoStore) deleteTask(ctx context.Context, ownerID string, t domain.Task) error {
	filter := bson.M{"_id": t.ID, "ownerId": ownerID}
	if t.ETag != "" {
		version, err := strconv.ParseInt(t.ETag, 10, 64)
		if err != nil {
			return fmt.Errorf("task %s has malformed version %q", t.ID, t.ETag)
		}
		filter["version"] = version
	}
	res, err := s.tasks.DeleteOne(ctx, filter)
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete task %s: %w", t.ID, domain.ErrConcurrencyConflict)
	}
	return nil
}
