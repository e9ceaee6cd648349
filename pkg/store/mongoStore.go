package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/go-notify/pkg/job"
)

const maxUpdateRetries = 5

// mongoJob adds the optimistic concurrency version to a job document.
type mongoJob struct {
	job.Job `bson:",inline"`
	Version int64 `bson:"version"`
}

// MongoStore keeps one document per job. Update is a read followed by a
// ReplaceOne guarded by the document version.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoStore(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

func (m *MongoStore) Insert(ctx context.Context, j *job.Job) error {
	return m.withSpan(ctx, "Insert", func(ctx context.Context) (int, error) {
		_, err := m.collection.InsertOne(ctx, mongoJob{Job: *j})
		if mongo.IsDuplicateKeyError(err) {
			return 0, ErrJobExists
		}
		return 1, err
	})
}

func (m *MongoStore) Get(ctx context.Context, id string) (*job.Job, error) {
	var found *job.Job
	err := m.withSpan(ctx, "Get", func(ctx context.Context) (int, error) {
		doc, err := m.find(ctx, id)
		if err != nil {
			return 0, err
		}
		found = &doc.Job
		return 1, nil
	})
	return found, err
}

func (m *MongoStore) Update(ctx context.Context, id string, fn func(*job.Job) error) (*job.Job, error) {
	var updated *job.Job
	err := m.withSpan(ctx, "Update", func(ctx context.Context) (int, error) {
		for attempt := 0; attempt < maxUpdateRetries; attempt++ {
			doc, err := m.find(ctx, id)
			if err != nil {
				return 0, err
			}
			version := doc.Version
			if err := fn(&doc.Job); err != nil {
				return 0, err
			}
			doc.Version = version + 1

			res, err := m.collection.ReplaceOne(ctx, bson.M{"_id": id, "version": version}, doc)
			if err != nil {
				return 0, err
			}
			if res.MatchedCount == 1 {
				updated = &doc.Job
				return 1, nil
			}
		}
		return 0, fmt.Errorf("update job %s: %w", id, ErrConflict)
	})
	return updated, err
}

func (m *MongoStore) Due(ctx context.Context, now time.Time) ([]*job.Job, error) {
	var due []*job.Job
	err := m.withSpan(ctx, "Due", func(ctx context.Context) (int, error) {
		filter := bson.M{
			"completed_at":  nil,
			"scheduled_for": bson.M{"$lte": now},
		}
		opts := options.Find().SetSort(bson.D{
			{Key: "priority", Value: -1},
			{Key: "created_at", Value: 1},
			{Key: "_id", Value: 1},
		})
		jobs, err := m.findMany(ctx, filter, opts)
		if err != nil {
			return 0, err
		}
		for _, j := range jobs {
			if !job.IsTerminal(j) {
				due = append(due, j)
			}
		}
		return len(due), nil
	})
	return due, err
}

func (m *MongoStore) List(ctx context.Context) ([]*job.Job, error) {
	var all []*job.Job
	err := m.withSpan(ctx, "List", func(ctx context.Context) (int, error) {
		opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
		var err error
		all, err = m.findMany(ctx, bson.M{}, opts)
		return len(all), err
	})
	return all, err
}

func (m *MongoStore) Purge(ctx context.Context, before time.Time) (int, error) {
	var removed int
	err := m.withSpan(ctx, "Purge", func(ctx context.Context) (int, error) {
		candidates, err := m.findMany(ctx, bson.M{"created_at": bson.M{"$lt": before}}, options.Find())
		if err != nil {
			return 0, err
		}
		var ids []string
		for _, j := range candidates {
			if purgeable(j, before) {
				ids = append(ids, j.ID)
			}
		}
		if len(ids) == 0 {
			return 0, nil
		}
		res, err := m.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
		if err != nil {
			return 0, err
		}
		removed = int(res.DeletedCount)
		return removed, nil
	})
	return removed, err
}

func (m *MongoStore) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(context.Background())
}

func (m *MongoStore) find(ctx context.Context, id string) (*mongoJob, error) {
	var doc mongoJob
	err := m.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (m *MongoStore) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*job.Job, error) {
	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var jobs []*job.Job
	for cursor.Next(ctx) {
		var doc mongoJob
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		j := doc.Job
		jobs = append(jobs, &j)
	}
	return jobs, cursor.Err()
}

func (m *MongoStore) withSpan(ctx context.Context, spanName string, fn func(ctx context.Context) (int, error)) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mongo."+spanName)
	defer span.End()

	start := time.Now()
	n, err := fn(ctx)
	if err != nil {
		return recordError(span, err)
	}
	addDBStatsToSpan(span, "mongodb", spanName, n, time.Since(start))
	return nil
}
