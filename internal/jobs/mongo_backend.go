package jobs

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoBackend reports queue depth for a Mongo-collection-backed job
// queue (the shape used by job packages that store jobs as documents
// with a status field, e.g. "pending"/"running"/"failed"/"scheduled").
// Grounded on go.mongodb.org/mongo-driver, sourced from the pack's
// DataDog-datadog-agent/go.mod, the closest ecosystem driver to the
// host application's own Mongo collection.
type MongoBackend struct {
	collection *mongo.Collection
	timeout    time.Duration
}

// NewMongoBackend wraps an existing *mongo.Collection. The host
// application owns the connection lifecycle; this backend only reads
// from it.
func NewMongoBackend(collection *mongo.Collection, timeout time.Duration) *MongoBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MongoBackend{collection: collection, timeout: timeout}
}

func (b *MongoBackend) Name() string { return "mongo" }

// IsAvailable reports whether the underlying collection handle was
// actually supplied; the agent never dials Mongo itself.
func (b *MongoBackend) IsAvailable() bool { return b.collection != nil }

func (b *MongoBackend) QueueStats() (QueueStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	pending, err := b.collection.CountDocuments(ctx, bson.M{"status": "pending"})
	if err != nil {
		return QueueStats{}, err
	}
	running, err := b.collection.CountDocuments(ctx, bson.M{"status": "running"})
	if err != nil {
		return QueueStats{}, err
	}
	failed, err := b.collection.CountDocuments(ctx, bson.M{"status": "failed"})
	if err != nil {
		return QueueStats{}, err
	}
	scheduled, err := b.collection.CountDocuments(ctx, bson.M{"status": "scheduled"})
	if err != nil {
		return QueueStats{}, err
	}

	var oldest struct {
		CreatedAt time.Time `bson:"createdAt"`
	}
	oldestAge := 0.0
	opts := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"status": "pending"}}},
		bson.D{{Key: "$sort", Value: bson.M{"createdAt": 1}}},
		bson.D{{Key: "$limit", Value: 1}},
	}
	cursor, err := b.collection.Aggregate(ctx, opts)
	if err == nil {
		if cursor.Next(ctx) {
			if decodeErr := cursor.Decode(&oldest); decodeErr == nil && !oldest.CreatedAt.IsZero() {
				oldestAge = time.Since(oldest.CreatedAt).Seconds() * 1000
			}
		}
		cursor.Close(ctx)
	}

	return QueueStats{
		Pending:            pending,
		Running:            running,
		Failed:             failed,
		Scheduled:          scheduled,
		OldestPendingAgeMS: oldestAge,
	}, nil
}
