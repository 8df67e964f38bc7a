// Package storage handles persistence of topics, subscription records and logs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"x-notify/pkg/notifier"
)

// Collection names.
const (
	TopicsCollection      = "topics"
	MarkersCollection     = "subsExist"
	UnconfirmedCollection = "subsUnconfirmed"
	ConfirmedCollection   = "subsConfirmed"
	TombstonesCollection  = "subsUnsubs"
	SubsLogsCollection    = "subs_logs"
	NotifyLogsCollection  = "notify_logs"
)

// Mongo stores records in MongoDB. Every state change uses a single-document
// atomic primitive: unique-index insert, FindOneAndDelete or FindOneAndUpdate.
type Mongo struct {
	db     *mongo.Database
	logger *slog.Logger
}

// Connect opens a MongoDB connection and verifies it with a ping.
func Connect(ctx context.Context, uri, database string, logger *slog.Logger) (*Mongo, error) {
	client, err := mongo.Connect(ctx,
		options.Client().ApplyURI(uri),
		options.Client().SetConnectTimeout(10*time.Second),
		options.Client().SetServerSelectionTimeout(10*time.Second),
		options.Client().SetRetryWrites(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return NewMongo(client.Database(database), logger), nil
}

// NewMongo creates a store on an open database handle.
func NewMongo(db *mongo.Database, logger *slog.Logger) *Mongo {
	return &Mongo{db: db, logger: logger}
}

// Close disconnects the underlying client.
func (s *Mongo) Close(ctx context.Context) error {
	return s.db.Client().Disconnect(ctx)
}

// EnsureIndexes creates the indexes the lifecycle depends on. The unique
// (email, topicId) index on subsExist is what makes CreateMarker atomic.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		MarkersCollection: {{
			Keys:    bson.D{{Key: "email", Value: 1}, {Key: "topicId", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		UnconfirmedCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}, {Key: "subscode", Value: 1}}},
			{Keys: bson.D{{Key: "topicId", Value: 1}, {Key: "email", Value: 1}, {Key: "notBefore", Value: 1}}},
		},
		ConfirmedCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}, {Key: "subscode", Value: 1}}},
		},
	}

	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// do runs fn with the retry policy used for reads and idempotent writes.
// Missing documents and duplicate keys are answers, not faults, and are never retried.
func (s *Mongo) do(ctx context.Context, op string, fn func() error) error {
	var last error
	err := retry.Do(
		func() error {
			last = fn()
			if errors.Is(last, mongo.ErrNoDocuments) || mongo.IsDuplicateKeyError(last) {
				return retry.Unrecoverable(last)
			}
			return last
		},
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.MaxJitter(100*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying store operation after error", "op", op, "attempt", n, "error", err)
		}),
	)
	if err != nil && last != nil {
		// Callers classify the driver error, not the retry wrapper.
		return last
	}
	return err
}

// once runs a state-changing primitive a single time. A repeat after a lost
// reply would see its own effect as a duplicate key or a missing document, so
// these calls rely on the driver's retryable writes instead of retry.Do.
func (s *Mongo) once(op string, fn func() error) error {
	err := fn()
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) && !mongo.IsDuplicateKeyError(err) {
		s.logger.Warn("Store operation failed", "op", op, "error", err)
	}
	return err
}

// FindTopic loads a topic by id.
func (s *Mongo) FindTopic(ctx context.Context, id string) (*notifier.Topic, error) {
	var topic notifier.Topic
	err := s.do(ctx, "find_topic", func() error {
		return s.db.Collection(TopicsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&topic)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notifier.ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find topic: %w", err)
	}
	return &topic, nil
}

// CreateMarker inserts the (email, topic) existence marker unless it already exists.
func (s *Mongo) CreateMarker(ctx context.Context, email, topicID string) (notifier.InsertResult, error) {
	err := s.once("create_marker", func() error {
		_, err := s.db.Collection(MarkersCollection).InsertOne(ctx, notifier.Marker{Email: email, TopicID: topicID})
		return err
	})
	if mongo.IsDuplicateKeyError(err) {
		return notifier.AlreadyExists, nil
	}
	if err != nil {
		return notifier.Created, fmt.Errorf("insert marker: %w", err)
	}
	return notifier.Created, nil
}

// DeleteMarker removes the (email, topic) existence marker. Deleting a missing marker is not an error.
func (s *Mongo) DeleteMarker(ctx context.Context, email, topicID string) error {
	err := s.do(ctx, "delete_marker", func() error {
		_, err := s.db.Collection(MarkersCollection).DeleteOne(ctx, bson.M{"email": email, "topicId": topicID})
		return err
	})
	if err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}
	return nil
}

// InsertUnconfirmed stores a pending subscription.
func (s *Mongo) InsertUnconfirmed(ctx context.Context, rec *notifier.Unconfirmed) error {
	err := s.once("insert_unconfirmed", func() error {
		_, err := s.db.Collection(UnconfirmedCollection).InsertOne(ctx, rec)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert unconfirmed: %w", err)
	}
	return nil
}

// AdvanceResend moves notBefore to next on the pending record for (email, topic)
// whose notBefore is earlier than now, and returns the updated record.
func (s *Mongo) AdvanceResend(ctx context.Context, email, topicID string, now, next time.Time) (*notifier.Unconfirmed, error) {
	var rec notifier.Unconfirmed
	err := s.once("advance_resend", func() error {
		return s.db.Collection(UnconfirmedCollection).FindOneAndUpdate(ctx,
			bson.M{"topicId": topicID, "email": email, "notBefore": bson.M{"$lt": now}},
			bson.M{"$set": bson.M{"notBefore": next}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&rec)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notifier.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("advance resend: %w", err)
	}
	return &rec, nil
}

// TakeUnconfirmed atomically removes and returns the pending record for (email, code).
func (s *Mongo) TakeUnconfirmed(ctx context.Context, email, code string) (*notifier.Unconfirmed, error) {
	var rec notifier.Unconfirmed
	err := s.once("take_unconfirmed", func() error {
		return s.db.Collection(UnconfirmedCollection).FindOneAndDelete(ctx, bson.M{"email": email, "subscode": code}).Decode(&rec)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notifier.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take unconfirmed: %w", err)
	}
	return &rec, nil
}

// InsertConfirmed stores an active subscription.
func (s *Mongo) InsertConfirmed(ctx context.Context, rec *notifier.Confirmed) error {
	err := s.once("insert_confirmed", func() error {
		_, err := s.db.Collection(ConfirmedCollection).InsertOne(ctx, rec)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert confirmed: %w", err)
	}
	return nil
}

// TakeConfirmed atomically removes and returns the active subscription for (email, code).
func (s *Mongo) TakeConfirmed(ctx context.Context, email, code string) (*notifier.Confirmed, error) {
	var rec notifier.Confirmed
	err := s.once("take_confirmed", func() error {
		return s.db.Collection(ConfirmedCollection).FindOneAndDelete(ctx, bson.M{"email": email, "subscode": code}).Decode(&rec)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notifier.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("take confirmed: %w", err)
	}
	return &rec, nil
}

// InsertTombstone appends an unsubscribe tombstone.
func (s *Mongo) InsertTombstone(ctx context.Context, rec *notifier.Tombstone) error {
	err := s.once("insert_tombstone", func() error {
		_, err := s.db.Collection(TombstonesCollection).InsertOne(ctx, rec)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert tombstone: %w", err)
	}
	return nil
}

// AppendSubsLog pushes a lifecycle entry onto the email's log document, creating it if needed.
func (s *Mongo) AppendSubsLog(ctx context.Context, entry notifier.AuditEntry) error {
	err := s.do(ctx, "append_subs_log", func() error {
		_, err := s.db.Collection(SubsLogsCollection).UpdateOne(ctx,
			bson.M{"_id": entry.Email},
			bson.M{
				"$setOnInsert": bson.M{"createdAt": entry.CreatedAt},
				"$push":        bson.M{string(entry.Kind): entry},
				"$currentDate": bson.M{"lastUpdated": true},
			},
			options.Update().SetUpsert(true),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append subs log: %w", err)
	}
	return nil
}

// AppendNotifyLog pushes a send failure onto the template's log document, creating it if needed.
func (s *Mongo) AppendNotifyLog(ctx context.Context, failure notifier.NotificationFailure) error {
	err := s.do(ctx, "append_notify_log", func() error {
		_, err := s.db.Collection(NotifyLogsCollection).UpdateOne(ctx,
			bson.M{"_id": failure.TemplateID},
			bson.M{
				"$setOnInsert": bson.M{"createdAt": failure.CreatedAt},
				"$push":        bson.M{"errLogs": failure},
				"$currentDate": bson.M{"lastUpdated": true},
			},
			options.Update().SetUpsert(true),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append notify log: %w", err)
	}
	return nil
}
