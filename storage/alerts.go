package storage

import (
	"context"
	"fmt"
	"time"

	"vanguard/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// AlertSingleResult interface for mocking.
type AlertSingleResult interface {
	Decode(v interface{}) error
}

// AlertCollection interface for mocking.
type AlertCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) AlertSingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// mongoAlertSingleResult adapts *mongo.SingleResult to AlertSingleResult.
type mongoAlertSingleResult struct {
	*mongo.SingleResult
}

func (m *mongoAlertSingleResult) Decode(v interface{}) error {
	return m.SingleResult.Decode(v)
}

// mongoAlertCollection adapts *mongo.Collection to AlertCollection.
type mongoAlertCollection struct {
	*mongo.Collection
}

func (m *mongoAlertCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) AlertSingleResult {
	return &mongoAlertSingleResult{SingleResult: m.Collection.FindOne(ctx, filter, opts...)}
}

// AlertStorage persists alerts in MongoDB. It implements
// correlate.AlertStore; the attach path relies on the version field for
// optimistic concurrency across processes.
type AlertStorage struct {
	collection AlertCollection
	logger     *zap.SugaredLogger
}

// NewAlertStorage creates an alert storage backed by the given database.
func NewAlertStorage(db *MongoDB, logger *zap.SugaredLogger) *AlertStorage {
	return &AlertStorage{
		collection: &mongoAlertCollection{Collection: db.Database.Collection(alertsCollection)},
		logger:     logger,
	}
}

// InsertAlert stores a new alert.
func (s *AlertStorage) InsertAlert(ctx context.Context, alert *core.Alert) error {
	if _, err := s.collection.InsertOne(ctx, alert); err != nil {
		return fmt.Errorf("failed to insert alert: %w", mapMongoErr(err))
	}
	return nil
}

// GetAlert retrieves one alert by id.
func (s *AlertStorage) GetAlert(ctx context.Context, alertID string) (*core.Alert, error) {
	var alert core.Alert
	err := s.collection.FindOne(ctx, bson.M{"_id": alertID}).Decode(&alert)
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", alertID, mapMongoErr(err))
	}
	return &alert, nil
}

// FindOpenByKey returns the correlation candidate for a key: an open or
// investigating alert updated at or after the cutoff, most recently
// updated first with lower id breaking exact ties.
func (s *AlertStorage) FindOpenByKey(ctx context.Context, key string, updatedAfter time.Time) (*core.Alert, error) {
	filter := bson.M{
		"correlation_key": key,
		"status":          bson.M{"$in": []core.AlertStatus{core.AlertStatusOpen, core.AlertStatusInvestigating}},
		"updated_at":      bson.M{"$gte": updatedAfter},
	}
	opts := options.FindOne().SetSort(bson.D{
		{Key: "updated_at", Value: -1},
		{Key: "_id", Value: 1},
	})

	var alert core.Alert
	if err := s.collection.FindOne(ctx, filter, opts).Decode(&alert); err != nil {
		return nil, mapMongoErr(err)
	}
	return &alert, nil
}

// AppendEvent atomically appends an event reference, updates the derived
// severity and bumps the version, guarded by the expected version.
// Returns core.ErrConflict when another writer got there first, and
// core.ErrNotFound when the alert does not exist at all.
func (s *AlertStorage) AppendEvent(ctx context.Context, alertID, eventID string, severity core.Severity, expectedVersion int64) error {
	filter := bson.M{"_id": alertID, "version": expectedVersion}
	update := bson.M{
		"$push": bson.M{"event_ids": eventID},
		"$set": bson.M{
			"severity":   severity,
			"updated_at": time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to append event to alert %s: %w", alertID, mapMongoErr(err))
	}
	if result.MatchedCount == 0 {
		count, err := s.collection.CountDocuments(ctx, bson.M{"_id": alertID})
		if err != nil {
			return fmt.Errorf("failed to check alert %s: %w", alertID, mapMongoErr(err))
		}
		if count == 0 {
			return fmt.Errorf("alert %s: %w", alertID, core.ErrNotFound)
		}
		return fmt.Errorf("alert %s version %d: %w", alertID, expectedVersion, core.ErrConflict)
	}
	return nil
}

// UpdateStatus persists a status change. Transition validity is enforced
// by the correlation engine before it calls here.
func (s *AlertStorage) UpdateStatus(ctx context.Context, alertID string, status core.AlertStatus) error {
	update := bson.M{"$set": bson.M{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}}
	return s.updateByID(ctx, alertID, update)
}

// UpdateAssignee sets or clears the assignee.
func (s *AlertStorage) UpdateAssignee(ctx context.Context, alertID string, assignee *string) error {
	var update bson.M
	if assignee == nil {
		update = bson.M{
			"$unset": bson.M{"assignee": ""},
			"$set":   bson.M{"updated_at": time.Now().UTC()},
		}
	} else {
		update = bson.M{"$set": bson.M{
			"assignee":   *assignee,
			"updated_at": time.Now().UTC(),
		}}
	}
	return s.updateByID(ctx, alertID, update)
}

// AddTag adds a tag via $addToSet, naturally idempotent.
func (s *AlertStorage) AddTag(ctx context.Context, alertID, tag string) error {
	update := bson.M{
		"$addToSet": bson.M{"tags": tag},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}
	return s.updateByID(ctx, alertID, update)
}

// RemoveTag removes a tag via $pull, naturally idempotent.
func (s *AlertStorage) RemoveTag(ctx context.Context, alertID, tag string) error {
	update := bson.M{
		"$pull": bson.M{"tags": tag},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	return s.updateByID(ctx, alertID, update)
}

func (s *AlertStorage) updateByID(ctx context.Context, alertID string, update bson.M) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": alertID}, update)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alertID, mapMongoErr(err))
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("alert %s: %w", alertID, core.ErrNotFound)
	}
	return nil
}
