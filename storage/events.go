package storage

import (
	"context"
	"fmt"

	"vanguard/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// EventCursor interface for mocking.
type EventCursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
	Err() error
	Next(ctx context.Context) bool
	Decode(v interface{}) error
}

// EventSingleResult interface for mocking.
type EventSingleResult interface {
	Decode(v interface{}) error
}

// EventCollection interface for mocking.
type EventCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) EventSingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (EventCursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// mongoEventCursor adapts *mongo.Cursor to EventCursor.
type mongoEventCursor struct {
	*mongo.Cursor
}

func (m *mongoEventCursor) All(ctx context.Context, results interface{}) error {
	return m.Cursor.All(ctx, results)
}

func (m *mongoEventCursor) Close(ctx context.Context) error {
	return m.Cursor.Close(ctx)
}

func (m *mongoEventCursor) Err() error {
	return m.Cursor.Err()
}

func (m *mongoEventCursor) Next(ctx context.Context) bool {
	return m.Cursor.Next(ctx)
}

func (m *mongoEventCursor) Decode(v interface{}) error {
	return m.Cursor.Decode(v)
}

// mongoEventSingleResult adapts *mongo.SingleResult to EventSingleResult.
type mongoEventSingleResult struct {
	*mongo.SingleResult
}

func (m *mongoEventSingleResult) Decode(v interface{}) error {
	return m.SingleResult.Decode(v)
}

// mongoEventCollection adapts *mongo.Collection to EventCollection.
type mongoEventCollection struct {
	*mongo.Collection
}

func (m *mongoEventCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) EventSingleResult {
	return &mongoEventSingleResult{SingleResult: m.Collection.FindOne(ctx, filter, opts...)}
}

func (m *mongoEventCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (EventCursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoEventCursor{Cursor: cursor}, nil
}

// EventStorage persists events in MongoDB. Events are append-only; the
// only mutation is a one-time severity amendment.
type EventStorage struct {
	collection EventCollection
	logger     *zap.SugaredLogger
}

// NewEventStorage creates an event storage backed by the given database.
func NewEventStorage(db *MongoDB, logger *zap.SugaredLogger) *EventStorage {
	return &EventStorage{
		collection: &mongoEventCollection{Collection: db.Database.Collection(eventsCollection)},
		logger:     logger,
	}
}

// InsertEvent stores one event.
func (s *EventStorage) InsertEvent(ctx context.Context, ev *core.Event) error {
	if _, err := s.collection.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("failed to insert event: %w", mapMongoErr(err))
	}
	return nil
}

// GetEvent retrieves one event by id.
func (s *EventStorage) GetEvent(ctx context.Context, eventID string) (*core.Event, error) {
	var ev core.Event
	err := s.collection.FindOne(ctx, bson.M{"_id": eventID}).Decode(&ev)
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", eventID, mapMongoErr(err))
	}
	return &ev, nil
}

// AmendSeverity corrects an event's severity. Each event may be amended
// at most once; the filter on severity_amended enforces that atomically.
func (s *EventStorage) AmendSeverity(ctx context.Context, eventID string, severity core.Severity) error {
	filter := bson.M{"_id": eventID, "severity_amended": false}
	update := bson.M{"$set": bson.M{
		"severity":         severity,
		"severity_amended": true,
	}}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to amend event severity: %w", mapMongoErr(err))
	}
	if result.MatchedCount == 0 {
		count, countErr := s.collection.CountDocuments(ctx, bson.M{"_id": eventID})
		if countErr != nil {
			return fmt.Errorf("failed to check event %s: %w", eventID, mapMongoErr(countErr))
		}
		if count == 0 {
			return fmt.Errorf("event %s: %w", eventID, core.ErrNotFound)
		}
		return fmt.Errorf("event %s severity already amended: %w", eventID, core.ErrConflict)
	}
	return nil
}

// ListBySimulation returns the events generated by one simulation run,
// oldest first.
func (s *EventStorage) ListBySimulation(ctx context.Context, simulationID string) ([]*core.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.M{"simulation_id": simulationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list simulation events: %w", mapMongoErr(err))
	}
	defer cursor.Close(ctx)

	var events []*core.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode simulation events: %w", mapMongoErr(err))
	}
	return events, nil
}
