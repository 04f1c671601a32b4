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

// SimulationCursor interface for mocking.
type SimulationCursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
}

// SimulationSingleResult interface for mocking.
type SimulationSingleResult interface {
	Decode(v interface{}) error
}

// SimulationCollection interface for mocking.
type SimulationCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SimulationSingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (SimulationCursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

type mongoSimulationCursor struct {
	*mongo.Cursor
}

func (m *mongoSimulationCursor) All(ctx context.Context, results interface{}) error {
	return m.Cursor.All(ctx, results)
}

func (m *mongoSimulationCursor) Close(ctx context.Context) error {
	return m.Cursor.Close(ctx)
}

type mongoSimulationSingleResult struct {
	*mongo.SingleResult
}

func (m *mongoSimulationSingleResult) Decode(v interface{}) error {
	return m.SingleResult.Decode(v)
}

type mongoSimulationCollection struct {
	*mongo.Collection
}

func (m *mongoSimulationCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SimulationSingleResult {
	return &mongoSimulationSingleResult{SingleResult: m.Collection.FindOne(ctx, filter, opts...)}
}

func (m *mongoSimulationCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (SimulationCursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoSimulationCursor{Cursor: cursor}, nil
}

// SimulationStorage persists simulations in MongoDB. It implements
// simulate.SimulationStore. Status transitions go through
// CompareAndSwapStatus so concurrent start and stop requests cannot
// both win.
type SimulationStorage struct {
	collection SimulationCollection
	logger     *zap.SugaredLogger
}

// NewSimulationStorage creates a simulation storage backed by the given
// database.
func NewSimulationStorage(db *MongoDB, logger *zap.SugaredLogger) *SimulationStorage {
	return &SimulationStorage{
		collection: &mongoSimulationCollection{Collection: db.Database.Collection(simulationsCollection)},
		logger:     logger,
	}
}

// InsertSimulation stores a new simulation.
func (s *SimulationStorage) InsertSimulation(ctx context.Context, sim *core.Simulation) error {
	if _, err := s.collection.InsertOne(ctx, sim); err != nil {
		return fmt.Errorf("failed to insert simulation: %w", mapMongoErr(err))
	}
	return nil
}

// GetSimulation retrieves one simulation by id.
func (s *SimulationStorage) GetSimulation(ctx context.Context, simulationID string) (*core.Simulation, error) {
	var sim core.Simulation
	err := s.collection.FindOne(ctx, bson.M{"_id": simulationID}).Decode(&sim)
	if err != nil {
		return nil, fmt.Errorf("failed to get simulation %s: %w", simulationID, mapMongoErr(err))
	}
	return &sim, nil
}

// ListDue returns scheduled simulations whose scheduled_at has passed.
func (s *SimulationStorage) ListDue(ctx context.Context, now time.Time) ([]*core.Simulation, error) {
	filter := bson.M{
		"status":       core.SimulationStatusScheduled,
		"scheduled_at": bson.M{"$lte": now, "$ne": nil},
	}
	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list due simulations: %w", mapMongoErr(err))
	}
	defer cursor.Close(ctx)

	var sims []*core.Simulation
	if err := cursor.All(ctx, &sims); err != nil {
		return nil, fmt.Errorf("failed to decode due simulations: %w", mapMongoErr(err))
	}
	return sims, nil
}

// CompareAndSwapSimulationStatus transitions a simulation from one
// status to another, guarded by the expected current status. Entering
// running stamps started_at; entering a terminal status stamps
// ended_at. Returns core.ErrInvalidTransition when another writer moved
// the status first.
func (s *SimulationStorage) CompareAndSwapSimulationStatus(ctx context.Context, simulationID string, from, to core.SimulationStatus) error {
	now := time.Now().UTC()
	set := bson.M{
		"status":     to,
		"updated_at": now,
	}
	if to == core.SimulationStatusRunning {
		set["started_at"] = now
	}
	if to.IsTerminal() {
		set["ended_at"] = now
	}

	filter := bson.M{"_id": simulationID, "status": from}
	result, err := s.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to transition simulation %s: %w", simulationID, mapMongoErr(err))
	}
	if result.MatchedCount == 0 {
		count, err := s.collection.CountDocuments(ctx, bson.M{"_id": simulationID})
		if err != nil {
			return fmt.Errorf("failed to check simulation %s: %w", simulationID, mapMongoErr(err))
		}
		if count == 0 {
			return fmt.Errorf("simulation %s: %w", simulationID, core.ErrNotFound)
		}
		return fmt.Errorf("%w: simulation %s left status %s", core.ErrInvalidTransition, simulationID, from)
	}
	return nil
}

// AppendEventRef records an event generated by the run. Allowed in any
// status.
func (s *SimulationStorage) AppendEventRef(ctx context.Context, simulationID, eventID string) error {
	update := bson.M{
		"$push": bson.M{"event_ids": eventID},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	return s.updateByID(ctx, simulationID, update)
}

// AppendAlertRef associates an alert triggered by the run. Allowed in
// any status, including terminal, for late correlation.
func (s *SimulationStorage) AppendAlertRef(ctx context.Context, simulationID, alertID string) error {
	update := bson.M{
		"$addToSet": bson.M{"alert_ids": alertID},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}
	return s.updateByID(ctx, simulationID, update)
}

// SetResult writes one result entry. Allowed in any status, including
// terminal, for late scoring.
func (s *SimulationStorage) SetResult(ctx context.Context, simulationID, key string, value interface{}) error {
	update := bson.M{"$set": bson.M{
		"results." + key: value,
		"updated_at":     time.Now().UTC(),
	}}
	return s.updateByID(ctx, simulationID, update)
}

func (s *SimulationStorage) updateByID(ctx context.Context, simulationID string, update bson.M) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": simulationID}, update)
	if err != nil {
		return fmt.Errorf("failed to update simulation %s: %w", simulationID, mapMongoErr(err))
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("simulation %s: %w", simulationID, core.ErrNotFound)
	}
	return nil
}
