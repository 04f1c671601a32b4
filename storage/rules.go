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

// RuleCursor interface for mocking.
type RuleCursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
}

// RuleSingleResult interface for mocking.
type RuleSingleResult interface {
	Decode(v interface{}) error
}

// RuleCollection interface for mocking.
type RuleCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) RuleSingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (RuleCursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

type mongoRuleCursor struct {
	*mongo.Cursor
}

func (m *mongoRuleCursor) All(ctx context.Context, results interface{}) error {
	return m.Cursor.All(ctx, results)
}

func (m *mongoRuleCursor) Close(ctx context.Context) error {
	return m.Cursor.Close(ctx)
}

type mongoRuleSingleResult struct {
	*mongo.SingleResult
}

func (m *mongoRuleSingleResult) Decode(v interface{}) error {
	return m.SingleResult.Decode(v)
}

type mongoRuleCollection struct {
	*mongo.Collection
}

func (m *mongoRuleCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) RuleSingleResult {
	return &mongoRuleSingleResult{SingleResult: m.Collection.FindOne(ctx, filter, opts...)}
}

func (m *mongoRuleCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (RuleCursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoRuleCursor{Cursor: cursor}, nil
}

// RuleStorage persists detection rules in MongoDB. It implements
// detect.RuleSource for the evaluation path and backs the management
// operations in detect.Manager.
type RuleStorage struct {
	collection RuleCollection
	logger     *zap.SugaredLogger
}

// NewRuleStorage creates a rule storage backed by the given database.
func NewRuleStorage(db *MongoDB, logger *zap.SugaredLogger) *RuleStorage {
	return &RuleStorage{
		collection: &mongoRuleCollection{Collection: db.Database.Collection(rulesCollection)},
		logger:     logger,
	}
}

// GetActiveRules returns all enabled and testing rules.
func (s *RuleStorage) GetActiveRules(ctx context.Context) ([]*core.DetectionRule, error) {
	filter := bson.M{"status": bson.M{"$in": []core.RuleStatus{core.RuleStatusEnabled, core.RuleStatusTesting}}}
	cursor, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", mapMongoErr(err))
	}
	defer cursor.Close(ctx)

	var rules []*core.DetectionRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode active rules: %w", mapMongoErr(err))
	}
	return rules, nil
}

// GetRule retrieves one rule by id.
func (s *RuleStorage) GetRule(ctx context.Context, ruleID string) (*core.DetectionRule, error) {
	var rule core.DetectionRule
	err := s.collection.FindOne(ctx, bson.M{"_id": ruleID}).Decode(&rule)
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, mapMongoErr(err))
	}
	return &rule, nil
}

// InsertRule stores a new rule. Rule names are unique; a duplicate
// insert surfaces as core.ErrInvalidRule.
func (s *RuleStorage) InsertRule(ctx context.Context, rule *core.DetectionRule) error {
	count, err := s.collection.CountDocuments(ctx, bson.M{"name": rule.Name})
	if err != nil {
		return fmt.Errorf("failed to check rule name: %w", mapMongoErr(err))
	}
	if count > 0 {
		return fmt.Errorf("%w: rule name %q already exists", core.ErrInvalidRule, rule.Name)
	}
	if _, err := s.collection.InsertOne(ctx, rule); err != nil {
		return fmt.Errorf("failed to insert rule: %w", mapMongoErr(err))
	}
	return nil
}

// UpdatePredicate replaces a rule's predicate and severity.
func (s *RuleStorage) UpdatePredicate(ctx context.Context, ruleID string, predicate core.Predicate, severity core.Severity) error {
	update := bson.M{"$set": bson.M{
		"predicate":  predicate,
		"severity":   severity,
		"updated_at": time.Now().UTC(),
	}}
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": ruleID}, update)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", ruleID, mapMongoErr(err))
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, core.ErrNotFound)
	}
	return nil
}

// CompareAndSwapStatus transitions a rule from one status to another,
// guarded by the expected current status so concurrent transitions
// cannot skip an edge. Returns core.ErrInvalidTransition when the rule
// is no longer in the expected status.
func (s *RuleStorage) CompareAndSwapStatus(ctx context.Context, ruleID string, from, to core.RuleStatus) error {
	filter := bson.M{"_id": ruleID, "status": from}
	update := bson.M{"$set": bson.M{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}}

	result, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to transition rule %s: %w", ruleID, mapMongoErr(err))
	}
	if result.MatchedCount == 0 {
		count, err := s.collection.CountDocuments(ctx, bson.M{"_id": ruleID})
		if err != nil {
			return fmt.Errorf("failed to check rule %s: %w", ruleID, mapMongoErr(err))
		}
		if count == 0 {
			return fmt.Errorf("rule %s: %w", ruleID, core.ErrNotFound)
		}
		return fmt.Errorf("%w: rule %s left status %s", core.ErrInvalidTransition, ruleID, from)
	}
	return nil
}

// ListRules returns all rules, newest first.
func (s *RuleStorage) ListRules(ctx context.Context) ([]*core.DetectionRule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", mapMongoErr(err))
	}
	defer cursor.Close(ctx)

	var rules []*core.DetectionRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", mapMongoErr(err))
	}
	return rules, nil
}

// DeleteRule removes a rule permanently.
func (s *RuleStorage) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": ruleID})
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, mapMongoErr(err))
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, core.ErrNotFound)
	}
	return nil
}
