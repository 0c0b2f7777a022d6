package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Journal stores reconciliation cases: payments that were captured while the
// cart could not be moved to purchased.
type Journal struct {
	coll *mongo.Collection
}

func NewJournal(db *mongo.Database) *Journal {
	return &Journal{coll: db.Collection(CasesCollection)}
}

// RecordCase files c once per session. Recording the same session again keeps
// the original case.
func (j *Journal) RecordCase(ctx context.Context, c models.ReconciliationCase) error {
	if c.Status == "" {
		c.Status = models.CaseOpen
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.ID = bson.ObjectID{}

	_, err := j.coll.UpdateOne(ctx,
		bson.D{{Key: "session_id", Value: c.SessionID}},
		bson.D{{Key: "$setOnInsert", Value: c}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("record reconciliation case %s: %w", c.SessionID, err)
	}
	return nil
}

// OpenCases lists unresolved cases, oldest first.
func (j *Journal) OpenCases(ctx context.Context, limit int64) ([]models.ReconciliationCase, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	cursor, err := j.coll.Find(ctx, openCasesFilter(),
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list reconciliation cases: %w", err)
	}
	defer cursor.Close(ctx)

	cases := []models.ReconciliationCase{}
	if err := cursor.All(ctx, &cases); err != nil {
		return nil, fmt.Errorf("decode reconciliation cases: %w", err)
	}
	return cases, nil
}

// Resolve closes an open case with a support note.
func (j *Journal) Resolve(ctx context.Context, id string, note string) (models.ReconciliationCase, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return models.ReconciliationCase{}, models.ErrNotFound
	}

	now := time.Now().UTC()
	var out models.ReconciliationCase
	err = j.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}, {Key: "status", Value: models.CaseOpen}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: models.CaseResolved},
			{Key: "note", Value: note},
			{Key: "resolved_at", Value: now},
		}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ReconciliationCase{}, models.ErrNotFound
	}
	if err != nil {
		return models.ReconciliationCase{}, fmt.Errorf("resolve reconciliation case %s: %w", id, err)
	}
	return out, nil
}

// OpenExposure groups open cases by currency.
func (j *Journal) OpenExposure(ctx context.Context) ([]models.CurrencyExposure, error) {
	cursor, err := j.coll.Aggregate(ctx, exposurePipeline())
	if err != nil {
		return nil, fmt.Errorf("aggregate reconciliation exposure: %w", err)
	}
	defer cursor.Close(ctx)

	out := []models.CurrencyExposure{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode reconciliation exposure: %w", err)
	}
	return out, nil
}

func openCasesFilter() bson.D {
	return bson.D{{Key: "status", Value: models.CaseOpen}}
}

func exposurePipeline() bson.A {
	return bson.A{
		bson.D{{Key: "$match", Value: openCasesFilter()}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$currency"},
			{Key: "cases", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "amount_minor", Value: bson.D{{Key: "$sum", Value: "$amount_minor"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}
