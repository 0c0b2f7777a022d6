package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const CasesCollection = "reconciliation_cases"

type IndexConfig struct {
	CollectionName string
	IndexModel     mongo.IndexModel
}

var requiredIndexes = []IndexConfig{
	// One case per provider session, so a retried failure never double-files.
	{
		CollectionName: CasesCollection,
		IndexModel: mongo.IndexModel{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_case_session_unique"),
		},
	},
	// Support queue: open cases, oldest first
	{
		CollectionName: CasesCollection,
		IndexModel: mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("idx_case_queue"),
		},
	},
	// Per-customer history
	{
		CollectionName: CasesCollection,
		IndexModel: mongo.IndexModel{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("idx_case_user"),
		},
	},
}

func EnsureIndexes(ctx context.Context, db *mongo.Database, log *slog.Logger) error {
	for _, idx := range requiredIndexes {
		idxCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		name, err := db.Collection(idx.CollectionName).Indexes().CreateOne(idxCtx, idx.IndexModel)
		cancel()
		if err != nil {
			return fmt.Errorf("create index on %s: %w", idx.CollectionName, err)
		}
		log.Info("index ready", slog.String("index", name), slog.String("collection", idx.CollectionName))
	}
	return nil
}
