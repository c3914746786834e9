package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
)

// AssetGroupRepository stores asset groups as single documents with an
// embedded segment array
type AssetGroupRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// Ensure AssetGroupRepository implements the repository interface
var _ repositories.AssetGroupRepository = (*AssetGroupRepository)(nil)

// NewAssetGroupRepository creates a new MongoDB asset group repository
func NewAssetGroupRepository(db *mongo.Database, logger *zap.Logger) *AssetGroupRepository {
	return &AssetGroupRepository{
		collection: db.Collection(assetGroupsCollection),
		logger:     logger,
	}
}

// Save implements repositories.AssetGroupRepository
func (r *AssetGroupRepository) Save(ctx context.Context, group *entities.AssetGroup) error {
	if group == nil || group.ID == "" {
		return errors.New("asset group must have an ID")
	}

	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": group.ID}, group, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save asset group: %w", err)
	}

	r.logger.Debug("Asset group saved",
		zap.String("assetGroupId", group.ID),
		zap.Int("segments", len(group.Segments)))
	return nil
}

// Get implements repositories.AssetGroupRepository
func (r *AssetGroupRepository) Get(ctx context.Context, id string) (*entities.AssetGroup, error) {
	var group entities.AssetGroup
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&group)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("asset group %s: %w", id, entities.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get asset group: %w", err)
	}
	return &group, nil
}

// UpdateSegment implements repositories.AssetGroupRepository. A segment
// index not yet present is appended.
func (r *AssetGroupRepository) UpdateSegment(ctx context.Context, id string, segment entities.SegmentRecord) error {
	now := time.Now()
	if segment.UpdatedAt.IsZero() {
		segment.UpdatedAt = now
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "segments.index": segment.Index},
		bson.M{"$set": bson.M{"segments.$": segment, "updated_at": now}})
	if err != nil {
		return fmt.Errorf("failed to update segment: %w", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	result, err = r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$push": bson.M{"segments": bson.M{"$each": bson.A{segment}, "$sort": bson.M{"index": 1}}},
			"$set":  bson.M{"updated_at": now},
		})
	if err != nil {
		return fmt.Errorf("failed to append segment: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("asset group %s: %w", id, entities.ErrNotFound)
	}
	return nil
}
