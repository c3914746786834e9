package repositories

import (
	"context"

	"github.com/satriahrh/narrasi/domain/entities"
)

// ObjectStorage persists audio assets under slash-separated paths
type ObjectStorage interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
	PublicURL(path string) string
}

// AssetGroupRepository persists the per-segment breakdown of a request
type AssetGroupRepository interface {
	Save(ctx context.Context, group *entities.AssetGroup) error
	Get(ctx context.Context, id string) (*entities.AssetGroup, error)
	UpdateSegment(ctx context.Context, id string, segment entities.SegmentRecord) error
}
