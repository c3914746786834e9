package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
)

// MemoryAssetGroupRepository is an in-memory implementation of
// AssetGroupRepository. Records are deep-copied on the way in and out.
type MemoryAssetGroupRepository struct {
	mu     sync.RWMutex
	groups map[string]*entities.AssetGroup
}

// Ensure MemoryAssetGroupRepository implements the repository interface
var _ repositories.AssetGroupRepository = (*MemoryAssetGroupRepository)(nil)

// NewMemoryAssetGroupRepository creates a new in-memory asset group repository
func NewMemoryAssetGroupRepository() *MemoryAssetGroupRepository {
	return &MemoryAssetGroupRepository{
		groups: make(map[string]*entities.AssetGroup),
	}
}

func cloneGroup(g *entities.AssetGroup) *entities.AssetGroup {
	c := *g
	c.Segments = append([]entities.SegmentRecord(nil), g.Segments...)
	c.RepetitionsRemoved = append([]entities.RepetitionRange(nil), g.RepetitionsRemoved...)
	if g.Combined != nil {
		combined := *g.Combined
		c.Combined = &combined
	}
	return &c
}

// Save implements repositories.AssetGroupRepository
func (m *MemoryAssetGroupRepository) Save(ctx context.Context, group *entities.AssetGroup) error {
	if group == nil || group.ID == "" {
		return errors.New("asset group must have an ID")
	}

	now := time.Now()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[group.ID] = cloneGroup(group)
	return nil
}

// Get implements repositories.AssetGroupRepository
func (m *MemoryAssetGroupRepository) Get(ctx context.Context, id string) (*entities.AssetGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group, exists := m.groups[id]
	if !exists {
		return nil, fmt.Errorf("asset group %s: %w", id, entities.ErrNotFound)
	}
	return cloneGroup(group), nil
}

// UpdateSegment implements repositories.AssetGroupRepository
func (m *MemoryAssetGroupRepository) UpdateSegment(ctx context.Context, id string, segment entities.SegmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	group, exists := m.groups[id]
	if !exists {
		return fmt.Errorf("asset group %s: %w", id, entities.ErrNotFound)
	}

	now := time.Now()
	if segment.UpdatedAt.IsZero() {
		segment.UpdatedAt = now
	}
	group.UpdatedAt = now

	if existing, ok := group.Segment(segment.Index); ok {
		*existing = segment
		return nil
	}
	group.Segments = append(group.Segments, segment)
	sort.Slice(group.Segments, func(i, j int) bool {
		return group.Segments[i].Index < group.Segments[j].Index
	})
	return nil
}
