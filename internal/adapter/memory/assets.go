package memory

import (
	"context"
	"sync"
	"time"

	"ugcserver/internal/domain"
)

// AssetStore implements domain.VideoAssetRepository.
type AssetStore struct {
	mu     sync.RWMutex
	assets map[string]domain.VideoAsset
}

func NewAssetStore() *AssetStore {
	return &AssetStore{assets: make(map[string]domain.VideoAsset)}
}

func (s *AssetStore) Create(_ context.Context, asset *domain.VideoAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[asset.ID]; ok {
		return domain.ErrAssetExists
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	s.assets[asset.ID] = *asset
	return nil
}

func (s *AssetStore) GetByID(_ context.Context, id string) (*domain.VideoAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &asset, nil
}

// Len returns the number of stored assets.
func (s *AssetStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assets)
}

var _ domain.VideoAssetRepository = (*AssetStore)(nil)
