package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
	"ugcserver/internal/sqlinline"
)

// AssetRepositoryPG implements domain.VideoAssetRepository using PostgreSQL.
type AssetRepositoryPG struct {
	db infra.SQLExecutor
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(db infra.SQLExecutor) *AssetRepositoryPG {
	return &AssetRepositoryPG{db: db}
}

// Create inserts asset. A second insert with the same id returns
// domain.ErrAssetExists.
func (r *AssetRepositoryPG) Create(ctx context.Context, asset *domain.VideoAsset) error {
	meta := asset.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode asset meta: %w", err)
	}
	status := asset.Status
	if status == "" {
		status = domain.VideoStatusCompleted
	}
	err = r.db.QueryRow(ctx, sqlinline.QAssetInsert,
		asset.ID,
		asset.ProjectID,
		asset.ActorID,
		asset.ImageVariantID,
		string(asset.SourceType),
		asset.SourceText,
		asset.SourceAudioURL,
		asset.ImageURL,
		asset.VideoURL,
		asset.DurationSeconds,
		string(status),
		metaJSON,
	).Scan(&asset.CreatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrAssetExists
		}
		return fmt.Errorf("insert video asset: %w", err)
	}
	asset.Status = status
	return nil
}

// GetByID returns the asset with the given id.
func (r *AssetRepositoryPG) GetByID(ctx context.Context, id string) (*domain.VideoAsset, error) {
	var (
		asset      domain.VideoAsset
		sourceType string
		status     string
		meta       []byte
	)
	err := r.db.QueryRow(ctx, sqlinline.QAssetGetByID, id).Scan(
		&asset.ID,
		&asset.ProjectID,
		&asset.ActorID,
		&asset.ImageVariantID,
		&sourceType,
		&asset.SourceText,
		&asset.SourceAudioURL,
		&asset.ImageURL,
		&asset.VideoURL,
		&asset.DurationSeconds,
		&status,
		&meta,
		&asset.CreatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	asset.SourceType = domain.SourceKind(sourceType)
	asset.Status = domain.VideoStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &asset.Meta); err != nil {
			return nil, fmt.Errorf("decode asset %s meta: %w", asset.ID, err)
		}
	}
	return &asset, nil
}

var _ domain.VideoAssetRepository = (*AssetRepositoryPG)(nil)
