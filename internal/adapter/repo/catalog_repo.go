package repo

import (
	"context"
	"fmt"

	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
	"ugcserver/internal/sqlinline"
)

// CatalogRepositoryPG reads actors and image variants from PostgreSQL.
type CatalogRepositoryPG struct {
	db infra.SQLExecutor
}

func NewCatalogRepository(db infra.SQLExecutor) *CatalogRepositoryPG {
	return &CatalogRepositoryPG{db: db}
}

func (r *CatalogRepositoryPG) ActorByKey(ctx context.Context, key string) (*domain.Actor, error) {
	var a domain.Actor
	err := r.db.QueryRow(ctx, sqlinline.QActorByKey, key).Scan(&a.ID, &a.Key, &a.DisplayName, &a.ImageURL, &a.VoiceProvider, &a.VoiceID)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *CatalogRepositoryPG) ImageVariantByID(ctx context.Context, id string) (*domain.ImageVariant, error) {
	var v domain.ImageVariant
	err := r.db.QueryRow(ctx, sqlinline.QImageVariantByID, id).Scan(&v.ID, &v.ActorID, &v.ProjectID, &v.Prompt, &v.OutputImageURL)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// Seed upserts actors and variants, usually loaded from the YAML catalog.
// Actors are matched by key, variants by id.
func (r *CatalogRepositoryPG) Seed(ctx context.Context, actors []domain.Actor, variants []domain.ImageVariant) error {
	for _, a := range actors {
		if _, err := r.db.Exec(ctx, sqlinline.QActorUpsert, a.ID, a.Key, a.DisplayName, a.ImageURL, a.VoiceProvider, a.VoiceID); err != nil {
			return fmt.Errorf("seed actor %s: %w", a.Key, err)
		}
	}
	for _, v := range variants {
		if _, err := r.db.Exec(ctx, sqlinline.QImageVariantUpsert, v.ID, v.ActorID, v.ProjectID, v.Prompt, v.OutputImageURL); err != nil {
			return fmt.Errorf("seed image variant %s: %w", v.ID, err)
		}
	}
	return nil
}

// EnsureSchema creates the tables the repositories need.
func EnsureSchema(ctx context.Context, db infra.SQLExecutor) error {
	if _, err := db.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

var _ domain.ActorCatalog = (*CatalogRepositoryPG)(nil)
