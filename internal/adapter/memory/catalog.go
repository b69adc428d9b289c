package memory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ugcserver/internal/domain"
)

// CatalogFile is the YAML layout of an actor seed file.
type CatalogFile struct {
	Actors   []domain.Actor        `yaml:"actors"`
	Variants []domain.ImageVariant `yaml:"variants"`
}

// Catalog implements domain.ActorCatalog over a fixed set of entries.
type Catalog struct {
	actors   map[string]domain.Actor
	variants map[string]domain.ImageVariant
}

func NewCatalog(actors []domain.Actor, variants []domain.ImageVariant) *Catalog {
	c := &Catalog{
		actors:   make(map[string]domain.Actor, len(actors)),
		variants: make(map[string]domain.ImageVariant, len(variants)),
	}
	for _, a := range actors {
		c.actors[a.Key] = a
	}
	for _, v := range variants {
		c.variants[strings.ToLower(v.ID)] = v
	}
	return c
}

// ReadCatalogFile parses and checks a YAML seed file.
func ReadCatalogFile(path string) (*CatalogFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var file CatalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(file.Actors))
	for i, a := range file.Actors {
		if a.ID == "" || a.Key == "" || a.ImageURL == "" || a.VoiceID == "" {
			return nil, fmt.Errorf("catalog: actor #%d needs id, key, image_url and voice_id", i+1)
		}
		if _, dup := seen[a.Key]; dup {
			return nil, fmt.Errorf("catalog: duplicate actor key %q", a.Key)
		}
		seen[a.Key] = struct{}{}
		if file.Actors[i].VoiceProvider == "" {
			file.Actors[i].VoiceProvider = "fal"
		}
	}
	for i, v := range file.Variants {
		if v.ID == "" || v.OutputImageURL == "" {
			return nil, fmt.Errorf("catalog: variant #%d needs id and output_image_url", i+1)
		}
	}
	return &file, nil
}

// LoadCatalog builds a Catalog from a YAML seed file.
func LoadCatalog(path string) (*Catalog, error) {
	file, err := ReadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	return NewCatalog(file.Actors, file.Variants), nil
}

func (c *Catalog) ActorByKey(_ context.Context, key string) (*domain.Actor, error) {
	a, ok := c.actors[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &a, nil
}

func (c *Catalog) ImageVariantByID(_ context.Context, id string) (*domain.ImageVariant, error) {
	v, ok := c.variants[strings.ToLower(id)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &v, nil
}

var _ domain.ActorCatalog = (*Catalog)(nil)
