// Package credentials keeps generation provider API keys in Postgres so
// workers can start without them in the environment.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ugcserver/internal/infra"
	"ugcserver/internal/sqlinline"
)

const (
	ProviderFal       = "fal"
	ProviderWavespeed = "wavespeed"
)

// ErrUnknownProvider is returned for providers the pipeline does not call.
var ErrUnknownProvider = errors.New("credentials: unknown provider")

// Providers lists the providers a key can be stored for.
func Providers() []string {
	return []string{ProviderFal, ProviderWavespeed}
}

// EnvVar names the environment variable that overrides the stored key.
func EnvVar(provider string) string {
	switch provider {
	case ProviderFal:
		return "FAL_API_KEY"
	case ProviderWavespeed:
		return "WAVESPEED_API_KEY"
	}
	return ""
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key, or "" when none was saved.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	provider, err := normalize(provider)
	if err != nil {
		return "", err
	}
	row := s.sql.QueryRow(ctx, sqlinline.QProviderCredentialGet, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// Resolve prefers the explicit key and falls back to the stored one.
func (s *Store) Resolve(ctx context.Context, provider, explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	return s.Token(ctx, provider)
}

func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider, err := normalize(provider)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	return s.upsert(ctx, provider, token, nil)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QProviderCredentialUpsert, provider, token, raw)
	return err
}

func normalize(provider string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	switch p {
	case ProviderFal, ProviderWavespeed:
		return p, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownProvider, provider)
}
