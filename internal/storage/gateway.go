// Package storage persists provider outputs into durable buckets and derives
// their public URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"ugcserver/internal/domain"
	"ugcserver/internal/infra"
)

// PublicPrefix is the path under which objects are publicly readable.
const PublicPrefix = "/storage/v1/object/public/"

const (
	// DefaultDownloadTimeout bounds a download when no client is supplied.
	DefaultDownloadTimeout = 5 * time.Minute

	maxDownloadBytes = 512 << 20
)

var knownTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// ObjectStore is a bucketed blob backend. Put overwrites existing objects.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key, contentType string, data []byte) error
}

// Gateway copies remote artifacts into an ObjectStore.
type Gateway struct {
	store      ObjectStore
	publicBase string
	httpClient *http.Client
	logger     *infra.Logger
	maxBytes   int64
}

// NewGateway builds a gateway. publicBase is the origin public URLs are
// rooted at.
func NewGateway(store ObjectStore, publicBase string, httpClient *http.Client, logger *infra.Logger) *Gateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultDownloadTimeout}
	}
	return &Gateway{
		store:      store,
		publicBase: strings.TrimRight(publicBase, "/"),
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(logger),
		maxBytes:   maxDownloadBytes,
	}
}

// PublicURL derives the public address of bucket/key without any I/O.
func (g *Gateway) PublicURL(bucket, key string) string {
	return g.publicBase + PublicPrefix + bucket + "/" + strings.TrimLeft(key, "/")
}

// Persist downloads remoteURL and uploads it to bucket/key, returning the
// public URL. Re-running with the same key overwrites the object.
func (g *Gateway) Persist(ctx context.Context, bucket, key, remoteURL string) (string, error) {
	data, contentType, err := g.download(ctx, remoteURL)
	if err != nil {
		return "", err
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(key)
	}
	if err := g.store.Put(ctx, bucket, key, contentType, data); err != nil {
		return "", fmt.Errorf("%w: upload %s/%s: %v", domain.ErrStorage, bucket, key, err)
	}
	publicURL := g.PublicURL(bucket, key)
	g.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("storage: persisted object")
	return publicURL, nil
}

func (g *Gateway) download(ctx context.Context, remoteURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: build download request: %v", domain.ErrStorage, err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: download %s: %v", domain.ErrStorage, remoteURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: download %s: status %d", domain.ErrStorage, remoteURL, resp.StatusCode)
	}
	if resp.ContentLength > g.maxBytes {
		return nil, "", fmt.Errorf("%w: download %s: %d bytes exceeds limit of %d", domain.ErrStorage, remoteURL, resp.ContentLength, g.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", domain.ErrStorage, remoteURL, err)
	}
	if int64(len(data)) > g.maxBytes {
		return nil, "", fmt.Errorf("%w: download %s: body exceeds limit of %d bytes", domain.ErrStorage, remoteURL, g.maxBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	return data, contentType, nil
}

func contentTypeFor(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
