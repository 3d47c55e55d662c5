// Package storage keeps audio and image blobs, either in an S3 bucket or
// in a local directory.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"leadflow/config"
)

// BlobStore persists media blobs by key.
type BlobStore interface {
	Put(ctx context.Context, companyID, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

// New returns the S3 store when a bucket is configured and the local store
// otherwise.
func New(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	if cfg.S3Enabled() {
		return NewS3Store(ctx, S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
	}
	log.Info().Str("root", cfg.MediaRoot).Msg("S3 not configured, storing media on local disk")
	return NewLocalStore(cfg.MediaRoot)
}

// Key builds the object key {company_id}/{yyyy/mm/dd}/{uuid}.ext.
func Key(companyID, contentType string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s%s", companyID, at.UTC().Format("2006/01/02"), uuid.NewString(), Extension(contentType))
}

// Extension maps a MIME type to a file extension.
func Extension(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "opus"):
		return ".opus"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	case strings.Contains(mimeType, "mp4"), strings.Contains(mimeType, "m4a"), strings.Contains(mimeType, "aac"):
		return ".m4a"
	case strings.Contains(mimeType, "amr"):
		return ".amr"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	}
	return ".bin"
}

func contentTypeOrDefault(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	if i := strings.Index(ct, ";"); i >= 0 {
		return strings.TrimSpace(ct[:i])
	}
	return ct
}
