// Package storage is the blob store behind complex obs values, form
// resources and direct uploads. Objects are addressed by opaque keys and
// kept in one of three backends: memory, the local filesystem or S3.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/ehr/emr/internal/platform/apierr"
)

// MaxObjectSize is the largest object SaveData accepts (100 MiB).
const MaxObjectSize = 100 << 20

// ErrTooLarge is returned when content exceeds MaxObjectSize.
var ErrTooLarge = &apierr.Error{
	Kind:    apierr.ErrValidation,
	Code:    "storage.tooLarge",
	Field:   "content",
	Message: "content exceeds the 100 MiB limit",
}

// Metadata describes a stored object.
type Metadata struct {
	Key       string    `json:"key"`
	Filename  string    `json:"filename,omitempty"`
	MimeType  string    `json:"mime_type"`
	Length    int64     `json:"length"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
	Creator   string    `json:"creator"`
}

// Backend persists bytes and metadata under a validated key.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, meta *Metadata) error
	Get(ctx context.Context, key string) (io.ReadCloser, *Metadata, error)
	Stat(ctx context.Context, key string) (*Metadata, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

func notFound(key string) error {
	return apierr.NotFound("storage", key)
}

var errInvalidUpload = apierr.Invalid("file", "storage.file.required", "a multipart file field is required")
