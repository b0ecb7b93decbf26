package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
)

type Service struct {
	base.Support
	backend Backend
	limit   int64
}

func NewService(backend Backend) *Service {
	return &Service{backend: backend, limit: MaxObjectSize}
}

// SaveData stores content and returns its new key. A blank mime type is
// sniffed from the content.
func (s *Service) SaveData(ctx context.Context, content io.Reader, meta Metadata, moduleID string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(content, s.limit+1))
	if err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	if int64(len(data)) > s.limit {
		return "", ErrTooLarge
	}
	now := base.Now()
	key, err := NewKey(moduleID, meta.Filename, now)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	meta.Key = key
	meta.Length = int64(len(data))
	meta.SHA256 = hex.EncodeToString(sum[:])
	meta.CreatedAt = now
	meta.Creator = auth.ActorFromContext(ctx)
	if meta.MimeType == "" {
		meta.MimeType = http.DetectContentType(data)
	}
	if err := s.backend.Put(ctx, key, data, &meta); err != nil {
		return "", err
	}
	s.Record("storage", "save")
	s.Log().Debug().Str("key", key).Int64("length", meta.Length).Msg("stored object")
	return key, nil
}

// GetData returns a reader over the object; the caller closes it.
func (s *Service) GetData(ctx context.Context, key string) (io.ReadCloser, *Metadata, error) {
	if err := ValidateKey(key); err != nil {
		return nil, nil, err
	}
	return s.backend.Get(ctx, key)
}

// GetBytes reads the whole object.
func (s *Service) GetBytes(ctx context.Context, key string) ([]byte, *Metadata, error) {
	rc, meta, err := s.GetData(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", key, err)
	}
	return buf.Bytes(), meta, nil
}

func (s *Service) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	return s.backend.Stat(ctx, key)
}

func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.GetMetadata(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case apierr.Status(err) == http.StatusNotFound:
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) PurgeData(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		return err
	}
	s.Record("storage", "purge")
	return nil
}

// GetKeys lists keys starting with prefix in lexical order.
func (s *Service) GetKeys(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" {
		if err := ValidateKey(prefix); err != nil {
			return nil, err
		}
	}
	return s.backend.List(ctx, prefix)
}
