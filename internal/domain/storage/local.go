package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalBackend stores each object at <dir>/<key> with its metadata in a
// <key>.meta.json sidecar. With a Cipher the object bytes are encrypted.
type LocalBackend struct {
	dir    string
	cipher *Cipher
}

func NewLocalBackend(dir string, c *Cipher) (*LocalBackend, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalBackend{dir: dir, cipher: c}, nil
}

func (b *LocalBackend) path(key string) string {
	return filepath.Join(b.dir, filepath.FromSlash(key))
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (b *LocalBackend) Put(_ context.Context, key string, data []byte, meta *Metadata) error {
	if b.cipher != nil {
		sealed, err := b.cipher.Seal(data)
		if err != nil {
			return err
		}
		data = sealed
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	p := b.path(key)
	if err := writeAtomic(p, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := writeAtomic(p+metaSuffix, raw); err != nil {
		os.Remove(p)
		return fmt.Errorf("write %s metadata: %w", key, err)
	}
	return nil
}

func (b *LocalBackend) Get(ctx context.Context, key string) (io.ReadCloser, *Metadata, error) {
	meta, err := b.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, notFound(key)
		}
		return nil, nil, err
	}
	if b.cipher != nil {
		if data, err = b.cipher.Open(data); err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", key, err)
		}
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

func (b *LocalBackend) Stat(_ context.Context, key string) (*Metadata, error) {
	raw, err := os.ReadFile(b.path(key) + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", key, err)
	}
	return &meta, nil
}

func (b *LocalBackend) Delete(_ context.Context, key string) error {
	p := b.path(key)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFound(key)
		}
		return err
	}
	if err := os.Remove(p + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *LocalBackend) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(b.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, metaSuffix) || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(b.dir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
