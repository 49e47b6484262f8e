// Package file implements photostore.Store on a local directory laid out as
// <base>/<owner>/<photo>.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/ramekin/pkg/photostore"
)

var (
	_ photostore.Store  = (*Store)(nil)
	_ photostore.Putter = (*Store)(nil)
)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

type Store struct {
	baseDir string
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (s *Store) Head(ctx context.Context, ownerID, photoID string) (*photostore.Meta, error) {
	_ = ctx
	key, path, err := s.fullPath(ownerID, photoID)
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}
	if info.IsDir() {
		return nil, s.wrapError("Head", key, fs.ErrNotExist)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, s.wrapError("Head", key, err)
	}
	defer func() { _ = f.Close() }()
	sniff := make([]byte, 512)
	n, _ := io.ReadFull(f, sniff)

	return &photostore.Meta{
		ID:          photoID,
		OwnerID:     ownerID,
		Size:        info.Size(),
		ContentType: http.DetectContentType(sniff[:n]),
	}, nil
}

func (s *Store) Get(ctx context.Context, ownerID, photoID string) (*photostore.Photo, error) {
	_ = ctx
	key, path, err := s.fullPath(ownerID, photoID)
	if err != nil {
		return nil, s.wrapError("Get", key, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, s.wrapError("Get", key, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, photostore.MaxPhotoBytes+1))
	if err != nil {
		return nil, s.wrapError("Get", key, err)
	}
	if len(data) > photostore.MaxPhotoBytes {
		return nil, s.wrapError("Get", key, photostore.ErrTooLarge)
	}

	return &photostore.Photo{
		Meta: photostore.Meta{
			ID:          photoID,
			OwnerID:     ownerID,
			Size:        int64(len(data)),
			ContentType: http.DetectContentType(data),
		},
		Data: data,
	}, nil
}

// Put writes a photo. contentType is ignored; it is sniffed on read.
func (s *Store) Put(ctx context.Context, ownerID, photoID, contentType string, data []byte) error {
	_ = ctx
	_ = contentType
	key, path, err := s.fullPath(ownerID, photoID)
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return s.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".photo.tmp.*")
	if err != nil {
		return s.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		return s.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return s.wrapError("Put", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return s.wrapError("Put", key, err)
	}
	return nil
}

func (s *Store) fullPath(ownerID, photoID string) (string, string, error) {
	key, err := photostore.Key(ownerID, photoID)
	if err != nil {
		return "", "", err
	}
	return key, filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}

func (s *Store) wrapError(op, key string, err error) error {
	wrapped := &photostore.Error{Op: op, Backend: photostore.BackendFile, Key: key, Err: err}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		wrapped.Err = photostore.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		wrapped.Err = photostore.ErrAccessDenied
	}
	return wrapped
}
