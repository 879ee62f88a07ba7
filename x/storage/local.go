// Package storage keeps attachment contents out of the database
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/postbox/core"
)

var tracer = otel.Tracer("storage")

type localStore struct {
	root string
}

// NewLocalStore stores blobs as files below root
func NewLocalStore(root string) (core.BlobStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrap(err, "failed to create storage root")
	}
	return &localStore{root: root}, nil
}

func (s *localStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if strings.Contains(key, "..") || clean == "/" {
		return "", core.NewErrorInvalidArgument("key", "is not a valid storage key")
	}
	return filepath.Join(s.root, clean), nil
}

func (s *localStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, span := tracer.Start(ctx, "Storage.Local.Put")
	defer span.End()

	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to create blob directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to create blob")
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		span.RecordError(err)
		return errors.Wrap(err, "failed to write blob")
	}
	if size >= 0 && written != size {
		tmp.Close()
		return core.NewErrorInvalidArgument("file", "size does not match its content")
	}
	if err := tmp.Close(); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to write blob")
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "failed to commit blob")
	}

	return nil
}

func (s *localStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_, span := tracer.Start(ctx, "Storage.Local.Open")
	defer span.End()

	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.NewErrorNotFound()
		}
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to open blob")
	}
	return f, nil
}

// Delete removes the blob. missing blobs are not an error
func (s *localStore) Delete(ctx context.Context, key string) error {
	_, span := tracer.Start(ctx, "Storage.Local.Delete")
	defer span.End()

	path, err := s.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		span.RecordError(err)
		return errors.Wrap(err, "failed to delete blob")
	}
	return nil
}
