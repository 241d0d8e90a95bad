package blobsvc

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

var errInvalidKey = errors.New("invalid blob key")

// localStore keeps files under a directory of the local file system.
type localStore struct {
	root string
}

var _ core.BlobStore = (*localStore)(nil)

func NewLocalStore(root string) (core.BlobStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating upload directory")
	}
	return &localStore{root: root}, nil
}

// resolve maps a key to a file path under root, refusing keys that leave it.
func (s *localStore) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	if clean == string(filepath.Separator) {
		return "", errInvalidKey
	}
	p := filepath.Join(s.root, clean)
	if !strings.HasPrefix(p, filepath.Clean(s.root)+string(filepath.Separator)) {
		return "", errInvalidKey
	}
	return p, nil
}

func (s *localStore) Put(_ context.Context, key string, r io.Reader, _ int64) (string, error) {
	p, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", errors.Wrap(err, "creating directory")
	}

	f, err := os.Create(p)
	if err != nil {
		return "", errors.Wrap(err, "creating file")
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return "", errors.Wrap(err, "writing file")
	}
	if err = f.Close(); err != nil {
		return "", errors.Wrap(err, "closing file")
	}
	return key, nil
}

func (s *localStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	p, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrBlobNotFound
		}
		return nil, errors.Wrap(err, "opening file")
	}
	return f, nil
}

func (s *localStore) Delete(_ context.Context, path string) error {
	p, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err = os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return core.ErrBlobNotFound
		}
		return errors.Wrap(err, "removing file")
	}
	return nil
}
