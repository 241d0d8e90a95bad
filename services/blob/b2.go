package blobsvc

import (
	"context"
	"io"

	"github.com/kurin/blazer/b2"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

// b2Store keeps files in a Backblaze B2 bucket.
type b2Store struct {
	bucket *b2.Bucket
}

var _ core.BlobStore = (*b2Store)(nil)

func NewB2Store(ctx context.Context, accountID, appKey, bucketName string) (core.BlobStore, error) {
	client, err := b2.NewClient(ctx, accountID, appKey)
	if err != nil {
		return nil, errors.Wrap(err, "creating b2 client")
	}
	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, errors.Wrap(err, "getting b2 bucket")
	}
	return &b2Store{bucket: bucket}, nil
}

func (s *b2Store) Put(ctx context.Context, key string, r io.Reader, _ int64) (string, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", errors.Wrap(err, "writing b2 object")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "closing b2 writer")
	}
	return key, nil
}

func (s *b2Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	obj := s.bucket.Object(path)
	if _, err := obj.Attrs(ctx); err != nil {
		if b2.IsNotExist(err) {
			return nil, core.ErrBlobNotFound
		}
		return nil, errors.Wrap(err, "reading b2 object attributes")
	}
	return obj.NewReader(ctx), nil
}

func (s *b2Store) Delete(ctx context.Context, path string) error {
	if err := s.bucket.Object(path).Delete(ctx); err != nil {
		if b2.IsNotExist(err) {
			return core.ErrBlobNotFound
		}
		return errors.Wrap(err, "deleting b2 object")
	}
	return nil
}
