// Package blobsvc stores uploaded files on the local disk, in S3 or in Backblaze B2.
package blobsvc

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

// NewStore returns the BlobStore selected by conf.Blob.Driver.
func NewStore(ctx context.Context, conf *core.Config) (core.BlobStore, error) {
	switch conf.Blob.Driver {
	case core.BlobLocal, "":
		dir := conf.Blob.Dir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(conf.WorkDir, dir)
		}
		return NewLocalStore(dir)
	case core.BlobS3:
		return NewS3Store(conf.Blob.Region, conf.Blob.Bucket)
	case core.BlobB2:
		return NewB2Store(ctx, conf.Blob.B2AccountID, conf.Blob.B2AppKey, conf.Blob.Bucket)
	}
	return nil, errors.Errorf("unknown blob driver %q", conf.Blob.Driver)
}
