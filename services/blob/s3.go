package blobsvc

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

// s3Store keeps files in an S3 bucket. Credentials come from the default AWS chain.
type s3Store struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

var _ core.BlobStore = (*s3Store)(nil)

func NewS3Store(region, bucket string) (core.BlobStore, error) {
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	return &s3Store{
		bucket:   bucket,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, r io.Reader, _ int64) (string, error) {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return "", errors.Wrap(err, "uploading to s3")
	}
	return key, nil
}

func (s *s3Store) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, core.ErrBlobNotFound
		}
		return nil, errors.Wrap(err, "downloading from s3")
	}
	return out.Body, nil
}

func (s *s3Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	return errors.Wrap(err, "deleting from s3")
}
