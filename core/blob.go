package core

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const DefaultMaxUploadSize int64 = 5 * 1024 * 1024 // 5 MB

var (
	DefaultAllowedExtensions = []string{"pdf", "jpg", "jpeg", "png", "zip", "txt"}

	ErrNoFile            = errors.New("no selected file")
	ErrInvalidFileType   = errors.New("invalid file type")
	ErrFileTooLarge      = errors.New("file too large")
	ErrBlobNotFound      = NewNotFoundError("file")
	errInvalidUploadName = errors.New("invalid file name")
)

// BlobStore is any service that can store uploaded files.
type BlobStore interface {
	// Put stores the content of r under key and returns the stored file path.
	Put(ctx context.Context, key string, r io.Reader, size int64) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// UploadPolicy restricts which files may be submitted.
type UploadPolicy struct {
	MaxSize           int64
	AllowedExtensions []string
}

func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{MaxSize: DefaultMaxUploadSize, AllowedExtensions: DefaultAllowedExtensions}
}

// Check validates the name and size of an uploaded file.
func (p UploadPolicy) Check(filename string, size int64) error {
	if CleanString(filename) == "" {
		return NewValidationError(ErrNoFile, FieldError{Field: "file", Error: ErrNoFile.Error()})
	}
	if !p.Allowed(filename) {
		return NewValidationError(ErrInvalidFileType, FieldError{Field: "file", Error: ErrInvalidFileType.Error()})
	}
	if p.MaxSize > 0 && size > p.MaxSize {
		msg := ErrFileTooLarge.Error() + "! limit is " + humanSize(p.MaxSize)
		return NewValidationError(ErrFileTooLarge, FieldError{Field: "file", Error: msg})
	}
	return nil
}

// Allowed reports whether filename carries an allowed extension.
func (p UploadPolicy) Allowed(filename string) bool {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return false
	}
	ext := strings.ToLower(filename[i+1:])
	for _, allowed := range p.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// SubmissionFilename derives the stored name of a file uploaded for an assignment.
func SubmissionFilename(assignmentID, original string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(original, "\\", "/")))
	name = strings.TrimSpace(name)
	if name == "" || name == "/" || name == "." {
		return "", errInvalidUploadName
	}
	return assignmentID + "_" + name, nil
}

// SubmissionBlobKey namespaces a stored file by student.
func SubmissionBlobKey(studentID, filename string) string {
	return studentID + "/" + filename
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return strconv.FormatInt(n/mb, 10) + "MB"
	}
	return strconv.FormatInt(n, 10) + "B"
}
