package storage

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid storage config")
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrInvalidLayout = errors.New("invalid storage layout")
	ErrInvalidPath   = errors.New("staged path escapes the staging root")
)

// Storage uploads, deletes and streams files kept in a bucket.
type Storage interface {
	Upload(ctx context.Context, file File) (result UploadResult, err error)
	UploadProtected(ctx context.Context, file File) (result UploadResult, err error)
	// Delete is best effort: failures are logged and never returned.
	Delete(ctx context.Context, fileKey string)
	UploadStream(ctx context.Context, desc StreamDescriptor) (stream *UploadStream, err error)
	DownloadStream(ctx context.Context, fileKey string) (r io.ReadCloser, err error)
	// PresignedDownloadURL returns the public URL of fileKey. Nothing is signed.
	PresignedDownloadURL(fileKey string) string
}

// SignedURLProvider is implemented by backends that can issue time-limited download URLs.
type SignedURLProvider interface {
	SignedDownloadURL(ctx context.Context, fileKey string, expiry time.Duration) (url string, err error)
}

// AccessLevel is the object ACL sent with an upload.
type AccessLevel string

const (
	AccessDefault AccessLevel = "default"
	AccessPrivate AccessLevel = "private"
)

// File is a locally staged file waiting to be uploaded.
type File struct {
	// Path is relative to the staging root.
	Path         string
	OriginalName string
	// ContentType overrides the type derived from the extension.
	ContentType string
}

type UploadResult struct {
	URL string
	Key string
}

type StreamDescriptor struct {
	Name string
	// Ext may be given with or without the leading dot.
	Ext         string
	Private     bool
	ContentType string
}

func (d StreamDescriptor) access() AccessLevel {
	if d.Private {
		return AccessPrivate
	}
	return AccessDefault
}

// UploadStream is the write end of a streaming upload. Bytes written are
// forwarded to the backend as they arrive; Close marks the end of the object
// and Wait blocks until the backend has acknowledged it.
type UploadStream struct {
	URL     string
	FileKey string

	w    *io.PipeWriter
	done chan struct{}
	once sync.Once
	err  error
}

var (
	_ io.WriteCloser = &UploadStream{}
)

func newUploadStream(fileKey, url string, w *io.PipeWriter) *UploadStream {
	return &UploadStream{URL: url, FileKey: fileKey, w: w, done: make(chan struct{})}
}

func (s *UploadStream) Write(p []byte) (n int, err error) {
	return s.w.Write(p)
}

func (s *UploadStream) Close() (err error) {
	return s.w.Close()
}

// Abort ends the stream with err; the upload fails instead of completing.
func (s *UploadStream) Abort(err error) {
	s.w.CloseWithError(err)
}

// Wait returns once the backend write finished, or ctx is done.
func (s *UploadStream) Wait(ctx context.Context) (err error) {
	select {
	case <-s.done:
		err = s.err
	case <-ctx.Done():
		err = ctx.Err()
	}
	return
}

// Done is closed once the backend write finished.
func (s *UploadStream) Done() <-chan struct{} {
	return s.done
}

func (s *UploadStream) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}
