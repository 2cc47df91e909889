package storage

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

type uploadCall struct {
	key         string
	body        string
	contentType string
	headers     http.Header
}

type stubUploader struct {
	s3manageriface.UploaderAPI

	// location is the backend base URL reported for uploads.
	location string
	err      error
	// failFast returns err without consuming the body.
	failFast bool

	mu    sync.Mutex
	calls []uploadCall
}

func (u *stubUploader) UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (output *s3manager.UploadOutput, err error) {
	if u.failFast {
		err = u.err
		return
	}
	var body []byte
	if body, err = io.ReadAll(input.Body); err != nil {
		return
	}

	uploader := &s3manager.Uploader{}
	for _, o := range opts {
		o(uploader)
	}
	req := &request.Request{HTTPRequest: &http.Request{Header: http.Header{}}}
	for _, o := range uploader.RequestOptions {
		o(req)
	}

	u.mu.Lock()
	u.calls = append(u.calls, uploadCall{
		key:         aws.StringValue(input.Key),
		body:        string(body),
		contentType: aws.StringValue(input.ContentType),
		headers:     req.HTTPRequest.Header,
	})
	u.mu.Unlock()

	if u.err != nil {
		err = u.err
		return
	}
	output = &s3manager.UploadOutput{Location: u.location + "/" + aws.StringValue(input.Key)}
	return
}

func (u *stubUploader) recorded() []uploadCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]uploadCall(nil), u.calls...)
}

type stubS3 struct {
	s3iface.S3API

	objects   map[string]string
	deleteErr error

	mu      sync.Mutex
	deleted []string
}

func (c *stubS3) DeleteObjectWithContext(ctx aws.Context, input *s3.DeleteObjectInput, opts ...request.Option) (*s3.DeleteObjectOutput, error) {
	c.mu.Lock()
	c.deleted = append(c.deleted, aws.StringValue(input.Key))
	c.mu.Unlock()
	if c.deleteErr != nil {
		return nil, c.deleteErr
	}
	return &s3.DeleteObjectOutput{}, nil
}

func (c *stubS3) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	body, ok := c.objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

type logBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

func newLogBuffer() (logr.Logger, *logBuffer) {
	b := &logBuffer{}
	log := funcr.New(func(prefix, args string) {
		b.mu.Lock()
		b.lines = append(b.lines, prefix+" "+args)
		b.mu.Unlock()
	}, funcr.Options{Verbosity: 2})
	return log, b
}
