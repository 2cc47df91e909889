package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

const (
	DefaultDomain = "aliyuncs.com"

	storageClassHeader   = "x-oss-storage-class"
	aclHeader            = "x-oss-object-acl"
	standardStorageClass = "Standard"
	defaultContentType   = "application/octet-stream"
)

// OSSConfig configures the Aliyun OSS backend, reached through its
// S3-compatible API.
type OSSConfig struct {
	Region          string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	// Secure selects https towards the backend; nil means true.
	Secure *bool
	Prefix string
	Layout Layout
	// Endpoint overrides <Region>.<Domain>.
	Endpoint string
	Domain   string
	// StreamKeyTimestamp adds the upload time to streaming upload keys.
	StreamKeyTimestamp bool
	// KeepURLScheme returns upload URLs as reported by the backend instead
	// of forcing https.
	KeepURLScheme bool
}

func (c OSSConfig) validate() (err error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"region", c.Region},
		{"access key id", c.AccessKeyID},
		{"access key secret", c.AccessKeySecret},
		{"bucket", c.Bucket},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		err = fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
		return
	}
	_, err = ParseLayout(string(c.Layout))
	return
}

func (c OSSConfig) secure() bool {
	return c.Secure == nil || *c.Secure
}

func (c OSSConfig) domain() string {
	if c.Domain == "" {
		return DefaultDomain
	}
	return c.Domain
}

func (c OSSConfig) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return c.Region + "." + c.domain()
}

var (
	_ Storage           = &ossStorage{}
	_ SignedURLProvider = &ossStorage{}
)

type ossStorage struct {
	cfg  OSSConfig
	keys *keyGenerator
	log  logr.Logger

	// staging holds the files handed to Upload.
	staging  afero.Fs
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
}

func NewOSS(ctx context.Context, staging afero.Fs, cfg OSSConfig, log logr.Logger) (s Storage, err error) {
	if err = cfg.validate(); err != nil {
		return
	}
	var ss *session.Session
	if ss, err = session.NewSession(&aws.Config{
		Region:      aws.String(cfg.Region),
		Endpoint:    aws.String(cfg.endpoint()),
		DisableSSL:  aws.Bool(!cfg.secure()),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, ""),
	}); err != nil {
		return
	}
	client := s3.New(ss)
	s = newOSS(cfg, log, staging, client, s3manager.NewUploaderWithClient(client))
	log.V(1).Info("oss storage ready", "bucket", cfg.Bucket, "endpoint", cfg.endpoint(), "layout", cfg.Layout)
	return
}

func newOSS(cfg OSSConfig, log logr.Logger, staging afero.Fs, client s3iface.S3API, uploader s3manageriface.UploaderAPI) *ossStorage {
	return &ossStorage{
		cfg:      cfg,
		keys:     newKeyGenerator(cfg.Prefix, cfg.Layout, cfg.StreamKeyTimestamp),
		log:      log,
		staging:  staging,
		client:   client,
		uploader: uploader,
	}
}

func (s *ossStorage) Upload(ctx context.Context, file File) (result UploadResult, err error) {
	return s.uploadFile(ctx, file, AccessDefault)
}

func (s *ossStorage) UploadProtected(ctx context.Context, file File) (result UploadResult, err error) {
	return s.uploadFile(ctx, file, AccessPrivate)
}

func (s *ossStorage) uploadFile(ctx context.Context, file File, acl AccessLevel) (result UploadResult, err error) {
	name, ext := splitFilename(file.OriginalName)
	key := s.keys.fileKey(name, ext)

	var f afero.File
	if f, err = openStaged(s.staging, file.Path); err != nil {
		s.log.Error(err, "open staged file", "path", file.Path)
		return
	}
	defer f.Close()

	var output *s3manager.UploadOutput
	if output, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(file.ContentType, ext)),
	}, s3manager.WithUploaderRequestOptions(ossHeaders(acl))); err != nil {
		s.log.Error(err, "upload failed", "key", key, "acl", acl)
		return
	}
	result = UploadResult{URL: s.resultURL(output.Location, key), Key: key}
	s.log.V(2).Info("uploaded", "key", key, "acl", acl)
	return
}

func (s *ossStorage) resultURL(location, key string) string {
	if location == "" {
		return s.PresignedDownloadURL(key)
	}
	if s.cfg.KeepURLScheme {
		return location
	}
	return secureURL(location)
}

func (s *ossStorage) Delete(ctx context.Context, fileKey string) {
	if _, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(fileKey),
	}); err != nil {
		s.log.Error(err, "delete failed", "key", fileKey)
	}
}

func (s *ossStorage) UploadStream(ctx context.Context, desc StreamDescriptor) (stream *UploadStream, err error) {
	key := s.keys.streamKey(desc.Name, desc.Ext)
	pr, pw := io.Pipe()
	stream = newUploadStream(key, s.PresignedDownloadURL(key), pw)

	input := &s3manager.UploadInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        pr,
		ContentType: aws.String(contentType(desc.ContentType, dotExt(desc.Ext))),
	}
	go func() {
		_, uerr := s.uploader.UploadWithContext(ctx, input, s3manager.WithUploaderRequestOptions(ossHeaders(desc.access())))
		if uerr != nil {
			s.log.Error(uerr, "stream upload failed", "key", key)
		}
		// unblocks writers still waiting on a failed upload
		pr.CloseWithError(uerr)
		stream.finish(uerr)
	}()
	return
}

func (s *ossStorage) DownloadStream(ctx context.Context, fileKey string) (r io.ReadCloser, err error) {
	var output *s3.GetObjectOutput
	if output, err = s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(fileKey),
	}); err != nil {
		s.log.Error(err, "download failed", "key", fileKey)
		return
	}
	r = output.Body
	return
}

func (s *ossStorage) PresignedDownloadURL(fileKey string) string {
	return fmt.Sprintf("https://%s.%s.%s/%s", s.cfg.Bucket, s.cfg.Region, s.cfg.domain(), fileKey)
}

func (s *ossStorage) SignedDownloadURL(ctx context.Context, fileKey string, expiry time.Duration) (signed string, err error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(fileKey),
	})
	req.SetContext(ctx)
	if signed, err = req.Presign(expiry); err != nil {
		s.log.Error(err, "presign failed", "key", fileKey)
	}
	return
}

func ossHeaders(acl AccessLevel) request.Option {
	return func(r *request.Request) {
		r.HTTPRequest.Header.Set(storageClassHeader, standardStorageClass)
		r.HTTPRequest.Header.Set(aclHeader, string(acl))
	}
}

func secureURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" {
		return raw
	}
	u.Scheme = "https"
	return u.String()
}

func contentType(override, ext string) string {
	if override != "" {
		return override
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultContentType
}

func dotExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return ""
	}
	return "." + ext
}
