package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"
)

const (
	publicFileMode  os.FileMode = 0644
	privateFileMode os.FileMode = 0600

	tempObjectPattern = ".upload-*"
)

// LocalConfig configures the filesystem backend used in development.
type LocalConfig struct {
	Root    string
	BaseURL string
	Prefix  string
	Layout  Layout

	StreamKeyTimestamp bool
}

var (
	_ Storage = &localFileStorage{}
)

type localFileStorage struct {
	baseURL string
	keys    *keyGenerator
	log     logr.Logger

	// staging holds the files handed to Upload, objects is rooted at the storage root.
	staging afero.Fs
	objects afero.Fs
}

func NewLocalFile(ctx context.Context, staging, fs afero.Fs, cfg LocalConfig, log logr.Logger) (s Storage, err error) {
	if cfg.Root == "" {
		err = fmt.Errorf("%w: missing local root", ErrInvalidConfig)
		return
	}
	if _, err = ParseLayout(string(cfg.Layout)); err != nil {
		return
	}
	if err = fs.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		return
	}
	s = &localFileStorage{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		keys:    newKeyGenerator(cfg.Prefix, cfg.Layout, cfg.StreamKeyTimestamp),
		log:     log,
		staging: staging,
		objects: afero.NewBasePathFs(fs, cfg.Root),
	}
	return
}

func objectPath(fileKey string) string {
	return filepath.FromSlash(fileKey)
}

func fileMode(acl AccessLevel) os.FileMode {
	if acl == AccessPrivate {
		return privateFileMode
	}
	return publicFileMode
}

func (s *localFileStorage) Upload(ctx context.Context, file File) (result UploadResult, err error) {
	return s.uploadFile(ctx, file, AccessDefault)
}

func (s *localFileStorage) UploadProtected(ctx context.Context, file File) (result UploadResult, err error) {
	return s.uploadFile(ctx, file, AccessPrivate)
}

func (s *localFileStorage) uploadFile(ctx context.Context, file File, acl AccessLevel) (result UploadResult, err error) {
	name, ext := splitFilename(file.OriginalName)
	key := s.keys.fileKey(name, ext)

	var f afero.File
	if f, err = openStaged(s.staging, file.Path); err != nil {
		s.log.Error(err, "open staged file", "path", file.Path)
		return
	}
	defer f.Close()

	if err = s.writeObject(key, f, acl); err != nil {
		s.log.Error(err, "upload failed", "key", key, "acl", acl)
		return
	}
	result = UploadResult{URL: s.PresignedDownloadURL(key), Key: key}
	return
}

// writeObject fills a temp file next to the key and renames it into place,
// so a failed or aborted write never leaves a partial object behind.
func (s *localFileStorage) writeObject(fileKey string, r io.Reader, acl AccessLevel) (err error) {
	p := objectPath(fileKey)
	dir := filepath.Dir(p)
	if err = s.objects.MkdirAll(dir, os.ModePerm); err != nil {
		return
	}
	var tmp afero.File
	if tmp, err = afero.TempFile(s.objects, dir, tempObjectPattern); err != nil {
		return
	}
	name := tmp.Name()
	defer func() {
		if err != nil {
			s.objects.Remove(name)
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return
	}
	if err = tmp.Close(); err != nil {
		return
	}
	if err = s.objects.Chmod(name, fileMode(acl)); err != nil {
		return
	}
	err = s.objects.Rename(name, p)
	return
}

func (s *localFileStorage) Delete(ctx context.Context, fileKey string) {
	if err := s.objects.Remove(objectPath(fileKey)); err != nil {
		s.log.Error(err, "delete failed", "key", fileKey)
	}
}

func (s *localFileStorage) UploadStream(ctx context.Context, desc StreamDescriptor) (stream *UploadStream, err error) {
	key := s.keys.streamKey(desc.Name, desc.Ext)
	pr, pw := io.Pipe()
	stream = newUploadStream(key, s.PresignedDownloadURL(key), pw)

	go func() {
		werr := s.writeObject(key, pr, desc.access())
		if werr != nil {
			s.log.Error(werr, "stream upload failed", "key", key)
		}
		pr.CloseWithError(werr)
		stream.finish(werr)
	}()
	return
}

func (s *localFileStorage) DownloadStream(ctx context.Context, fileKey string) (r io.ReadCloser, err error) {
	if r, err = s.objects.Open(objectPath(fileKey)); err != nil {
		s.log.Error(err, "download failed", "key", fileKey)
	}
	return
}

func (s *localFileStorage) PresignedDownloadURL(fileKey string) string {
	return s.baseURL + "/" + fileKey
}
