package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/cocoon/pkg/ports"
	"github.com/aretw0/cocoon/pkg/validity"
)

// FileFactory creates file: sources.
type FileFactory struct{}

func (FileFactory) Create(_ context.Context, uri string, _ ports.Resolver) (ports.Source, error) {
	p, err := FilePath(uri)
	if err != nil {
		return nil, err
	}
	return NewFileSource(p), nil
}

// FilePath extracts the local path from a file: URI.
func FilePath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid file uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file uri: %q", uri)
	}
	p := u.Path
	if p == "" {
		p = u.Opaque
	}
	return filepath.FromSlash(p), nil
}

// FileSource reads a local file.
type FileSource struct {
	path string
	info fs.FileInfo
	err  error
}

// NewFileSource creates a source for path.
func NewFileSource(path string) *FileSource {
	s := &FileSource{path: path}
	s.stat()
	return s
}

func (s *FileSource) stat() {
	s.info, s.err = os.Stat(s.path)
}

// Path returns the local path.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) URI() string    { return FileURI(s.path) }
func (s *FileSource) Scheme() string { return "file" }

func (s *FileSource) Exists(context.Context) (bool, error) {
	if s.err != nil {
		if errors.Is(s.err, fs.ErrNotExist) {
			return false, nil
		}
		return false, ioError("stat", s.URI(), s.err)
	}
	return !s.info.IsDir(), nil
}

func (s *FileSource) Open(context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, ioError("open", s.URI(), err)
	}
	return f, nil
}

func (s *FileSource) ContentLength() int64 {
	if s.err != nil {
		return -1
	}
	return s.info.Size()
}

func (s *FileSource) LastModified() time.Time {
	if s.err != nil {
		return time.Time{}
	}
	return s.info.ModTime()
}

func (s *FileSource) MimeType() string {
	return mime.TypeByExtension(filepath.Ext(s.path))
}

// Validity is a timestamp validity, or nil when the file does not exist.
func (s *FileSource) Validity() validity.Validity {
	if s.err != nil {
		return nil
	}
	return validity.TimeStamp{Modified: s.info.ModTime()}
}

func (s *FileSource) Refresh(context.Context) error {
	s.stat()
	return nil
}
