// Package upload stages selected video files on local disk until a session
// hands them to the analysis service.
package upload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

// DefaultMaxBytes is the intake ceiling (1.5 GB).
const DefaultMaxBytes int64 = 1536 << 20

// sniffLen matches mimetype's default read limit.
const sniffLen = 3072

var (
	ErrNotVideo = errors.New("upload: file is not a video")
	ErrTooLarge = errors.New("upload: file exceeds size limit")
	ErrEmpty    = errors.New("upload: file is empty")
)

type Store struct {
	Dir      string
	MaxBytes int64
}

func NewStore(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("upload: create dir: %w", err)
	}
	return &Store{Dir: dir, MaxBytes: maxBytes}, nil
}

// Save copies r to a temp file after checking its content is a video.
// declaredSize is what the client claimed (0 if unknown); a declared size over
// the limit is rejected before anything is read.
func (s *Store) Save(r io.Reader, name string, declaredSize int64) (*models.VideoFile, error) {
	if declaredSize > s.MaxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, declaredSize, s.MaxBytes)
	}

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("upload: read header: %w", err)
	}
	if len(head) == 0 {
		return nil, ErrEmpty
	}
	mt := mimetype.Detect(head)
	if !isVideo(mt) {
		return nil, fmt.Errorf("%w: detected %s", ErrNotVideo, mt.String())
	}

	f, err := os.CreateTemp(s.Dir, "video-*"+filepath.Ext(mt.Extension()))
	if err != nil {
		return nil, fmt.Errorf("upload: create temp: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(br, s.MaxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("upload: write: %w", err)
	}
	if n > s.MaxBytes {
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, s.MaxBytes)
	}

	return &models.VideoFile{
		Name:      cleanName(name),
		MIMEType:  baseMIME(mt.String()),
		SizeBytes: n,
		Path:      f.Name(),
	}, nil
}

func (s *Store) Open(v *models.VideoFile) (io.ReadCloser, error) {
	f, err := os.Open(v.Path)
	if err != nil {
		return nil, fmt.Errorf("upload: open %s: %w", v.Name, err)
	}
	return f, nil
}

// Release removes the staged copy. Missing files are not an error.
func (s *Store) Release(v *models.VideoFile) error {
	if v == nil || v.Path == "" {
		return nil
	}
	if err := os.Remove(v.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("upload: release %s: %w", v.Name, err)
	}
	return nil
}

func isVideo(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}

func baseMIME(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func cleanName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "video"
	}
	return name
}
