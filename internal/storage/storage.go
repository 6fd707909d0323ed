// Package storage is the object storage port for book files. Objects are
// addressed by slash-separated keys such as "books/<id>.pdf".
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the bucket.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrNotPDF is returned when an upload does not start with the PDF magic header.
	ErrNotPDF = errors.New("storage: file is not a PDF")
	// ErrTooLarge is returned when an upload exceeds the configured size.
	ErrTooLarge = errors.New("storage: file too large")
)

var pdfMagic = []byte("%PDF-")

// Object is an open stored object.
type Object struct {
	io.ReadSeekCloser
	Size int64
	Key  string
}

// Bucket stores and serves objects.
type Bucket interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// PDFKey is the object key for a book's PDF.
func PDFKey(bookID string) string { return "books/" + bookID + ".pdf" }

// CheckPDF reads the magic header from r and returns a reader that replays it,
// limited to max bytes. Reading past max yields ErrTooLarge.
func CheckPDF(r io.Reader, max int64) (io.Reader, error) {
	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n < len(pdfMagic) || !bytes.Equal(head, pdfMagic) {
		return nil, ErrNotPDF
	}
	return &limitReader{r: io.MultiReader(bytes.NewReader(head), r), left: max}, nil
}

type limitReader struct {
	r    io.Reader
	left int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.left < 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.left+1 {
		p = p[:l.left+1]
	}
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, ErrTooLarge
	}
	return n, err
}

// DirBucket stores objects as files below a root directory.
type DirBucket struct {
	root string
}

// NewDirBucket creates root if needed.
func NewDirBucket(root string) (*DirBucket, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &DirBucket{root: abs}, nil
}

func (b *DirBucket) path(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	p := filepath.Join(b.root, filepath.FromSlash(key))
	if !strings.HasPrefix(p, b.root+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return p, nil
}

// Put writes r to key atomically via a temp file in the same directory.
func (b *DirBucket) Put(ctx context.Context, key string, r io.Reader, _ int64, _ string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (b *DirBucket) Open(_ context.Context, key string) (*Object, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Object{ReadSeekCloser: f, Size: st.Size(), Key: key}, nil
}

func (b *DirBucket) Delete(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (b *DirBucket) Exists(_ context.Context, key string) (bool, error) {
	p, err := b.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// ctxReader stops copying once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
