package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jo-hoe/productscribe/internal/common"
)

var (
	// ErrUnsupportedType is returned for uploads whose content is not an accepted image format.
	ErrUnsupportedType = errors.New("unsupported content type")
	// ErrTooLarge is returned when an upload exceeds the configured limit.
	ErrTooLarge = errors.New("upload exceeds size limit")
	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("upload is empty")
)

var allowedImageMimes = map[string]string{
	common.MimeImagePNG:  ".png",
	common.MimeImageJPEG: ".jpg",
	common.MimeImageGIF:  ".gif",
	common.MimeImageWEBP: ".webp",
}

var reStoredName = regexp.MustCompile(`^[a-f0-9]{32}\.(png|jpg|gif|webp)$`)

// Uploader stores uploaded images on disk and hands out public URLs for them.
type Uploader struct {
	baseDir  string
	baseURL  string
	maxBytes int64
}

// NewUploader creates an uploader that stores to baseDir/uploads and issues URLs
// under publicBaseURL/uploads/.
func NewUploader(baseDir, publicBaseURL string, maxBytes int64) *Uploader {
	return &Uploader{
		baseDir:  filepath.Join(baseDir, common.UploadsDirName),
		baseURL:  strings.TrimRight(publicBaseURL, "/") + common.PathUploadFiles,
		maxBytes: maxBytes,
	}
}

// Upload validates and stores an image read from r and returns its public URL.
// The content type is sniffed from the bytes; the client-supplied filename is not trusted.
func (u *Uploader) Upload(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src := r
	if u.maxBytes > 0 {
		src = io.LimitReader(r, u.maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if u.maxBytes > 0 && int64(len(data)) > u.maxBytes {
		return "", ErrTooLarge
	}

	mimeType := mimetype.Detect(data).String()
	ext, ok := allowedImageMimes[baseMime(mimeType)]
	if !ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, mimeType, filepath.Base(filename))
	}

	if err := os.MkdirAll(u.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure uploads dir: %w", err)
	}

	name := randomHex(16) + ext
	dstPath := filepath.Join(u.baseDir, name)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, bytes.NewReader(data)); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("close upload: %w", err)
	}
	return u.baseURL + name, nil
}

// UploadMultipart stores the file behind a multipart header.
func (u *Uploader) UploadMultipart(ctx context.Context, fileHeader *multipart.FileHeader) (string, error) {
	if fileHeader == nil {
		return "", fmt.Errorf("no file provided")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()
	return u.Upload(ctx, fileHeader.Filename, src)
}

// Resolve maps a URL previously returned by Upload back to its file path and mime type.
// ok is false for URLs this uploader did not issue or whose file is gone.
func (u *Uploader) Resolve(rawURL string) (path string, mimeType string, ok bool) {
	name, found := strings.CutPrefix(strings.TrimSpace(rawURL), u.baseURL)
	if !found {
		return "", "", false
	}
	return u.Lookup(name)
}

// Lookup returns the path and mime type for a stored file name.
func (u *Uploader) Lookup(name string) (path string, mimeType string, ok bool) {
	if !reStoredName.MatchString(name) {
		return "", "", false
	}
	path = filepath.Join(u.baseDir, name)
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return "", "", false
	}
	ext := filepath.Ext(name)
	for mt, e := range allowedImageMimes {
		if e == ext {
			return path, mt, true
		}
	}
	return "", "", false
}

func baseMime(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
