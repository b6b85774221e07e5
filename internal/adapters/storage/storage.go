// Package storage keeps uploaded files and hands back a URL for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrUploadDisabled is returned by NopUploader.
var ErrUploadDisabled = errors.New("upload storage not configured")

// Uploader stores file content and returns a durable URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// FallbackURL is used when an upload fails.
func FallbackURL(name string) string { return "file://" + name }

// DirUploader writes files under Dir with a random key.
type DirUploader struct {
	Dir string
	// BaseURL, when set, prefixes the key; otherwise a file:// URL is returned.
	BaseURL string
}

// NewDirUploader creates the directory if needed.
func NewDirUploader(dir, baseURL string) (*DirUploader, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DirUploader{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (u *DirUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := uuid.NewString() + strings.ToLower(filepath.Ext(name))
	path := filepath.Join(u.Dir, key)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	if u.BaseURL != "" {
		return u.BaseURL + "/" + url.PathEscape(key), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// NopUploader never stores anything.
type NopUploader struct{}

func (NopUploader) Upload(context.Context, string, []byte) (string, error) {
	return "", ErrUploadDisabled
}
