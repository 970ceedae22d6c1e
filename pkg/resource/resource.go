// Package resource resolves source and destination locators. A locator is a
// filesystem path, a file:// URI or an http(s):// URL. Remote sources are
// fetched once into a temporary file so every pipeline stage can reopen them
// with random access.
package resource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/photocrop/pkg/types"
)

// DefaultMaxDownload caps the size of a remote source
const DefaultMaxDownload = 64 << 20

// Opener opens locators for reading and writing
type Opener struct {
	client      *http.Client
	logger      *zap.Logger
	maxDownload int64

	mu        sync.Mutex
	downloads map[string]string
}

// NewOpener creates an Opener. A nil logger disables logging.
func NewOpener(logger *zap.Logger) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		maxDownload: DefaultMaxDownload,
		downloads:   make(map[string]string),
	}
}

// IsRemote reports whether the locator needs a network fetch
func IsRemote(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// LocalPath converts a path or file:// URI into a filesystem path
func LocalPath(locator string) (string, error) {
	if !strings.Contains(locator, "://") {
		return locator, nil
	}
	u, err := url.Parse(locator)
	if err != nil {
		return "", fmt.Errorf("invalid locator %q: %w", locator, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported locator scheme: %s", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

// Open returns a seekable reader for the locator. The caller closes it.
func (o *Opener) Open(ctx context.Context, locator string) (*os.File, error) {
	path, err := o.resolve(ctx, locator)
	if err != nil {
		return nil, types.NewError(types.ResourceUnavailable, "open", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewError(types.ResourceUnavailable, "open", err)
	}
	return f, nil
}

// Create opens the destination for writing, creating parent directories.
// Remote destinations are not supported.
func (o *Opener) Create(locator string) (*os.File, error) {
	path, err := LocalPath(locator)
	if err != nil {
		return nil, types.NewError(types.ResourceUnavailable, "create", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, types.NewError(types.ResourceUnavailable, "create", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, types.NewError(types.ResourceUnavailable, "create", err)
	}
	return f, nil
}

// Cleanup removes temporary copies of remote sources
func (o *Opener) Cleanup() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for loc, path := range o.downloads {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			o.logger.Warn("failed to remove download", zap.String("source", loc), zap.Error(err))
		}
	}
	o.downloads = make(map[string]string)
}

func (o *Opener) resolve(ctx context.Context, locator string) (string, error) {
	if locator == "" {
		return "", fmt.Errorf("empty locator")
	}
	if !IsRemote(locator) {
		return LocalPath(locator)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if path, ok := o.downloads[locator]; ok {
		return path, nil
	}
	path, err := o.download(ctx, locator)
	if err != nil {
		return "", err
	}
	o.downloads[locator] = path
	return path, nil
}

func (o *Opener) download(ctx context.Context, locator string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "photocrop/1.0")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("URL does not point to an image (Content-Type: %s)", ct)
	}

	tmp, err := os.CreateTemp("", "photocrop-src-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, o.maxDownload+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > o.maxDownload {
		err = fmt.Errorf("image exceeds %d bytes", o.maxDownload)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	o.logger.Debug("downloaded source", zap.String("source", locator), zap.Int64("bytes", n))
	return tmp.Name(), nil
}
