package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/roster/internal/models"
)

var (
	// ErrNoCachedSession is returned by FileCache.Load when no token has been cached
	ErrNoCachedSession = errors.New("no cached session")
)

// FileCache persists a single session cookie in one text file.
// The file holds the cookie's Set-Cookie form (`name=value; Domain=...`).
type FileCache struct {
	path string
}

// NewFileCache creates a cache backed by path. The file need not exist.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Path returns the cache file location
func (c *FileCache) Path() string {
	return c.path
}

// Load reads and parses the cached cookie
func (c *FileCache) Load() (*models.Cookie, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCachedSession
		}
		return nil, fmt.Errorf("failed to read auth cache %s: %w", c.path, err)
	}

	cookie, err := models.ParseCookie(string(data))
	if err != nil {
		return nil, fmt.Errorf("corrupt auth cache %s: %w", c.path, err)
	}
	return cookie, nil
}

// Store writes cookie to the cache file, replacing whatever was there
func (c *FileCache) Store(cookie *models.Cookie) error {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create auth cache directory: %w", err)
		}
	}

	// Write to a sibling file and rename so a reader never sees a partial token
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(cookie.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write auth cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace auth cache: %w", err)
	}
	return nil
}

// Discard removes the cached cookie. A missing file is not an error.
func (c *FileCache) Discard() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to discard auth cache: %w", err)
	}
	return nil
}
