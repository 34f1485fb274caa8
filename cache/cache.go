package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
)

// File-backed cache for recipe search responses. Entries are keyed by an
// xxHash of the canonical query string and invalidated wholesale whenever a
// recipe is written, since any write can change any search result.

const searchDir = "cache/search"

// GetCachePath returns the cache file path for a search query.
func GetCachePath(query string) string {
	return filepath.Join(searchDir, generateHash(query)+".json")
}

// generateHash generates an xxHash hash for the given string
func generateHash(s string) string {
	hash := xxhash.Sum64String(s)
	return fmt.Sprintf("%016x", hash)
}

// WriteSearch stores a serialized search response.
func WriteSearch(query string, payload []byte) error {
	if err := os.MkdirAll(searchDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(GetCachePath(query), payload, 0644)
}

// ReadSearch returns a cached search response if present and younger than
// maxAge.
func ReadSearch(query string, maxAge time.Duration) ([]byte, bool) {
	cachePath := GetCachePath(query)

	info, err := os.Stat(cachePath)
	if err != nil {
		return nil, false
	}
	if time.Since(info.ModTime()) > maxAge {
		return nil, false
	}

	content, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, false
	}
	return content, true
}

// ClearSearch drops every cached search response.
func ClearSearch() error {
	return os.RemoveAll(searchDir)
}
