package server

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	buildErrors "github.com/conneroisu/trafficlight/internal/errors"
)

var localePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FindFile returns the first file in dir, by name, whose name contains
// locale and ends with ext. It returns a not-found error when nothing
// matches.
func FindFile(dir, locale, ext string) (string, error) {
	if !localePattern.MatchString(locale) {
		return "", buildErrors.NewNotFoundError("*" + locale + "*" + ext)
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", buildErrors.NewNotFoundError(filepath.Join(dir, "*"+locale+"*"+ext))
	}
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.Type().IsRegular() && strings.HasSuffix(name, ext) && strings.Contains(name, locale) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", buildErrors.NewNotFoundError(filepath.Join(dir, "*"+locale+"*"+ext))
	}
	sort.Strings(names)

	return filepath.Join(dir, names[0]), nil
}

// lookupCache remembers lookups for the cache lifetime so repeated requests
// skip the directory listing.
type lookupCache struct {
	entries *cache.Cache
}

func newLookupCache(ttl time.Duration) *lookupCache {
	if ttl <= 0 {
		return &lookupCache{}
	}
	return &lookupCache{entries: cache.New(ttl, 2*ttl)}
}

// find resolves a lookup, evicting a cached path that no longer exists.
func (c *lookupCache) find(dir, locale, ext string) (string, error) {
	if c.entries == nil {
		return FindFile(dir, locale, ext)
	}

	key := dir + "\x00" + locale + "\x00" + ext
	if cached, ok := c.entries.Get(key); ok {
		path := cached.(string)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		c.entries.Delete(key)
	}

	path, err := FindFile(dir, locale, ext)
	if err != nil {
		return "", err
	}
	c.entries.SetDefault(key, path)

	return path, nil
}

func (c *lookupCache) flush() {
	if c.entries != nil {
		c.entries.Flush()
	}
}
