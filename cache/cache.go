// Package cache keeps an in-memory mirror of remote directory listings
// and resolved file contents, keyed by path. There is no TTL: this
// process holds the only session to the device, so entries stay coherent
// until one of our own mutations invalidates them.
package cache

import (
	"path"
	"slices"
	"strings"

	"github.com/badgeteam/badgefs"
	"github.com/puzpuzpuz/xsync/v4"
)

// Cache stores directory listings and file contents. Readers always get
// copies, so a concurrent invalidation can never expose a torn entry: a
// reader sees either the pre- or post-invalidation state.
type Cache struct {
	listings *xsync.Map[string, []badgefs.DirEntry]
	files    *xsync.Map[string, []byte]
}

func New() *Cache {
	return &Cache{
		listings: xsync.NewMap[string, []badgefs.DirEntry](),
		files:    xsync.NewMap[string, []byte](),
	}
}

// Listing returns the cached listing for a directory, or ok=false on miss.
func (c *Cache) Listing(p string) ([]badgefs.DirEntry, bool) {
	entries, ok := c.listings.Load(clean(p))
	if !ok {
		return nil, false
	}
	return slices.Clone(entries), true
}

// PutListing stores a directory listing.
func (c *Cache) PutListing(p string, entries []badgefs.DirEntry) {
	c.listings.Store(clean(p), slices.Clone(entries))
}

// Content returns the cached file contents, or ok=false if the file's
// size has not been resolved since the last invalidation.
func (c *Cache) Content(p string) ([]byte, bool) {
	data, ok := c.files.Load(clean(p))
	if !ok {
		return nil, false
	}
	return slices.Clone(data), true
}

// PutContent stores a file's full contents, which also resolves its size.
func (c *Cache) PutContent(p string, data []byte) {
	c.files.Store(clean(p), slices.Clone(data))
}

// Size returns the resolved size for a file, or ok=false when unresolved.
func (c *Cache) Size(p string) (uint64, bool) {
	data, ok := c.files.Load(clean(p))
	if !ok {
		return 0, false
	}
	return uint64(len(data)), true
}

// Invalidate drops the entry for p and its parent's listing (the
// mutation may have added or removed a name there).
func (c *Cache) Invalidate(p string) {
	p = clean(p)
	c.listings.Delete(p)
	c.files.Delete(p)
	c.listings.Delete(parent(p))
}

// InvalidateTree drops p, everything below it, and the parent's listing.
// Used for delete and rename, where a whole subtree changes identity.
func (c *Cache) InvalidateTree(p string) {
	p = clean(p)
	prefix := p + "/"

	c.listings.Range(func(key string, _ []badgefs.DirEntry) bool {
		if key == p || strings.HasPrefix(key, prefix) {
			c.listings.Delete(key)
		}
		return true
	})
	c.files.Range(func(key string, _ []byte) bool {
		if key == p || strings.HasPrefix(key, prefix) {
			c.files.Delete(key)
		}
		return true
	})
	c.listings.Delete(parent(p))
}

func clean(p string) string {
	cp := path.Clean("/" + p)
	return cp
}

func parent(p string) string {
	return path.Dir(p)
}
