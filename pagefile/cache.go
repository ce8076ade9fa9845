package pagefile

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/chronoflux/tsengine/errs"
)

// PageID is an opaque integer handle into the Cache's page arena.
// Readers never hold a *Reader directly; they hold a PageID (and,
// within it, a ChunkLink) and resolve through the cache on every
// access, so a page can be safely unmapped once its refcount drops to
// zero.
type PageID int64

type pageEntry struct {
	base   string
	reader *Reader
	refs   int
}

// Cache reference-counts open pages so a page is never unmapped while
// a reader still holds a link into it.
type Cache struct {
	mu      sync.Mutex
	byBase  map[string]PageID
	entries map[PageID]*pageEntry
	nextID  PageID
}

// NewCache returns an empty page cache.
func NewCache() *Cache {
	return &Cache{
		byBase:  make(map[string]PageID),
		entries: make(map[PageID]*pageEntry),
	}
}

// Acquire opens (or reuses) the page at base and returns a handle with
// its refcount incremented. The caller must call Release exactly once
// per successful Acquire.
func (c *Cache) Acquire(base string) (PageID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.byBase[base]; ok {
		c.entries[id].refs++

		return id, nil
	}

	reader, err := Open(base)
	if err != nil {
		return 0, err
	}

	c.nextID++
	id := c.nextID
	c.entries[id] = &pageEntry{base: base, reader: reader, refs: 1}
	c.byBase[base] = id

	return id, nil
}

// Resolve returns the Reader behind id. The caller must hold an
// outstanding Acquire on id.
func (c *Cache) Resolve(id PageID) (*Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, errors.Wrap(errs.ErrNotFound, "pagefile: unknown page id")
	}

	return e.reader, nil
}

// Release decrements id's refcount. Once it reaches zero the page is
// unmapped and closed immediately.
func (c *Cache) Release(id PageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil
	}

	e.refs--
	if e.refs > 0 {
		return nil
	}

	delete(c.entries, id)
	delete(c.byBase, e.base)

	return e.reader.Close()
}

// Evict forcibly drops base from the cache regardless of refcount,
// used when the Dropper removes a page file out from under a stale
// handle (e.g. during repack). Outstanding handles become invalid.
func (c *Cache) Evict(base string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byBase[base]
	if !ok {
		return nil
	}
	e := c.entries[id]

	delete(c.entries, id)
	delete(c.byBase, base)

	return e.reader.Close()
}

// Len reports the number of distinct pages currently held open.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
