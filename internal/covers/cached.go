package covers

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cover struct {
	data []byte
	mime string
}

// Cached is a read-through cache in front of another Store. Writes go to
// the backing store first and then drop the cached entry.
type Cached struct {
	next  Store
	cache *lru.Cache[int64, cover]
}

// NewCached wraps next with an LRU of up to size covers.
func NewCached(next Store, size int) (*Cached, error) {
	cache, err := lru.New[int64, cover](size)
	if err != nil {
		return nil, fmt.Errorf("creating cover cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Put(ctx context.Context, bookID int64, data []byte, mime string) error {
	defer c.cache.Remove(bookID)
	return c.next.Put(ctx, bookID, data, mime)
}

func (c *Cached) Get(ctx context.Context, bookID int64) ([]byte, string, error) {
	if hit, ok := c.cache.Get(bookID); ok {
		return hit.data, hit.mime, nil
	}
	data, mime, err := c.next.Get(ctx, bookID)
	if err != nil {
		return nil, "", err
	}
	c.cache.Add(bookID, cover{data: data, mime: mime})
	return data, mime, nil
}

func (c *Cached) Delete(ctx context.Context, bookID int64) error {
	defer c.cache.Remove(bookID)
	return c.next.Delete(ctx, bookID)
}

// Len returns the number of cached covers.
func (c *Cached) Len() int {
	return c.cache.Len()
}
