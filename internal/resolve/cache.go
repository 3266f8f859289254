package resolve

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jcdickinson/cratedoc/internal/index"
)

// Cache memoizes resolution results by index content hash. Concurrent
// requests for the same hash share one resolution.
type Cache struct {
	r       *Resolver
	results *lru.Cache[string, *Result]
	group   singleflight.Group
}

func NewCache(r *Resolver, size int) (*Cache, error) {
	results, err := lru.New[string, *Result](size)
	if err != nil {
		return nil, fmt.Errorf("creating resolve cache: %w", err)
	}
	return &Cache{r: r, results: results}, nil
}

func (c *Cache) Resolve(ctx context.Context, ix *index.Index) (*Result, error) {
	if !ix.Finalized() {
		panic("resolve: index is not finalized")
	}
	hash := ix.ContentHash()
	if res, ok := c.results.Get(hash); ok {
		return res, nil
	}
	v, err, _ := c.group.Do(hash, func() (any, error) {
		if res, ok := c.results.Get(hash); ok {
			return res, nil
		}
		res, err := c.r.Resolve(ctx, ix)
		if err != nil {
			return nil, err
		}
		c.results.Add(hash, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (c *Cache) Len() int { return c.results.Len() }

func (c *Cache) Purge() { c.results.Purge() }
