package toc

import (
	"context"
	"fmt"
	"sync"
)

// InfoFunc reports how many TOC items the peer has and a checksum of its
// descriptor table, used to key the cache.
type InfoFunc func(ctx context.Context) (count int, checksum uint32, err error)

// ItemFetcher fetches the raw encoded form of the TOC item at index from
// the peer.
type ItemFetcher func(ctx context.Context, index int) ([]byte, error)

// lockRegistry hands out one *sync.Mutex per (cache, key) pair so that
// concurrent fetches for the same TOC coalesce into a single peer
// round-trip instead of racing, while fetches for different caches or
// different keys never block each other.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[Cache]map[string]*sync.Mutex
}

var registry = &lockRegistry{locks: make(map[Cache]map[string]*sync.Mutex)}

func (r *lockRegistry) lockFor(cache Cache, key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey, ok := r.locks[cache]
	if !ok {
		byKey = make(map[string]*sync.Mutex)
		r.locks[cache] = byKey
	}
	l, ok := byKey[key]
	if !ok {
		l = &sync.Mutex{}
		byKey[key] = l
	}
	return l
}

// FetchGracefully fetches a table of contents, consulting cache first: it
// asks info for the peer's item count and descriptor checksum, derives a
// cache key from the checksum, and only fetches items one by one from the
// peer (via fetchItem) if the cache does not already hold exactly count
// items under that key. A successful fetch is stored back into the cache;
// a cache Store failure is swallowed, since the cache is an optimization
// and should never turn a successful fetch into a hard error.
func FetchGracefully(ctx context.Context, cache Cache, info InfoFunc, fetchItem ItemFetcher) ([][]byte, error) {
	count, checksum, err := info(ctx)
	if err != nil {
		return nil, fmt.Errorf("toc: failed to query table-of-contents info: %w", err)
	}

	hash := HashDescriptor(checksum)
	lock := registry.lockFor(cache, hash)
	lock.Lock()
	defer lock.Unlock()

	if items, ok, findErr := cache.Find(ctx, hash); findErr == nil && ok && len(items) == count {
		return items, nil
	}

	items := make([][]byte, count)
	for i := 0; i < count; i++ {
		item, fetchErr := fetchItem(ctx, i)
		if fetchErr != nil {
			return nil, fmt.Errorf("toc: failed to fetch item %d of %d: %w", i, count, fetchErr)
		}
		items[i] = item
	}

	_ = cache.Store(ctx, hash, items)
	return items, nil
}
