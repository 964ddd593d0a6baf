// Package toc implements the table-of-contents fetch-and-cache protocol
// used by the log subsystem (the memory subsystem accepts a Cache but does
// not consult it): a hash-keyed cache of raw encoded TOC items, and a
// coalesced fetch that only one
// concurrent caller per (cache, key) actually performs.
package toc

import (
	"context"
	"hash/crc32"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Cache stores and retrieves the raw encoded TOC items for a given
// content hash. Implementations must be safe for concurrent use.
type Cache interface {
	// Find returns the cached items for hash, or ErrNotFound (via the
	// second return value being false) if nothing is cached.
	Find(ctx context.Context, hash string) ([][]byte, bool, error)
	// Store saves items under hash. Store failures are swallowed by
	// FetchGracefully: a cache is an optimization, not a requirement.
	Store(ctx context.Context, hash string, items [][]byte) error
}

// NullCache never caches anything; Find always misses and Store is a
// no-op. Useful for tests and for connections that should always fetch
// fresh TOC data from the peer.
type NullCache struct{}

func (NullCache) Find(ctx context.Context, hash string) ([][]byte, bool, error) {
	return nil, false, nil
}
func (NullCache) Store(ctx context.Context, hash string, items [][]byte) error { return nil }

// InMemoryCache stores TOC snapshots in a process-local map, useful for
// sharing one cache across multiple connections within the same process.
type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string][][]byte
}

// NewInMemoryCache returns an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{items: make(map[string][][]byte)}
}

func (c *InMemoryCache) Find(ctx context.Context, hash string) ([][]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	items, ok := c.items[hash]
	return items, ok, nil
}

func (c *InMemoryCache) Store(ctx context.Context, hash string, items [][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[hash] = items
	return nil
}

// cacheFileVersion is the first byte of every filesystem cache file,
// bumped whenever the record framing changes.
const cacheFileVersion = 0x01

// FilesystemCache persists TOC snapshots as one file per hash under Dir,
// using a tiny versioned, length-prefixed record format: a version byte
// followed by a sequence of (uint16 little-endian length, payload) pairs.
type FilesystemCache struct {
	Dir string
}

// NewFilesystemCache returns a cache rooted at dir, creating it if
// necessary.
func NewFilesystemCache(dir string) (*FilesystemCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("toc: failed to create cache dir %s: %w", dir, err)
	}
	return &FilesystemCache{Dir: dir}, nil
}

func (c *FilesystemCache) pathFor(hash string) string {
	return filepath.Join(c.Dir, hash+".toc")
}

func (c *FilesystemCache) Find(ctx context.Context, hash string) ([][]byte, bool, error) {
	raw, err := os.ReadFile(c.pathFor(hash))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("toc: failed to read cache file: %w", err)
	}
	items, err := decodeRecords(raw)
	if err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (c *FilesystemCache) Store(ctx context.Context, hash string, items [][]byte) error {
	raw := encodeRecords(items)
	tmp := c.pathFor(hash) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("toc: failed to write cache file: %w", err)
	}
	return os.Rename(tmp, c.pathFor(hash))
}

func encodeRecords(items [][]byte) []byte {
	out := []byte{cacheFileVersion}
	for _, item := range items {
		var length [2]byte
		binary.LittleEndian.PutUint16(length[:], uint16(len(item)))
		out = append(out, length[:]...)
		out = append(out, item...)
	}
	return out
}

func decodeRecords(raw []byte) ([][]byte, error) {
	if len(raw) == 0 || raw[0] != cacheFileVersion {
		return nil, fmt.Errorf("toc: unsupported cache file version")
	}
	raw = raw[1:]

	var items [][]byte
	for len(raw) > 0 {
		if len(raw) < 2 {
			return nil, fmt.Errorf("toc: truncated cache record length")
		}
		length := binary.LittleEndian.Uint16(raw[:2])
		raw = raw[2:]
		if len(raw) < int(length) {
			return nil, fmt.Errorf("toc: truncated cache record payload")
		}
		items = append(items, append([]byte(nil), raw[:length]...))
		raw = raw[length:]
	}
	return items, nil
}

// escapeNamespace turns an arbitrary namespace string into a directory
// path component: "/" becomes "\2f", "\" becomes "=" and "." becomes "/"
// (so dotted namespaces like "log.v2" become nested directories). "=" is
// left as is, so "a=b" and "a\b" escape to the same string.
func escapeNamespace(ns string) string {
	var b strings.Builder
	for _, r := range ns {
		switch r {
		case '/':
			b.WriteString(`\2f`)
		case '\\':
			b.WriteString("=")
		case '.':
			b.WriteString("/")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NamespacedWrapper delegates to an underlying Cache, prefixing every key
// with a namespace so multiple subsystems (log, parameters, memory) can
// share one physical cache without colliding. It wraps by composition,
// not by embedding/inheritance, so that the underlying cache's own type
// stays hidden behind the Cache interface.
type NamespacedWrapper struct {
	Underlying Cache
	Namespace  string
}

// NewNamespacedWrapper returns a Cache that prefixes keys with namespace
// before delegating to underlying.
func NewNamespacedWrapper(underlying Cache, namespace string) *NamespacedWrapper {
	return &NamespacedWrapper{Underlying: underlying, Namespace: escapeNamespace(namespace)}
}

func (w *NamespacedWrapper) key(hash string) string {
	return w.Namespace + ":" + hash
}

func (w *NamespacedWrapper) Find(ctx context.Context, hash string) ([][]byte, bool, error) {
	return w.Underlying.Find(ctx, w.key(hash))
}

func (w *NamespacedWrapper) Store(ctx context.Context, hash string, items [][]byte) error {
	return w.Underlying.Store(ctx, w.key(hash), items)
}

// HashDescriptor returns the cache key derived from a CRC32 checksum of
// the peer's TOC descriptor, formatted the way both the in-memory and
// filesystem caches expect it: eight lowercase hex digits.
func HashDescriptor(checksum uint32) string {
	return fmt.Sprintf("%08x", checksum)
}

// CRC32 computes the IEEE CRC32 of data, the checksum algorithm used both
// to key the TOC cache and to validate memory writes.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
