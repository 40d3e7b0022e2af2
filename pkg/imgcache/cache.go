// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package imgcache implements the two-level image cache: an in-process
// LRU/TTL tier (L1) in front of an optional external key-value store (L2,
// typically Redis). Writes go through both tiers; reads check L1 first and
// promote L2 hits. L2 failures are never fatal: they are logged and treated
// as misses.
package imgcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by a Store when a key has no value.
var ErrNotFound = errors.New("imgcache: not found")

// keyPrefix namespaces every cache key.
const keyPrefix = "img:"

// Store is the external (L2) key-value tier. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Entry is one cached image: the normalized JPEG plus its serialized
// metadata record. The cache does not interpret Meta.
type Entry struct {
	Meta []byte
	JPEG []byte
}

func (e Entry) size() int64 {
	return int64(len(e.Meta) + len(e.JPEG))
}

// Config bounds both tiers.
type Config struct {
	L1MaxEntries int           // default 100
	L1MaxBytes   int64         // default 500 MiB
	L1TTL        time.Duration // default 1h
	L2TTL        time.Duration // default 7d
	Logger       *zap.Logger
}

// DefaultConfig returns the standard cache bounds.
func DefaultConfig() Config {
	return Config{
		L1MaxEntries: 100,
		L1MaxBytes:   500 << 20,
		L1TTL:        time.Hour,
		L2TTL:        7 * 24 * time.Hour,
	}
}

// Stats counts cache activity since construction.
type Stats struct {
	L1Hits  int64
	L2Hits  int64
	Misses  int64
	Puts    int64
	L2Fails int64
}

// Cache is the two-level cache. A nil l2 store disables the second tier.
type Cache struct {
	cfg    Config
	l1     *l1Cache
	l2     Store
	logger *zap.Logger

	l1Hits  atomic.Int64
	l2Hits  atomic.Int64
	misses  atomic.Int64
	puts    atomic.Int64
	l2Fails atomic.Int64
}

// New builds a cache with the given bounds. l2 may be nil.
func New(cfg Config, l2 Store) *Cache {
	if cfg.L1MaxEntries <= 0 {
		cfg.L1MaxEntries = 100
	}
	if cfg.L1MaxBytes <= 0 {
		cfg.L1MaxBytes = 500 << 20
	}
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = time.Hour
	}
	if cfg.L2TTL <= 0 {
		cfg.L2TTL = 7 * 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		cfg:    cfg,
		l1:     newL1Cache(cfg.L1MaxEntries, cfg.L1MaxBytes, cfg.L1TTL),
		l2:     l2,
		logger: logger,
	}
}

// Fingerprint returns the first 16 hex chars of sha256(url).
func Fingerprint(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// KeyForURL derives the stable cache key for a URL.
func KeyForURL(url string) string {
	return keyPrefix + Fingerprint(url)
}

// Get looks a URL up, L1 first. An L2 hit is promoted into L1. The second
// return names the tier that hit ("l1" or "l2"), empty on miss.
func (c *Cache) Get(ctx context.Context, url string) (Entry, string, bool) {
	key := KeyForURL(url)

	if e, ok := c.l1.get(key); ok {
		c.l1Hits.Add(1)
		return e, "l1", true
	}

	if c.l2 != nil {
		raw, err := c.l2.Get(ctx, key)
		switch {
		case err == nil:
			e, derr := decodeValue(raw)
			if derr != nil {
				c.logger.Warn("cache value corrupt, dropping", zap.String("key", key), zap.Error(derr))
				_ = c.l2.Delete(ctx, key)
				break
			}
			c.l1.put(key, e)
			c.l2Hits.Add(1)
			return e, "l2", true
		case errors.Is(err, ErrNotFound):
		default:
			c.l2Fails.Add(1)
			c.logger.Warn("l2 read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
	}

	c.misses.Add(1)
	return Entry{}, "", false
}

// Put writes through both tiers. L2 write failures are logged and dropped.
func (c *Cache) Put(ctx context.Context, url string, e Entry) {
	key := KeyForURL(url)
	c.l1.put(key, e)
	c.puts.Add(1)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, encodeValue(e), c.cfg.L2TTL); err != nil {
			c.l2Fails.Add(1)
			c.logger.Warn("l2 write failed, dropped", zap.String("key", key), zap.Error(err))
		}
	}
}

// Invalidate removes one URL from both tiers.
func (c *Cache) Invalidate(ctx context.Context, url string) {
	key := KeyForURL(url)
	c.l1.remove(key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.l2Fails.Add(1)
			c.logger.Warn("l2 delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// InvalidatePrefix removes every key with the given fingerprint prefix from
// both tiers. The L2 listing uses the store's native key scan.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	full := keyPrefix + prefix
	c.l1.removeFunc(func(key string) bool {
		return strings.HasPrefix(key, full)
	})
	if c.l2 == nil {
		return nil
	}
	keys, err := c.l2.Keys(ctx, full)
	if err != nil {
		c.l2Fails.Add(1)
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.l2.Delete(ctx, keys...)
}

// Stats snapshots the activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		L1Hits:  c.l1Hits.Load(),
		L2Hits:  c.l2Hits.Load(),
		Misses:  c.misses.Load(),
		Puts:    c.puts.Load(),
		L2Fails: c.l2Fails.Load(),
	}
}

// encodeValue serializes an entry as an 8-byte big-endian metadata length
// followed by the metadata record and the JPEG bytes.
func encodeValue(e Entry) []byte {
	out := make([]byte, 8+len(e.Meta)+len(e.JPEG))
	binary.BigEndian.PutUint64(out[:8], uint64(len(e.Meta)))
	copy(out[8:], e.Meta)
	copy(out[8+len(e.Meta):], e.JPEG)
	return out
}

func decodeValue(raw []byte) (Entry, error) {
	if len(raw) < 8 {
		return Entry{}, errors.New("imgcache: truncated value")
	}
	metaLen := binary.BigEndian.Uint64(raw[:8])
	if metaLen > uint64(len(raw)-8) {
		return Entry{}, errors.New("imgcache: bad metadata length")
	}
	return Entry{
		Meta: raw[8 : 8+metaLen],
		JPEG: raw[8+metaLen:],
	}, nil
}
