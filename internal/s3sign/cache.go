package s3sign

import (
	"sync"
	"time"
)

const secondsPerDay = 86400

// signingKeyCacheEntry mirrors spec.md §3's SigningKeyCacheEntry:
// the numeric day the entry is valid for, the composite lookup key,
// and the derived kSigning.
type signingKeyCacheEntry struct {
	numericDay   int64
	compositeKey string
	derivedKey   [32]byte
}

// signingKeyCache is a concurrency-safe cache keyed by (region,
// service, secret), each entry tagged with the day it was derived for,
// evicting entries whose day has fallen behind the current one. Each
// Signer owns its own cache; caches are not shared between Signers.
// Entries for past days are cheap to recompute and carry no privacy
// benefit from lingering, so a lazy sweep on insert is sufficient —
// there is no background goroutine.
type signingKeyCache struct {
	mu      sync.RWMutex
	entries map[string]signingKeyCacheEntry
	hasher  Hasher
}

func newSigningKeyCache(hasher Hasher) *signingKeyCache {
	return &signingKeyCache{
		entries: make(map[string]signingKeyCacheEntry),
		hasher:  hasher,
	}
}

func numericDay(t time.Time) int64 {
	return t.UTC().Unix() / secondsPerDay
}

// get returns the cached kSigning for (day, region, service, secret),
// deriving and caching it on miss. Concurrent derivations for the same
// key are benign (last-writer-wins, per spec.md §4.3) since they all
// compute the identical 32 bytes. A derivation failure (only possible
// with a non-default Hasher) is never cached.
func (c *signingKeyCache) get(t time.Time, dateStamp, region, service, secret string) ([32]byte, error) {
	day := numericDay(t)
	composite := region + "\x00" + service + "\x00" + secret

	c.mu.RLock()
	entry, ok := c.entries[composite]
	c.mu.RUnlock()
	if ok && entry.numericDay == day {
		return entry.derivedKey, nil
	}

	derived, err := deriveSigningKey(c.hasher, secret, dateStamp, region, service)
	if err != nil {
		return [32]byte{}, err
	}

	c.mu.Lock()
	c.entries[composite] = signingKeyCacheEntry{
		numericDay:   day,
		compositeKey: composite,
		derivedKey:   derived,
	}
	// Evict any other entries that are now stale. This is an O(n)
	// sweep over a map that only ever holds one entry per distinct
	// (region, service, secret) tuple, which in practice is tiny.
	for k, v := range c.entries {
		if v.numericDay < day {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	return derived, nil
}

// deriveSigningKey implements the standard SigV4 key-derivation chain.
func deriveSigningKey(h Hasher, secret, dateStamp, region, service string) ([32]byte, error) {
	kDate, err := h.HMACSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	if err != nil {
		return [32]byte{}, err
	}
	kRegion, err := h.HMACSHA256(kDate[:], []byte(region))
	if err != nil {
		return [32]byte{}, err
	}
	kService, err := h.HMACSHA256(kRegion[:], []byte(service))
	if err != nil {
		return [32]byte{}, err
	}
	kSigning, err := h.HMACSHA256(kService[:], []byte("aws4_request"))
	if err != nil {
		return [32]byte{}, err
	}
	return kSigning, nil
}
