// Package jwks fetches and caches the identity authority's public signing
// keys.
//
// A [Store] holds the current [KeySet] behind an atomic pointer. Readers
// never block; when the set is empty or older than its TTL, one refresh runs
// through an [HTTPFetcher] and concurrent callers share its result. When a
// refresh fails the previous keys keep being served, so an authority outage
// only becomes visible once nothing was ever fetched.
//
//	store, err := jwks.NewStore(jwks.StoreConfig{
//	    URL: "https://auth.example.com/.well-known/jwks.json",
//	    TTL: 5 * time.Minute,
//	}, jwks.NewHTTPFetcher())
//	set, err := store.Get(ctx)
//	key, ok := set.Select(kid)
package jwks

import (
	"slices"
	"time"
)

// KeySet is an immutable snapshot of the authority's keys together with the
// time they were fetched. The Store replaces it wholesale; it is never
// mutated in place.
type KeySet struct {
	keys      []SigningKey
	fetchedAt time.Time
	ttl       time.Duration
}

// NewKeySet builds a set. keys is copied.
func NewKeySet(keys []SigningKey, fetchedAt time.Time, ttl time.Duration) *KeySet {
	return &KeySet{
		keys:      slices.Clone(keys),
		fetchedAt: fetchedAt,
		ttl:       ttl,
	}
}

// emptyKeySet is installed by NewStore: no keys, fetched at the zero time.
func emptyKeySet(ttl time.Duration) *KeySet {
	return &KeySet{ttl: ttl}
}

// Keys returns a copy of the keys in document order.
func (s *KeySet) Keys() []SigningKey {
	return slices.Clone(s.keys)
}

func (s *KeySet) Len() int {
	return len(s.keys)
}

func (s *KeySet) FetchedAt() time.Time {
	return s.fetchedAt
}

func (s *KeySet) TTL() time.Duration {
	return s.ttl
}

// IsExpired reports whether the set is older than its TTL at now.
// A set with a zero fetch time is always expired.
func (s *KeySet) IsExpired(now time.Time) bool {
	return s.fetchedAt.IsZero() || now.Sub(s.fetchedAt) > s.ttl
}

// Lookup returns the key with exactly kid, whatever its use.
func (s *KeySet) Lookup(kid string) (SigningKey, bool) {
	for _, k := range s.keys {
		if k.KeyID == kid {
			return k, true
		}
	}
	return SigningKey{}, false
}

// Select picks the key that should verify a token whose header carries kid.
//
// With a kid, only an exact match among signing keys is returned; a miss is
// reported as not found so the caller can force a refresh. Without a kid,
// the first key marked "sig" wins, then the first key with no use at all.
// Keys marked "enc" are never selected.
func (s *KeySet) Select(kid string) (SigningKey, bool) {
	if kid != "" {
		for _, k := range s.keys {
			if k.KeyID == kid && k.signing() {
				return k, true
			}
		}
		return SigningKey{}, false
	}

	for _, k := range s.keys {
		if k.Use == UseSignature {
			return k, true
		}
	}
	for _, k := range s.keys {
		if k.signing() {
			return k, true
		}
	}
	return SigningKey{}, false
}

// invalidated returns a copy that holds the same keys but is expired.
func (s *KeySet) invalidated() *KeySet {
	return &KeySet{keys: s.keys, ttl: s.ttl}
}
