package jwks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshotter persists the last fetched key set so a restarted process can
// verify tokens before its first successful fetch.
//
// LoadSnapshot returns an error with sserr.CodeNotFound when nothing was
// saved for url.
type Snapshotter interface {
	LoadSnapshot(ctx context.Context, url string) ([]byte, error)
	SaveSnapshot(ctx context.Context, url string, doc []byte) error
}

// SnapshotKey derives a storage key from a JWKS URL: the hex SHA-256 of
// the URL, so keys stay short and free of characters storage backends
// treat specially.
func SnapshotKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// snapshotDocument is a regular JWKS document with the fetch time added, so
// a stored snapshot can still be read by any JWKS consumer.
type snapshotDocument struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Keys      []json.RawMessage `json:"keys"`
}

// MarshalSnapshot encodes set together with its fetch time.
func MarshalSnapshot(set *KeySet) ([]byte, error) {
	doc := snapshotDocument{
		FetchedAt: set.fetchedAt.UTC(),
		Keys:      make([]json.RawMessage, 0, len(set.keys)),
	}
	for _, k := range set.keys {
		doc.Keys = append(doc.Keys, k.raw)
	}
	return json.Marshal(doc)
}

// UnmarshalSnapshot decodes a snapshot written by MarshalSnapshot. The
// returned set keeps its original fetch time and uses ttl.
func UnmarshalSnapshot(data []byte, ttl time.Duration) (*KeySet, error) {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("jwks: decode snapshot: %w", err)
	}
	if doc.FetchedAt.IsZero() {
		return nil, fmt.Errorf("jwks: snapshot has no fetch time")
	}

	keys, _, err := ParseSet(data)
	if err != nil {
		return nil, err
	}
	return NewKeySet(keys, doc.FetchedAt, ttl), nil
}
