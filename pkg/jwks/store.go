package jwks

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

// StoreConfig identifies the key set and how long a fetched copy is trusted.
type StoreConfig struct {
	URL string
	TTL time.Duration
}

// Validate reports a missing URL or a non-positive TTL.
func (c StoreConfig) Validate() error {
	if c.URL == "" {
		return sserr.New(sserr.CodeValidationRequired, "jwks: URL is required")
	}
	if c.TTL <= 0 {
		return sserr.Newf(sserr.CodeValidation, "jwks: TTL must be positive, got %s", c.TTL)
	}
	return nil
}

// Store caches the key set published at one URL. It is safe for concurrent
// use; the only shared state is an atomic pointer to the current KeySet and
// the singleflight group deduplicating refreshes.
type Store struct {
	url     string
	ttl     time.Duration
	fetcher Fetcher

	current atomic.Pointer[KeySet]
	flights singleflight.Group
	warmed  atomic.Bool

	snapshots Snapshotter
	observer  Observer
	logger    *zap.Logger
	now       func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSnapshotter enables warm start from, and persistence to, s.
func WithSnapshotter(s Snapshotter) StoreOption {
	return func(st *Store) {
		st.snapshots = s
	}
}

func WithObserver(o Observer) StoreOption {
	return func(st *Store) {
		if o != nil {
			st.observer = o
		}
	}
}

func WithLogger(logger *zap.Logger) StoreOption {
	return func(st *Store) {
		if logger != nil {
			st.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(st *Store) {
		if now != nil {
			st.now = now
		}
	}
}

// NewStore creates a Store holding an empty, expired key set. Nothing is
// fetched until the first Get.
func NewStore(cfg StoreConfig, fetcher Fetcher, opts ...StoreOption) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "jwks: fetcher is required")
	}

	s := &Store{
		url:      cfg.URL,
		ttl:      cfg.TTL,
		fetcher:  fetcher,
		observer: nopObserver{},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(emptyKeySet(cfg.TTL))
	return s, nil
}

// URL returns the key set location this store refreshes from.
func (s *Store) URL() string {
	return s.url
}

// Current returns the key set held right now without refreshing. It may be
// empty or expired.
func (s *Store) Current() *KeySet {
	return s.current.Load()
}

// Get returns a usable key set, refreshing first when the current one is
// empty or expired. If the refresh fails and keys were fetched before, the
// stale keys are returned without error. sserr.CodeAuthenticationKeyFetch
// is returned only when no keys are available at all.
func (s *Store) Get(ctx context.Context) (*KeySet, error) {
	if set := s.current.Load(); set.Len() > 0 && !set.IsExpired(s.now()) {
		return set, nil
	}
	return s.refresh(ctx)
}

// ForceRefresh marks the current set expired and refreshes it. Used when a
// token names a kid the cached set does not contain.
func (s *Store) ForceRefresh(ctx context.Context) (*KeySet, error) {
	s.invalidate(s.current.Load())
	return s.refresh(ctx)
}

// invalidate expires seen if it is still the current set. A set installed
// by a concurrent refresh is newer than the one the caller looked at and
// is left alone.
func (s *Store) invalidate(seen *KeySet) bool {
	return s.current.CompareAndSwap(seen, seen.invalidated())
}

// refresh joins the in-flight refresh or starts one. The shared refresh
// runs detached from the caller's cancellation so one caller giving up
// cannot fail it for the others; the HTTP client timeout bounds it.
func (s *Store) refresh(ctx context.Context) (*KeySet, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(s.url, func() (any, error) {
		return s.doRefresh(detached)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	case <-ctx.Done():
		return nil, sserr.Wrap(ctx.Err(), sserr.CodeAuthenticationKeyFetch,
			"jwks: abandoned while waiting for key refresh").WithDetail("jwks_url", s.url)
	}
}

func (s *Store) doRefresh(ctx context.Context) (*KeySet, error) {
	cur := s.current.Load()
	if cur.Len() > 0 && !cur.IsExpired(s.now()) {
		return cur, nil
	}

	if cur.Len() == 0 && s.snapshots != nil && !s.warmed.Swap(true) {
		if snap := s.loadSnapshot(ctx); snap != nil {
			s.current.Store(snap)
			s.observer.KeySetReplaced(snap)
			if !snap.IsExpired(s.now()) {
				return snap, nil
			}
			cur = snap
		}
	}

	started := s.now()
	keys, err := s.fetcher.Fetch(ctx, s.url)
	s.observer.FetchCompleted(s.now().Sub(started), err)
	if err != nil {
		if cur.Len() > 0 {
			s.logger.Warn("jwks: refresh failed, serving previously fetched keys",
				zap.String("jwks_url", s.url),
				zap.Time("fetched_at", cur.FetchedAt()),
				zap.Error(err))
			s.observer.StaleKeysServed()
			return cur, nil
		}
		if ssErr, ok := sserr.AsError(err); ok && ssErr.Code == sserr.CodeAuthenticationKeyFetch {
			return nil, ssErr
		}
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationKeyFetch,
			"jwks: no signing keys available").WithDetail("jwks_url", s.url)
	}

	next := NewKeySet(keys, s.now(), s.ttl)
	s.current.Store(next)
	s.observer.KeySetReplaced(next)
	s.logger.Debug("jwks: key set refreshed",
		zap.String("jwks_url", s.url),
		zap.Int("keys", next.Len()))

	s.saveSnapshot(ctx, next)
	return next, nil
}

func (s *Store) loadSnapshot(ctx context.Context) *KeySet {
	data, err := s.snapshots.LoadSnapshot(ctx, s.url)
	if sserr.IsNotFound(err) {
		s.observer.SnapshotCompleted(SnapshotLoad, nil)
		return nil
	}
	if err == nil {
		var set *KeySet
		if set, err = UnmarshalSnapshot(data, s.ttl); err == nil {
			s.observer.SnapshotCompleted(SnapshotLoad, nil)
			s.logger.Info("jwks: loaded key set snapshot",
				zap.String("jwks_url", s.url),
				zap.Time("fetched_at", set.FetchedAt()),
				zap.Int("keys", set.Len()))
			return set
		}
	}
	s.observer.SnapshotCompleted(SnapshotLoad, err)
	s.logger.Warn("jwks: ignoring unreadable key set snapshot",
		zap.String("jwks_url", s.url), zap.Error(err))
	return nil
}

func (s *Store) saveSnapshot(ctx context.Context, set *KeySet) {
	if s.snapshots == nil {
		return
	}
	data, err := MarshalSnapshot(set)
	if err == nil {
		err = s.snapshots.SaveSnapshot(ctx, s.url, data)
	}
	s.observer.SnapshotCompleted(SnapshotSave, err)
	if err != nil {
		s.logger.Warn("jwks: failed to save key set snapshot",
			zap.String("jwks_url", s.url), zap.Error(err))
	}
}
