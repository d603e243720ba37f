// Package mediaconn memoizes the media upload/download connection
// descriptor (host list + auth token) a media send needs, refreshing it
// only when it is absent, expired, or explicitly forced — and coalescing
// concurrent callers onto a single in-flight refresh, per §5/§6.
package mediaconn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Conn is the media connection descriptor fetched from the wire.
type Conn struct {
	Hosts     []string
	AuthToken string
	TTL       time.Duration
	FetchedAt time.Time
}

func (c Conn) expired(now time.Time) bool {
	if c.TTL <= 0 {
		return true
	}
	return now.Sub(c.FetchedAt) >= c.TTL
}

// Fetcher retrieves a fresh Conn over the wire.
type Fetcher interface {
	FetchMediaConn(ctx context.Context) (Conn, error)
}

// Store memoizes the current Conn.
type Store struct {
	fetcher Fetcher
	group   singleflight.Group

	mu      sync.Mutex
	current Conn
	hasConn bool
}

// New builds a Store.
func New(fetcher Fetcher) *Store {
	return &Store{fetcher: fetcher}
}

// Get returns the current media connection, refreshing it first if
// absent, expired, or force is set. Concurrent callers that all need a
// refresh share a single in-flight fetch.
func (s *Store) Get(ctx context.Context, force bool) (Conn, error) {
	s.mu.Lock()
	needsRefresh := force || !s.hasConn || s.current.expired(time.Now())
	cached := s.current
	s.mu.Unlock()

	if !needsRefresh {
		return cached, nil
	}

	v, err, _ := s.group.Do("mediaconn", func() (any, error) {
		conn, err := s.fetcher.FetchMediaConn(ctx)
		if err != nil {
			return Conn{}, fmt.Errorf("mediaconn: fetch: %w", err)
		}
		conn.FetchedAt = time.Now()
		s.mu.Lock()
		s.current = conn
		s.hasConn = true
		s.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return Conn{}, err
	}
	return v.(Conn), nil
}
