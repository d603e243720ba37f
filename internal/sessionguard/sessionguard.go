// Package sessionguard makes sure a Signal protocol session exists for
// every device a message is about to be sent to, fetching and installing
// pre-key bundles for whichever devices are missing one, per §4.3.
package sessionguard

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/baileysgo/relaycore/internal/keystore"
	"github.com/baileysgo/relaycore/internal/signalsession"
)

// presenceTTL matches the device-list cache in internal/deviceresolver:
// a session's absence is re-checked on the same cadence a device list
// would go stale.
const presenceTTL = 5 * time.Minute

const presenceCacheSize = 20_000

// PreKeyFetcher fetches a pre-key bundle over the wire for a single
// address, the pre-key IQ round trip §4.3 assumes exists upstream.
type PreKeyFetcher interface {
	FetchBundle(ctx context.Context, addr signalsession.Address) (signalsession.PreKeyBundle, error)
}

// Guard asserts sessions ahead of a send.
type Guard struct {
	store    keystore.Store
	fetcher  PreKeyFetcher
	presence *lru.LRU[string, struct{}]

	// chunkSize and interChunkDelay implement the "chunked, delayed"
	// batching §4.3 requires for large group fan-out: asserting hundreds
	// of sessions in one burst risks tripping wire-level rate limits.
	chunkSize       int
	interChunkDelay time.Duration

	// compatV6GroupSend makes a per-device session-assert failure inside
	// a group fan-out non-fatal: the send proceeds to the devices that
	// did assert, instead of aborting the whole group send over one bad
	// device. Named for the older protocol revision that tolerated
	// partial group delivery this way.
	compatV6GroupSend bool
}

// New builds a Guard. chunkSize <= 0 disables chunking (all addresses
// asserted in one batch).
func New(store keystore.Store, fetcher PreKeyFetcher, chunkSize int, interChunkDelay time.Duration, compatV6GroupSend bool) *Guard {
	return &Guard{
		store:             store,
		fetcher:           fetcher,
		presence:          lru.NewLRU[string, struct{}](presenceCacheSize, nil, presenceTTL),
		chunkSize:         chunkSize,
		interChunkDelay:   interChunkDelay,
		compatV6GroupSend: compatV6GroupSend,
	}
}

// AssertResult reports which addresses ended up with a usable session
// and which were dropped (only possible when compatV6GroupSend is set).
type AssertResult struct {
	Ready   []signalsession.Address
	Dropped map[signalsession.Address]error
}

// AssertSessions ensures every address in addrs has a session, fetching
// and installing pre-key bundles for the ones that don't. It processes
// addrs in chunks with a delay between them.
func (g *Guard) AssertSessions(ctx context.Context, addrs []signalsession.Address) (AssertResult, error) {
	result := AssertResult{Dropped: map[signalsession.Address]error{}}

	chunks := chunk(addrs, g.chunkSize)
	for i, batch := range chunks {
		if i > 0 && g.interChunkDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(g.interChunkDelay):
			}
		}

		group, gctx := errgroup.WithContext(ctx)
		results := make([]error, len(batch))
		for idx, addr := range batch {
			idx, addr := idx, addr
			group.Go(func() error {
				results[idx] = g.assertOne(gctx, addr)
				if !g.compatV6GroupSend {
					return results[idx]
				}
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return result, fmt.Errorf("sessionguard: assert batch: %w", err)
		}

		for idx, addr := range batch {
			if err := results[idx]; err != nil {
				if !g.compatV6GroupSend {
					return result, fmt.Errorf("sessionguard: assert %s: %w", addr, err)
				}
				result.Dropped[addr] = err
				continue
			}
			result.Ready = append(result.Ready, addr)
		}
	}
	return result, nil
}

func (g *Guard) assertOne(ctx context.Context, addr signalsession.Address) error {
	key := addr.String()
	if _, ok := g.presence.Get(key); ok {
		return nil
	}

	var present bool
	err := g.store.Transaction(ctx, "sessionguard.validate", func(tx keystore.Tx) error {
		var err error
		present, err = tx.ValidateSession(ctx, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("validate session: %w", err)
	}
	if present {
		g.presence.Add(key, struct{}{})
		return nil
	}

	bundle, err := g.fetcher.FetchBundle(ctx, addr)
	if err != nil {
		return fmt.Errorf("fetch pre-key bundle: %w", err)
	}

	err = g.store.Transaction(ctx, "sessionguard.install", func(tx keystore.Tx) error {
		return tx.InstallSession(ctx, key, bundle)
	})
	if err != nil {
		return fmt.Errorf("install session: %w", err)
	}
	g.presence.Add(key, struct{}{})
	return nil
}

func chunk(addrs []signalsession.Address, size int) [][]signalsession.Address {
	if size <= 0 || size >= len(addrs) {
		if len(addrs) == 0 {
			return nil
		}
		return [][]signalsession.Address{addrs}
	}
	var out [][]signalsession.Address
	for i := 0; i < len(addrs); i += size {
		end := i + size
		if end > len(addrs) {
			end = len(addrs)
		}
		out = append(out, addrs[i:end])
	}
	return out
}
