// Package identitymap resolves between the phone-number (PN) and LID
// identity spaces §4.1 describes. It layers a bounded LRU, whose entries
// expire a fixed time after they were last stored, in front of the keystore's persistent lid_mapping table, the same two-
// tier shape the teacher's adapter gets for free from whatsmeow's device
// store but which this module must build explicitly since it owns no
// device store of its own.
package identitymap

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/baileysgo/relaycore/internal/keystore"
)

// idleExpiry is how long an entry survives in the LRU after it was last
// stored there (by StoreMappings or a keystore load) before it must be
// re-fetched from the keystore. A cache hit does not extend it: the
// expirable LRU counts from insertion, not from the last read. PN/LID
// bindings are effectively permanent once observed, hence 7 days.
const idleExpiry = 7 * 24 * time.Hour

const cacheSize = 50_000

// Persistent is the subset of keystore.SQLiteStore identitymap depends
// on, narrowed to an interface so it can be faked in tests.
type Persistent interface {
	StoreLIDPNMappings(ctx context.Context, pairs []keystore.LIDPair) error
	GetLIDForPN(ctx context.Context, pn string) (string, bool, error)
	GetPNForLID(ctx context.Context, lid string) (string, bool, error)
	GetLIDsForPNs(ctx context.Context, pns []string) (map[string]string, error)
}

// Map is the PN↔LID resolver. The zero value is not usable; construct
// with New.
type Map struct {
	store    Persistent
	pnToLID  *lru.LRU[string, string]
	lidToPN  *lru.LRU[string, string]
}

// New builds a Map backed by store.
func New(store Persistent) *Map {
	return &Map{
		store:   store,
		pnToLID: lru.NewLRU[string, string](cacheSize, nil, idleExpiry),
		lidToPN: lru.NewLRU[string, string](cacheSize, nil, idleExpiry),
	}
}

// StoreMappings records pairs, both in the LRU and persistently. It is
// idempotent: storing the same pair twice leaves the invariant (each PN
// maps to exactly one LID and vice versa) untouched.
func (m *Map) StoreMappings(ctx context.Context, pairs []keystore.LIDPair) error {
	if len(pairs) == 0 {
		return nil
	}
	if err := m.store.StoreLIDPNMappings(ctx, pairs); err != nil {
		return fmt.Errorf("identitymap: persist mappings: %w", err)
	}
	for _, p := range pairs {
		m.pnToLID.Add(p.PN, p.LID)
		m.lidToPN.Add(p.LID, p.PN)
	}
	return nil
}

// LIDForPN resolves pn's LID, consulting the LRU before falling back to
// the keystore. ok is false if no mapping has ever been observed.
func (m *Map) LIDForPN(ctx context.Context, pn string) (lid string, ok bool, err error) {
	if lid, hit := m.pnToLID.Get(pn); hit {
		return lid, true, nil
	}
	lid, ok, err = m.store.GetLIDForPN(ctx, pn)
	if err != nil {
		return "", false, fmt.Errorf("identitymap: lookup lid for pn: %w", err)
	}
	if ok {
		m.pnToLID.Add(pn, lid)
		m.lidToPN.Add(lid, pn)
	}
	return lid, ok, nil
}

// PNForLID resolves lid's PN, symmetric to LIDForPN.
func (m *Map) PNForLID(ctx context.Context, lid string) (pn string, ok bool, err error) {
	if pn, hit := m.lidToPN.Get(lid); hit {
		return pn, true, nil
	}
	pn, ok, err = m.store.GetPNForLID(ctx, lid)
	if err != nil {
		return "", false, fmt.Errorf("identitymap: lookup pn for lid: %w", err)
	}
	if ok {
		m.lidToPN.Add(lid, pn)
		m.pnToLID.Add(pn, lid)
	}
	return pn, ok, nil
}

// LIDsForPNs batches LIDForPN, only hitting the keystore for PNs that
// missed the LRU.
func (m *Map) LIDsForPNs(ctx context.Context, pns []string) (map[string]string, error) {
	out := make(map[string]string, len(pns))
	var misses []string
	for _, pn := range pns {
		if lid, hit := m.pnToLID.Get(pn); hit {
			out[pn] = lid
		} else {
			misses = append(misses, pn)
		}
	}
	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := m.store.GetLIDsForPNs(ctx, misses)
	if err != nil {
		return nil, fmt.Errorf("identitymap: batch lookup: %w", err)
	}
	for pn, lid := range fetched {
		out[pn] = lid
		m.pnToLID.Add(pn, lid)
		m.lidToPN.Add(lid, pn)
	}
	return out, nil
}
