// Package groupstate caches group metadata (the participant list an
// outbound group send fans out to) the way §4.5 requires: a short-lived
// in-memory cache backed by a longer-lived persistent one, refreshed
// from the wire only when both miss or go stale. It is also the only
// writer of this account's per-group sender-key-memory: the set of wire
// JIDs that already hold the sender's current sender key for a group.
package groupstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/baileysgo/relaycore/internal/jid"
)

// freshness is how long a cached group metadata snapshot — in memory or
// on disk — is trusted before a fresh fetch is required.
const freshness = 5 * time.Minute

const cacheSize = 5_000

// Participant is one group member, carrying both identity-space forms
// when known. LID is the zero JID when USync never handed this account
// an opt-in LID mapping for this user; representatives are then always
// taken from PN regardless of the group's addressing mode.
type Participant struct {
	PN    jid.JID `json:"pn"`
	LID   jid.JID `json:"lid,omitempty"`
	Admin bool    `json:"admin,omitempty"`
}

// Metadata is the subset of group metadata a send needs: who to fan out
// to, which identity space the group addresses participants in, and
// the group's disappearing-message timer, if any.
type Metadata struct {
	GroupJID         string             `json:"group_jid"`
	Participants     []Participant      `json:"participants"`
	AddressingMode   jid.AddressingMode `json:"addressing_mode"`
	EphemeralSeconds int                `json:"ephemeral_seconds,omitempty"`
}

// Fetcher retrieves fresh group metadata over the wire.
type Fetcher interface {
	FetchGroupMetadata(ctx context.Context, groupJID string) (Metadata, error)
}

// Persistent is the keystore's group metadata cache table plus this
// account's per-group sender-key-memory bookkeeping.
type Persistent interface {
	PutGroupMetadata(ctx context.Context, groupJID string, payload []byte) error
	GroupMetadata(ctx context.Context, groupJID string) (payload []byte, age time.Duration, ok bool, err error)
	SenderKeyRecipients(ctx context.Context, groupJID string) (map[string]bool, error)
	MarkSenderKeySent(ctx context.Context, groupJID string, wireJIDs []string) error
}

// Store resolves group metadata through the memory/disk/wire tiers.
type Store struct {
	fetcher    Fetcher
	persistent Persistent
	cache      *lru.LRU[string, Metadata]
}

// New builds a Store.
func New(fetcher Fetcher, persistent Persistent) *Store {
	return &Store{
		fetcher:    fetcher,
		persistent: persistent,
		cache:      lru.NewLRU[string, Metadata](cacheSize, nil, freshness),
	}
}

// GetOrFetch returns groupJID's metadata, consulting the in-memory
// cache, then the persistent cache (if not stale), then the wire.
func (s *Store) GetOrFetch(ctx context.Context, groupJID string) (Metadata, error) {
	if m, ok := s.cache.Get(groupJID); ok {
		return m, nil
	}

	if payload, age, ok, err := s.persistent.GroupMetadata(ctx, groupJID); err == nil && ok && age < freshness {
		var m Metadata
		if err := json.Unmarshal(payload, &m); err == nil {
			s.cache.Add(groupJID, m)
			return m, nil
		}
	}

	m, err := s.fetcher.FetchGroupMetadata(ctx, groupJID)
	if err != nil {
		return Metadata{}, fmt.Errorf("groupstate: fetch %s: %w", groupJID, err)
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return Metadata{}, fmt.Errorf("groupstate: encode %s: %w", groupJID, err)
	}
	if err := s.persistent.PutGroupMetadata(ctx, groupJID, payload); err != nil {
		return Metadata{}, fmt.Errorf("groupstate: persist %s: %w", groupJID, err)
	}
	s.cache.Add(groupJID, m)
	return m, nil
}

// Invalidate drops groupJID from the in-memory cache, forcing the next
// GetOrFetch to at least consult the persistent tier.
func (s *Store) Invalidate(groupJID string) {
	s.cache.Remove(groupJID)
}

// SenderKeyMemory returns the set of wire JIDs that already hold this
// account's current sender key for groupJID, keyed by wire JID string.
func (s *Store) SenderKeyMemory(ctx context.Context, groupJID string) (map[string]bool, error) {
	memo, err := s.persistent.SenderKeyRecipients(ctx, groupJID)
	if err != nil {
		return nil, fmt.Errorf("groupstate: sender key memory for %s: %w", groupJID, err)
	}
	return memo, nil
}

// MarkSent records wireJIDs as now holding groupJID's current sender
// key. Callers must only call this once the SKDM fan-out has actually
// been handed to the transport, not merely encrypted, so a crash
// between encryption and send leaves memory correctly unmarked.
func (s *Store) MarkSent(ctx context.Context, groupJID string, wireJIDs []string) error {
	if len(wireJIDs) == 0 {
		return nil
	}
	if err := s.persistent.MarkSenderKeySent(ctx, groupJID, wireJIDs); err != nil {
		return fmt.Errorf("groupstate: mark sent for %s: %w", groupJID, err)
	}
	return nil
}
