// Package deviceresolver turns a bare user JID into the set of device
// JIDs a message must fan out to, via a USync query, caching the result
// the way §4.2 requires.
package deviceresolver

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/baileysgo/relaycore/internal/identitymap"
	"github.com/baileysgo/relaycore/internal/jid"
	"github.com/baileysgo/relaycore/internal/keystore"
)

// ttl is how long a resolved device list is trusted before a fresh
// USync query is issued, even if nothing invalidated it explicitly.
const ttl = 5 * time.Minute

const cacheSize = 10_000

// USyncResult is one user's USync response: the resolved device set
// plus any opt-in LID↔PN mapping the directory chose to include
// alongside it (§4.2 step 3).
type USyncResult struct {
	Devices  []jid.JID
	Mappings []keystore.LIDPair
}

// USyncClient issues the actual device-list query. The relay core
// depends only on this interface; the wire-level USync IQ round trip is
// a transport concern out of this module's scope.
type USyncClient interface {
	QueryDevices(ctx context.Context, user jid.JID) (USyncResult, error)
}

// Persistent records the last known device list per user, surviving
// process restarts.
type Persistent interface {
	ReplaceDeviceList(ctx context.Context, userJID string, deviceJIDs []string) error
	DeviceList(ctx context.Context, userJID string) ([]string, error)
}

// Resolver resolves users to device sets.
type Resolver struct {
	client   USyncClient
	store    Persistent
	identity *identitymap.Map
	cache    *lru.LRU[string, []jid.JID]

	// ignoreZeroDevices suppresses the primary device (device=0) from a
	// resolved set, per §4.2/§3: some fan-out modes only ever want the
	// companion devices and must never address the phone itself.
	ignoreZeroDevices bool
}

// New builds a Resolver. ignoreZeroDevices drops the primary device
// (device 0) from every resolved set; the production wiring in
// internal/relay passes false so ordinary sends reach the primary
// device too.
func New(client USyncClient, store Persistent, identity *identitymap.Map, ignoreZeroDevices bool) *Resolver {
	return &Resolver{
		client:            client,
		store:             store,
		identity:          identity,
		cache:             lru.NewLRU[string, []jid.JID](cacheSize, nil, ttl),
		ignoreZeroDevices: ignoreZeroDevices,
	}
}

// Devices resolves user to its device set. explicitDevice, if non-empty,
// is returned as a single-element set without touching USync or the
// cache at all — §4.2's passthrough for sends addressed at one already-
// known device.
func (r *Resolver) Devices(ctx context.Context, user jid.JID, explicitDevice *jid.JID) ([]jid.JID, error) {
	if explicitDevice != nil {
		return []jid.JID{*explicitDevice}, nil
	}

	key := user.ToNonAD().String()
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	result, err := r.client.QueryDevices(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("deviceresolver: usync query for %s: %w", key, err)
	}

	if len(result.Mappings) > 0 {
		if err := r.identity.StoreMappings(ctx, result.Mappings); err != nil {
			return nil, fmt.Errorf("deviceresolver: store lid mappings for %s: %w", key, err)
		}
	}

	devices := result.Devices
	if r.ignoreZeroDevices {
		devices = dropPrimaryDevice(devices)
	}

	if len(devices) == 0 {
		if persisted, perr := r.fromPersistent(ctx, key); perr == nil && len(persisted) > 0 {
			r.cache.Add(key, persisted)
			return persisted, nil
		}
		return nil, fmt.Errorf("deviceresolver: usync returned zero devices for %s", key)
	}

	raw := make([]string, len(devices))
	for i, d := range devices {
		raw[i] = d.String()
	}
	if err := r.store.ReplaceDeviceList(ctx, key, raw); err != nil {
		return nil, fmt.Errorf("deviceresolver: persist device list for %s: %w", key, err)
	}

	r.cache.Add(key, devices)
	return devices, nil
}

// dropPrimaryDevice removes device=0 (the phone) from devices, leaving
// only the linked/companion devices.
func dropPrimaryDevice(devices []jid.JID) []jid.JID {
	out := make([]jid.JID, 0, len(devices))
	for _, d := range devices {
		if d.Device == 0 {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *Resolver) fromPersistent(ctx context.Context, key string) ([]jid.JID, error) {
	raw, err := r.store.DeviceList(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]jid.JID, 0, len(raw))
	for _, s := range raw {
		parsed, err := jid.Parse(s)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out, nil
}

// Invalidate drops user's cached device set, forcing the next Devices
// call to re-query USync.
func (r *Resolver) Invalidate(user jid.JID) {
	r.cache.Remove(user.ToNonAD().String())
}
