package deviceresolver

import (
	"context"
	"errors"
	"testing"

	"github.com/baileysgo/relaycore/internal/identitymap"
	"github.com/baileysgo/relaycore/internal/jid"
	"github.com/baileysgo/relaycore/internal/keystore"
)

func identityMap() *identitymap.Map {
	return newIdentityMap(&fakeIdentityPersistent{})
}

func newIdentityMap(p *fakeIdentityPersistent) *identitymap.Map {
	return identitymap.New(p)
}

type fakeClient struct {
	devices  map[string][]jid.JID
	mappings map[string][]keystore.LIDPair
	err      error
	calls    int
}

func (f *fakeClient) QueryDevices(ctx context.Context, user jid.JID) (USyncResult, error) {
	f.calls++
	if f.err != nil {
		return USyncResult{}, f.err
	}
	key := user.ToNonAD().String()
	return USyncResult{Devices: f.devices[key], Mappings: f.mappings[key]}, nil
}

type fakePersistent struct {
	lists map[string][]string
}

func newFakePersistent() *fakePersistent {
	return &fakePersistent{lists: map[string][]string{}}
}

func (f *fakePersistent) ReplaceDeviceList(ctx context.Context, userJID string, deviceJIDs []string) error {
	f.lists[userJID] = deviceJIDs
	return nil
}

func (f *fakePersistent) DeviceList(ctx context.Context, userJID string) ([]string, error) {
	return f.lists[userJID], nil
}

type fakeIdentityPersistent struct {
	stored []keystore.LIDPair
}

func (f *fakeIdentityPersistent) StoreLIDPNMappings(ctx context.Context, pairs []keystore.LIDPair) error {
	f.stored = append(f.stored, pairs...)
	return nil
}

func (f *fakeIdentityPersistent) GetLIDForPN(ctx context.Context, pn string) (string, bool, error) {
	for _, p := range f.stored {
		if p.PN == pn {
			return p.LID, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeIdentityPersistent) GetPNForLID(ctx context.Context, lid string) (string, bool, error) {
	for _, p := range f.stored {
		if p.LID == lid {
			return p.PN, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeIdentityPersistent) GetLIDsForPNs(ctx context.Context, pns []string) (map[string]string, error) {
	out := map[string]string{}
	for _, pn := range pns {
		if lid, ok, _ := f.GetLIDForPN(ctx, pn); ok {
			out[pn] = lid
		}
	}
	return out, nil
}

func mustJID(t *testing.T, s string) jid.JID {
	t.Helper()
	j, err := jid.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return j
}

func TestDevicesQueriesAndCaches(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	dev := mustJID(t, "111:1@s.whatsapp.net")
	client := &fakeClient{devices: map[string][]jid.JID{user.ToNonAD().String(): {dev}}}
	r := New(client, newFakePersistent(), identityMap(), true)
	ctx := context.Background()

	got, err := r.Devices(ctx, user, nil)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(got) != 1 || got[0] != dev {
		t.Fatalf("got %v, want [%v]", got, dev)
	}

	if _, err := r.Devices(ctx, user, nil); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if client.calls != 1 {
		t.Errorf("usync called %d times, want 1 (second should hit cache)", client.calls)
	}
}

func TestDevicesExplicitDeviceBypassesUsync(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	explicit := mustJID(t, "111:5@s.whatsapp.net")
	client := &fakeClient{}
	r := New(client, newFakePersistent(), identityMap(), true)

	got, err := r.Devices(context.Background(), user, &explicit)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(got) != 1 || got[0] != explicit {
		t.Fatalf("got %v, want [%v]", got, explicit)
	}
	if client.calls != 0 {
		t.Errorf("usync called, want explicit device to bypass it entirely")
	}
}

func TestDevicesZeroDevicesFallsBackToPersistedList(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	dev := mustJID(t, "111:1@s.whatsapp.net")
	client := &fakeClient{devices: map[string][]jid.JID{}}
	store := newFakePersistent()
	store.lists[user.ToNonAD().String()] = []string{dev.String()}
	r := New(client, store, identityMap(), true)

	got, err := r.Devices(context.Background(), user, nil)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(got) != 1 || got[0] != dev {
		t.Fatalf("got %v, want fallback [%v]", got, dev)
	}
}

func TestDevicesZeroDevicesNoFallbackErrors(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	client := &fakeClient{devices: map[string][]jid.JID{}}
	r := New(client, newFakePersistent(), identityMap(), true)

	if _, err := r.Devices(context.Background(), user, nil); err == nil {
		t.Error("expected an error when usync returns zero devices with nothing persisted")
	}
}

func TestDevicesPropagatesQueryError(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	client := &fakeClient{err: errors.New("usync unavailable")}
	r := New(client, newFakePersistent(), identityMap(), true)

	if _, err := r.Devices(context.Background(), user, nil); err == nil {
		t.Error("expected query error to propagate")
	}
}

func TestInvalidateForcesRequery(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	dev := mustJID(t, "111:1@s.whatsapp.net")
	client := &fakeClient{devices: map[string][]jid.JID{user.ToNonAD().String(): {dev}}}
	r := New(client, newFakePersistent(), identityMap(), true)
	ctx := context.Background()

	if _, err := r.Devices(ctx, user, nil); err != nil {
		t.Fatalf("first call: %v", err)
	}
	r.Invalidate(user)
	if _, err := r.Devices(ctx, user, nil); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("usync called %d times, want 2 after invalidate", client.calls)
	}
}

func TestDevicesIgnoreZeroDevicesDropsPrimaryDevice(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	primary := mustJID(t, "111:0@s.whatsapp.net")
	companion := mustJID(t, "111:2@s.whatsapp.net")
	client := &fakeClient{devices: map[string][]jid.JID{user.ToNonAD().String(): {primary, companion}}}
	r := New(client, newFakePersistent(), identityMap(), true)

	got, err := r.Devices(context.Background(), user, nil)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(got) != 1 || got[0] != companion {
		t.Fatalf("got %v, want only the companion device", got)
	}
}

func TestDevicesKeepsPrimaryDeviceWhenNotIgnored(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	primary := mustJID(t, "111:0@s.whatsapp.net")
	companion := mustJID(t, "111:2@s.whatsapp.net")
	client := &fakeClient{devices: map[string][]jid.JID{user.ToNonAD().String(): {primary, companion}}}
	r := New(client, newFakePersistent(), identityMap(), false)

	got, err := r.Devices(context.Background(), user, nil)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want both devices kept", got)
	}
}

func TestDevicesStoresOptInLIDMappings(t *testing.T) {
	user := mustJID(t, "111@s.whatsapp.net")
	dev := mustJID(t, "111:1@s.whatsapp.net")
	client := &fakeClient{
		devices:  map[string][]jid.JID{user.ToNonAD().String(): {dev}},
		mappings: map[string][]keystore.LIDPair{user.ToNonAD().String(): {{PN: "111", LID: "9988776655"}}},
	}
	identPers := &fakeIdentityPersistent{}
	identity := newIdentityMap(identPers)
	r := New(client, newFakePersistent(), identity, true)

	if _, err := r.Devices(context.Background(), user, nil); err != nil {
		t.Fatalf("Devices: %v", err)
	}

	lid, ok, err := identity.LIDForPN(context.Background(), "111")
	if err != nil {
		t.Fatalf("LIDForPN: %v", err)
	}
	if !ok || lid != "9988776655" {
		t.Errorf("LIDForPN(111) = (%q, %v), want (9988776655, true)", lid, ok)
	}
}
