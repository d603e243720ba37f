package keystore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/baileysgo/relaycore/internal/signalsession"
)

var errBoom = errors.New("boom")

// fakeEngine is a signalEngine test double that tracks calls instead of
// running real Double Ratchet state transitions.
type fakeEngine struct {
	sessions   map[string]bool
	senderKeys map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{sessions: map[string]bool{}, senderKeys: map[string]bool{}}
}

func (f *fakeEngine) HasSession(addr signalsession.Address) bool {
	return f.sessions[addr.String()]
}

func (f *fakeEngine) InstallSession(addr signalsession.Address, bundle signalsession.PreKeyBundle) error {
	f.sessions[addr.String()] = true
	return nil
}

func (f *fakeEngine) EncryptPairwise(addr signalsession.Address, plaintext []byte) (string, []byte, error) {
	if !f.sessions[addr.String()] {
		return "pkmsg", append([]byte("pk:"), plaintext...), nil
	}
	return "msg", append([]byte("msg:"), plaintext...), nil
}

func (f *fakeEngine) EnsureSenderKey(groupID, selfAddr string) ([]byte, error) {
	key := groupID + "/" + selfAddr
	f.senderKeys[key] = true
	return []byte("skdm:" + key), nil
}

func (f *fakeEngine) EncryptGroup(groupID, selfAddr string, plaintext []byte) ([]byte, error) {
	return append([]byte("skmsg:"), plaintext...), nil
}

func openTestStore(t *testing.T) (*SQLiteStore, *fakeEngine) {
	t.Helper()
	engine := newFakeEngine()
	db, err := openDB(filepath.Join(t.TempDir(), "keystore.db"))
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("runMigrations: %v", err)
	}
	store := &SQLiteStore{db: db, engine: engine}
	t.Cleanup(func() { _ = store.Close() })
	return store, engine
}

func TestKVRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	err := store.Transaction(ctx, "test", func(tx Tx) error {
		return tx.Set(ctx, NamespaceDeviceList, map[string][]byte{"k1": []byte("v1")})
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}

	err = store.Transaction(ctx, "test", func(tx Tx) error {
		got, err := tx.Get(ctx, NamespaceDeviceList, []string{"k1", "missing"})
		if err != nil {
			return err
		}
		if string(got["k1"]) != "v1" {
			t.Errorf("k1 = %q, want v1", got["k1"])
		}
		if _, ok := got["missing"]; ok {
			t.Errorf("missing key should be absent, got %v", got["missing"])
		}
		return nil
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	wantErr := errBoom
	err := store.Transaction(ctx, "test", func(tx Tx) error {
		if err := tx.Set(ctx, NamespaceDeviceList, map[string][]byte{"k1": []byte("v1")}); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	_ = store.Transaction(ctx, "test", func(tx Tx) error {
		got, err := tx.Get(ctx, NamespaceDeviceList, []string{"k1"})
		if err != nil {
			return err
		}
		if _, ok := got["k1"]; ok {
			t.Error("expected rolled-back write not to be visible")
		}
		return nil
	})
}

func TestLIDMappingRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.StoreLIDPNMappings(ctx, []LIDPair{
		{PN: "1111", LID: "aaaa"},
		{PN: "2222", LID: "bbbb"},
	}); err != nil {
		t.Fatalf("store mappings: %v", err)
	}

	lid, ok, err := store.GetLIDForPN(ctx, "1111")
	if err != nil || !ok || lid != "aaaa" {
		t.Errorf("GetLIDForPN = (%q, %v, %v), want (aaaa, true, nil)", lid, ok, err)
	}

	pn, ok, err := store.GetPNForLID(ctx, "bbbb")
	if err != nil || !ok || pn != "2222" {
		t.Errorf("GetPNForLID = (%q, %v, %v), want (2222, true, nil)", pn, ok, err)
	}

	batch, err := store.GetLIDsForPNs(ctx, []string{"1111", "2222", "9999"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(batch) != 2 || batch["1111"] != "aaaa" || batch["2222"] != "bbbb" {
		t.Errorf("batch = %v, want {1111:aaaa 2222:bbbb}", batch)
	}
}

func TestLIDMappingUpsertIsIdempotent(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	pair := []LIDPair{{PN: "1111", LID: "aaaa"}}
	if err := store.StoreLIDPNMappings(ctx, pair); err != nil {
		t.Fatalf("first store: %v", err)
	}
	if err := store.StoreLIDPNMappings(ctx, pair); err != nil {
		t.Fatalf("second store: %v", err)
	}
	lid, ok, err := store.GetLIDForPN(ctx, "1111")
	if err != nil || !ok || lid != "aaaa" {
		t.Errorf("GetLIDForPN after idempotent store = (%q, %v, %v)", lid, ok, err)
	}
}

func TestDeviceListReplace(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.ReplaceDeviceList(ctx, "user1", []string{"user1:1", "user1:2"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	devices, err := store.DeviceList(ctx, "user1")
	if err != nil {
		t.Fatalf("device list: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}

	if err := store.ReplaceDeviceList(ctx, "user1", []string{"user1:3"}); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	devices, err = store.DeviceList(ctx, "user1")
	if err != nil {
		t.Fatalf("device list after replace: %v", err)
	}
	if len(devices) != 1 || devices[0] != "user1:3" {
		t.Errorf("devices = %v, want [user1:3]", devices)
	}
}

func TestEncryptMessageDelegatesToEngine(t *testing.T) {
	store, engine := openTestStore(t)
	ctx := context.Background()

	err := store.Transaction(ctx, "test", func(tx Tx) error {
		ctype, ciphertext, err := tx.EncryptMessage(ctx, "peer.1", []byte("hi"))
		if err != nil {
			return err
		}
		if ctype != "pkmsg" {
			t.Errorf("ctype = %q, want pkmsg on first message", ctype)
		}
		if string(ciphertext) != "pk:hi" {
			t.Errorf("ciphertext = %q, want pk:hi", ciphertext)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	engine.sessions["peer.1"] = true
	err = store.Transaction(ctx, "test", func(tx Tx) error {
		ctype, _, err := tx.EncryptMessage(ctx, "peer.1", []byte("hi"))
		if err != nil {
			return err
		}
		if ctype != "msg" {
			t.Errorf("ctype = %q, want msg once a session exists", ctype)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("second transaction: %v", err)
	}
}

func TestEncryptGroupMessageEncryptsEverySend(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	err := store.Transaction(ctx, "test", func(tx Tx) error {
		ciphertext, err := tx.EncryptGroupMessage(ctx, "group1", "me.1", []byte("hi"))
		if err != nil {
			return err
		}
		if string(ciphertext) != "skmsg:hi" {
			t.Errorf("ciphertext = %q, want skmsg:hi", ciphertext)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("first send: %v", err)
	}

	err = store.Transaction(ctx, "test", func(tx Tx) error {
		_, err := tx.EncryptGroupMessage(ctx, "group1", "me.1", []byte("again"))
		return err
	})
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
}

func TestGroupSenderKeyDistributionAlwaysAvailable(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	var first, second []byte
	err := store.Transaction(ctx, "test", func(tx Tx) error {
		var err error
		first, err = tx.GroupSenderKeyDistribution(ctx, "group1", "me.1")
		return err
	})
	if err != nil || first == nil {
		t.Fatalf("first call: dist=%v err=%v", first, err)
	}

	err = store.Transaction(ctx, "test", func(tx Tx) error {
		var err error
		second, err = tx.GroupSenderKeyDistribution(ctx, "group1", "me.1")
		return err
	})
	if err != nil || second == nil {
		t.Fatalf("second call: dist=%v err=%v", second, err)
	}
}

func TestSenderKeyMemoryRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	memo, err := store.SenderKeyRecipients(ctx, "group1")
	if err != nil {
		t.Fatalf("SenderKeyRecipients: %v", err)
	}
	if len(memo) != 0 {
		t.Fatalf("expected empty memory, got %v", memo)
	}

	if err := store.MarkSenderKeySent(ctx, "group1", []string{"111:1@s.whatsapp.net", "222:1@s.whatsapp.net"}); err != nil {
		t.Fatalf("MarkSenderKeySent: %v", err)
	}

	memo, err = store.SenderKeyRecipients(ctx, "group1")
	if err != nil {
		t.Fatalf("SenderKeyRecipients: %v", err)
	}
	if !memo["111:1@s.whatsapp.net"] || !memo["222:1@s.whatsapp.net"] {
		t.Errorf("memo = %v, want both recipients marked", memo)
	}

	// Marking the same recipient again must stay idempotent.
	if err := store.MarkSenderKeySent(ctx, "group1", []string{"111:1@s.whatsapp.net"}); err != nil {
		t.Fatalf("re-mark: %v", err)
	}
}

func TestGroupMetadataCache(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if _, _, ok, err := store.GroupMetadata(ctx, "g1"); err != nil || ok {
		t.Fatalf("expected cache miss, got ok=%v err=%v", ok, err)
	}

	if err := store.PutGroupMetadata(ctx, "g1", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	payload, age, ok, err := store.GroupMetadata(ctx, "g1")
	if err != nil || !ok {
		t.Fatalf("expected cache hit, got ok=%v err=%v", ok, err)
	}
	if string(payload) != "payload" {
		t.Errorf("payload = %q, want payload", payload)
	}
	if age < 0 {
		t.Errorf("age = %v, want >= 0", age)
	}
}
