package keystore

import (
	"context"
	"database/sql"
	"fmt"

	"go.mau.fi/libsignal/serialize"
	"go.uber.org/zap"

	"github.com/baileysgo/relaycore/internal/signalsession"
)

// signalEngine is the slice of *signalsession.Engine the keystore drives.
// Declaring it as an interface here, rather than depending on the
// concrete type, lets tests substitute a fake without standing up real
// libsignal stores.
type signalEngine interface {
	HasSession(addr signalsession.Address) bool
	InstallSession(addr signalsession.Address, bundle signalsession.PreKeyBundle) error
	EncryptPairwise(addr signalsession.Address, plaintext []byte) (ctype string, ciphertext []byte, err error)
	EnsureSenderKey(groupID, selfAddr string) ([]byte, error)
	EncryptGroup(groupID, selfAddr string, plaintext []byte) ([]byte, error)
}

// SQLiteStore is the reference keystore implementation: the non-Signal
// tables (lid_mapping, device_list, sender_key_memory, group_metadata,
// kv_store) live in SQLite the way the teacher's internal/store package
// keeps chats/contacts, while the Signal protocol state itself is owned
// by the libsignal stores passed in via engine.
type SQLiteStore struct {
	db     *sql.DB
	engine signalEngine
}

// Open creates or migrates the keystore database at path, building its
// own Signal-protocol session engine from the same database (identity
// key pair, pre-keys, sessions, and sender keys all live alongside the
// non-Signal tables this store owns directly).
func Open(path string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate keystore: %w", err)
	}
	stores, err := SignalStores(db, serialize.NewJSONSerializer(), logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("build signal stores: %w", err)
	}
	engine := signalsession.NewEngine(stores)
	return &SQLiteStore{db: db, engine: engine}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Transaction opens a SQL transaction and hands a scoped Tx to body,
// committing on success and rolling back on error or panic. scope is
// purely diagnostic (logged by callers), mirroring how the teacher names
// its daemon lifecycle hooks for observability.
func (s *SQLiteStore) Transaction(ctx context.Context, scope string, body func(Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", scope, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &txImpl{sqlTx: sqlTx, engine: s.engine}
	if err := body(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", scope, err)
	}
	committed = true
	return nil
}

type txImpl struct {
	sqlTx  *sql.Tx
	engine signalEngine
}

func (t *txImpl) Get(ctx context.Context, namespace Namespace, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	for _, key := range keys {
		var value []byte
		err := t.sqlTx.QueryRowContext(ctx,
			`SELECT value FROM kv_store WHERE namespace = ? AND key = ?`, string(namespace), key,
		).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
		}
		out[key] = value
	}
	return out, nil
}

func (t *txImpl) Set(ctx context.Context, namespace Namespace, values map[string][]byte) error {
	for key, value := range values {
		if _, err := t.sqlTx.ExecContext(ctx,
			`INSERT INTO kv_store (namespace, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`,
			string(namespace), key, value,
		); err != nil {
			return fmt.Errorf("set %s/%s: %w", namespace, key, err)
		}
	}
	return nil
}

func (t *txImpl) Delete(ctx context.Context, namespace Namespace, keys []string) error {
	for _, key := range keys {
		if _, err := t.sqlTx.ExecContext(ctx,
			`DELETE FROM kv_store WHERE namespace = ? AND key = ?`, string(namespace), key,
		); err != nil {
			return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
		}
	}
	return nil
}

func (t *txImpl) ValidateSession(ctx context.Context, peerAddr string) (bool, error) {
	addr, err := parseAddr(peerAddr)
	if err != nil {
		return false, err
	}
	return t.engine.HasSession(addr), nil
}

func (t *txImpl) InstallSession(ctx context.Context, peerAddr string, bundle signalsession.PreKeyBundle) error {
	addr, err := parseAddr(peerAddr)
	if err != nil {
		return err
	}
	return t.engine.InstallSession(addr, bundle)
}

func (t *txImpl) EncryptMessage(ctx context.Context, peerAddr string, plaintext []byte) (string, []byte, error) {
	addr, err := parseAddr(peerAddr)
	if err != nil {
		return "", nil, err
	}
	return t.engine.EncryptPairwise(addr, plaintext)
}

func (t *txImpl) EncryptGroupMessage(ctx context.Context, groupJID, selfAddr string, plaintext []byte) ([]byte, error) {
	ciphertext, err := t.engine.EncryptGroup(groupJID, selfAddr, plaintext)
	if err != nil {
		return nil, fmt.Errorf("group encrypt: %w", err)
	}
	return ciphertext, nil
}

func (t *txImpl) GroupSenderKeyDistribution(ctx context.Context, groupJID, selfAddr string) ([]byte, error) {
	skdm, err := t.engine.EnsureSenderKey(groupJID, selfAddr)
	if err != nil {
		return nil, fmt.Errorf("ensure sender key: %w", err)
	}
	return skdm, nil
}

func (t *txImpl) DecryptMessage(ctx context.Context, peerAddr string, ciphertext []byte, ctype string) ([]byte, error) {
	return nil, fmt.Errorf("keystore: DecryptMessage not supported by the outbound relay core")
}

func parseAddr(peerAddr string) (signalsession.Address, error) {
	user, device, err := splitAddr(peerAddr)
	if err != nil {
		return signalsession.Address{}, err
	}
	return signalsession.Address{Name: user, DeviceID: device}, nil
}
