package keystore

import (
	"database/sql"
	"fmt"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/keys/identity"
	"go.mau.fi/libsignal/util/keyhelper"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/serialize"
	"go.mau.fi/libsignal/state/record"
	"go.uber.org/zap"

	"github.com/baileysgo/relaycore/internal/signalsession"
)

// SignalStores builds the five libsignal store implementations the
// session engine needs, all backed by the same SQLite database as the
// rest of the keystore: one identity key pair per account, one row per
// pre-key/session/sender-key, persisted as the library's own serialized
// record bytes rather than re-derived fields. This is this module's
// analogue of the teacher's whatsmeow sqlstore.Container, scoped down
// to the Signal session state the outbound-only core actually needs.
func SignalStores(db *sql.DB, serial *serialize.Serializer, logger *zap.Logger) (signalsession.Stores, error) {
	identityStore, err := newSQLIdentityStore(db, logger)
	if err != nil {
		return signalsession.Stores{}, fmt.Errorf("load identity: %w", err)
	}
	return signalsession.Stores{
		Identity:     identityStore,
		PreKey:       &sqlPreKeyStore{db: db, serial: serial, logger: logger},
		SignedPreKey: &sqlSignedPreKeyStore{db: db, serial: serial, logger: logger},
		Session:      &sqlSessionStore{db: db, serial: serial, logger: logger},
		SenderKey:    &sqlSenderKeyStore{db: db, serial: serial, logger: logger},
	}, nil
}

type sqlIdentityStore struct {
	db             *sql.DB
	logger         *zap.Logger
	pair           *identity.KeyPair
	registrationID uint32
}

func newSQLIdentityStore(db *sql.DB, logger *zap.Logger) (*sqlIdentityStore, error) {
	var pubKey, privKey []byte
	var regID uint32
	row := db.QueryRow(`SELECT public_key, private_key, registration_id FROM identity_local WHERE id = 1`)
	switch err := row.Scan(&pubKey, &privKey, &regID); {
	case err == sql.ErrNoRows:
		kp, err := keyhelper.GenerateIdentityKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate identity key pair: %w", err)
		}
		regID, err = keyhelper.GenerateRegistrationID()
		if err != nil {
			return nil, fmt.Errorf("generate registration id: %w", err)
		}
		pubKey = kp.PublicKey().PublicKey().Serialize()
		privKey = kp.PrivateKey().Serialize()
		if _, err := db.Exec(
			`INSERT INTO identity_local (id, public_key, private_key, registration_id) VALUES (1, ?, ?, ?)`,
			pubKey, privKey, regID,
		); err != nil {
			return nil, fmt.Errorf("persist identity key pair: %w", err)
		}
		return &sqlIdentityStore{db: db, logger: logger, pair: kp, registrationID: regID}, nil
	case err != nil:
		return nil, fmt.Errorf("read identity key pair: %w", err)
	}

	pub, err := ecc.DecodePoint(pubKey, 0)
	if err != nil {
		return nil, fmt.Errorf("decode stored public key: %w", err)
	}
	priv := ecc.NewDjbECPrivateKey([32]byte(privKey))
	pair := identity.NewKeyPair(identity.NewKey(pub), priv)
	return &sqlIdentityStore{db: db, logger: logger, pair: pair, registrationID: regID}, nil
}

func (s *sqlIdentityStore) GetIdentityKeyPair() *identity.KeyPair { return s.pair }
func (s *sqlIdentityStore) GetLocalRegistrationId() uint32        { return s.registrationID }

func (s *sqlIdentityStore) SaveIdentity(address *protocol.SignalAddress, key *identity.Key) {
	if _, err := s.db.Exec(
		`INSERT INTO identity_trust (address, identity_key) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET identity_key = excluded.identity_key`,
		address.String(), key.Serialize(),
	); err != nil {
		s.logger.Warn("save identity failed", zap.String("address", address.String()), zap.Error(err))
	}
}

// IsTrustedIdentity implements trust-on-first-use: an address with no
// recorded identity key is trusted (and recorded on the next
// SaveIdentity call); one with a recorded key is trusted only if it
// matches, flagging a possible re-registration or MITM otherwise.
func (s *sqlIdentityStore) IsTrustedIdentity(address *protocol.SignalAddress, key *identity.Key) bool {
	var stored []byte
	row := s.db.QueryRow(`SELECT identity_key FROM identity_trust WHERE address = ?`, address.String())
	switch err := row.Scan(&stored); {
	case err == sql.ErrNoRows:
		return true
	case err != nil:
		s.logger.Warn("trust lookup failed", zap.String("address", address.String()), zap.Error(err))
		return false
	}
	return string(stored) == string(key.Serialize())
}

type sqlPreKeyStore struct {
	db     *sql.DB
	serial *serialize.Serializer
	logger *zap.Logger
}

func (s *sqlPreKeyStore) LoadPreKey(id uint32) *record.PreKeyRecord {
	var raw []byte
	row := s.db.QueryRow(`SELECT record FROM prekeys WHERE id = ?`, id)
	if err := row.Scan(&raw); err != nil {
		return nil
	}
	rec, err := record.NewPreKeyFromBytes(raw, s.serial.PreKey)
	if err != nil {
		s.logger.Warn("decode pre-key failed", zap.Uint32("id", id), zap.Error(err))
		return nil
	}
	return rec
}

func (s *sqlPreKeyStore) StorePreKey(id uint32, rec *record.PreKeyRecord) {
	if _, err := s.db.Exec(
		`INSERT INTO prekeys (id, record) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
		id, rec.Serialize(),
	); err != nil {
		s.logger.Warn("store pre-key failed", zap.Uint32("id", id), zap.Error(err))
	}
}

func (s *sqlPreKeyStore) ContainsPreKey(id uint32) bool {
	var exists int
	_ = s.db.QueryRow(`SELECT 1 FROM prekeys WHERE id = ?`, id).Scan(&exists)
	return exists == 1
}

func (s *sqlPreKeyStore) RemovePreKey(id uint32) {
	if _, err := s.db.Exec(`DELETE FROM prekeys WHERE id = ?`, id); err != nil {
		s.logger.Warn("remove pre-key failed", zap.Uint32("id", id), zap.Error(err))
	}
}

type sqlSignedPreKeyStore struct {
	db     *sql.DB
	serial *serialize.Serializer
	logger *zap.Logger
}

func (s *sqlSignedPreKeyStore) LoadSignedPreKey(id uint32) *record.SignedPreKeyRecord {
	var raw []byte
	row := s.db.QueryRow(`SELECT record FROM signed_prekeys WHERE id = ?`, id)
	if err := row.Scan(&raw); err != nil {
		return nil
	}
	rec, err := record.NewSignedPreKeyFromBytes(raw, s.serial.SignedPreKey)
	if err != nil {
		s.logger.Warn("decode signed pre-key failed", zap.Uint32("id", id), zap.Error(err))
		return nil
	}
	return rec
}

func (s *sqlSignedPreKeyStore) LoadSignedPreKeys() []*record.SignedPreKeyRecord {
	rows, err := s.db.Query(`SELECT record FROM signed_prekeys`)
	if err != nil {
		s.logger.Warn("load signed pre-keys failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var out []*record.SignedPreKeyRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		rec, err := record.NewSignedPreKeyFromBytes(raw, s.serial.SignedPreKey)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *sqlSignedPreKeyStore) StoreSignedPreKey(id uint32, rec *record.SignedPreKeyRecord) {
	if _, err := s.db.Exec(
		`INSERT INTO signed_prekeys (id, record) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
		id, rec.Serialize(),
	); err != nil {
		s.logger.Warn("store signed pre-key failed", zap.Uint32("id", id), zap.Error(err))
	}
}

func (s *sqlSignedPreKeyStore) ContainsSignedPreKey(id uint32) bool {
	var exists int
	_ = s.db.QueryRow(`SELECT 1 FROM signed_prekeys WHERE id = ?`, id).Scan(&exists)
	return exists == 1
}

func (s *sqlSignedPreKeyStore) RemoveSignedPreKey(id uint32) {
	if _, err := s.db.Exec(`DELETE FROM signed_prekeys WHERE id = ?`, id); err != nil {
		s.logger.Warn("remove signed pre-key failed", zap.Uint32("id", id), zap.Error(err))
	}
}

type sqlSessionStore struct {
	db     *sql.DB
	serial *serialize.Serializer
	logger *zap.Logger
}

func (s *sqlSessionStore) LoadSession(address *protocol.SignalAddress) *record.SessionRecord {
	var raw []byte
	row := s.db.QueryRow(`SELECT record FROM sessions WHERE address = ?`, address.String())
	if err := row.Scan(&raw); err != nil {
		return record.NewSessionRecord(s.serial.Session, s.serial.State)
	}
	rec, err := record.NewSessionFromBytes(raw, s.serial.Session, s.serial.State)
	if err != nil {
		s.logger.Warn("decode session failed", zap.String("address", address.String()), zap.Error(err))
		return record.NewSessionRecord(s.serial.Session, s.serial.State)
	}
	return rec
}

func (s *sqlSessionStore) GetSubDeviceSessions(name string) []uint32 {
	rows, err := s.db.Query(`SELECT address FROM sessions WHERE address LIKE ?`, name+".%")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			continue
		}
		_, device, err := splitAddr(addr)
		if err != nil {
			continue
		}
		out = append(out, device)
	}
	return out
}

func (s *sqlSessionStore) StoreSession(address *protocol.SignalAddress, rec *record.SessionRecord) {
	if _, err := s.db.Exec(
		`INSERT INTO sessions (address, record) VALUES (?, ?) ON CONFLICT(address) DO UPDATE SET record = excluded.record`,
		address.String(), rec.Serialize(),
	); err != nil {
		s.logger.Warn("store session failed", zap.String("address", address.String()), zap.Error(err))
	}
}

func (s *sqlSessionStore) ContainsSession(address *protocol.SignalAddress) bool {
	var exists int
	_ = s.db.QueryRow(`SELECT 1 FROM sessions WHERE address = ?`, address.String()).Scan(&exists)
	return exists == 1
}

func (s *sqlSessionStore) DeleteSession(address *protocol.SignalAddress) {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE address = ?`, address.String()); err != nil {
		s.logger.Warn("delete session failed", zap.String("address", address.String()), zap.Error(err))
	}
}

func (s *sqlSessionStore) DeleteAllSessions() {
	if _, err := s.db.Exec(`DELETE FROM sessions`); err != nil {
		s.logger.Warn("delete all sessions failed", zap.Error(err))
	}
}

type sqlSenderKeyStore struct {
	db     *sql.DB
	serial *serialize.Serializer
	logger *zap.Logger
}

func (s *sqlSenderKeyStore) StoreSenderKey(name *protocol.SenderKeyName, rec *record.SenderKeyRecord) {
	if _, err := s.db.Exec(
		`INSERT INTO sender_keys (name, record) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET record = excluded.record`,
		name.String(), rec.Serialize(),
	); err != nil {
		s.logger.Warn("store sender key failed", zap.String("name", name.String()), zap.Error(err))
	}
}

func (s *sqlSenderKeyStore) LoadSenderKey(name *protocol.SenderKeyName) *record.SenderKeyRecord {
	var raw []byte
	row := s.db.QueryRow(`SELECT record FROM sender_keys WHERE name = ?`, name.String())
	if err := row.Scan(&raw); err != nil {
		return record.NewSenderKeyRecord(s.serial.SenderKeyState, s.serial.SenderKeyRecord)
	}
	rec, err := record.NewSenderKeyFromBytes(raw, s.serial.SenderKeyState, s.serial.SenderKeyRecord)
	if err != nil {
		s.logger.Warn("decode sender key failed", zap.String("name", name.String()), zap.Error(err))
		return record.NewSenderKeyRecord(s.serial.SenderKeyState, s.serial.SenderKeyRecord)
	}
	return rec
}
