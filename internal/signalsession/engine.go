package signalsession

import (
	"fmt"
	"sync"

	"go.mau.fi/libsignal/ecc"
	"go.mau.fi/libsignal/groups"
	"go.mau.fi/libsignal/keys/prekey"
	"go.mau.fi/libsignal/protocol"
	"go.mau.fi/libsignal/serialize"
	"go.mau.fi/libsignal/session"
)

// Engine drives X3DH session establishment, Double Ratchet pairwise
// encryption, and sender-key group encryption on top of libsignal. It is
// the concrete type behind the keystore's signalEngine interface, which
// SessionGuard and Encryptor reach through keystore.Tx.
type Engine struct {
	stores Stores
	serial *serialize.Serializer

	// libsignal's session.Builder/Cipher are not safe for concurrent use
	// against the same address; §5 layers per-peer serialization on top
	// via internal/keyedmutex, this mutex only protects the shared
	// serializer configuration.
	mu sync.Mutex
}

// NewEngine builds an Engine over the given store set.
func NewEngine(stores Stores) *Engine {
	return &Engine{
		stores: stores,
		serial: serialize.NewJSONSerializer(),
	}
}

func (e *Engine) builder(addr Address) *session.Builder {
	sigAddr := protocol.NewSignalAddress(addr.Name, addr.DeviceID)
	return session.NewBuilder(e.stores.Session, e.stores.PreKey, e.stores.SignedPreKey, e.stores.Identity, sigAddr, e.serial)
}

// HasSession reports whether a Double Ratchet session is already
// established for addr.
func (e *Engine) HasSession(addr Address) bool {
	sigAddr := protocol.NewSignalAddress(addr.Name, addr.DeviceID)
	return e.stores.Session.ContainsSession(sigAddr)
}

// InstallSession runs X3DH against a fetched pre-key bundle, establishing
// (or replacing) the outbound session for addr.
func (e *Engine) InstallSession(addr Address, b PreKeyBundle) error {
	e.mu.Lock()
	builder := e.builder(addr)
	e.mu.Unlock()

	identityKey, err := ecc.DecodePoint(b.IdentityKey, 0)
	if err != nil {
		return fmt.Errorf("decode identity key: %w", err)
	}
	signedPreKey, err := ecc.DecodePoint(b.SignedPreKeyBytes, 0)
	if err != nil {
		return fmt.Errorf("decode signed pre-key: %w", err)
	}

	var preKeyID *uint32
	var preKeyPublic ecc.ECPublicKeyable
	if b.HasPreKey {
		pk, err := ecc.DecodePoint(b.PreKeyBytes, 0)
		if err != nil {
			return fmt.Errorf("decode one-time pre-key: %w", err)
		}
		id := b.PreKeyID
		preKeyID = &id
		preKeyPublic = pk
	}

	bundle := prekey.NewBundle(
		b.RegistrationID,
		uint32(addr.DeviceID),
		preKeyID,
		preKeyPublic,
		int32(b.SignedPreKeyID),
		signedPreKey,
		b.SignedPreKeySignature,
		protocol.NewIdentityKey(identityKey),
	)
	return builder.ProcessBundle(bundle)
}

// EncryptPairwise advances the Double Ratchet and returns the wire
// ciphertext type ("msg" or "pkmsg") plus the serialized envelope bytes.
func (e *Engine) EncryptPairwise(addr Address, plaintext []byte) (ctype string, ciphertext []byte, err error) {
	sigAddr := protocol.NewSignalAddress(addr.Name, addr.DeviceID)
	cipher := session.NewCipher(e.builder(addr), sigAddr)
	msg, err := cipher.Encrypt(plaintext)
	if err != nil {
		return "", nil, fmt.Errorf("signal encrypt: %w", err)
	}
	switch msg.Type() {
	case protocol.PREKEY_TYPE:
		return "pkmsg", msg.Serialize(), nil
	default:
		return "msg", msg.Serialize(), nil
	}
}

// EnsureSenderKey returns a serialized SKDM distribution message for the
// caller's own sender key in group, creating one if it does not exist yet.
func (e *Engine) EnsureSenderKey(groupID, selfAddr string) ([]byte, error) {
	sigAddr := protocol.NewSignalAddress(selfAddr, 1)
	builder := groups.NewGroupSessionBuilder(e.stores.SenderKey, e.serial)
	senderKeyName := groups.NewSenderKeyName(groupID, sigAddr)
	skdm, err := builder.Create(senderKeyName)
	if err != nil {
		return nil, fmt.Errorf("create sender key: %w", err)
	}
	return skdm.Serialize(), nil
}

// EncryptGroup encrypts plaintext under the caller's sender key for group.
func (e *Engine) EncryptGroup(groupID, selfAddr string, plaintext []byte) ([]byte, error) {
	sigAddr := protocol.NewSignalAddress(selfAddr, 1)
	senderKeyName := groups.NewSenderKeyName(groupID, sigAddr)
	cipher := groups.NewGroupCipher(groups.NewGroupSessionBuilder(e.stores.SenderKey, e.serial), senderKeyName, e.stores.SenderKey)
	ciphertext, err := cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("group encrypt: %w", err)
	}
	return ciphertext.Serialize(), nil
}
