// Package keystore is the persistence and cryptographic-operation seam
// §6 describes: a single interface through which the rest of the relay
// core reads/writes LID↔PN mappings, device lists, and sender-key
// bookkeeping, and drives pairwise/group Signal-protocol encryption.
// Each Store.Transaction call is its own unit of work; one send runs
// several of them (session checks and installs, each encryption) rather
// than one transaction spanning the whole send.
package keystore

import (
	"context"

	"github.com/baileysgo/relaycore/internal/signalsession"
)

// Namespace scopes the generic key/value surface the non-cryptographic
// tables expose.
type Namespace string

const (
	NamespaceLIDMapping     Namespace = "lid-mapping"
	NamespaceSenderKeyMemo  Namespace = "sender-key-memory"
	NamespaceDeviceList     Namespace = "device-list"
	NamespaceGroupMetadata  Namespace = "group-metadata"
)

// Tx is the per-transaction view of the keystore. A Tx must not be used
// outside the Store.Transaction callback that produced it.
type Tx interface {
	// Get fetches the raw values stored under keys in namespace. Missing
	// keys are simply absent from the returned map, never an error.
	Get(ctx context.Context, namespace Namespace, keys []string) (map[string][]byte, error)

	// Set upserts values into namespace.
	Set(ctx context.Context, namespace Namespace, values map[string][]byte) error

	// Delete removes keys from namespace. Missing keys are a no-op.
	Delete(ctx context.Context, namespace Namespace, keys []string) error

	// ValidateSession reports whether a Double Ratchet session already
	// exists for peerAddr ("user.device").
	ValidateSession(ctx context.Context, peerAddr string) (bool, error)

	// InstallSession runs X3DH against a fetched pre-key bundle and
	// persists the resulting session for peerAddr.
	InstallSession(ctx context.Context, peerAddr string, bundle signalsession.PreKeyBundle) error

	// EncryptMessage advances the pairwise ratchet for peerAddr and
	// returns the wire ciphertext type ("msg"/"pkmsg") plus envelope.
	EncryptMessage(ctx context.Context, peerAddr string, plaintext []byte) (ctype string, ciphertext []byte, err error)

	// EncryptGroupMessage encrypts plaintext under the caller's sender
	// key for groupJID, creating that sender key first if necessary.
	EncryptGroupMessage(ctx context.Context, groupJID, selfAddr string, plaintext []byte) (ciphertext []byte, err error)

	// GroupSenderKeyDistribution returns the serialized SKDM for the
	// caller's current sender key on groupJID, creating it first if
	// necessary. Whether a given recipient still needs it is tracked
	// outside this transaction, by groupstate.
	GroupSenderKeyDistribution(ctx context.Context, groupJID, selfAddr string) ([]byte, error)

	// DecryptMessage is part of the keystore's contract for symmetry with
	// an inbound pipeline, but the outbound relay core never calls it;
	// no component in this module's scope receives wire traffic.
	DecryptMessage(ctx context.Context, peerAddr string, ciphertext []byte, ctype string) ([]byte, error)
}

// Store opens transactions against the underlying storage engine.
type Store interface {
	Transaction(ctx context.Context, scope string, body func(Tx) error) error
	Close() error
}
