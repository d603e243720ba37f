package signalsession

import (
	libsignal "go.mau.fi/libsignal/state/store"
)

// Stores bundles the five libsignal store contracts a session engine needs.
// The keystore package supplies concrete implementations backed by the
// SQLite-based keystore; no test in this module builds a Stores (the
// keystore tests substitute a fake engine instead).
type Stores struct {
	Identity     libsignal.IdentityKeyStore
	PreKey       libsignal.PreKeyStore
	SignedPreKey libsignal.SignedPreKeyStore
	Session      libsignal.SessionStore
	SenderKey    libsignal.SenderKeyStore
}
