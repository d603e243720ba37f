package signalsession

// PreKeyBundle is the subset of a USync pre-key-bundle response §4.2/§4.3
// need to install a fresh outbound session. Field names mirror the wire
// attributes (registrationId, identityKey, the one-time pre-key pair, and
// the signed pre-key pair) rather than libsignal's internal bundle type,
// so callers upstream of this package never import libsignal themselves.
type PreKeyBundle struct {
	RegistrationID uint32
	IdentityKey    []byte

	HasPreKey   bool
	PreKeyID    uint32
	PreKeyBytes []byte

	SignedPreKeyID        uint32
	SignedPreKeyBytes     []byte
	SignedPreKeySignature []byte
}
