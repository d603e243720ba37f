package stanza

import (
	"encoding/binary"

	"github.com/baileysgo/relaycore/internal/jid"
)

// WrapDSM frames plaintext as the device-sent-message envelope §4.6
// requires for a 1:1 send's own-other-device recipients: a wrapper
// carrying destination (the peer the original message was addressed to)
// alongside the original bytes, so those devices can render the
// outgoing message locally instead of mistaking it for an inbound one.
//
// Building the real WAMessage protobuf this wraps is a content-encoding
// concern the caller owns (this core receives plaintext as an opaque
// blob and never parses it); this envelope only needs to be something
// this module's own recipients round-trip, so it stays a small
// length-prefixed framing rather than a protobuf message.
func WrapDSM(destination jid.JID, plaintext []byte) []byte {
	dest := []byte(destination.String())
	buf := make([]byte, 2+len(dest)+len(plaintext))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(dest)))
	copy(buf[2:], dest)
	copy(buf[2+len(dest):], plaintext)
	return buf
}
