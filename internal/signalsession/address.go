// Package signalsession wraps go.mau.fi/libsignal — the actual Go port of
// the Signal X3DH/Double-Ratchet protocol — behind a narrow Engine
// type. The keystore drives Engine; SessionGuard and Encryptor reach it
// only through keystore.Tx, never libsignal directly, so the one place
// that has to track libsignal's own API surface is this package.
package signalsession

import (
	"fmt"

	"github.com/baileysgo/relaycore/internal/jid"
)

// Address is a Signal protocol address: a peer identified by user name
// and device id, after any LID/PN translation has already happened.
type Address struct {
	Name     string
	DeviceID uint32
}

// AddressFromJID derives a Signal address from a wire JID. The caller is
// responsible for having already resolved the JID to whichever identity
// space (PN or LID) the conversation is addressed in.
func AddressFromJID(j jid.JID) Address {
	return Address{Name: j.User, DeviceID: uint32(j.Device)}
}

// String renders "user.device" the way libsignal's own address stringer
// does, used as cache/mutex keys throughout this module.
func (a Address) String() string {
	return fmt.Sprintf("%s.%d", a.Name, a.DeviceID)
}
