// Package jid implements the addressable identity type of the wire
// protocol: user[:device][/agent]@server. Two identity spaces coexist on
// the wire — phone-number (PN) and LID (opaque) — and this package only
// models the shape; reconciling the two spaces is identitymap's job.
package jid

import (
	"fmt"
	"strconv"
	"strings"
)

// Server enumerates the addressable server namespaces.
type Server string

const (
	ServerPN         Server = "s.whatsapp.net"
	ServerLID        Server = "lid"
	ServerGroup      Server = "g.us"
	ServerNewsletter Server = "newsletter"
	ServerHosted     Server = "hosted"
	ServerHostedLID  Server = "hosted.lid"
	ServerBroadcast  Server = "broadcast"
)

// StatusBroadcastUser is the well-known user part of the status feed JID.
const StatusBroadcastUser = "status"

// JID is a parsed wire identity.
type JID struct {
	User   string
	Server Server
	Device uint16
	Agent  uint8

	// HasDevice distinguishes an explicit device:0 from "no device".
	HasDevice bool
}

// New builds a user-level JID (no device).
func New(user string, server Server) JID {
	return JID{User: user, Server: server}
}

// NewDevice builds a wire JID carrying an explicit device.
func NewDevice(user string, server Server, device uint16) JID {
	return JID{User: user, Server: server, Device: device, HasDevice: true}
}

// StatusBroadcast returns the well-known status@broadcast JID.
func StatusBroadcast() JID {
	return New(StatusBroadcastUser, ServerBroadcast)
}

// Parse decodes "user[:device][/agent]@server" into a JID.
func Parse(s string) (JID, error) {
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return JID{}, fmt.Errorf("jid: missing '@' in %q", s)
	}
	left, server := s[:at], s[at+1:]
	if server == "" {
		return JID{}, fmt.Errorf("jid: empty server in %q", s)
	}

	user := left
	var agent uint8
	if slash := strings.IndexByte(left, '/'); slash >= 0 {
		user = left[:slash]
		a, err := strconv.ParseUint(left[slash+1:], 10, 8)
		if err != nil {
			return JID{}, fmt.Errorf("jid: invalid agent in %q: %w", s, err)
		}
		agent = uint8(a)
	}

	j := JID{User: user, Server: Server(server), Agent: agent}
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		d, err := strconv.ParseUint(user[colon+1:], 10, 16)
		if err != nil {
			return JID{}, fmt.Errorf("jid: invalid device in %q: %w", s, err)
		}
		j.User = user[:colon]
		j.Device = uint16(d)
		j.HasDevice = true
	}
	if j.User == "" {
		return JID{}, fmt.Errorf("jid: empty user in %q", s)
	}
	return j, nil
}

// String renders the JID back to wire form.
func (j JID) String() string {
	var b strings.Builder
	b.WriteString(j.User)
	if j.HasDevice {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(j.Device), 10))
	}
	if j.Agent != 0 {
		b.WriteByte('/')
		b.WriteString(strconv.FormatUint(uint64(j.Agent), 10))
	}
	b.WriteByte('@')
	b.WriteString(string(j.Server))
	return b.String()
}

// ToNonAD strips the device, returning the user-level identity used for
// "same user" comparisons and conversation threading.
func (j JID) ToNonAD() JID {
	j.Device = 0
	j.HasDevice = false
	return j
}

// WithDevice returns a copy carrying the given explicit device.
func (j JID) WithDevice(device uint16) JID {
	j.Device = device
	j.HasDevice = true
	return j
}

// SameUser reports whether two JIDs name the same user on the same
// server, ignoring device.
func SameUser(a, b JID) bool {
	return a.User == b.User && a.Server == b.Server
}

// IsEmpty reports whether j is the zero value.
func (j JID) IsEmpty() bool {
	return j.User == "" && j.Server == ""
}

// IsLID reports whether j lives in the LID identity space.
func (j JID) IsLID() bool {
	return j.Server == ServerLID || j.Server == ServerHostedLID
}

// IsPN reports whether j lives in the phone-number identity space.
func (j JID) IsPN() bool {
	return j.Server == ServerPN || j.Server == ServerHosted
}

// IsGroup reports whether j addresses a group.
func (j JID) IsGroup() bool {
	return j.Server == ServerGroup
}

// IsNewsletter reports whether j addresses a newsletter/broadcast channel.
func (j JID) IsNewsletter() bool {
	return j.Server == ServerNewsletter
}

// IsStatusBroadcast reports whether j is the status feed JID.
func (j JID) IsStatusBroadcast() bool {
	return j.Server == ServerBroadcast && j.User == StatusBroadcastUser
}

// AddressingMode is the conversation-level identity space a group or
// 1:1 conversation is pinned to.
type AddressingMode string

const (
	AddressingPN  AddressingMode = "pn"
	AddressingLID AddressingMode = "lid"
)
