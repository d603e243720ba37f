// Package stanza assembles the closed set of <message> wire shapes §4.6
// names: a direct 1:1 send, a group/status sender-key fan-out, a
// newsletter plaintext post, a peer-to-self (own-device) send, and a
// retry-resend of any of the above reusing the original message id.
package stanza

import (
	"strconv"

	"github.com/baileysgo/relaycore/internal/jid"
	"github.com/baileysgo/relaycore/internal/node"
)

// PairwiseEnvelope is one destination device's encrypted payload.
type PairwiseEnvelope struct {
	Addr  jid.JID
	CType node.EncType
	Bytes []byte
}

func hasPreKey(envelopes []PairwiseEnvelope) bool {
	for _, e := range envelopes {
		if e.CType == node.EncPKMsg {
			return true
		}
	}
	return false
}

// DirectRequest builds a 1:1 <message>. OtherRecipients carries the
// peer's devices (raw plaintext, one envelope per device); MeRecipients
// carries the sender's own other devices (DSM-wrapped before
// encryption, by the caller, via WrapDSM). Either slice may be empty,
// but never both.
type DirectRequest struct {
	ID              string
	To              jid.JID
	MessageType     node.MessageType
	Edit            node.EditType
	OtherRecipients []PairwiseEnvelope
	MeRecipients    []PairwiseEnvelope
	DeviceIdentity  []byte
	ExtraAttrs      map[string]string
}

// BuildDirect assembles a 1:1 send. A single total recipient collapses
// to the plain single-<enc> shape; more than one wraps every recipient
// in <participants> and adds phash, the way a real multi-device
// fan-out must so the wire can detect a stale device list.
func BuildDirect(req DirectRequest) *node.Node {
	attrs := map[string]string{"id": req.ID, "to": req.To.String()}
	if req.MessageType != "" {
		attrs["type"] = string(req.MessageType)
	}
	if req.Edit != "" {
		attrs["edit"] = string(req.Edit)
	}

	all := make([]PairwiseEnvelope, 0, len(req.OtherRecipients)+len(req.MeRecipients))
	all = append(all, req.OtherRecipients...)
	all = append(all, req.MeRecipients...)

	for k, v := range req.ExtraAttrs {
		attrs[k] = v
	}

	var children []*node.Node
	if len(all) <= 1 {
		if len(all) == 1 {
			children = append(children, node.NewEnc(all[0].CType, all[0].Bytes, nil))
		}
	} else {
		devices := make([]jid.JID, len(all))
		tos := make([]*node.Node, len(all))
		for i, e := range all {
			devices[i] = e.Addr
			tos[i] = node.NewTo(e.Addr.String(), node.NewEnc(e.CType, e.Bytes, nil))
		}
		attrs["phash"] = generateParticipantHashV2(devices)
		children = append(children, node.NewParticipants(tos...))
	}

	if hasPreKey(all) && len(req.DeviceIdentity) > 0 {
		children = append(children, node.NewDeviceIdentity(req.DeviceIdentity))
	}
	return node.NewMessage(attrs, children...)
}

// Distribution is the per-device SKDM fan-out that must precede (or
// accompany) a group/status sender-key message for the recipients who
// do not yet hold this sender's current sender key.
type Distribution struct {
	Participants []PairwiseEnvelope
}

// FanoutRequest builds a sender-key <message>, used for both group sends
// and status broadcasts (status being, on the wire, a fan-out to the
// broadcast-list participants rather than a distinguished message kind).
type FanoutRequest struct {
	ID               string
	To               jid.JID
	MessageType      node.MessageType
	AddressingMode   jid.AddressingMode
	EphemeralSeconds int
	SKMsgCiphertext  []byte
	Distribution     *Distribution // nil when every participant already has the sender key
	DeviceIdentity   []byte
	ExtraAttrs       map[string]string
}

// BuildFanout assembles a group or status-broadcast send.
func BuildFanout(req FanoutRequest) *node.Node {
	attrs := map[string]string{"id": req.ID, "to": req.To.String()}
	if req.MessageType != "" {
		attrs["type"] = string(req.MessageType)
	}
	if req.AddressingMode != "" {
		attrs["addressing_mode"] = string(req.AddressingMode)
	}
	if req.EphemeralSeconds > 0 {
		attrs["expiration"] = strconv.Itoa(req.EphemeralSeconds)
	}
	for k, v := range req.ExtraAttrs {
		attrs[k] = v
	}

	var children []*node.Node
	if req.Distribution != nil && len(req.Distribution.Participants) > 0 {
		tos := make([]*node.Node, 0, len(req.Distribution.Participants))
		for _, p := range req.Distribution.Participants {
			tos = append(tos, node.NewTo(p.Addr.String(), node.NewEnc(p.CType, p.Bytes, nil)))
		}
		children = append(children, node.NewParticipants(tos...))
		if hasPreKey(req.Distribution.Participants) && len(req.DeviceIdentity) > 0 {
			children = append(children, node.NewDeviceIdentity(req.DeviceIdentity))
		}
	}
	children = append(children, node.NewEnc(node.EncSKMsg, req.SKMsgCiphertext, nil))
	return node.NewMessage(attrs, children...)
}

// NewsletterRequest builds a newsletter post, sent unencrypted.
type NewsletterRequest struct {
	ID      string
	To      jid.JID
	Payload []byte
}

// BuildNewsletter assembles a plaintext newsletter post.
func BuildNewsletter(req NewsletterRequest) *node.Node {
	attrs := map[string]string{"id": req.ID, "to": req.To.String()}
	return node.NewMessage(attrs, node.NewPlaintext(req.Payload))
}

// PeerRequest builds an own-device (peer) send, e.g. app-state key
// distribution or history sync notifications addressed to the sender's
// other logged-in devices. Unlike a direct send, a peer send is never
// fanned into a single multi-recipient stanza: one <message> per device.
type PeerRequest struct {
	ID             string
	To             jid.JID
	Category       string
	AppData        string
	Envelope       PairwiseEnvelope
	DeviceIdentity []byte
}

// BuildPeer assembles a peer-to-self send.
func BuildPeer(req PeerRequest) *node.Node {
	category := req.Category
	if category == "" {
		category = "peer"
	}
	attrs := map[string]string{
		"id":            req.ID,
		"to":            req.To.String(),
		"category":      category,
		"push_priority": "high_force",
	}
	children := []*node.Node{node.NewEnc(req.Envelope.CType, req.Envelope.Bytes, nil)}
	if req.AppData != "" {
		children = append(children, node.NewMeta(req.AppData))
	}
	if req.Envelope.CType == node.EncPKMsg && len(req.DeviceIdentity) > 0 {
		children = append(children, node.NewDeviceIdentity(req.DeviceIdentity))
	}
	return node.NewMessage(attrs, children...)
}

// RetryRequest builds a retry-resend of a previously attempted message
// to exactly one participant, reusing the original message id and
// carrying the resend count so the recipient can tell retries apart.
type RetryRequest struct {
	ID             string
	To             jid.JID
	Group          bool // true when resending inside a group: adds participant=, never recipient=
	Participant    jid.JID
	Recipient      jid.JID // set only for a self-retry of a 1:1 send (to=self, recipient=original peer)
	Count          int
	Envelope       PairwiseEnvelope
	DeviceIdentity []byte
}

// BuildRetry assembles a retry-resend.
func BuildRetry(req RetryRequest) *node.Node {
	attrs := map[string]string{
		"id":            req.ID,
		"to":            req.To.String(),
		"device_fanout": "false",
	}
	if req.Group {
		attrs["participant"] = req.Participant.String()
	}
	if !req.Recipient.IsEmpty() {
		attrs["recipient"] = req.Recipient.String()
	}

	children := []*node.Node{node.NewEnc(req.Envelope.CType, req.Envelope.Bytes, map[string]string{
		"count": strconv.Itoa(req.Count),
	})}
	if len(req.DeviceIdentity) > 0 {
		children = append(children, node.NewDeviceIdentity(req.DeviceIdentity))
	}
	return node.NewMessage(attrs, children...)
}
