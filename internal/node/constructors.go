package node

// EncType enumerates the <enc> ciphertext kinds the wire accepts.
type EncType string

const (
	EncMsg   EncType = "msg"
	EncPKMsg EncType = "pkmsg"
	EncSKMsg EncType = "skmsg"
)

// MessageType is the <message type=...> attribute.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessagePoll  MessageType = "poll"
	MessageEvent MessageType = "event"
)

// EditType enumerates the <message edit=...> attribute values.
type EditType string

const (
	EditRevise      EditType = "1"
	EditPin         EditType = "2"
	EditDeleteOwn   EditType = "7"
	EditDeleteAdmin EditType = "8"
)

// NewMessage builds the outer <message> node with the routing attributes
// §6 defines. Zero-value optional fields are omitted by the caller before
// invoking this constructor, not here — StanzaBuilder decides what's set.
func NewMessage(attrs map[string]string, children ...*Node) *Node {
	return New("message", attrs).WithChildren(children...)
}

// NewEnc builds a single <enc> envelope.
func NewEnc(typ EncType, ciphertext []byte, extra map[string]string) *Node {
	attrs := map[string]string{"v": "2", "type": string(typ)}
	for k, v := range extra {
		attrs[k] = v
	}
	return New("enc", attrs).WithBytes(ciphertext)
}

// NewTo builds a <to jid=...> wrapper around a single <enc>.
func NewTo(jid string, enc *Node) *Node {
	return New("to", map[string]string{"jid": jid}).WithChildren(enc)
}

// NewParticipants wraps per-recipient <to> nodes.
func NewParticipants(tos ...*Node) *Node {
	return New("participants", nil).WithChildren(tos...)
}

// NewDeviceIdentity builds the signed device-identity child emitted
// alongside any pkmsg.
func NewDeviceIdentity(signedIdentity []byte) *Node {
	return New("device-identity", nil).WithBytes(signedIdentity)
}

// NewBiz builds the business/button node wrapping a single child.
func NewBiz(child *Node) *Node {
	return New("biz", nil).WithChildren(child)
}

// NewPlaintext builds the <plaintext> payload used by newsletter sends.
func NewPlaintext(payload []byte) *Node {
	return New("plaintext", nil).WithBytes(payload)
}

// NewMeta builds the <meta appdata=...> child used by peer-data operations.
func NewMeta(appdata string) *Node {
	return New("meta", map[string]string{"appdata": appdata})
}

// NewIQ builds an <iq> stanza, e.g. the pre-key fetch request.
func NewIQ(attrs map[string]string, children ...*Node) *Node {
	return New("iq", attrs).WithChildren(children...)
}

// ReceiptType enumerates <receipt type=...> values.
type ReceiptType string

const (
	ReceiptRead     ReceiptType = "read"
	ReceiptReadSelf ReceiptType = "read-self"
	ReceiptSender   ReceiptType = "sender"
	ReceiptPlayed   ReceiptType = "played"
)

// NewReceipt builds a <receipt> stanza. extraIDs become <list><item id=.../>.
func NewReceipt(to, participant, firstID string, typ ReceiptType, extraIDs []string) *Node {
	attrs := map[string]string{"to": to, "id": firstID}
	if participant != "" {
		attrs["participant"] = participant
	}
	if typ != "" {
		attrs["type"] = string(typ)
	}
	n := New("receipt", attrs)
	if len(extraIDs) == 0 {
		return n
	}
	items := make([]*Node, 0, len(extraIDs))
	for _, id := range extraIDs {
		items = append(items, New("item", map[string]string{"id": id}))
	}
	list := New("list", nil).WithChildren(items...)
	return n.WithChildren(list)
}
