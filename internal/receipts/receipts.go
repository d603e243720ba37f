// Package receipts composes outbound <receipt> stanzas, aggregating
// multiple message ids for the same (chat, participant) pair into one
// stanza per §6.2, and downgrading "read" to "read-self" for messages
// the account sent itself.
package receipts

import (
	"github.com/baileysgo/relaycore/internal/node"
)

// Request describes one outbound receipt to send.
type Request struct {
	ChatJID     string
	Participant string // empty for a 1:1 chat
	MessageIDs  []string
	Type        node.ReceiptType

	// FromSelf marks a receipt for a message the account itself sent;
	// the wire never accepts "read" for your own outgoing message, so
	// it must be downgraded to "read-self".
	FromSelf bool
}

// Build aggregates req into a single <receipt> node. Aggregation keys on
// (ChatJID, Participant): callers are expected to have already grouped
// MessageIDs for the same pair before calling Build.
func Build(req Request) *node.Node {
	typ := req.Type
	if req.FromSelf && typ == node.ReceiptRead {
		typ = node.ReceiptReadSelf
	}

	if len(req.MessageIDs) == 0 {
		return node.NewReceipt(req.ChatJID, req.Participant, "", typ, nil)
	}
	first, rest := req.MessageIDs[0], req.MessageIDs[1:]
	return node.NewReceipt(req.ChatJID, req.Participant, first, typ, rest)
}

// GroupByTarget buckets requests sharing the same (ChatJID, Participant,
// Type, FromSelf) into one aggregated Request apiece, preserving message
// id order within each bucket.
func GroupByTarget(requests []Request) []Request {
	type target struct {
		chatJID     string
		participant string
		typ         node.ReceiptType
		fromSelf    bool
	}
	order := make([]target, 0, len(requests))
	buckets := make(map[target][]string, len(requests))
	for _, r := range requests {
		key := target{r.ChatJID, r.Participant, r.Type, r.FromSelf}
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], r.MessageIDs...)
	}

	out := make([]Request, 0, len(order))
	for _, key := range order {
		out = append(out, Request{
			ChatJID:     key.chatJID,
			Participant: key.participant,
			MessageIDs:  buckets[key],
			Type:        key.typ,
			FromSelf:    key.fromSelf,
		})
	}
	return out
}
