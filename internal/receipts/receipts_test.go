package receipts

import (
	"testing"

	"github.com/baileysgo/relaycore/internal/node"
)

func TestBuildAggregatesExtraIDs(t *testing.T) {
	n := Build(Request{
		ChatJID:    "a@s.whatsapp.net",
		MessageIDs: []string{"m1", "m2", "m3"},
		Type:       node.ReceiptRead,
	})
	if n.Attrs["id"] != "m1" {
		t.Errorf("id = %q, want m1", n.Attrs["id"])
	}
	lists := n.GetChildrenByTag("list")
	if len(lists) != 1 {
		t.Fatalf("got %d list children, want 1", len(lists))
	}
	if items := lists[0].GetChildrenByTag("item"); len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}
}

func TestBuildDowngradesReadToReadSelfForOwnMessage(t *testing.T) {
	n := Build(Request{
		ChatJID:    "a@s.whatsapp.net",
		MessageIDs: []string{"m1"},
		Type:       node.ReceiptRead,
		FromSelf:   true,
	})
	if n.Attrs["type"] != string(node.ReceiptReadSelf) {
		t.Errorf("type = %q, want %q", n.Attrs["type"], node.ReceiptReadSelf)
	}
}

func TestBuildDoesNotDowngradeNonReadTypes(t *testing.T) {
	n := Build(Request{
		ChatJID:    "a@s.whatsapp.net",
		MessageIDs: []string{"m1"},
		Type:       node.ReceiptSender,
		FromSelf:   true,
	})
	if n.Attrs["type"] != string(node.ReceiptSender) {
		t.Errorf("type = %q, want %q (no downgrade for non-read types)", n.Attrs["type"], node.ReceiptSender)
	}
}

func TestGroupByTargetMergesSameChatAndParticipant(t *testing.T) {
	grouped := GroupByTarget([]Request{
		{ChatJID: "g1@g.us", Participant: "p1@s.whatsapp.net", MessageIDs: []string{"m1"}, Type: node.ReceiptRead},
		{ChatJID: "g1@g.us", Participant: "p1@s.whatsapp.net", MessageIDs: []string{"m2"}, Type: node.ReceiptRead},
		{ChatJID: "g1@g.us", Participant: "p2@s.whatsapp.net", MessageIDs: []string{"m3"}, Type: node.ReceiptRead},
	})
	if len(grouped) != 2 {
		t.Fatalf("got %d groups, want 2", len(grouped))
	}
	for _, g := range grouped {
		if g.Participant == "p1@s.whatsapp.net" && len(g.MessageIDs) != 2 {
			t.Errorf("p1 group has %d ids, want 2", len(g.MessageIDs))
		}
	}
}

func TestGroupByTargetKeepsDistinctTypesSeparate(t *testing.T) {
	grouped := GroupByTarget([]Request{
		{ChatJID: "a@s.whatsapp.net", MessageIDs: []string{"m1"}, Type: node.ReceiptRead},
		{ChatJID: "a@s.whatsapp.net", MessageIDs: []string{"m2"}, Type: node.ReceiptPlayed},
	})
	if len(grouped) != 2 {
		t.Fatalf("got %d groups, want 2 (different receipt types must not merge)", len(grouped))
	}
}
