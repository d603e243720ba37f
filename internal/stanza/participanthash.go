package stanza

import (
	"crypto/sha256"
	"encoding/base64"
	"sort"

	"github.com/baileysgo/relaycore/internal/jid"
)

// generateParticipantHashV2 computes the `phash` attribute a 1:1 send
// carries once it addresses more than one device: a short,
// order-independent digest over every device JID the message fans out
// to (own other devices included), so the wire can detect a stale
// fan-out without the full recipient list round-tripping back.
func generateParticipantHashV2(devices []jid.JID) string {
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.String()
	}
	sort.Strings(ids)

	sum := sha256.New()
	for _, id := range ids {
		sum.Write([]byte(id))
	}
	digest := base64.StdEncoding.EncodeToString(sum.Sum(nil))
	return "2:" + digest[:6]
}
