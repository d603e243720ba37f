// Command relayd bootstraps the outbound relay core as a standalone fx
// application. It wires the wire-boundary seams (device resolution,
// pre-key fetch, group metadata fetch, stanza delivery) to stub
// implementations: this module owns no WebSocket/noise-handshake
// connection of its own, so a real deployment links its transport
// package in here instead, the way the teacher's cmd/wppd links its
// whatsmeow-backed wa.Adapter into the daemon module.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/baileysgo/relaycore/internal/account"
	"github.com/baileysgo/relaycore/internal/deviceresolver"
	"github.com/baileysgo/relaycore/internal/groupstate"
	"github.com/baileysgo/relaycore/internal/jid"
	"github.com/baileysgo/relaycore/internal/node"
	"github.com/baileysgo/relaycore/internal/relay"
	"github.com/baileysgo/relaycore/internal/sessionguard"
	"github.com/baileysgo/relaycore/internal/signalsession"
	"github.com/baileysgo/relaycore/internal/transport"
)

var errNoWireConnection = errors.New("relayd: no wire connection configured for this account")

type unconfiguredUSync struct{}

func (unconfiguredUSync) QueryDevices(ctx context.Context, user jid.JID) (deviceresolver.USyncResult, error) {
	return deviceresolver.USyncResult{}, errNoWireConnection
}

type unconfiguredPreKeys struct{}

func (unconfiguredPreKeys) FetchBundle(ctx context.Context, addr signalsession.Address) (signalsession.PreKeyBundle, error) {
	return signalsession.PreKeyBundle{}, errNoWireConnection
}

type unconfiguredGroupMeta struct{}

func (unconfiguredGroupMeta) FetchGroupMetadata(ctx context.Context, groupJID string) (groupstate.Metadata, error) {
	return groupstate.Metadata{}, errNoWireConnection
}

type unconfiguredSender struct{}

func (unconfiguredSender) SendNode(ctx context.Context, n *node.Node) error {
	return errNoWireConnection
}

func main() {
	accountFlag := flag.String("account", "", "account name (overrides config default_account)")
	selfFlag := flag.String("self", "", "this account's own JID, e.g. 15551234567:1@s.whatsapp.net")
	flag.Parse()

	accountName := account.Resolve(*accountFlag)
	if err := account.ValidateName(accountName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var self jid.JID
	if *selfFlag != "" {
		parsed, err := jid.Parse(*selfFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid -self: %v\n", err)
			os.Exit(1)
		}
		self = parsed
	}

	var usync deviceresolver.USyncClient = unconfiguredUSync{}
	var preKeys sessionguard.PreKeyFetcher = unconfiguredPreKeys{}
	var groupMeta groupstate.Fetcher = unconfiguredGroupMeta{}
	var sender transport.Sender = unconfiguredSender{}

	app := fx.New(
		relay.Module(relay.Params{
			AccountName: accountName,
			Self:        self,
			USync:       usync,
			PreKeys:     preKeys,
			GroupMeta:   groupMeta,
			Sender:      sender,
		}),
	)

	app.Run()
}
