// Package relay is the outbound message relay core's orchestrator: it
// resolves a destination JID to concrete devices, asserts Signal
// sessions, encrypts, assembles the wire stanza, and hands it to the
// transport. A send is not wrapped in one keystore transaction: each
// session install and each encryption commits in its own transaction
// before the stanza reaches the transport, and a transport failure does
// not roll them back.
package relay

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baileysgo/relaycore/internal/bus"
	"github.com/baileysgo/relaycore/internal/config"
	"github.com/baileysgo/relaycore/internal/deviceresolver"
	"github.com/baileysgo/relaycore/internal/encryptor"
	"github.com/baileysgo/relaycore/internal/groupstate"
	"github.com/baileysgo/relaycore/internal/identitymap"
	"github.com/baileysgo/relaycore/internal/jid"
	"github.com/baileysgo/relaycore/internal/keystore"
	"github.com/baileysgo/relaycore/internal/node"
	"github.com/baileysgo/relaycore/internal/receipts"
	"github.com/baileysgo/relaycore/internal/recentcache"
	"github.com/baileysgo/relaycore/internal/relayerr"
	"github.com/baileysgo/relaycore/internal/sessionguard"
	"github.com/baileysgo/relaycore/internal/signalsession"
	"github.com/baileysgo/relaycore/internal/stanza"
	"github.com/baileysgo/relaycore/internal/status"
	"github.com/baileysgo/relaycore/internal/transport"
)

// RetryParticipant names the single device a retry-resend targets, and
// the attempt count the recipient uses to tell resends apart.
type RetryParticipant struct {
	JID   jid.JID
	Count int
}

// SendOptions customizes a single Send call.
type SendOptions struct {
	// MessageID overrides the generated message id, e.g. for retry-resend.
	MessageID string
	// ExplicitDevice restricts a direct send to one already-known device
	// instead of resolving the full device set.
	ExplicitDevice *jid.JID
	MessageType    node.MessageType
	Edit           node.EditType

	// Retry, when set, routes this Send through the retry-resend
	// pipeline: exactly one device is targeted, reusing the original
	// message id, instead of the normal direct/group fan-out.
	Retry *RetryParticipant

	// Peer routes this Send through the peer-to-self data-operation
	// pipeline (app-state key distribution, history sync notifications)
	// instead of the normal direct/group/newsletter dispatch.
	Peer         bool
	PeerCategory string
	PeerAppData  string
}

// Relay is the outbound send orchestrator.
type Relay struct {
	cfg config.Config

	self jid.JID

	keystore    keystore.Store
	identity    *identitymap.Map
	devices     *deviceresolver.Resolver
	guard       *sessionguard.Guard
	groups      *groupstate.Store
	encryptor   *encryptor.Encryptor
	recent      *recentcache.Cache
	transport   transport.Sender
	machine     *status.Machine
	bus         *bus.Bus
	logger      *zap.Logger
	dispatch    *dispatchQueue
	deviceIdent []byte
}

// New builds a Relay from its collaborators.
func New(
	cfg config.Config,
	self jid.JID,
	ks keystore.Store,
	identity *identitymap.Map,
	devices *deviceresolver.Resolver,
	guard *sessionguard.Guard,
	groups *groupstate.Store,
	enc *encryptor.Encryptor,
	recent *recentcache.Cache,
	sender transport.Sender,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
	deviceIdentity []byte,
) *Relay {
	return &Relay{
		cfg:         cfg,
		self:        self,
		keystore:    ks,
		identity:    identity,
		devices:     devices,
		guard:       guard,
		groups:      groups,
		encryptor:   enc,
		recent:      recent,
		transport:   sender,
		machine:     machine,
		bus:         b,
		logger:      logger,
		dispatch:    newDispatchQueue(logger),
		deviceIdent: deviceIdentity,
	}
}

// Send relays plaintext to dest, dispatching to the direct, group,
// newsletter, retry, or peer pipeline based on dest and opts. Sends to
// the same dest are serialized by the dispatch queue; sends to
// different destinations proceed concurrently.
func (r *Relay) Send(ctx context.Context, dest jid.JID, plaintext []byte, opts SendOptions) (string, error) {
	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	destKey := dest.ToNonAD().String()
	return r.dispatch.Submit(ctx, destKey, func(ctx context.Context) (string, error) {
		if err := r.beginCall(); err != nil {
			return "", err
		}
		degraded := false
		id, err := r.route(ctx, dest, messageID, plaintext, opts, &degraded)
		r.endCall(err, degraded)
		return id, err
	})
}

func (r *Relay) beginCall() error {
	if r.machine.Current() == status.Error {
		if err := r.machine.Transition(status.Idle); err != nil {
			return err
		}
	}
	return r.machine.Transition(status.Relaying)
}

func (r *Relay) endCall(err error, degraded bool) {
	switch {
	case err != nil:
		_ = r.machine.Transition(status.Error)
	case degraded:
		_ = r.machine.Transition(status.Degraded)
	default:
		_ = r.machine.Transition(status.Idle)
	}
}

func (r *Relay) route(ctx context.Context, dest jid.JID, messageID string, plaintext []byte, opts SendOptions, degraded *bool) (string, error) {
	switch {
	case opts.Retry != nil:
		return r.sendRetry(ctx, dest, messageID, plaintext, opts)
	case opts.Peer:
		return r.sendPeer(ctx, dest, messageID, plaintext, opts)
	case dest.IsNewsletter():
		return r.sendNewsletter(ctx, dest, messageID, plaintext)
	case dest.IsGroup():
		return r.sendGroup(ctx, dest, messageID, plaintext, opts, degraded)
	case dest.IsStatusBroadcast():
		return r.sendStatus(ctx, dest, messageID, plaintext, opts, degraded)
	default:
		return r.sendDirect(ctx, dest, messageID, plaintext, opts)
	}
}

func (r *Relay) sendNewsletter(ctx context.Context, dest jid.JID, messageID string, plaintext []byte) (string, error) {
	n := stanza.BuildNewsletter(stanza.NewsletterRequest{ID: messageID, To: dest, Payload: plaintext})
	if err := r.transport.SendNode(ctx, n); err != nil {
		return "", relayerr.New(relayerr.KindTransportFailure, dest.String(), err)
	}
	r.recent.Put(dest.String(), messageID, plaintext)
	return messageID, nil
}

// sendDirect fans a 1:1 send out to the peer's devices and, unless
// ExplicitDevice pins this send to one already-known device, to this
// account's own other logged-in devices too: every other device the
// account owns needs its own copy of the plaintext so its chat history
// stays in sync, wrapped as a device-sent-message per §4.7 step 5.
func (r *Relay) sendDirect(ctx context.Context, dest jid.JID, messageID string, plaintext []byte, opts SendOptions) (string, error) {
	target, err := r.resolveIdentitySpace(ctx, dest)
	if err != nil {
		return "", err
	}

	if opts.ExplicitDevice != nil {
		return r.sendDirectSingle(ctx, target, *opts.ExplicitDevice, messageID, plaintext, opts)
	}

	peerDevices, err := r.devices.Devices(ctx, target, nil)
	if err != nil {
		return "", relayerr.New(relayerr.KindMetadataFetchFailure, target.String(), err)
	}
	selfDevices := r.resolveOwnOtherDevices(ctx)

	allDevices := make([]jid.JID, 0, len(peerDevices)+len(selfDevices))
	allDevices = append(allDevices, peerDevices...)
	allDevices = append(allDevices, selfDevices...)

	selfSet := make(map[jid.JID]bool, len(selfDevices))
	for _, d := range selfDevices {
		selfSet[d] = true
	}

	addrs := make([]signalsession.Address, len(allDevices))
	deviceByAddr := make(map[string]jid.JID, len(allDevices))
	for i, d := range allDevices {
		addr := signalsession.AddressFromJID(d)
		addrs[i] = addr
		deviceByAddr[addr.String()] = d
	}
	assertResult, err := r.guard.AssertSessions(ctx, addrs)
	if err != nil {
		return "", relayerr.New(relayerr.KindSessionAssertFailure, target.String(), err)
	}

	otherRecipients := make([]stanza.PairwiseEnvelope, 0, len(peerDevices))
	meRecipients := make([]stanza.PairwiseEnvelope, 0, len(selfDevices))
	for _, addr := range assertResult.Ready {
		d, ok := deviceByAddr[addr.String()]
		if !ok {
			continue
		}
		if selfSet[d] {
			env, err := r.encryptDSM(ctx, d, target, plaintext)
			if err != nil {
				return "", err
			}
			meRecipients = append(meRecipients, env)
			continue
		}
		env, err := r.encryptOne(ctx, d, plaintext)
		if err != nil {
			return "", err
		}
		otherRecipients = append(otherRecipients, env)
	}

	n := stanza.BuildDirect(stanza.DirectRequest{
		ID: messageID, To: target, MessageType: opts.MessageType, Edit: opts.Edit,
		OtherRecipients: otherRecipients, MeRecipients: meRecipients, DeviceIdentity: r.deviceIdent,
	})
	if err := r.transport.SendNode(ctx, n); err != nil {
		return "", relayerr.New(relayerr.KindTransportFailure, target.String(), err)
	}
	r.recent.Put(target.String(), messageID, plaintext)
	return messageID, nil
}

// sendDirectSingle bypasses device resolution and own-device fan-out
// entirely, addressing exactly the device opts.ExplicitDevice names.
func (r *Relay) sendDirectSingle(ctx context.Context, target, device jid.JID, messageID string, plaintext []byte, opts SendOptions) (string, error) {
	addr := signalsession.AddressFromJID(device)
	if _, err := r.guard.AssertSessions(ctx, []signalsession.Address{addr}); err != nil {
		return "", relayerr.New(relayerr.KindSessionAssertFailure, target.String(), err)
	}

	env, err := r.encryptOne(ctx, device, plaintext)
	if err != nil {
		return "", err
	}
	n := stanza.BuildDirect(stanza.DirectRequest{
		ID: messageID, To: target, MessageType: opts.MessageType, Edit: opts.Edit,
		OtherRecipients: []stanza.PairwiseEnvelope{env}, DeviceIdentity: r.deviceIdent,
	})
	if err := r.transport.SendNode(ctx, n); err != nil {
		return "", relayerr.New(relayerr.KindTransportFailure, target.String(), err)
	}
	r.recent.Put(target.String(), messageID, plaintext)
	return messageID, nil
}

// resolveOwnOtherDevices resolves this account's companion devices,
// excluding the device this process itself runs as. A failure here is
// never fatal to the primary send: own-device fan-out is additive, so a
// USync hiccup degrades sync to other devices rather than blocking
// delivery to the actual recipient.
func (r *Relay) resolveOwnOtherDevices(ctx context.Context) []jid.JID {
	devices, err := r.devices.Devices(ctx, r.self.ToNonAD(), nil)
	if err != nil {
		r.logger.Warn("own-device resolution failed; skipping device-sent-message fan-out", zap.Error(err))
		return nil
	}
	out := make([]jid.JID, 0, len(devices))
	for _, d := range devices {
		if d == r.self {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (r *Relay) encryptOne(ctx context.Context, dest jid.JID, plaintext []byte) (stanza.PairwiseEnvelope, error) {
	addr := signalsession.AddressFromJID(dest)
	ctype, ciphertext, err := r.encryptor.EncryptPairwise(ctx, addr.String(), plaintext)
	if err != nil {
		return stanza.PairwiseEnvelope{}, err
	}
	return stanza.PairwiseEnvelope{Addr: dest, CType: node.EncType(ctype), Bytes: ciphertext}, nil
}

// encryptDSM wraps plaintext as a device-sent-message addressed at peer
// before pairwise-encrypting it for dest, one of this account's own
// other devices.
func (r *Relay) encryptDSM(ctx context.Context, dest, peer jid.JID, plaintext []byte) (stanza.PairwiseEnvelope, error) {
	wrapped := stanza.WrapDSM(peer, plaintext)
	addr := signalsession.AddressFromJID(dest)
	ctype, ciphertext, err := r.encryptor.EncryptPairwise(ctx, addr.String(), wrapped)
	if err != nil {
		return stanza.PairwiseEnvelope{}, err
	}
	return stanza.PairwiseEnvelope{Addr: dest, CType: node.EncType(ctype), Bytes: ciphertext}, nil
}

// sendGroup fans a sender-key message out to a group's participant
// devices, distributing a fresh SKDM only to the devices groupstate's
// sender-key-memory says haven't already seen this account's current
// sender key.
func (r *Relay) sendGroup(ctx context.Context, group jid.JID, messageID string, plaintext []byte, opts SendOptions, degraded *bool) (string, error) {
	meta, err := r.groups.GetOrFetch(ctx, group.String())
	if err != nil {
		return "", relayerr.New(relayerr.KindMetadataFetchFailure, group.String(), err)
	}

	representatives := ensureSelfParticipant(participantRepresentatives(meta), meta, r.self)

	var fanoutAddrs []jid.JID
	for _, rep := range representatives {
		devices, err := r.devices.Devices(ctx, rep, nil)
		if err != nil {
			if !r.cfg.CompatV6GroupSend {
				return "", relayerr.New(relayerr.KindMetadataFetchFailure, rep.String(), err)
			}
			*degraded = true
			continue
		}
		fanoutAddrs = append(fanoutAddrs, devices...)
	}

	sigAddrs := make([]signalsession.Address, len(fanoutAddrs))
	deviceByAddr := make(map[string]jid.JID, len(fanoutAddrs))
	for i, d := range fanoutAddrs {
		addr := signalsession.AddressFromJID(d)
		sigAddrs[i] = addr
		deviceByAddr[addr.String()] = d
	}
	assertResult, err := r.guard.AssertSessions(ctx, sigAddrs)
	if err != nil {
		return "", relayerr.New(relayerr.KindSessionAssertFailure, group.String(), err)
	}
	if len(assertResult.Dropped) > 0 {
		*degraded = true
	}

	selfAddr := signalsession.AddressFromJID(r.self).String()
	skmsg, err := r.encryptor.EncryptGroup(ctx, group.String(), selfAddr, plaintext)
	if err != nil {
		return "", err
	}

	memo, err := r.groups.SenderKeyMemory(ctx, group.String())
	if err != nil {
		return "", relayerr.New(relayerr.KindMetadataFetchFailure, group.String(), err)
	}

	readyDevices := make([]jid.JID, 0, len(assertResult.Ready))
	for _, addr := range assertResult.Ready {
		if d, ok := deviceByAddr[addr.String()]; ok {
			readyDevices = append(readyDevices, d)
		}
	}
	needingSKDM := devicesNeedingSKDM(readyDevices, memo)

	var dist *stanza.Distribution
	var sentTo []string
	if len(needingSKDM) > 0 {
		skdm, err := r.encryptor.GroupDistribution(ctx, group.String(), selfAddr)
		if err != nil {
			return "", err
		}
		envelopes := make([]stanza.PairwiseEnvelope, 0, len(needingSKDM))
		for _, d := range needingSKDM {
			ctype, ciphertext, err := r.encryptor.EncryptPairwise(ctx, signalsession.AddressFromJID(d).String(), skdm)
			if err != nil {
				if !r.cfg.CompatV6GroupSend {
					return "", err
				}
				*degraded = true
				continue
			}
			envelopes = append(envelopes, stanza.PairwiseEnvelope{Addr: d, CType: node.EncType(ctype), Bytes: ciphertext})
			sentTo = append(sentTo, d.String())
		}
		dist = &stanza.Distribution{Participants: envelopes}
	}

	n := stanza.BuildFanout(stanza.FanoutRequest{
		ID: messageID, To: group, MessageType: opts.MessageType,
		AddressingMode: meta.AddressingMode, EphemeralSeconds: meta.EphemeralSeconds,
		SKMsgCiphertext: skmsg, Distribution: dist, DeviceIdentity: r.deviceIdent,
	})
	if err := r.transport.SendNode(ctx, n); err != nil {
		return "", relayerr.New(relayerr.KindTransportFailure, group.String(), err)
	}

	// Sender-key-memory is only updated once the SKDM fan-out has
	// actually reached the transport, never inside the encryption
	// transaction above: a crash between encryption and send must leave
	// these recipients unmarked, so the next send retries the SKDM.
	if len(sentTo) > 0 {
		if err := r.groups.MarkSent(ctx, group.String(), sentTo); err != nil {
			r.logger.Warn("failed to record sender-key-memory", zap.String("group", group.String()), zap.Error(err))
		}
	}

	r.recent.Put(group.String(), messageID, plaintext)
	return messageID, nil
}

// representative picks the identity-space form a group's addressing
// mode calls for: LID when the group is LID-addressed and this account
// has an opt-in LID mapping for the participant, PN otherwise.
func representative(p groupstate.Participant, mode jid.AddressingMode) jid.JID {
	if mode == jid.AddressingLID && !p.LID.IsEmpty() {
		return p.LID
	}
	return p.PN
}

func participantRepresentatives(meta groupstate.Metadata) []jid.JID {
	out := make([]jid.JID, 0, len(meta.Participants))
	for _, p := range meta.Participants {
		rep := representative(p, meta.AddressingMode)
		if rep.IsEmpty() {
			continue
		}
		out = append(out, rep)
	}
	return out
}

// selfIdentity finds this account's own entry in meta's participant
// list, in whichever identity-space form the group addresses it.
func selfIdentity(meta groupstate.Metadata, self jid.JID) jid.JID {
	for _, p := range meta.Participants {
		if jid.SameUser(p.PN, self) || (!p.LID.IsEmpty() && jid.SameUser(p.LID, self)) {
			return representative(p, meta.AddressingMode)
		}
	}
	return jid.JID{}
}

// ensureSelfParticipant guarantees this account's own devices are part
// of a group's fan-out even if metadata's participant list omits self,
// so this account's own other devices always receive their sender-key
// copy alongside everyone else's.
func ensureSelfParticipant(reps []jid.JID, meta groupstate.Metadata, self jid.JID) []jid.JID {
	selfRep := selfIdentity(meta, self)
	if selfRep.IsEmpty() {
		return reps
	}
	for _, rep := range reps {
		if jid.SameUser(rep, selfRep) {
			return reps
		}
	}
	return append(reps, selfRep)
}

// devicesNeedingSKDM filters devices down to the ones memo (this
// group's sender-key-memory) doesn't yet record as holding this
// account's current sender key.
func devicesNeedingSKDM(devices []jid.JID, memo map[string]bool) []jid.JID {
	out := make([]jid.JID, 0, len(devices))
	for _, d := range devices {
		if !memo[d.String()] {
			out = append(out, d)
		}
	}
	return out
}

func (r *Relay) sendStatus(ctx context.Context, statusJID jid.JID, messageID string, plaintext []byte, opts SendOptions, degraded *bool) (string, error) {
	return r.sendGroup(ctx, statusJID, messageID, plaintext, opts, degraded)
}

// sendRetry resends plaintext to exactly one previously-attempted
// device, reusing messageID and carrying the resend count so the
// recipient can tell retries apart, per §8 scenario S4.
func (r *Relay) sendRetry(ctx context.Context, dest jid.JID, messageID string, plaintext []byte, opts SendOptions) (string, error) {
	rp := opts.Retry
	addr := signalsession.AddressFromJID(rp.JID)
	if _, err := r.guard.AssertSessions(ctx, []signalsession.Address{addr}); err != nil {
		return "", relayerr.New(relayerr.KindSessionAssertFailure, rp.JID.String(), err)
	}

	isGroup := dest.IsGroup() || dest.IsStatusBroadcast()

	var env stanza.PairwiseEnvelope
	if isGroup {
		selfAddr := signalsession.AddressFromJID(r.self).String()
		skmsg, err := r.encryptor.EncryptGroup(ctx, dest.String(), selfAddr, plaintext)
		if err != nil {
			return "", err
		}
		env = stanza.PairwiseEnvelope{Addr: rp.JID, CType: node.EncSKMsg, Bytes: skmsg}
	} else {
		wirePlaintext := plaintext
		if jid.SameUser(rp.JID, r.self) {
			wirePlaintext = stanza.WrapDSM(dest, plaintext)
		}
		ctype, ciphertext, err := r.encryptor.EncryptPairwise(ctx, addr.String(), wirePlaintext)
		if err != nil {
			return "", err
		}
		env = stanza.PairwiseEnvelope{Addr: rp.JID, CType: node.EncType(ctype), Bytes: ciphertext}
	}

	to := rp.JID
	var recipient jid.JID
	switch {
	case isGroup:
		to = dest
	case jid.SameUser(rp.JID, r.self):
		recipient = dest
	}

	n := stanza.BuildRetry(stanza.RetryRequest{
		ID: messageID, To: to, Group: isGroup, Participant: rp.JID, Recipient: recipient,
		Count: rp.Count, Envelope: env, DeviceIdentity: r.deviceIdent,
	})
	if err := r.transport.SendNode(ctx, n); err != nil {
		return "", relayerr.New(relayerr.KindTransportFailure, rp.JID.String(), err)
	}
	return messageID, nil
}

// sendPeer delivers a data operation to one of this account's own
// other devices: app-state key distribution, history sync
// notifications, or any other own-device-only payload, per §8
// scenario S5.
func (r *Relay) sendPeer(ctx context.Context, dest jid.JID, messageID string, plaintext []byte, opts SendOptions) (string, error) {
	addr := signalsession.AddressFromJID(dest)
	if _, err := r.guard.AssertSessions(ctx, []signalsession.Address{addr}); err != nil {
		return "", relayerr.New(relayerr.KindSessionAssertFailure, dest.String(), err)
	}

	env, err := r.encryptOne(ctx, dest, plaintext)
	if err != nil {
		return "", err
	}

	n := stanza.BuildPeer(stanza.PeerRequest{
		ID: messageID, To: dest, Category: opts.PeerCategory, AppData: opts.PeerAppData,
		Envelope: env, DeviceIdentity: r.deviceIdent,
	})
	if err := r.transport.SendNode(ctx, n); err != nil {
		return "", relayerr.New(relayerr.KindTransportFailure, dest.String(), err)
	}
	return messageID, nil
}

// SendReceipt composes and delivers one aggregated <receipt> stanza for
// req.
func (r *Relay) SendReceipt(ctx context.Context, req receipts.Request) error {
	n := receipts.Build(req)
	if err := r.transport.SendNode(ctx, n); err != nil {
		return relayerr.New(relayerr.KindTransportFailure, req.ChatJID, err)
	}
	return nil
}

func (r *Relay) resolveIdentitySpace(ctx context.Context, dest jid.JID) (jid.JID, error) {
	if dest.Server != jid.ServerPN && dest.Server != jid.ServerLID {
		return dest, nil
	}
	if dest.Server == jid.ServerLID {
		pn, ok, err := r.identity.PNForLID(ctx, dest.User)
		if err != nil {
			return jid.JID{}, relayerr.New(relayerr.KindInvalidMapping, dest.String(), err)
		}
		if !ok {
			return dest, nil
		}
		return jid.New(pn, jid.ServerPN), nil
	}
	return dest, nil
}
