package relay

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/baileysgo/relaycore/internal/account"
	"github.com/baileysgo/relaycore/internal/bus"
	"github.com/baileysgo/relaycore/internal/config"
	"github.com/baileysgo/relaycore/internal/deviceresolver"
	"github.com/baileysgo/relaycore/internal/encryptor"
	"github.com/baileysgo/relaycore/internal/groupstate"
	"github.com/baileysgo/relaycore/internal/identitymap"
	"github.com/baileysgo/relaycore/internal/jid"
	"github.com/baileysgo/relaycore/internal/keystore"
	"github.com/baileysgo/relaycore/internal/lock"
	"github.com/baileysgo/relaycore/internal/logging"
	"github.com/baileysgo/relaycore/internal/recentcache"
	"github.com/baileysgo/relaycore/internal/sessionguard"
	"github.com/baileysgo/relaycore/internal/status"
	"github.com/baileysgo/relaycore/internal/transport"
)

// Params holds everything the relay core cannot construct for itself:
// the resolved account identity, and the wire-boundary collaborators
// (device query, pre-key fetch, group metadata fetch, stanza delivery)
// a real connection would satisfy. This module owns no socket of its
// own, matching § Non-goals; the composition root supplies these.
type Params struct {
	AccountName string
	Self        jid.JID

	USync     deviceresolver.USyncClient
	PreKeys   sessionguard.PreKeyFetcher
	GroupMeta groupstate.Fetcher
	Sender    transport.Sender
}

// errUnsupportedKeystore guards the providers that need the concrete
// SQLite store's extra methods (LID mapping, device list, group
// metadata cache) beyond the keystore.Store interface: a caller who
// supplies a different keystore.Store implementation to fx gets a
// clear startup error instead of a panic deep in a resolver.
var errUnsupportedKeystore = errors.New("relay: keystore.Store must be a *keystore.SQLiteStore")

// Module returns the fx module for the outbound relay core, composing
// every provider and the single startup/shutdown lifecycle hook,
// mirroring the shape of the teacher's daemon module.
func Module(p Params) fx.Option {
	return fx.Module("relay",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideConfig,
			provideKeystore,
			provideIdentityMap,
			provideDeviceResolver,
			provideSessionGuard,
			provideGroupState,
			provideEncryptor,
			provideRecentCache,
			provideRelay,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(account.LogPath(p.AccountName), p.AccountName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := account.EnsureDir(p.AccountName); err != nil {
		return nil, err
	}
	logger.Info("acquiring account lock", zap.String("account", p.AccountName))
	l, err := lock.Acquire(account.Dir(p.AccountName))
	if err != nil {
		return nil, err
	}
	logger.Info("account lock acquired")
	return l, nil
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(account.ConfigPath())
	if err != nil {
		return *config.Default(), nil
	}
	return *cfg, nil
}

func provideKeystore(p Params, logger *zap.Logger) (keystore.Store, error) {
	return keystore.Open(account.KeystoreDBPath(p.AccountName), logger)
}

func provideIdentityMap(ks keystore.Store) (*identitymap.Map, error) {
	sqlite, ok := ks.(*keystore.SQLiteStore)
	if !ok {
		return nil, errUnsupportedKeystore
	}
	return identitymap.New(sqlite), nil
}

func provideDeviceResolver(p Params, ks keystore.Store, identity *identitymap.Map) (*deviceresolver.Resolver, error) {
	sqlite, ok := ks.(*keystore.SQLiteStore)
	if !ok {
		return nil, errUnsupportedKeystore
	}
	return deviceresolver.New(p.USync, sqlite, identity, false), nil
}

func provideSessionGuard(p Params, ks keystore.Store, cfg config.Config) *sessionguard.Guard {
	return sessionguard.New(ks, p.PreKeys, cfg.GroupAssertChunk, time.Duration(cfg.GroupAssertDelayMs)*time.Millisecond, cfg.CompatV6GroupSend)
}

func provideGroupState(p Params, ks keystore.Store) (*groupstate.Store, error) {
	sqlite, ok := ks.(*keystore.SQLiteStore)
	if !ok {
		return nil, errUnsupportedKeystore
	}
	return groupstate.New(p.GroupMeta, sqlite), nil
}

func provideEncryptor(ks keystore.Store, cfg config.Config) *encryptor.Encryptor {
	return encryptor.New(ks, cfg.CompatV6GroupSend)
}

func provideRecentCache(cfg config.Config) (*recentcache.Cache, error) {
	return recentcache.New(cfg.RecentMessagesCacheSize, cfg.EnableRecentMessageCache)
}

func provideRelay(
	p Params,
	cfg config.Config,
	ks keystore.Store,
	identity *identitymap.Map,
	devices *deviceresolver.Resolver,
	guard *sessionguard.Guard,
	groups *groupstate.Store,
	enc *encryptor.Encryptor,
	recent *recentcache.Cache,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *Relay {
	// deviceIdentity (the signed ADV account-signature bytes attached
	// alongside a pkmsg envelope) is produced during device pairing, a
	// phase outside this module's scope; the composition root is
	// expected to carry it in via a future Params field once pairing
	// exists. A send that needs it before then simply omits the
	// <device-identity> child, same as stanza.BuildDirect does for a
	// nil signature.
	return New(cfg, p.Self, ks, identity, devices, guard, groups, enc, recent, p.Sender, machine, b, logger, nil)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, ks keystore.Store, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("relay core ready", zap.String("status", string(machine.Current())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := ks.Close(); err != nil {
				logger.Warn("error closing keystore", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("relay core stopped")
			return nil
		},
	})
}
