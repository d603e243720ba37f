// Package encryptor drives the keystore's Signal-protocol operations for
// a send: pairwise encryption per destination device, and group sender-
// key encryption with its SKDM distribution, per §4.4.
package encryptor

import (
	"context"

	"github.com/baileysgo/relaycore/internal/keyedmutex"
	"github.com/baileysgo/relaycore/internal/keystore"
	"github.com/baileysgo/relaycore/internal/relayerr"
)

// Encryptor encrypts outbound plaintext for pairwise and group sends.
type Encryptor struct {
	store keystore.Store
	mutex *keyedmutex.Map

	// compatV6 relaxes two things at once for bulk group fan-out under
	// the older protocol revision: it skips the per-peer mutex (ratchet
	// state for distinct devices never actually interleaves within one
	// process-local call graph under V6 framing) and lets
	// EncryptPairwiseBatch continue past a single device's failure
	// instead of aborting the whole batch.
	compatV6 bool
}

// New builds an Encryptor.
func New(store keystore.Store, compatV6 bool) *Encryptor {
	return &Encryptor{store: store, mutex: keyedmutex.NewMap(), compatV6: compatV6}
}

// EncryptPairwise advances the Double Ratchet for peerAddr and returns
// the wire ciphertext type plus envelope.
func (e *Encryptor) EncryptPairwise(ctx context.Context, peerAddr string, plaintext []byte) (ctype string, ciphertext []byte, err error) {
	if !e.compatV6 {
		unlock := e.mutex.Lock(peerAddr)
		defer unlock()
	}

	txErr := e.store.Transaction(ctx, "encryptor.pairwise", func(tx keystore.Tx) error {
		var err error
		ctype, ciphertext, err = tx.EncryptMessage(ctx, peerAddr, plaintext)
		return err
	})
	if txErr != nil {
		return "", nil, relayerr.New(relayerr.KindEncryptionFailure, peerAddr, txErr)
	}
	return ctype, ciphertext, nil
}

// PairwiseResult is one device's outcome from EncryptPairwiseBatch.
type PairwiseResult struct {
	Addr       string
	CType      string
	Ciphertext []byte
	Err        error
}

// EncryptPairwiseBatch encrypts plaintext for every address in addrs. In
// compatV6 mode a single device's failure is recorded on its result
// rather than aborting the whole batch.
func (e *Encryptor) EncryptPairwiseBatch(ctx context.Context, addrs []string, plaintext []byte) ([]PairwiseResult, error) {
	results := make([]PairwiseResult, 0, len(addrs))
	for _, addr := range addrs {
		ctype, ciphertext, err := e.EncryptPairwise(ctx, addr, plaintext)
		if err != nil && !e.compatV6 {
			return nil, err
		}
		results = append(results, PairwiseResult{Addr: addr, CType: ctype, Ciphertext: ciphertext, Err: err})
	}
	return results, nil
}

// EncryptGroup encrypts plaintext under the caller's sender key for
// groupJID.
func (e *Encryptor) EncryptGroup(ctx context.Context, groupJID, selfAddr string, plaintext []byte) (ciphertext []byte, err error) {
	txErr := e.store.Transaction(ctx, "encryptor.group", func(tx keystore.Tx) error {
		var err error
		ciphertext, err = tx.EncryptGroupMessage(ctx, groupJID, selfAddr, plaintext)
		return err
	})
	if txErr != nil {
		return nil, relayerr.New(relayerr.KindEncryptionFailure, groupJID, txErr)
	}
	return ciphertext, nil
}

// GroupDistribution returns the serialized SKDM for groupJID's current
// sender key, for pairwise-encrypting to any recipient device that
// still needs it.
func (e *Encryptor) GroupDistribution(ctx context.Context, groupJID, selfAddr string) (skdm []byte, err error) {
	txErr := e.store.Transaction(ctx, "encryptor.group_distribution", func(tx keystore.Tx) error {
		var err error
		skdm, err = tx.GroupSenderKeyDistribution(ctx, groupJID, selfAddr)
		return err
	})
	if txErr != nil {
		return nil, relayerr.New(relayerr.KindEncryptionFailure, groupJID, txErr)
	}
	return skdm, nil
}
