package btcwallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
)

// KeyRing holds the identity key of the node, derived from the wallet seed
// at m/1017'/coin'/0'. It signs contracts and offers.
type KeyRing struct {
	key *btcec.PrivateKey
}

// NewKeyRing ...
func NewKeyRing(seed []byte, network *chaincfg.Params) (*KeyRing, error) {
	if len(seed) <= 0 {
		return nil, ErrNullSeed
	}
	if network == nil {
		return nil, ErrNullNetwork
	}
	master, err := hdkeychain.NewMaster(seed, network)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	path := DerivationPath{
		hdkeychain.HardenedKeyStart + tradeKeysPurpose,
		hdkeychain.HardenedKeyStart + network.HDCoinType,
		hdkeychain.HardenedKeyStart + 0,
	}
	extKey, err := deriveKey(master, path)
	if err != nil {
		return nil, err
	}
	key, err := extKey.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return &KeyRing{key}, nil
}

func (k *KeyRing) PubKeyRing() domain.PubKeyRing {
	return domain.PubKeyRing{
		SignaturePubKey: k.key.PubKey().SerializeCompressed(),
	}
}

// Sign returns the DER encoded signature of the 32-byte digest.
func (k *KeyRing) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return ecdsa.Sign(k.key, digest).Serialize(), nil
}

func (k *KeyRing) Verify(pubKey, digest, sig []byte) error {
	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	signature, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	if !signature.Verify(digest, key) {
		return ErrInvalidSignature
	}
	return nil
}
