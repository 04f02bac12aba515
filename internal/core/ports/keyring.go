package ports

import "github.com/p2p-escrow/trade-daemon/internal/core/domain"

// KeyRing holds the identity key used to sign contracts.
type KeyRing interface {
	PubKeyRing() domain.PubKeyRing
	Sign(digest []byte) ([]byte, error)
	Verify(pubKey, digest, sig []byte) error
}
