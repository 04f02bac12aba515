package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
)

// Contract binds both traders to the agreed terms. Both parties sign the
// sha256 hash of its json serialization.
type Contract struct {
	OfferID                        string
	TradeAmount                    int64
	TradePrice                     string
	TakerFeeTxID                   string
	BuyerNodeAddress               NodeAddress
	SellerNodeAddress              NodeAddress
	IsBuyerMakerAndSellerTaker     bool
	MakerAccountID                 string
	TakerAccountID                 string
	MakerPaymentAccountPayloadHash []byte
	TakerPaymentAccountPayloadHash []byte
	MakerPubKeyRing                PubKeyRing
	TakerPubKeyRing                PubKeyRing
	MakerMultisigPubKey            []byte
	TakerMultisigPubKey            []byte
	MakerPayoutAddress             string
	TakerPayoutAddress             string
	LockTime                       int64
}

// Serialize returns the canonical json encoding of the contract.
func (c Contract) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// Hash returns the digest both traders sign.
func (c Contract) Hash() ([]byte, error) {
	buf, err := c.Serialize()
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(buf)
	return h[:], nil
}

// Equal compares two contracts by their canonical encoding.
func (c Contract) Equal(other Contract) bool {
	a, err := c.Serialize()
	if err != nil {
		return false
	}
	b, err := other.Serialize()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// BuyerMultisigPubKey ...
func (c Contract) BuyerMultisigPubKey() []byte {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerMultisigPubKey
	}
	return c.TakerMultisigPubKey
}

// SellerMultisigPubKey ...
func (c Contract) SellerMultisigPubKey() []byte {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerMultisigPubKey
	}
	return c.MakerMultisigPubKey
}

// BuyerPayoutAddress ...
func (c Contract) BuyerPayoutAddress() string {
	if c.IsBuyerMakerAndSellerTaker {
		return c.MakerPayoutAddress
	}
	return c.TakerPayoutAddress
}

// SellerPayoutAddress ...
func (c Contract) SellerPayoutAddress() string {
	if c.IsBuyerMakerAndSellerTaker {
		return c.TakerPayoutAddress
	}
	return c.MakerPayoutAddress
}
