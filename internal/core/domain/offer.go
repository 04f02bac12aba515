package domain

import (
	"crypto/sha256"
	"encoding/json"
	"strconv"

	"github.com/shopspring/decimal"
)

// Direction of an offer, always expressed from the maker's point of view.
type Direction int

const (
	DirectionBuy Direction = iota
	DirectionSell
)

func (d Direction) String() string {
	if d == DirectionBuy {
		return "BUY"
	}
	return "SELL"
}

// NodeAddress is the network address of a peer.
type NodeAddress struct {
	Host string
	Port int
}

func (n NodeAddress) IsEmpty() bool {
	return n.Host == "" && n.Port == 0
}

func (n NodeAddress) String() string {
	if n.IsEmpty() {
		return ""
	}
	return n.Host + ":" + strconv.Itoa(n.Port)
}

// PubKeyRing holds the identity keys of a trader.
type PubKeyRing struct {
	SignaturePubKey []byte
}

// PaymentAccountPayload carries the counter currency account details of a
// trader. Only its hash is part of the contract, the payload itself is shared
// once the deposit is published.
type PaymentAccountPayload struct {
	ID              string
	PaymentMethodID string
	HolderName      string
	Details         map[string]string
}

// Hash returns the sha256 digest of the json serialized payload.
func (p PaymentAccountPayload) Hash() []byte {
	buf, _ := json.Marshal(p)
	h := sha256.Sum256(buf)
	return h[:]
}

// Offer holds the immutable trade terms.
type Offer struct {
	ID                    string
	Direction             Direction
	CurrencyCode          string
	Price                 decimal.Decimal
	UseMarketPrice        bool
	MarketPriceMargin     decimal.Decimal
	Amount                int64
	MinAmount             int64
	PaymentMethodID       string
	MakerFeeTxID          string
	MakerNodeAddress      NodeAddress
	MakerPubKeyRing       PubKeyRing
	BuyerSecurityDeposit  int64
	SellerSecurityDeposit int64
	Generation            Generation
	Date                  int64
}

// IsAmountInRange returns whether the given amount can be taken.
func (o Offer) IsAmountInRange(amount int64) bool {
	min := o.MinAmount
	if min <= 0 {
		min = o.Amount
	}
	return amount >= min && amount <= o.Amount
}

// TradePrice returns the fixed price or, for market based offers, the given
// market price adjusted by the margin.
func (o Offer) TradePrice(marketPrice decimal.Decimal) decimal.Decimal {
	if !o.UseMarketPrice {
		return o.Price
	}
	factor := decimal.NewFromInt(1).Add(o.MarketPriceMargin)
	if o.Direction == DirectionBuy {
		factor = decimal.NewFromInt(1).Sub(o.MarketPriceMargin)
	}
	return marketPrice.Mul(factor).Truncate(8)
}

// Volume returns the counter currency volume for the given amount of sats at
// the given price.
func Volume(amount int64, price decimal.Decimal) decimal.Decimal {
	btc := decimal.NewFromInt(amount).Div(decimal.NewFromInt(SatsPerBitcoin))
	return btc.Mul(price).Truncate(8)
}

// SwapCounterAmount returns the BSQ amount, in BSQ satoshis, exchanged for the
// given BTC amount at a BSQ per BTC price.
func SwapCounterAmount(amount int64, price decimal.Decimal) int64 {
	return Volume(amount, price).Shift(BsqDecimals).IntPart()
}

const (
	// SatsPerBitcoin ...
	SatsPerBitcoin = 100000000
	// BsqDecimals ...
	BsqDecimals = 2
)
