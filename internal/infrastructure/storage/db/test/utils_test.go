package db_test

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func makeRandomOffer() *domain.Offer {
	return &domain.Offer{
		ID:                    randomHex(8),
		Direction:             domain.DirectionSell,
		CurrencyCode:          "EUR",
		Price:                 decimal.NewFromInt(30000),
		Amount:                1000000,
		MinAmount:             500000,
		PaymentMethodID:       "SEPA",
		MakerFeeTxID:          randomHex(32),
		MakerNodeAddress:      domain.NodeAddress{Host: "maker.onion", Port: 9999},
		BuyerSecurityDeposit:  150000,
		SellerSecurityDeposit: 150000,
	}
}

func makeRandomTrade(t *testing.T, offer *domain.Offer) *domain.Trade {
	takerFeeTxID := randomHex(32)
	trade, err := domain.NewTrade(
		domain.DeriveTradeID(offer.ID, takerFeeTxID), *offer,
		domain.PositionTaker, offer.Amount, offer.Price, 5000, 3000,
	)
	require.NoError(t, err)
	trade.TakerFeeTxID = takerFeeTxID
	trade.ProcessModel.MyMultisigPubKey = randomBytes(33)
	trade.ProcessModel.SetDelivery(domain.KindInputsForDepositTxRequest, domain.DeliveryArrived)
	trade.ProcessModel.AddAck(domain.AckTracker{
		UID:  randomHex(16),
		Kind: domain.KindInputsForDepositTxRequest,
	})
	return trade
}

func randomHex(len int) string {
	return hex.EncodeToString(randomBytes(len))
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	//nolint
	rand.Read(b)
	return b
}
