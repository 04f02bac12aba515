package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	dbbadger "github.com/p2p-escrow/trade-daemon/internal/infrastructure/storage/db/badger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/thanhpk/randstr"
)

func seedDatadir(t *testing.T) (string, *domain.Trade) {
	datadir := t.TempDir()
	repoManager, err := dbbadger.NewRepoManager(filepath.Join(datadir, dbLocation), nil)
	require.NoError(t, err)
	defer repoManager.Close()

	ctx := context.Background()
	offer := &domain.Offer{
		ID:                    randstr.Hex(8),
		Direction:             domain.DirectionBuy,
		CurrencyCode:          "EUR",
		Price:                 decimal.NewFromInt(25000),
		Amount:                500000,
		PaymentMethodID:       "SEPA",
		MakerNodeAddress:      domain.NodeAddress{Host: "maker", Port: 9999},
		BuyerSecurityDeposit:  75000,
		SellerSecurityDeposit: 75000,
	}
	require.NoError(t, repoManager.OfferRepository().AddOffer(ctx, offer))

	takerFeeTxID := randstr.Hex(32)
	trade, err := domain.NewTrade(
		domain.DeriveTradeID(offer.ID, takerFeeTxID), *offer,
		domain.PositionTaker, offer.Amount, offer.Price, 2000, 5000,
	)
	require.NoError(t, err)
	require.NoError(t, repoManager.TradeRepository().AddTrade(ctx, trade))

	return datadir, trade
}

func TestCommands(t *testing.T) {
	datadir, trade := seedDatadir(t)

	tests := []struct {
		name string
		args []string
	}{
		{"list trades", []string{"trades", "list"}},
		{"list pending trades", []string{"trades", "list", "--pending"}},
		{"show trade", []string{"trades", "show", trade.ID}},
		{"list offers", []string{"offers", "list"}},
		{"genseed", []string{"genseed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"tradeproto", "--datadir", datadir}, tt.args...)
			require.NoError(t, newApp().Run(args))
		})
	}
}

func TestCommandsFail(t *testing.T) {
	datadir, _ := seedDatadir(t)

	err := newApp().Run([]string{"tradeproto", "--datadir", datadir, "trades", "show"})
	var usageErr *invalidUsageError
	require.ErrorAs(t, err, &usageErr)

	err = newApp().Run([]string{
		"tradeproto", "--datadir", datadir, "trades", "show", "unknown",
	})
	require.ErrorIs(t, err, domain.ErrTradeNotFound)

	err = newApp().Run([]string{
		"tradeproto", "--datadir", t.TempDir(), "trades", "list",
	})
	require.Error(t, err)
}
