package main

import (
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var offers = cli.Command{
	Name:  "offers",
	Usage: "inspect the open offers of the daemon",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "list open offers",
			Action: listOffersAction,
		},
	},
}

type offerInfo struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	Amount    int64  `json:"amount"`
	MinAmount int64  `json:"min_amount"`
	Price     string `json:"price"`
	Currency  string `json:"currency"`
	Maker     string `json:"maker"`
}

func newOfferInfo(o *domain.Offer) offerInfo {
	return offerInfo{
		ID:        o.ID,
		Direction: o.Direction.String(),
		Amount:    o.Amount,
		MinAmount: o.MinAmount,
		Price:     o.Price.String(),
		Currency:  o.CurrencyCode,
		Maker:     o.MakerNodeAddress.String(),
	}
}

func listOffersAction(ctx *cli.Context) error {
	repoManager, cleanup, err := getRepoManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := repoManager.OfferRepository().GetAllOffers(ctx.Context)
	if err != nil {
		return err
	}

	infos := make([]offerInfo, 0, len(list))
	for _, o := range list {
		infos = append(infos, newOfferInfo(o))
	}
	printJSON(infos)
	return nil
}
