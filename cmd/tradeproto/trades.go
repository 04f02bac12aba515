package main

import (
	"fmt"

	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/urfave/cli/v2"
)

var trades = cli.Command{
	Name:  "trades",
	Usage: "inspect the trades of the daemon",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "list all trades",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "pending",
					Usage: "list only trades not completed yet",
				},
			},
			Action: listTradesAction,
		},
		{
			Name:      "show",
			Usage:     "show the details of a trade",
			ArgsUsage: "<trade_id>",
			Action:    showTradeAction,
		},
	},
}

type tradeInfo struct {
	ID           string `json:"id"`
	OfferID      string `json:"offer_id"`
	Variant      string `json:"variant"`
	Phase        string `json:"phase"`
	State        string `json:"state"`
	Amount       int64  `json:"amount"`
	Price        string `json:"price"`
	DisputeState string `json:"dispute_state,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
	CreatedAt    int64  `json:"created_at"`
}

func newTradeInfo(t *domain.Trade) tradeInfo {
	info := tradeInfo{
		ID:           t.ID,
		OfferID:      t.Offer.ID,
		Variant:      t.Variant.String(),
		Phase:        t.Phase.String(),
		State:        t.State.String(),
		Amount:       t.Amount,
		Price:        t.Price.String(),
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
	}
	if t.DisputeState != domain.DisputeStateNone {
		info.DisputeState = t.DisputeState.String()
	}
	return info
}

func listTradesAction(ctx *cli.Context) error {
	repoManager, cleanup, err := getRepoManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	repo := repoManager.TradeRepository()
	var list []*domain.Trade
	if ctx.Bool("pending") {
		list, err = repo.GetPendingTrades(ctx.Context)
	} else {
		list, err = repo.GetAllTrades(ctx.Context)
	}
	if err != nil {
		return err
	}

	infos := make([]tradeInfo, 0, len(list))
	for _, t := range list {
		infos = append(infos, newTradeInfo(t))
	}
	printJSON(infos)
	return nil
}

func showTradeAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return &invalidUsageError{ctx, "show"}
	}

	repoManager, cleanup, err := getRepoManager(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := repoManager.TradeRepository().GetTrade(ctx.Context, ctx.Args().First())
	if err != nil {
		return fmt.Errorf("trade %s: %w", ctx.Args().First(), err)
	}
	printJSON(t)
	return nil
}
