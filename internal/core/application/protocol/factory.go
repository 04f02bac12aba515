package protocol

import (
	"github.com/p2p-escrow/trade-daemon/internal/core/domain"
	"github.com/raulk/clock"
	log "github.com/sirupsen/logrus"
)

// New returns the protocol driving the given trade. It panics if the trade
// variant is not one of the supported role combinations.
func New(trade *domain.Trade, env Env, opts ...Option) *Protocol {
	env.Config = env.Config.withDefaults()
	if env.Clock == nil {
		env.Clock = clock.New()
	}

	p := &Protocol{
		trade:     trade,
		env:       env,
		role:      NewRole(trade.Variant),
		newRunner: NewFoldRunner,
		post:      func(f func()) { f() },
		resends:   make(map[string]*resend),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRole returns the role of the given trade variant.
func NewRole(v domain.TradeVariant) Role {
	var (
		buyer, maker  = domain.SideBuyer, domain.PositionMaker
		seller, taker = domain.SideSeller, domain.PositionTaker
	)

	switch v.Generation {
	case domain.GenerationEscrow:
		switch {
		case v.Side == buyer && v.Position == maker:
			return newEscrowRole(v, makerPosition{}, escrowBuyer{})
		case v.Side == buyer && v.Position == taker:
			return newEscrowRole(v, takerPosition{}, escrowBuyer{})
		case v.Side == seller && v.Position == maker:
			return newEscrowRole(v, makerPosition{}, escrowSeller{})
		case v.Side == seller && v.Position == taker:
			return newEscrowRole(v, takerPosition{}, escrowSeller{})
		}
	case domain.GenerationAtomicSwap:
		switch {
		case v.Side == buyer && v.Position == maker:
			return newSwapRole(v, makerPosition{}, swapSide{buyer})
		case v.Side == buyer && v.Position == taker:
			return newSwapRole(v, takerPosition{}, swapSide{buyer})
		case v.Side == seller && v.Position == maker:
			return newSwapRole(v, makerPosition{}, swapSide{seller})
		case v.Side == seller && v.Position == taker:
			return newSwapRole(v, takerPosition{}, swapSide{seller})
		}
	}

	log.Panicf("unsupported trade variant %s", v)
	return Role{}
}
