package domain

import "fmt"

// Side is the BTC direction of a trader in a trade.
type Side int

const (
	SideBuyer Side = iota
	SideSeller
)

func (s Side) String() string {
	if s == SideBuyer {
		return "BUYER"
	}
	return "SELLER"
}

// Position tells whether a trader posted the offer or accepted it.
type Position int

const (
	PositionMaker Position = iota
	PositionTaker
)

func (p Position) String() string {
	if p == PositionMaker {
		return "MAKER"
	}
	return "TAKER"
}

// Generation identifies the protocol family a trade runs.
type Generation int

const (
	// GenerationEscrow is the 2-of-2 multisig escrow protocol secured by a
	// delayed payout transaction.
	GenerationEscrow Generation = iota
	// GenerationAtomicSwap settles both legs in a single transaction.
	GenerationAtomicSwap
)

func (g Generation) String() string {
	switch g {
	case GenerationEscrow:
		return "ESCROW"
	case GenerationAtomicSwap:
		return "ATOMIC_SWAP"
	default:
		return fmt.Sprintf("Generation(%d)", int(g))
	}
}

// TradeVariant is the role matrix entry of a trade.
type TradeVariant struct {
	Side       Side
	Position   Position
	Generation Generation
}

func (v TradeVariant) IsBuyer() bool  { return v.Side == SideBuyer }
func (v TradeVariant) IsSeller() bool { return v.Side == SideSeller }
func (v TradeVariant) IsMaker() bool  { return v.Position == PositionMaker }
func (v TradeVariant) IsTaker() bool  { return v.Position == PositionTaker }

func (v TradeVariant) String() string {
	return fmt.Sprintf("%s_AS_%s/%s", v.Side, v.Position, v.Generation)
}

// VariantFor returns the variant of the local trader given the offer and the
// local position. The offer direction is always expressed from the maker's
// point of view.
func VariantFor(offer Offer, position Position) TradeVariant {
	makerIsBuyer := offer.Direction == DirectionBuy
	side := SideSeller
	if (position == PositionMaker) == makerIsBuyer {
		side = SideBuyer
	}
	return TradeVariant{
		Side:       side,
		Position:   position,
		Generation: offer.Generation,
	}
}
