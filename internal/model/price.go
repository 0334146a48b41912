package model

// Price is an explicit tagged price: either a resting Market order (which
// ranks before every Limit value on both sides of the book) or a Limit at a
// concrete value. Replacing a numeric +∞ sentinel with a tag keeps the book's
// comparators from ever mixing a sentinel with a real traded price.
type Price struct {
	market bool
	value  float64
}

// MarketPrice is the Market price tag.
func MarketPrice() Price { return Price{market: true} }

// LimitPrice wraps a concrete limit value.
func LimitPrice(v float64) Price { return Price{value: v} }

// IsMarket reports whether p is the Market tag.
func (p Price) IsMarket() bool { return p.market }

// Value returns the concrete limit value. Calling it on a Market price
// returns 0 and is a programming error in any caller that needs a real price
// (apply_fill never prices a trade from the aggressor's side, only from the
// resting counterparty's limit, so Market trade pricing never reaches here).
func (p Price) Value() float64 { return p.value }

// Less reports whether p ranks ahead of o for the given book side: Buy
// ranks higher prices (and Market) first, Sell ranks lower prices (and
// Market) first.
func (p Price) Less(o Price, side Side) bool {
	switch {
	case p.market && o.market:
		return false
	case p.market:
		return true
	case o.market:
		return false
	}
	if side == Buy {
		return p.value > o.value
	}
	return p.value < o.value
}

// Crosses reports whether a buy at price b is willing to pay at least what a
// sell at price s demands, i.e. the pair could match.
func Crosses(b, s Price) bool {
	if b.market || s.market {
		return true
	}
	return b.value >= s.value
}
