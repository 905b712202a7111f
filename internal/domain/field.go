package domain

import "fmt"

// Field identifies one observable cell of a symbol.
type Field string

const (
	BidEdge Field = "bid_edge"
	AskEdge Field = "ask_edge"
	BidQ    Field = "bid_q"
	AskQ    Field = "ask_q"
	Maker   Field = "maker"
	Taker   Field = "taker"
)

// AllFields lists every field in display order.
var AllFields = []Field{BidEdge, AskEdge, BidQ, AskQ, Maker, Taker}

// NumericFields are the fields the engine recomputes and formulas may target.
var NumericFields = []Field{BidEdge, AskEdge, BidQ, AskQ}

// ParseField validates a wire field name.
func ParseField(s string) (Field, error) {
	f := Field(s)
	switch f {
	case BidEdge, AskEdge, BidQ, AskQ, Maker, Taker:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// IsEdge reports whether f is a priced field rounded to 2 decimals.
func (f Field) IsEdge() bool { return f == BidEdge || f == AskEdge }

// IsQuantity reports whether f is a bounded integer size field.
func (f Field) IsQuantity() bool { return f == BidQ || f == AskQ }

// IsNumeric reports whether f holds a number.
func (f Field) IsNumeric() bool { return f.IsEdge() || f.IsQuantity() }

// IsToggle reports whether f is a two-valued ON/OFF field.
func (f Field) IsToggle() bool { return f == Maker || f == Taker }

// Toggle is the two-valued enum used by maker/taker and the master switches.
type Toggle string

const (
	ToggleOn  Toggle = "ON"
	ToggleOff Toggle = "OFF"
)

// ParseToggle accepts exactly "ON" or "OFF".
func ParseToggle(s string) (Toggle, error) {
	switch Toggle(s) {
	case ToggleOn, ToggleOff:
		return Toggle(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidToggle, s)
}
