package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestFormulaError(t *testing.T) {
	baseErr := errors.New("division by zero")

	t.Run("message and unwrap", func(t *testing.T) {
		err := &FormulaError{Symbol: "TYM5", Field: BidEdge, Err: baseErr}

		expected := "formula TYM5.bid_edge: division by zero"
		if err.Error() != expected {
			t.Errorf("Error message = %q, want %q", err.Error(), expected)
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("IsFormulaFailure helper", func(t *testing.T) {
		wrapped := fmt.Errorf("tick: %w", &FormulaError{Symbol: "X", Field: AskQ, Err: baseErr})

		if !IsFormulaFailure(wrapped) {
			t.Error("IsFormulaFailure should see through wrapping")
		}
		if IsFormulaFailure(baseErr) {
			t.Error("IsFormulaFailure should return false for plain error")
		}
	})
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "server.addr", Err: baseErr}

	expected := "config error [server.addr]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
	if !errors.Is(err, baseErr) {
		t.Error("ConfigError should unwrap to its cause")
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		in      string
		want    Field
		wantErr bool
	}{
		{"bid_edge", BidEdge, false},
		{"ask_q", AskQ, false},
		{"taker", Taker, false},
		{"bid_edge_override", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseField(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseField(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnknownField) {
			t.Errorf("ParseField(%q) err = %v, want ErrUnknownField", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFieldKinds(t *testing.T) {
	for _, f := range NumericFields {
		if !f.IsNumeric() || f.IsToggle() {
			t.Errorf("%s should be numeric", f)
		}
	}
	if !Maker.IsToggle() || Maker.IsNumeric() {
		t.Error("maker should be a toggle")
	}
	if !BidEdge.IsEdge() || BidEdge.IsQuantity() {
		t.Error("bid_edge should be an edge")
	}
	if !AskQ.IsQuantity() || AskQ.IsEdge() {
		t.Error("ask_q should be a quantity")
	}
}

func TestParseToggle(t *testing.T) {
	if v, err := ParseToggle("ON"); err != nil || v != ToggleOn {
		t.Errorf("ParseToggle(ON) = %q, %v", v, err)
	}
	if v, err := ParseToggle("OFF"); err != nil || v != ToggleOff {
		t.Errorf("ParseToggle(OFF) = %q, %v", v, err)
	}
	if _, err := ParseToggle("on"); !errors.Is(err, ErrInvalidToggle) {
		t.Errorf("ParseToggle(on) err = %v, want ErrInvalidToggle", err)
	}
}
