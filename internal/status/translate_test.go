package status

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/brokerhub/internal/types"
)

func testTable() Table {
	return Table{
		"Submitted": types.StatusAccepted,
		"Filled":    types.StatusExecuted,
		"Cancelled": types.StatusCanceled,
		"Inactive":  types.StatusRejected,
	}
}

func TestTranslate_TableLookup(t *testing.T) {
	tr := NewTranslator("gateway", testTable(), nil)

	tests := []struct {
		raw  string
		want types.OrderStatus
	}{
		{"Submitted", types.StatusAccepted},
		{"Filled", types.StatusExecuted},
		{"Cancelled", types.StatusCanceled},
		{"Inactive", types.StatusRejected},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := tr.Translate(tt.raw, decimal.Zero, decimal.Zero)
			if got != tt.want {
				t.Errorf("Translate(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

// The derived partial-fill rule takes precedence over the literal table.
func TestTranslate_DerivedPartialWins(t *testing.T) {
	tr := NewTranslator("gateway", testTable(), nil)

	got := tr.Translate("Submitted", decimal.NewFromInt(5), decimal.NewFromInt(5))
	if got != types.StatusPartial {
		t.Errorf("Submitted with filled=5 remaining=5 = %v, want PARTIAL", got)
	}

	// Even a literal terminal status yields PARTIAL while quantity remains.
	got = tr.Translate("Filled", decimal.NewFromInt(3), decimal.NewFromInt(7))
	if got != types.StatusPartial {
		t.Errorf("Filled with remaining>0 = %v, want PARTIAL", got)
	}
}

func TestTranslate_FullFillIsNotPartial(t *testing.T) {
	tr := NewTranslator("gateway", testTable(), nil)

	got := tr.Translate("Filled", decimal.NewFromInt(10), decimal.Zero)
	if got != types.StatusExecuted {
		t.Errorf("Filled with remaining=0 = %v, want EXECUTED", got)
	}
}

// Unknown literals fail safe to PENDING, never to a terminal status and
// never with a panic.
func TestTranslate_UnknownLiteral(t *testing.T) {
	tr := NewTranslator("gateway", testTable(), nil)

	for _, raw := range []string{"SomethingNew", "", "filled"} {
		got := tr.Translate(raw, decimal.Zero, decimal.Zero)
		if got != types.StatusPending {
			t.Errorf("Translate(%q) = %v, want PENDING", raw, got)
		}
	}
}

// Same inputs always produce the same output.
func TestTranslate_Pure(t *testing.T) {
	tr := NewTranslator("gateway", testTable(), nil)

	first := tr.Translate("Submitted", decimal.NewFromInt(1), decimal.NewFromInt(9))
	for i := 0; i < 100; i++ {
		if got := tr.Translate("Submitted", decimal.NewFromInt(1), decimal.NewFromInt(9)); got != first {
			t.Fatalf("translation not deterministic: %v then %v", first, got)
		}
	}
}
