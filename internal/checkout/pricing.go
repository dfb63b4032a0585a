package checkout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ariefcatur/medlink/internal/prescriptions"
	"github.com/shopspring/decimal"
)

// Tolerance is the largest accepted gap between computed and paid totals.
var Tolerance = decimal.New(1, -2)

type Quote struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Price computes subtotal, tax (rounded to the cent) and total.
func Price(meds []prescriptions.Medicine, taxRate decimal.Decimal) (Quote, error) {
	subtotal, err := prescriptions.Subtotal(meds)
	if err != nil {
		return Quote{}, err
	}
	tax := subtotal.Mul(taxRate).Round(2)
	return Quote{Subtotal: subtotal, Tax: tax, Total: subtotal.Add(tax)}, nil
}

// Matches reports whether paid is within Tolerance of the quoted total.
func (q Quote) Matches(paid decimal.Decimal) bool {
	return q.Total.Sub(paid).Abs().LessThanOrEqual(Tolerance)
}

const referencePrefix = "ORD"

// FormatOrderReference renders ORD-<year>-<seq>, seq zero padded to 3.
func FormatOrderReference(year, seq int) string {
	return fmt.Sprintf("%s-%d-%03d", referencePrefix, year, seq)
}

func ParseOrderReference(ref string) (year, seq int, err error) {
	parts := strings.Split(ref, "-")
	if len(parts) != 3 || parts[0] != referencePrefix {
		return 0, 0, fmt.Errorf("malformed order reference %q", ref)
	}
	if year, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, fmt.Errorf("malformed order reference year %q", ref)
	}
	if seq, err = strconv.Atoi(parts[2]); err != nil || seq < 1 {
		return 0, 0, fmt.Errorf("malformed order reference sequence %q", ref)
	}
	return year, seq, nil
}
