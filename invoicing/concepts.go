// Package invoicing holds the pure monetary calculations shared by order
// materialization and CFDI concept formatting. Amounts are integers in the
// smallest currency unit; rounding is half away from zero, which is what the
// tax authority's validators expect.
package invoicing

import (
	"fmt"
	"math"
)

// IVARate is the Mexican value-added tax rate applied to catalog prices,
// which are stored tax-inclusive.
const IVARate = 0.16

// UnitPriceDivisor returns the divisor that converts a tax-inclusive unit
// price into its pre-tax value for the given rate.
func UnitPriceDivisor(rate float64) float64 {
	return 1 + rate
}

// PreTaxUnit converts a tax-inclusive unit price to its pre-tax value.
func PreTaxUnit(grossUnit int64, rate float64) int64 {
	return RoundCents(float64(grossUnit) / UnitPriceDivisor(rate))
}

// ConceptAmounts computes one invoice concept line from a tax-inclusive unit
// price and quantity: the pre-tax subtotal, the tax recomputed on that
// subtotal, and their sum. Tax is computed on the line subtotal, not per
// unit, so per-line totals stay consistent under the rounding law.
func ConceptAmounts(grossUnit int64, quantity int, rate float64) (subtotal, tax, total int64) {
	preTax := PreTaxUnit(grossUnit, rate)
	subtotal = preTax * int64(quantity)
	tax = RoundCents(float64(subtotal) * rate)
	total = subtotal + tax
	return subtotal, tax, total
}

// RoundCents rounds half away from zero to the nearest integer unit.
func RoundCents(v float64) int64 {
	return int64(math.Round(v))
}

// FormatAmount renders an amount in cents as the fixed two-decimal string the
// gateway requires, e.g. 10050 -> "100.50".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
