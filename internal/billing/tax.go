package billing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	vatRateMin = decimal.Zero
	vatRateMax = decimal.NewFromInt(100)
	hundred    = decimal.NewFromInt(100)
)

// LineTotals carries the unrounded amounts of a single line.
type LineTotals struct {
	HT  decimal.Decimal
	VAT decimal.Decimal
	TTC decimal.Decimal
}

// DocumentTotals carries the rounded aggregate amounts of a document.
//
// SubtotalHT and TotalVAT are each rounded independently, while TotalTTC is
// rounded from the unrounded HT+VAT sum. The two can therefore disagree by
// one cent; stored documents depend on that behaviour, so it is kept.
type DocumentTotals struct {
	SubtotalHT decimal.Decimal `json:"subtotal_ht"`
	TotalVAT   decimal.Decimal `json:"total_vat"`
	TotalTTC   decimal.Decimal `json:"total_ttc"`
}

// ValidateLineItem checks the numeric bounds of a line.
func ValidateLineItem(item LineItem) error {
	if item.Description == "" {
		return fmt.Errorf("%w: description required", ErrInvalidLineItem)
	}
	if !item.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidLineItem)
	}
	if item.UnitPriceHT.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidLineItem)
	}
	if item.VATRate.LessThan(vatRateMin) || item.VATRate.GreaterThan(vatRateMax) {
		return fmt.Errorf("%w: vat rate must be between 0 and 100", ErrInvalidLineItem)
	}
	return nil
}

// LineTotal computes the unrounded HT/VAT/TTC amounts of one line. Rounding
// happens only on the aggregate.
func LineTotal(item LineItem) (LineTotals, error) {
	if err := ValidateLineItem(item); err != nil {
		return LineTotals{}, err
	}
	ht := item.Quantity.Mul(item.UnitPriceHT)
	vat := ht.Mul(item.VATRate).Div(hundred)
	return LineTotals{HT: ht, VAT: vat, TTC: ht.Add(vat)}, nil
}

// Aggregate sums the unrounded line amounts and rounds each figure to two
// decimals, half up, at the end.
func Aggregate(items []LineItem) (DocumentTotals, error) {
	sumHT := decimal.Zero
	sumVAT := decimal.Zero
	for _, item := range items {
		lt, err := LineTotal(item)
		if err != nil {
			return DocumentTotals{}, err
		}
		sumHT = sumHT.Add(lt.HT)
		sumVAT = sumVAT.Add(lt.VAT)
	}
	return DocumentTotals{
		SubtotalHT: sumHT.Round(2),
		TotalVAT:   sumVAT.Round(2),
		TotalTTC:   sumHT.Add(sumVAT).Round(2),
	}, nil
}

// IsUniformRate reports whether every line carries the same VAT rate. An
// empty list counts as uniform.
func IsUniformRate(items []LineItem) bool {
	for i := 1; i < len(items); i++ {
		if !items[i].VATRate.Equal(items[0].VATRate) {
			return false
		}
	}
	return true
}

// EffectiveRate returns the single VAT rate when uniform, otherwise the
// VAT-weighted rate rounded to two decimals. Display only; never used to
// recompute amounts.
func EffectiveRate(items []LineItem) (decimal.Decimal, error) {
	if len(items) == 0 {
		return decimal.Zero, nil
	}
	if IsUniformRate(items) {
		return items[0].VATRate, nil
	}
	sumHT := decimal.Zero
	sumVAT := decimal.Zero
	for _, item := range items {
		lt, err := LineTotal(item)
		if err != nil {
			return decimal.Zero, err
		}
		sumHT = sumHT.Add(lt.HT)
		sumVAT = sumVAT.Add(lt.VAT)
	}
	if sumHT.IsZero() {
		return decimal.Zero, nil
	}
	return sumVAT.Div(sumHT).Mul(hundred).Round(2), nil
}
