package billing

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var depositPrinter = message.NewPrinter(language.French)

// DepositPaid returns the amount already collected on the quote: the fixed
// deposit amount when its status is PAID, zero otherwise. The amount was
// frozen when the quote entered DEPOSIT_PAID and is never recomputed.
func DepositPaid(q *Quote) decimal.Decimal {
	if q.DepositStatus != nil && *q.DepositStatus == DepositStatusPaid {
		return q.DepositAmount
	}
	return decimal.Zero
}

// DescribeDeposit renders the carry-over note placed on the invoice derived
// from the quote, or nil when no deposit was paid. Pure formatting.
func DescribeDeposit(q *Quote) *string {
	paid := DepositPaid(q)
	if paid.IsZero() {
		return nil
	}
	amount, _ := paid.Round(2).Float64()
	note := depositPrinter.Sprintf("Acompte de %.2f € reçu", amount)
	if q.DepositPaidAt != nil {
		note += depositPrinter.Sprintf(" le %s", q.DepositPaidAt.Format("02/01/2006"))
	}
	if q.DepositMethod != nil && *q.DepositMethod != "" {
		note += " (" + *q.DepositMethod + ")"
	}
	return &note
}
