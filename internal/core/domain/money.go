package domain

import "github.com/shopspring/decimal"

// TaxRate is the flat sales tax applied to invoices.
var TaxRate = decimal.RequireFromString("0.05")

// CalculateTax returns the tax rounded half-up to cents and amount+tax.
func CalculateTax(amount decimal.Decimal) (tax, total decimal.Decimal) {
	tax = amount.Mul(TaxRate).Round(2)
	return tax, amount.Add(tax)
}
