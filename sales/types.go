/*
Package sales is the collaborator surface that feeds the credit engine:
it creates sales, records payments, and — when a balance is carried on
credit — creates the Debt record and applies each payment against it.

The engine itself never writes payments; it only reads the timeline this
package produces. Payment dates here are caller-supplied and may be
retroactive, which is the whole reason the engine's Reconciler exists.
*/
package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vela/credit-engine/credit"
)

// SaleStatus mirrors how much of the sale total has been paid.
type SaleStatus string

const (
	StatusUnpaid  SaleStatus = "unpaid"
	StatusPartial SaleStatus = "partial"
	StatusPaid    SaleStatus = "paid"
)

// Customer is who carries the debt.
type Customer struct {
	ID        int64
	Name      string
	Phone     string
	CreatedAt time.Time
}

// Sale is one transaction at the counter.
type Sale struct {
	ID         int64
	CustomerID int64
	SellerID   int64

	TotalAmount decimal.Decimal
	PaidAmount  decimal.Decimal
	Status      SaleStatus

	SaleDate  time.Time
	CreatedAt time.Time
}

// Remaining is the unpaid portion of the sale total.
func (s *Sale) Remaining() decimal.Decimal {
	return s.TotalAmount.Sub(s.PaidAmount)
}

// SaleItem is one line of a sale.
type SaleItem struct {
	ID        int64
	SaleID    int64
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
}

// Total is quantity × unit price.
func (i SaleItem) Total() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// DebtTerms carries the markup configuration supplied at sale time. When
// present and a balance remains unpaid, a Debt record is created.
type DebtTerms struct {
	MarkupType  credit.MarkupType
	MarkupValue decimal.Decimal
	GraceMonths int
}

// NewSale is the input for creating a sale.
type NewSale struct {
	CustomerID     int64
	SellerID       int64
	Items          []SaleItem
	InitialPayment decimal.Decimal
	PaymentMethod  string
	// SaleDate defaults to today when zero.
	SaleDate time.Time
	// Terms are optional; nil means any remaining balance is tracked as a
	// debt without markup only if Terms is non-nil — no Terms, no debt.
	Terms *DebtTerms
}

// PaymentResult describes what recording one payment did.
type PaymentResult struct {
	PaymentID  int64
	SaleStatus SaleStatus
	// DebtID is set when part of the payment was applied to a debt.
	DebtID *int64
	// AppliedToDebt is the portion that reduced the debt balance.
	AppliedToDebt decimal.Decimal
	// DebtSettled is true when this payment brought the debt to zero.
	DebtSettled bool
}
