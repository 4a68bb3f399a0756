/*
service.go - Sale creation and payment entry

PURPOSE:
  Validates and orchestrates the two flows that mutate the payment side
  of the ledger. Debt creation happens here, at sale time, when a balance
  remains and debt terms were provided. Payment entry triggers the
  engine's cleanup opportunistically: the moment a payment settles a
  debt, any markup entries dated after the payoff become invalid and are
  removed.
*/
package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vela/credit-engine/credit"
)

var (
	ErrNoItems         = errors.New("sale requires at least one item")
	ErrInvalidAmount   = errors.New("payment amount must be positive")
	ErrExceedsBalance  = errors.New("payment amount exceeds remaining balance")
	ErrInvalidQuantity = errors.New("item quantity must be positive")
)

// Service wires the sales flows to their store and to the Reconciler.
type Service struct {
	store Store
	recon *credit.Reconciler
	clock credit.Clock
	log   *zap.SugaredLogger
}

func NewService(store Store, recon *credit.Reconciler, clock credit.Clock, log *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = credit.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Service{store: store, recon: recon, clock: clock, log: log}
}

// CreateSale validates the input, computes the total, and creates the
// sale with its initial payment and — when a balance remains and terms
// were provided — the debt record. Returns the new sale id.
func (svc *Service) CreateSale(ctx context.Context, in NewSale) (int64, error) {
	if len(in.Items) == 0 {
		return 0, ErrNoItems
	}

	total := decimal.Zero
	for _, item := range in.Items {
		if item.Quantity <= 0 {
			return 0, fmt.Errorf("product %d: %w", item.ProductID, ErrInvalidQuantity)
		}
		total = total.Add(item.Total())
	}

	saleDate := credit.Day(in.SaleDate)
	if in.SaleDate.IsZero() {
		saleDate = credit.Day(svc.clock.Now())
	}

	initial := in.InitialPayment
	if initial.IsNegative() {
		return 0, ErrInvalidAmount
	}
	if initial.GreaterThan(total) {
		// Cap at the total rather than rejecting: overpaying at the
		// counter just means exact change was not entered.
		initial = total
	}

	status := StatusUnpaid
	switch {
	case initial.Equal(total):
		status = StatusPaid
	case initial.IsPositive():
		status = StatusPartial
	}

	sale := &Sale{
		CustomerID:  in.CustomerID,
		SellerID:    in.SellerID,
		TotalAmount: total,
		PaidAmount:  initial,
		Status:      status,
		SaleDate:    saleDate,
		CreatedAt:   svc.clock.Now(),
	}

	var firstPayment *credit.Payment
	if initial.IsPositive() {
		method := in.PaymentMethod
		if method == "" {
			method = "cash"
		}
		firstPayment = &credit.Payment{Amount: initial, Date: saleDate, Method: method}
	}

	var debt *credit.Debt
	remaining := total.Sub(initial)
	if remaining.GreaterThan(credit.Epsilon) && in.Terms != nil {
		debt = &credit.Debt{
			CustomerID:        in.CustomerID,
			OriginalAmount:    remaining,
			CurrentAmount:     remaining,
			MarkupType:        in.Terms.MarkupType,
			MarkupValue:       in.Terms.MarkupValue,
			GracePeriodMonths: in.Terms.GraceMonths,
			SaleDate:          saleDate,
			GraceEndDate:      credit.GraceEnd(saleDate, in.Terms.GraceMonths),
			Status:            credit.StatusActive,
			CreatedAt:         svc.clock.Now(),
		}
	}

	saleID, err := svc.store.CreateSale(ctx, sale, in.Items, firstPayment, debt)
	if err != nil {
		return 0, err
	}

	if debt != nil {
		svc.log.Infow("debt created",
			"sale_id", saleID,
			"amount", debt.OriginalAmount.StringFixed(2),
			"markup_type", string(debt.MarkupType),
			"grace_months", debt.GracePeriodMonths)
	}
	return saleID, nil
}

// AddPayment records a payment against a sale, applying it to the
// sale's active debt. The payment date may be in the past; when the
// payment settles the debt, the Reconciler immediately strips any markup
// entries that postdate the (possibly retroactive) payoff.
func (svc *Service) AddPayment(ctx context.Context, saleID int64, amount decimal.Decimal, method string, date time.Time) (*PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	sale, err := svc.store.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if amount.Sub(sale.Remaining()).GreaterThan(credit.Epsilon) {
		return nil, ErrExceedsBalance
	}

	if method == "" {
		method = "cash"
	}
	day := credit.Day(date)
	if date.IsZero() {
		day = credit.Day(svc.clock.Now())
	}

	result, err := svc.store.RecordPayment(ctx, saleID, amount, method, day)
	if err != nil {
		return nil, err
	}

	if result.DebtID != nil && svc.recon != nil {
		// A settling payment — or a retroactively dated one — can leave
		// markup entries past the payoff. Reconcile eagerly; failures are
		// non-fatal, the next cleanup pass catches whatever remains.
		if _, err := svc.recon.Cleanup(ctx, *result.DebtID); err != nil {
			svc.log.Warnw("post-payment reconciliation failed",
				"debt_id", *result.DebtID, "error", err)
		}
	}
	return result, nil
}
