/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Currency amounts are serialized as strings with two decimals ("150.00").
  Sending floats would reintroduce the precision problems the decimal
  type exists to avoid.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/vela/credit-engine/credit"
	"github.com/vela/credit-engine/sales"
)

// =============================================================================
// DEBT TYPES
// =============================================================================

// DebtDTO represents a debt in API responses.
type DebtDTO struct {
	ID             int64  `json:"id"`
	SaleID         int64  `json:"sale_id"`
	CustomerID     int64  `json:"customer_id"`
	OriginalAmount string `json:"original_amount"`
	CurrentAmount  string `json:"current_amount"`
	MarkupType     string `json:"markup_type"`
	MarkupValue    string `json:"markup_value"`
	GraceMonths    int    `json:"grace_period_months"`
	SaleDate       string `json:"sale_date"`
	GraceEndDate   string `json:"grace_end_date"`
	Status         string `json:"status"`
	LastMarkupDate string `json:"last_markup_date,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

func toDebtDTO(d credit.Debt) DebtDTO {
	dto := DebtDTO{
		ID:             d.ID,
		SaleID:         d.SaleID,
		CustomerID:     d.CustomerID,
		OriginalAmount: d.OriginalAmount.StringFixed(2),
		CurrentAmount:  d.CurrentAmount.StringFixed(2),
		MarkupType:     string(d.MarkupType),
		MarkupValue:    d.MarkupValue.String(),
		GraceMonths:    d.GracePeriodMonths,
		SaleDate:       d.SaleDate.Format("2006-01-02"),
		GraceEndDate:   d.GraceEndDate.Format("2006-01-02"),
		Status:         string(d.Status),
		CreatedAt:      d.CreatedAt.Format(time.RFC3339),
	}
	if d.LastMarkupDate != nil {
		dto.LastMarkupDate = d.LastMarkupDate.Format("2006-01-02")
	}
	return dto
}

// HistoryEventDTO is one row in a debt's combined timeline: payments and
// markup entries interleaved, ascending by date.
type HistoryEventDTO struct {
	// Type is "payment" or "markup".
	Type   string `json:"type"`
	Date   string `json:"date"`
	Amount string `json:"amount"`
	// Balance is the running balance after this event, when derivable.
	RemainingDebt string `json:"remaining_debt,omitempty"`
	Method        string `json:"method,omitempty"`
}

// EstimateDTO is the read-only balance estimate for screens.
type EstimateDTO struct {
	BaseAmount      string `json:"base_amount"`
	MonthsOverdue   int    `json:"months_overdue"`
	MarkupAmount    string `json:"markup_amount"`
	TotalWithMarkup string `json:"total_with_markup"`
}

// DebtDetailDTO is the full debt view: the record, its timeline, the
// grace-change audit trail, and the display estimate.
type DebtDetailDTO struct {
	Debt         DebtDTO           `json:"debt"`
	History      []HistoryEventDTO `json:"history"`
	GraceChanges []GraceChangeDTO  `json:"grace_changes,omitempty"`
	Estimate     *EstimateDTO      `json:"estimate,omitempty"`
}

// GraceChangeDTO is one audit record of a grace-period edit.
type GraceChangeDTO struct {
	ID             string `json:"id"`
	PreviousMonths int    `json:"previous_months"`
	NewMonths      int    `json:"new_months"`
	ChangedBy      string `json:"changed_by"`
	ChangedAt      string `json:"changed_at"`
}

// StatsDTO is the aggregate debt summary.
type StatsDTO struct {
	TotalCount      int    `json:"total_count"`
	ActiveCount     int    `json:"active_count"`
	PaidCount       int    `json:"paid_count"`
	TotalActiveDebt string `json:"total_active_debt"`
	TotalOriginal   string `json:"total_original"`
	TotalRecovered  string `json:"total_recovered"`
}

// =============================================================================
// ENGINE RESULT TYPES
// =============================================================================

// AccrualResultDTO describes one accrual run that did work.
type AccrualResultDTO struct {
	DebtID         int64    `json:"debt_id"`
	PreviousAmount string   `json:"previous_amount"`
	MarkupAdded    string   `json:"markup_added"`
	NewAmount      string   `json:"new_amount"`
	Checkpoints    int      `json:"checkpoints"`
	EntryDates     []string `json:"entry_dates,omitempty"`
	Reconciled     int      `json:"reconciled,omitempty"`
}

func toAccrualResultDTO(res *credit.AccrualResult) AccrualResultDTO {
	dto := AccrualResultDTO{
		DebtID:         res.DebtID,
		PreviousAmount: res.PreviousAmount.StringFixed(2),
		MarkupAdded:    res.MarkupAdded.StringFixed(2),
		NewAmount:      res.NewAmount.StringFixed(2),
		Checkpoints:    res.Checkpoints,
		Reconciled:     res.Reconciled,
	}
	for _, e := range res.Entries {
		dto.EntryDates = append(dto.EntryDates, e.CalculationDate.Format("2006-01-02"))
	}
	return dto
}

// CleanupResultDTO describes one reconciliation pass.
type CleanupResultDTO struct {
	DebtID        int64  `json:"debt_id"`
	Deleted       int    `json:"deleted"`
	AmountRemoved string `json:"amount_removed"`
	PayoffDate    string `json:"payoff_date,omitempty"`
	NewAmount     string `json:"new_amount"`
}

// SweepResultDTO summarizes one batch sweep. Processed counts only the
// debts where work happened; untouched debts do not appear.
type SweepResultDTO struct {
	Processed   int                `json:"processed"`
	TotalMarkup string             `json:"total_markup"`
	Results     []AccrualResultDTO `json:"results,omitempty"`
}

// =============================================================================
// SALES TYPES
// =============================================================================

// SaleItemRequest is one line of a sale being created.
type SaleItemRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// DebtTermsRequest carries the markup configuration for a credit sale.
type DebtTermsRequest struct {
	MarkupType  string `json:"markup_type"`
	MarkupValue string `json:"markup_value"`
	GraceMonths int    `json:"grace_period_months"`
}

// CreateSaleRequest is the request to create a sale.
type CreateSaleRequest struct {
	CustomerID     int64             `json:"customer_id"`
	SellerID       int64             `json:"seller_id"`
	Items          []SaleItemRequest `json:"items"`
	InitialPayment string            `json:"initial_payment,omitempty"`
	PaymentMethod  string            `json:"payment_method,omitempty"`
	// SaleDate is "2006-01-02"; defaults to today.
	SaleDate string            `json:"sale_date,omitempty"`
	Terms    *DebtTermsRequest `json:"debt_terms,omitempty"`
}

// AddPaymentRequest records a payment against a sale.
type AddPaymentRequest struct {
	Amount string `json:"amount"`
	Method string `json:"method,omitempty"`
	// Date is "2006-01-02" and may be retroactive; defaults to today.
	Date string `json:"date,omitempty"`
}

// PaymentResultDTO describes what recording one payment did.
type PaymentResultDTO struct {
	PaymentID     int64  `json:"payment_id"`
	SaleStatus    string `json:"sale_status"`
	DebtID        *int64 `json:"debt_id,omitempty"`
	AppliedToDebt string `json:"applied_to_debt"`
	DebtSettled   bool   `json:"debt_settled"`
}

// SaleDTO represents a sale in API responses.
type SaleDTO struct {
	ID          int64  `json:"id"`
	CustomerID  int64  `json:"customer_id"`
	SellerID    int64  `json:"seller_id"`
	TotalAmount string `json:"total_amount"`
	PaidAmount  string `json:"paid_amount"`
	Remaining   string `json:"remaining"`
	Status      string `json:"status"`
	SaleDate    string `json:"sale_date"`
}

func toSaleDTO(s *sales.Sale) SaleDTO {
	return SaleDTO{
		ID:          s.ID,
		CustomerID:  s.CustomerID,
		SellerID:    s.SellerID,
		TotalAmount: s.TotalAmount.StringFixed(2),
		PaidAmount:  s.PaidAmount.StringFixed(2),
		Remaining:   s.Remaining().StringFixed(2),
		Status:      string(s.Status),
		SaleDate:    s.SaleDate.Format("2006-01-02"),
	}
}

// =============================================================================
// CUSTOMER TYPES
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreateCustomerRequest is the request to create a customer.
type CreateCustomerRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// =============================================================================
// MISC
// =============================================================================

// GracePeriodRequest changes a debt's grace period.
type GracePeriodRequest struct {
	Months    int    `json:"grace_period_months"`
	ChangedBy string `json:"changed_by,omitempty"`
}

// MessageResponse carries an informational, non-error outcome ("nothing
// to accrue" is not a failure).
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
