/*
handlers.go - HTTP API handlers for the credit engine

PURPOSE:
  Exposes debts, the markup ledger, and the sales flow via REST. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic.

ENDPOINTS:
  Debts:
    GET    /api/debts                 List debts (status, limit filters)
    GET    /api/debts/stats           Aggregate summary
    GET    /api/debts/{id}            Debt detail with timeline + estimate
    POST   /api/debts/{id}/markup     Run accrual for one debt now
    POST   /api/debts/{id}/cleanup    Reconcile one debt's ledger
    PUT    /api/debts/{id}/grace      Change the grace period (audited)

  Sales:
    POST   /api/sales                 Create sale (debt if balance remains)
    GET    /api/sales/{id}            Sale with its payments
    POST   /api/sales/{id}/payments   Record a payment

  Customers:
    GET    /api/customers             List customers
    POST   /api/customers             Create customer

  Admin:
    POST   /api/admin/sweep           Run the batch accrual sweep now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Debt or sale not found
  - 409: Duplicate markup entry for a calendar day
  - 500: Internal errors
  A manual accrual trigger that finds nothing to do is NOT an error: it
  returns 200 with an informational message.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vela/credit-engine/credit"
	"github.com/vela/credit-engine/sales"
)

// Store is everything the handlers need from persistence.
type Store interface {
	sales.Store
	sales.CustomerStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  Store
	Engine *credit.Engine
	Recon  *credit.Reconciler
	Sales  *sales.Service

	clock credit.Clock
	log   *zap.SugaredLogger
}

// NewHandler wires the handlers to the store and engine.
func NewHandler(store Store, engine *credit.Engine, recon *credit.Reconciler, salesSvc *sales.Service, clock credit.Clock, log *zap.SugaredLogger) *Handler {
	if clock == nil {
		clock = credit.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		Store:  store,
		Engine: engine,
		Recon:  recon,
		Sales:  salesSvc,
		clock:  clock,
		log:    log,
	}
}

// =============================================================================
// DEBT HANDLERS
// =============================================================================

// ListDebts returns debts filtered by status (default active).
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	status := credit.DebtStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = credit.StatusActive
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	debts, err := h.Store.ListDebts(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list debts", err)
		return
	}

	dtos := make([]DebtDTO, len(debts))
	for i, d := range debts {
		dtos[i] = toDebtDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDebtStats returns the aggregate debt summary.
func (h *Handler) GetDebtStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.DebtStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		TotalCount:      stats.TotalCount,
		ActiveCount:     stats.ActiveCount,
		PaidCount:       stats.PaidCount,
		TotalActiveDebt: stats.TotalActiveDebt.StringFixed(2),
		TotalOriginal:   stats.TotalOriginal.StringFixed(2),
		TotalRecovered:  stats.TotalRecovered.StringFixed(2),
	})
}

// GetDebt returns one debt with its combined timeline, grace-change
// audit trail, and the display estimate.
func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	debtID, ok := pathID(w, r)
	if !ok {
		return
	}

	debt, err := h.Store.GetDebt(ctx, debtID)
	if err != nil {
		writeStoreError(w, "Failed to load debt", err)
		return
	}

	payments, err := h.Store.ListDebtPayments(ctx, debtID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payments", err)
		return
	}
	var entries []credit.MarkupEntry
	if debt.HasMarkup() {
		entries, err = h.Store.ListMarkupEntries(ctx, debtID, debt.MarkupType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load markup ledger", err)
			return
		}
	}
	changes, err := h.Store.ListGraceChanges(ctx, debtID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load grace changes", err)
		return
	}

	detail := DebtDetailDTO{
		Debt:    toDebtDTO(*debt),
		History: buildHistory(payments, entries),
	}
	for _, c := range changes {
		detail.GraceChanges = append(detail.GraceChanges, GraceChangeDTO{
			ID:             c.ID,
			PreviousMonths: c.PreviousMonths,
			NewMonths:      c.NewMonths,
			ChangedBy:      c.ChangedBy,
			ChangedAt:      c.ChangedAt.Format(time.RFC3339),
		})
	}

	est := credit.EstimateBalance(*debt, h.clock.Now())
	if est.MarkupAmount.IsPositive() {
		detail.Estimate = &EstimateDTO{
			BaseAmount:      est.BaseAmount.StringFixed(2),
			MonthsOverdue:   est.MonthsOverdue,
			MarkupAmount:    est.MarkupAmount.StringFixed(2),
			TotalWithMarkup: est.TotalWithMarkup.StringFixed(2),
		}
	}

	writeJSON(w, http.StatusOK, detail)
}

// buildHistory interleaves payments and markup entries ascending by
// date, payments first on ties, matching the replay order the engine
// uses.
func buildHistory(payments []credit.Payment, entries []credit.MarkupEntry) []HistoryEventDTO {
	events := make([]HistoryEventDTO, 0, len(payments)+len(entries))
	for _, p := range payments {
		events = append(events, HistoryEventDTO{
			Type:   "payment",
			Date:   p.Date.Format("2006-01-02"),
			Amount: p.Amount.StringFixed(2),
			Method: p.Method,
		})
	}
	for _, e := range entries {
		events = append(events, HistoryEventDTO{
			Type:          "markup",
			Date:          e.CalculationDate.Format("2006-01-02"),
			Amount:        e.MarkupValue.StringFixed(2),
			RemainingDebt: e.RemainingDebt.StringFixed(2),
		})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date != events[j].Date {
			return events[i].Date < events[j].Date
		}
		return events[i].Type == "payment" && events[j].Type == "markup"
	})
	return events
}

// ApplyMarkup runs the accrual walk for one debt immediately.
// POST /api/debts/{id}/markup
func (h *Handler) ApplyMarkup(w http.ResponseWriter, r *http.Request) {
	debtID, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.Engine.Apply(r.Context(), debtID)
	if err != nil {
		writeStoreError(w, "Accrual failed", err)
		return
	}
	if result == nil {
		// In grace, settled, no markup terms, or already up to date.
		writeJSON(w, http.StatusOK, MessageResponse{Message: "no markup due"})
		return
	}
	markupEntriesPosted.Add(float64(len(result.Entries)))
	if result.Reconciled > 0 {
		markupEntriesReconciled.Add(float64(result.Reconciled))
	}
	writeJSON(w, http.StatusOK, toAccrualResultDTO(result))
}

// CleanupDebt reconciles one debt's markup ledger against its payment
// timeline. POST /api/debts/{id}/cleanup
func (h *Handler) CleanupDebt(w http.ResponseWriter, r *http.Request) {
	debtID, ok := pathID(w, r)
	if !ok {
		return
	}

	result, err := h.Recon.Cleanup(r.Context(), debtID)
	if err != nil {
		writeStoreError(w, "Cleanup failed", err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusOK, MessageResponse{Message: "nothing to reconcile"})
		return
	}
	markupEntriesReconciled.Add(float64(result.Deleted))

	dto := CleanupResultDTO{
		DebtID:        result.DebtID,
		Deleted:       result.Deleted,
		AmountRemoved: result.AmountRemoved.StringFixed(2),
		NewAmount:     result.NewAmount.StringFixed(2),
	}
	if !result.PayoffDate.IsZero() {
		dto.PayoffDate = result.PayoffDate.Format("2006-01-02")
	}
	writeJSON(w, http.StatusOK, dto)
}

// ChangeGracePeriod updates a debt's grace period, preserving the prior
// value in the audit trail. PUT /api/debts/{id}/grace
func (h *Handler) ChangeGracePeriod(w http.ResponseWriter, r *http.Request) {
	debtID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req GracePeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	store, ok := h.Store.(credit.TxStore)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Store does not support transactions", nil)
		return
	}
	change, err := credit.ChangeGracePeriod(r.Context(), store, h.clock, debtID, req.Months, req.ChangedBy)
	if err != nil {
		if errors.Is(err, credit.ErrInvalidGracePeriod) {
			writeError(w, http.StatusBadRequest, "Invalid grace period", err)
			return
		}
		writeStoreError(w, "Failed to change grace period", err)
		return
	}

	writeJSON(w, http.StatusOK, GraceChangeDTO{
		ID:             change.ID,
		PreviousMonths: change.PreviousMonths,
		NewMonths:      change.NewMonths,
		ChangedBy:      change.ChangedBy,
		ChangedAt:      change.ChangedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// SWEEP
// =============================================================================

// TriggerSweep runs the batch accrual sweep immediately.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	results, err := RunSweep(r.Context(), h.Engine)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}

	dto := SweepResultDTO{Processed: len(results)}
	total := decimal.Zero
	for i := range results {
		total = total.Add(results[i].MarkupAdded)
		dto.Results = append(dto.Results, toAccrualResultDTO(&results[i]))
	}
	dto.TotalMarkup = total.StringFixed(2)
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SALES HANDLERS
// =============================================================================

// CreateSale creates a sale, with a debt when a balance remains and
// terms were provided. POST /api/sales
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	in := sales.NewSale{
		CustomerID:    req.CustomerID,
		SellerID:      req.SellerID,
		PaymentMethod: req.PaymentMethod,
	}
	for _, item := range req.Items {
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid unit price", err)
			return
		}
		in.Items = append(in.Items, sales.SaleItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	if req.InitialPayment != "" {
		initial, err := decimal.NewFromString(req.InitialPayment)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid initial payment", err)
			return
		}
		in.InitialPayment = initial
	}
	if req.SaleDate != "" {
		date, err := time.Parse("2006-01-02", req.SaleDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid sale date", err)
			return
		}
		in.SaleDate = date
	}
	if req.Terms != nil {
		value, err := decimal.NewFromString(req.Terms.MarkupValue)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid markup value", err)
			return
		}
		in.Terms = &sales.DebtTerms{
			MarkupType:  credit.MarkupType(req.Terms.MarkupType),
			MarkupValue: value,
			GraceMonths: req.Terms.GraceMonths,
		}
	}

	saleID, err := h.Sales.CreateSale(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to create sale", err)
		return
	}

	sale, err := h.Store.GetSale(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load created sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// GetSale returns one sale with its payments. GET /api/sales/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	saleID, ok := pathID(w, r)
	if !ok {
		return
	}

	sale, err := h.Store.GetSale(r.Context(), saleID)
	if err != nil {
		writeStoreError(w, "Failed to load sale", err)
		return
	}
	payments, err := h.Store.ListSalePayments(r.Context(), saleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payments", err)
		return
	}

	type saleDetail struct {
		Sale     SaleDTO           `json:"sale"`
		Payments []HistoryEventDTO `json:"payments"`
	}
	detail := saleDetail{Sale: toSaleDTO(sale)}
	for _, p := range payments {
		detail.Payments = append(detail.Payments, HistoryEventDTO{
			Type:   "payment",
			Date:   p.Date.Format("2006-01-02"),
			Amount: p.Amount.StringFixed(2),
			Method: p.Method,
		})
	}
	writeJSON(w, http.StatusOK, detail)
}

// AddPayment records a payment against a sale.
// POST /api/sales/{id}/payments
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	saleID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req AddPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	var date time.Time
	if req.Date != "" {
		date, err = time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date", err)
			return
		}
	}

	result, err := h.Sales.AddPayment(r.Context(), saleID, amount, req.Method, date)
	if err != nil {
		switch {
		case credit.IsNotFound(err):
			writeError(w, http.StatusNotFound, "Sale not found", err)
		case errors.Is(err, sales.ErrInvalidAmount), errors.Is(err, sales.ErrExceedsBalance):
			writeError(w, http.StatusBadRequest, "Invalid payment", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to record payment", err)
		}
		return
	}

	dto := PaymentResultDTO{
		PaymentID:     result.PaymentID,
		SaleStatus:    string(result.SaleStatus),
		DebtID:        result.DebtID,
		AppliedToDebt: result.AppliedToDebt.StringFixed(2),
		DebtSettled:   result.DebtSettled,
	}
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers. GET /api/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}
	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = CustomerDTO{
			ID:        c.ID,
			Name:      c.Name,
			Phone:     c.Phone,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCustomer creates a customer. POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", nil)
		return
	}

	c := &sales.Customer{Name: req.Name, Phone: req.Phone, CreatedAt: h.clock.Now()}
	if err := h.Store.SaveCustomer(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, CustomerDTO{
		ID:        c.ID,
		Name:      c.Name,
		Phone:     c.Phone,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case credit.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case credit.IsDuplicateEntry(err):
		writeError(w, http.StatusConflict, "Duplicate markup entry", err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
