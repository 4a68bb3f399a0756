package sales

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vela/credit-engine/credit"
)

// Store is the persistence surface the sales flow needs on top of the
// credit engine's store. Both the SQLite and in-memory stores implement
// the pair.
type Store interface {
	credit.TxStore

	// GetSale returns a sale by id, or credit.ErrNotFound.
	GetSale(ctx context.Context, saleID int64) (*Sale, error)

	// ListSalePayments returns a sale's payments ascending by date.
	ListSalePayments(ctx context.Context, saleID int64) ([]credit.Payment, error)

	// CreateSale atomically inserts the sale, its items, the optional
	// initial payment, and the optional debt record.
	CreateSale(ctx context.Context, sale *Sale, items []SaleItem, initial *credit.Payment, debt *credit.Debt) (int64, error)

	// RecordPayment atomically inserts a payment, updates the sale's paid
	// amount and status, and applies the payment to the sale's active
	// debt: the applied portion goes into the debt-payment join record,
	// the balance is reduced (clamped at zero), and the debt flips to
	// paid when settled.
	RecordPayment(ctx context.Context, saleID int64, amount decimal.Decimal, method string, date time.Time) (*PaymentResult, error)
}

// CustomerStore manages customer records.
type CustomerStore interface {
	SaveCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id int64) (*Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
}
