package db

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// Invoice kinds.
const (
	InvoiceCustomer = "customer"
	InvoiceSupplier = "supplier"
)

// Invoice is an open or settled ledger invoice.
type Invoice struct {
	ID           int64
	Ref          string
	CustomerRef  string
	ThirdPartyID int64
	Kind         string
	Amount       decimal.Decimal // always positive
	Currency     string
	Open         bool
}

// Payment is a ledger payment settling an invoice.
type Payment struct {
	ID         int64
	InvoiceID  int64
	Amount     decimal.Decimal
	Currency   string
	PaidAt     string // YYYY-MM-DD
	BankLineID sql.NullInt64
}

// BankLine is one posted line on a ledger bank account.
type BankLine struct {
	ID              int64
	LedgerAccountID int64
	BookingDate     string // YYYY-MM-DD
	Amount          decimal.Decimal
	Label           string
}

// SQLLedger is the embedded SQLite binding of the external ledger
// interface: open-invoice search, payment and bank-line creation.
type SQLLedger struct {
	conn *Connection
}

// NewSQLLedger creates a new SQLLedger.
func NewSQLLedger(conn *Connection) *SQLLedger {
	return &SQLLedger{conn: conn}
}

const invoiceColumns = `
	id, ref, COALESCE(customer_ref, ''), third_party_id, kind, amount, currency, open
`

func scanInvoice(row interface{ Scan(...interface{}) error }) (*Invoice, error) {
	var inv Invoice
	var amount string
	var open int
	if err := row.Scan(&inv.ID, &inv.Ref, &inv.CustomerRef, &inv.ThirdPartyID,
		&inv.Kind, &amount, &inv.Currency, &open); err != nil {
		return nil, err
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice amount %q: %w", amount, err)
	}
	inv.Amount = dec
	inv.Open = open != 0
	return &inv, nil
}

// CreateInvoice inserts an invoice. Used by fixtures and the admin surface.
func (l *SQLLedger) CreateInvoice(inv *Invoice) error {
	query := `
		INSERT INTO invoice (ref, customer_ref, third_party_id, kind, amount, currency, open)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := l.conn.Exec(query, inv.Ref, inv.CustomerRef, inv.ThirdPartyID,
		inv.Kind, inv.Amount.StringFixed(2), inv.Currency, boolToInt(inv.Open))
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	inv.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get invoice id: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice by ID.
func (l *SQLLedger) GetInvoice(id int64) (*Invoice, error) {
	inv, err := scanInvoice(l.conn.QueryRow(`SELECT `+invoiceColumns+` FROM invoice WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// FindOpenInvoices returns open invoices of a kind whose amount lies within
// tolerance of the given amount. The SQL filter is a coarse numeric cut;
// callers re-check with exact decimal arithmetic.
func (l *SQLLedger) FindOpenInvoices(kind string, amount, tolerance decimal.Decimal) ([]Invoice, error) {
	query := `
		SELECT ` + invoiceColumns + `
		FROM invoice
		WHERE kind = ? AND open = 1
		  AND ABS(CAST(amount AS REAL) - ?) <= ?
		ORDER BY id
	`
	amt, _ := amount.Float64()
	tol, _ := tolerance.Float64()
	rows, err := l.conn.Query(query, kind, amt, tol+1e-9)
	if err != nil {
		return nil, fmt.Errorf("failed to find open invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// CreatePaymentTx inserts a payment inside an existing transaction.
func (l *SQLLedger) CreatePaymentTx(tx *sql.Tx, p *Payment) error {
	query := `
		INSERT INTO payment (invoice_id, amount, currency, paid_at, bank_line_id)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := tx.Exec(query, p.InvoiceID, p.Amount.StringFixed(2), p.Currency, p.PaidAt, p.BankLineID)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get payment id: %w", err)
	}
	return nil
}

// CreateBankLineTx inserts a bank line inside an existing transaction.
func (l *SQLLedger) CreateBankLineTx(tx *sql.Tx, bl *BankLine) error {
	query := `
		INSERT INTO bank_line (ledger_account_id, booking_date, amount, label)
		VALUES (?, ?, ?, ?)
	`
	res, err := tx.Exec(query, bl.LedgerAccountID, bl.BookingDate, bl.Amount.StringFixed(2), bl.Label)
	if err != nil {
		return fmt.Errorf("failed to create bank line: %w", err)
	}
	bl.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get bank line id: %w", err)
	}
	return nil
}

// SettleInvoiceTx marks an invoice as no longer open, inside an existing
// transaction.
func (l *SQLLedger) SettleInvoiceTx(tx *sql.Tx, invoiceID int64) error {
	if _, err := tx.Exec(`UPDATE invoice SET open = 0 WHERE id = ?`, invoiceID); err != nil {
		return fmt.Errorf("failed to settle invoice: %w", err)
	}
	return nil
}

// ReopenInvoice marks an invoice open again after an unmatch.
func (l *SQLLedger) ReopenInvoice(invoiceID int64) error {
	return l.reopenInvoice(l.conn, invoiceID)
}

// ReopenInvoiceTx is ReopenInvoice inside an existing transaction.
func (l *SQLLedger) ReopenInvoiceTx(tx *sql.Tx, invoiceID int64) error {
	return l.reopenInvoice(tx, invoiceID)
}

func (l *SQLLedger) reopenInvoice(e execer, invoiceID int64) error {
	if _, err := e.Exec(`UPDATE invoice SET open = 1 WHERE id = ?`, invoiceID); err != nil {
		return fmt.Errorf("failed to reopen invoice: %w", err)
	}
	return nil
}

// DeletePaymentsForInvoiceTx removes payments linked to an invoice, inside
// an existing transaction. Used when an erroneous match is undone.
func (l *SQLLedger) DeletePaymentsForInvoiceTx(tx *sql.Tx, invoiceID int64) error {
	if _, err := tx.Exec(`DELETE FROM payment WHERE invoice_id = ?`, invoiceID); err != nil {
		return fmt.Errorf("failed to delete payments: %w", err)
	}
	return nil
}
