package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Transaction lifecycle statuses.
const (
	StatusNew      = "new"
	StatusMatched  = "matched"
	StatusImported = "imported"
	StatusIgnored  = "ignored"
)

// ImportedTransaction is one durable bank transaction record, unique per
// (connection, fingerprint).
type ImportedTransaction struct {
	ID               int64
	ConnectionID     int64
	Fingerprint      string
	BookingDate      string // YYYY-MM-DD
	ValueDate        sql.NullString
	Amount           string // signed decimal string
	Currency         string
	CounterpartyName string
	CounterpartyIBAN string
	CounterpartyBIC  string
	Description      string
	BookingText      string
	EndToEndID       string
	RawData          string
	Status           string
	BankLineID       sql.NullInt64
	InvoiceID        sql.NullInt64
	ThirdPartyID     sql.NullInt64
	ImportedAt       time.Time
	MatchedAt        sql.NullTime
}

// Transactions manages imported transaction records.
type Transactions struct {
	conn *Connection
}

// NewTransactions creates a new Transactions repository.
func NewTransactions(conn *Connection) *Transactions {
	return &Transactions{conn: conn}
}

// execer lets repository writes run either directly or inside a *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Insert persists a new record. The (connection_id, fingerprint) unique
// constraint makes re-imports idempotent: a duplicate is not an error, it
// reports inserted=false so the caller can count it as skipped.
func (r *Transactions) Insert(t *ImportedTransaction) (inserted bool, err error) {
	query := `
		INSERT OR IGNORE INTO imported_transaction
			(connection_id, fingerprint, booking_date, value_date, amount, currency,
			 counterparty_name, counterparty_iban, counterparty_bic,
			 description, booking_text, end_to_end_id, raw_data, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	status := t.Status
	if status == "" {
		status = StatusNew
	}
	res, err := r.conn.Exec(query,
		t.ConnectionID, t.Fingerprint, t.BookingDate, t.ValueDate, t.Amount, t.Currency,
		t.CounterpartyName, t.CounterpartyIBAN, t.CounterpartyBIC,
		t.Description, t.BookingText, t.EndToEndID, t.RawData, status)
	if err != nil {
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get transaction id: %w", err)
	}
	t.Status = status
	return true, nil
}

const txnColumns = `
	id, connection_id, fingerprint, booking_date, value_date, amount, currency,
	COALESCE(counterparty_name, ''), COALESCE(counterparty_iban, ''), COALESCE(counterparty_bic, ''),
	COALESCE(description, ''), COALESCE(booking_text, ''), COALESCE(end_to_end_id, ''),
	COALESCE(raw_data, ''), status, bank_line_id, invoice_id, third_party_id,
	imported_at, matched_at
`

func scanTxn(row interface{ Scan(...interface{}) error }) (*ImportedTransaction, error) {
	var t ImportedTransaction
	err := row.Scan(
		&t.ID, &t.ConnectionID, &t.Fingerprint, &t.BookingDate, &t.ValueDate,
		&t.Amount, &t.Currency, &t.CounterpartyName, &t.CounterpartyIBAN,
		&t.CounterpartyBIC, &t.Description, &t.BookingText, &t.EndToEndID,
		&t.RawData, &t.Status, &t.BankLineID, &t.InvoiceID, &t.ThirdPartyID,
		&t.ImportedAt, &t.MatchedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Get retrieves a transaction by ID.
func (r *Transactions) Get(id int64) (*ImportedTransaction, error) {
	t, err := scanTxn(r.conn.QueryRow(`SELECT `+txnColumns+` FROM imported_transaction WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// ListByConnection retrieves transactions for a connection, newest first,
// optionally filtered by status.
func (r *Transactions) ListByConnection(connectionID int64, status string, limit, offset int) ([]ImportedTransaction, error) {
	query := `SELECT ` + txnColumns + ` FROM imported_transaction WHERE connection_id = ?`
	args := []interface{}{connectionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY booking_date DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []ImportedTransaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CountByConnection counts transactions for a connection and optional status.
func (r *Transactions) CountByConnection(connectionID int64, status string) (int, error) {
	query := `SELECT COUNT(*) FROM imported_transaction WHERE connection_id = ?`
	args := []interface{}{connectionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	var n int
	if err := r.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

// SetStatus updates the lifecycle status. Entering matched or imported
// stamps matched_at.
func (r *Transactions) SetStatus(id int64, status string) error {
	return r.setStatus(r.conn, id, status)
}

// SetStatusTx is SetStatus inside an existing transaction.
func (r *Transactions) SetStatusTx(tx *sql.Tx, id int64, status string) error {
	return r.setStatus(tx, id, status)
}

func (r *Transactions) setStatus(e execer, id int64, status string) error {
	query := `UPDATE imported_transaction SET status = ?`
	if status == StatusMatched || status == StatusImported {
		query += `, matched_at = CURRENT_TIMESTAMP`
	}
	query += ` WHERE id = ?`
	res, err := e.Exec(query, status, id)
	if err != nil {
		return fmt.Errorf("failed to set transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkTx records invoice, third-party and bank-line links inside an
// existing transaction, as part of the atomic match operation.
func (r *Transactions) LinkTx(tx *sql.Tx, id int64, invoiceID, thirdPartyID, bankLineID sql.NullInt64) error {
	query := `
		UPDATE imported_transaction
		SET invoice_id = ?, third_party_id = ?, bank_line_id = ?
		WHERE id = ?
	`
	if _, err := tx.Exec(query, invoiceID, thirdPartyID, bankLineID, id); err != nil {
		return fmt.Errorf("failed to link transaction: %w", err)
	}
	return nil
}

// ClearLinks removes invoice and third-party links while preserving the
// current status and any posted bank line.
func (r *Transactions) ClearLinks(id int64) error {
	return r.clearLinks(r.conn, id)
}

// ClearLinksTx is ClearLinks inside an existing transaction.
func (r *Transactions) ClearLinksTx(tx *sql.Tx, id int64) error {
	return r.clearLinks(tx, id)
}

func (r *Transactions) clearLinks(e execer, id int64) error {
	query := `
		UPDATE imported_transaction
		SET invoice_id = NULL, third_party_id = NULL, matched_at = NULL
		WHERE id = ?
	`
	if _, err := e.Exec(query, id); err != nil {
		return fmt.Errorf("failed to clear transaction links: %w", err)
	}
	return nil
}

// DeleteAllForConnection removes every imported transaction of a
// connection. Administrative action used to force a clean re-sync.
func (r *Transactions) DeleteAllForConnection(connectionID int64) (int64, error) {
	res, err := r.conn.Exec(`DELETE FROM imported_transaction WHERE connection_id = ?`, connectionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// Stats summarizes a connection's imported transactions per status.
type Stats struct {
	Total      int
	New        int
	Matched    int
	Imported   int
	Ignored    int
	LastImport sql.NullString
}

// GetStats retrieves import statistics for a connection.
func (r *Transactions) GetStats(connectionID int64) (*Stats, error) {
	var s Stats
	query := `
		SELECT COUNT(*),
		       SUM(CASE WHEN status = 'new' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'matched' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'imported' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'ignored' THEN 1 ELSE 0 END),
		       MAX(imported_at)
		FROM imported_transaction WHERE connection_id = ?
	`
	var nNew, nMatched, nImported, nIgnored sql.NullInt64
	err := r.conn.QueryRow(query, connectionID).Scan(
		&s.Total, &nNew, &nMatched, &nImported, &nIgnored, &s.LastImport)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction stats: %w", err)
	}
	s.New = int(nNew.Int64)
	s.Matched = int(nMatched.Int64)
	s.Imported = int(nImported.Int64)
	s.Ignored = int(nIgnored.Int64)
	return &s, nil
}
