package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fintshub/fints-sync/pkg/fints"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("record not found")

// BankConnection is one FinTS-enabled link between a ledger bank account
// and a bank-side account.
type BankConnection struct {
	ID              int64
	LedgerAccountID int64
	BankCode        string
	URL             string
	Username        string
	CustomerID      string
	ProductID       string
	IBAN            string
	BIC             string
	AccountNumber   string
	LastSync        sql.NullTime
	SyncFrom        sql.NullString // YYYY-MM-DD watermark
	Active          bool
	CreatedAt       time.Time
}

// FintsConfig returns the gateway connection configuration for this record.
func (b *BankConnection) FintsConfig() fints.ConnectionConfig {
	return fints.ConnectionConfig{
		BankCode:   b.BankCode,
		URL:        b.URL,
		Username:   b.Username,
		CustomerID: b.CustomerID,
		ProductID:  b.ProductID,
	}
}

// DefaultSyncFrom returns the date imports should start from when the
// caller does not pass one: the stored watermark, or 30 days back.
func (b *BankConnection) DefaultSyncFrom(now time.Time) time.Time {
	if b.SyncFrom.Valid {
		if d, err := time.Parse("2006-01-02", b.SyncFrom.String); err == nil {
			return d
		}
	}
	return now.AddDate(0, 0, -30)
}

// Connections manages bank connection records.
type Connections struct {
	conn *Connection
}

// NewConnections creates a new Connections repository.
func NewConnections(conn *Connection) *Connections {
	return &Connections{conn: conn}
}

// Create validates and inserts a new connection.
func (r *Connections) Create(bc *BankConnection) error {
	if err := fints.ValidateConfig(bc.FintsConfig()); err != nil {
		return err
	}

	query := `
		INSERT INTO bank_connection
			(ledger_account_id, bank_code, url, username, customer_id, product_id,
			 iban, bic, account_number, sync_from, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.conn.Exec(query,
		bc.LedgerAccountID, bc.BankCode, bc.URL, bc.Username, bc.CustomerID,
		bc.ProductID, bc.IBAN, bc.BIC, bc.AccountNumber, bc.SyncFrom, boolToInt(bc.Active))
	if err != nil {
		return fmt.Errorf("failed to create bank connection: %w", err)
	}
	bc.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get connection id: %w", err)
	}
	return nil
}

// Get retrieves a connection by ID.
func (r *Connections) Get(id int64) (*BankConnection, error) {
	query := `
		SELECT id, ledger_account_id, bank_code, url, username,
		       COALESCE(customer_id, ''), COALESCE(product_id, ''),
		       COALESCE(iban, ''), COALESCE(bic, ''), COALESCE(account_number, ''),
		       last_sync, sync_from, active, created_at
		FROM bank_connection WHERE id = ?
	`
	var bc BankConnection
	var active int
	err := r.conn.QueryRow(query, id).Scan(
		&bc.ID, &bc.LedgerAccountID, &bc.BankCode, &bc.URL, &bc.Username,
		&bc.CustomerID, &bc.ProductID, &bc.IBAN, &bc.BIC, &bc.AccountNumber,
		&bc.LastSync, &bc.SyncFrom, &active, &bc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bank connection: %w", err)
	}
	bc.Active = active != 0
	return &bc, nil
}

// List retrieves all connections, active first.
func (r *Connections) List() ([]BankConnection, error) {
	query := `
		SELECT id, ledger_account_id, bank_code, url, username,
		       COALESCE(customer_id, ''), COALESCE(product_id, ''),
		       COALESCE(iban, ''), COALESCE(bic, ''), COALESCE(account_number, ''),
		       last_sync, sync_from, active, created_at
		FROM bank_connection
		ORDER BY active DESC, id
	`
	rows, err := r.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank connections: %w", err)
	}
	defer rows.Close()

	var out []BankConnection
	for rows.Next() {
		var bc BankConnection
		var active int
		if err := rows.Scan(
			&bc.ID, &bc.LedgerAccountID, &bc.BankCode, &bc.URL, &bc.Username,
			&bc.CustomerID, &bc.ProductID, &bc.IBAN, &bc.BIC, &bc.AccountNumber,
			&bc.LastSync, &bc.SyncFrom, &active, &bc.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bank connection: %w", err)
		}
		bc.Active = active != 0
		out = append(out, bc)
	}
	return out, rows.Err()
}

// Update validates and saves mutable fields of an existing connection.
func (r *Connections) Update(bc *BankConnection) error {
	if err := fints.ValidateConfig(bc.FintsConfig()); err != nil {
		return err
	}

	query := `
		UPDATE bank_connection
		SET bank_code = ?, url = ?, username = ?, customer_id = ?, product_id = ?,
		    iban = ?, bic = ?, account_number = ?, sync_from = ?, active = ?
		WHERE id = ?
	`
	res, err := r.conn.Exec(query,
		bc.BankCode, bc.URL, bc.Username, bc.CustomerID, bc.ProductID,
		bc.IBAN, bc.BIC, bc.AccountNumber, bc.SyncFrom, boolToInt(bc.Active), bc.ID)
	if err != nil {
		return fmt.Errorf("failed to update bank connection: %w", err)
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

// TouchLastSync records a successful sync and advances the watermark.
// Called on every successful run, even when nothing new was imported.
func (r *Connections) TouchLastSync(id int64, at time.Time) error {
	query := `
		UPDATE bank_connection
		SET last_sync = ?, sync_from = ?
		WHERE id = ?
	`
	_, err := r.conn.Exec(query, at, at.Format("2006-01-02"), id)
	if err != nil {
		return fmt.Errorf("failed to update last sync: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
