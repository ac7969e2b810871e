package db

// Schema defines the SQL statements to create database tables.
const Schema = `
-- Bank connections
-- One row per linked ledger bank account with FinTS access
CREATE TABLE IF NOT EXISTS bank_connection (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ledger_account_id INTEGER NOT NULL,  -- link into the ledger's bank account
    bank_code TEXT NOT NULL,             -- BLZ, 8 digits
    url TEXT NOT NULL,                   -- FinTS endpoint
    username TEXT NOT NULL,
    customer_id TEXT,                    -- optional distinct customer ID
    product_id TEXT,                     -- FinTS product registration name
    iban TEXT,
    bic TEXT,
    account_number TEXT,
    last_sync TIMESTAMP,                 -- last successful sync
    sync_from TEXT,                      -- YYYY-MM-DD watermark
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Imported bank transactions
-- The (connection_id, fingerprint) unique key makes re-syncs of overlapping
-- date ranges idempotent
CREATE TABLE IF NOT EXISTS imported_transaction (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    connection_id INTEGER NOT NULL REFERENCES bank_connection(id),
    fingerprint TEXT NOT NULL,
    booking_date TEXT NOT NULL,          -- YYYY-MM-DD
    value_date TEXT,                     -- YYYY-MM-DD
    amount TEXT NOT NULL,                -- signed decimal string
    currency TEXT NOT NULL DEFAULT 'EUR',
    counterparty_name TEXT,
    counterparty_iban TEXT,
    counterparty_bic TEXT,
    description TEXT,
    booking_text TEXT,                   -- bank-assigned category
    end_to_end_id TEXT,
    raw_data TEXT,                       -- JSON snapshot for audit/debug
    status TEXT NOT NULL DEFAULT 'new',  -- new/matched/imported/ignored
    bank_line_id INTEGER,
    invoice_id INTEGER,
    third_party_id INTEGER,
    imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    matched_at TIMESTAMP,
    UNIQUE(connection_id, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_imported_txn_conn_status
    ON imported_transaction(connection_id, status);

CREATE INDEX IF NOT EXISTS idx_imported_txn_booking
    ON imported_transaction(booking_date);

-- Embedded ledger binding: invoices, payments, bank lines
CREATE TABLE IF NOT EXISTS invoice (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ref TEXT NOT NULL,                   -- invoice reference
    customer_ref TEXT,                   -- counterparty-assigned reference
    third_party_id INTEGER NOT NULL,
    kind TEXT NOT NULL,                  -- customer/supplier
    amount TEXT NOT NULL,                -- decimal string, always positive
    currency TEXT NOT NULL DEFAULT 'EUR',
    open INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_invoice_open
    ON invoice(kind, open);

CREATE TABLE IF NOT EXISTS payment (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    invoice_id INTEGER NOT NULL REFERENCES invoice(id),
    amount TEXT NOT NULL,
    currency TEXT NOT NULL DEFAULT 'EUR',
    paid_at TEXT NOT NULL,               -- YYYY-MM-DD
    bank_line_id INTEGER
);

CREATE TABLE IF NOT EXISTS bank_line (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ledger_account_id INTEGER NOT NULL,
    booking_date TEXT NOT NULL,          -- YYYY-MM-DD
    amount TEXT NOT NULL,                -- signed decimal string
    label TEXT
);
`

// InitializeSchema initializes the database schema.
// It creates all tables if they don't exist.
func InitializeSchema(conn *Connection) error {
	if _, err := conn.Exec(Schema); err != nil {
		return err
	}
	return nil
}
