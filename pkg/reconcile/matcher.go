package reconcile

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fintshub/fints-sync/pkg/db"
)

// Ledger is the external ledger consumed by the matcher: open-invoice
// search, payment and bank-line creation. *db.SQLLedger satisfies it.
type Ledger interface {
	GetInvoice(id int64) (*db.Invoice, error)
	FindOpenInvoices(kind string, amount, tolerance decimal.Decimal) ([]db.Invoice, error)
	CreatePaymentTx(tx *sql.Tx, p *db.Payment) error
	CreateBankLineTx(tx *sql.Tx, bl *db.BankLine) error
	SettleInvoiceTx(tx *sql.Tx, invoiceID int64) error
	DeletePaymentsForInvoiceTx(tx *sql.Tx, invoiceID int64) error
	ReopenInvoiceTx(tx *sql.Tx, invoiceID int64) error
}

// Txer provides the atomic unit for the match operation.
// *db.Connection satisfies it.
type Txer interface {
	Transaction(fn func(*sql.Tx) error) error
}

// Matcher links imported transactions to ledger invoices.
type Matcher struct {
	txns    *db.Transactions
	conns   *db.Connections
	ledger  Ledger
	txer    Txer
	weights MatchWeights
}

// NewMatcher creates a new Matcher.
func NewMatcher(txns *db.Transactions, conns *db.Connections, ledger Ledger, txer Txer, weights MatchWeights) *Matcher {
	return &Matcher{txns: txns, conns: conns, ledger: ledger, txer: txer, weights: weights}
}

// AutoMatch proposes the open invoice an imported transaction most likely
// pays. Credits are searched against customer invoices, debits against
// supplier invoices, within the configured amount tolerance. Candidates are
// scored by substring evidence in the transaction description; the best
// positive score wins. With no description evidence at all, a sole
// amount-tolerance candidate is accepted; two or more candidates without
// evidence are ambiguous and routed to manual matching.
//
// Returns (0, false, nil) when no match is found; that is a soft outcome,
// not an error.
func (m *Matcher) AutoMatch(txnID int64) (int64, bool, error) {
	txn, err := m.txns.Get(txnID)
	if err != nil {
		return 0, false, err
	}

	amount, err := decimal.NewFromString(txn.Amount)
	if err != nil {
		return 0, false, fmt.Errorf("invalid stored amount %q: %w", txn.Amount, err)
	}

	kind := db.InvoiceCustomer
	if amount.IsNegative() {
		kind = db.InvoiceSupplier
	}

	candidates, err := m.ledger.FindOpenInvoices(kind, amount.Abs(), m.weights.Tolerance())
	if err != nil {
		return 0, false, err
	}
	if len(candidates) == 0 {
		return 0, false, nil
	}

	desc := strings.ToLower(txn.Description)
	e2e := strings.ToLower(txn.EndToEndID)

	bestID := int64(0)
	bestScore := 0
	tied := false
	for _, inv := range candidates {
		score := m.score(desc, e2e, inv)
		switch {
		case score > bestScore:
			bestID, bestScore, tied = inv.ID, score, false
		case score == bestScore && score > 0:
			tied = true
		}
	}

	if bestScore > 0 && !tied {
		return bestID, true, nil
	}
	if bestScore == 0 && len(candidates) == 1 {
		// Sole amount match with no contradicting evidence.
		return candidates[0].ID, true, nil
	}

	slog.Debug("auto-match ambiguous", "transaction_id", txnID, "candidates", len(candidates))
	return 0, false, nil
}

func (m *Matcher) score(desc, e2e string, inv db.Invoice) int {
	score := 0
	ref := strings.ToLower(inv.Ref)
	if ref != "" && strings.Contains(desc, ref) {
		score += m.weights.DirectRef
	}
	if inv.CustomerRef != "" && strings.Contains(desc, strings.ToLower(inv.CustomerRef)) {
		score += m.weights.CustomerRef
	}
	if ref != "" && e2e != "" && strings.Contains(e2e, ref) {
		score += m.weights.EndToEnd
	}
	return score
}

// Match links a transaction to an invoice: it creates the ledger payment,
// posts the bank line if none exists yet, settles the invoice and records
// the links, all inside one database transaction. A failure leaves
// neither a payment nor a bank line behind. Re-matching a transaction
// already matched to the same invoice is a no-op.
func (m *Matcher) Match(txnID, invoiceID int64) error {
	txn, err := m.txns.Get(txnID)
	if err != nil {
		return err
	}
	if txn.Status == db.StatusIgnored {
		return fmt.Errorf("transaction %d is ignored; unignore it before matching", txnID)
	}
	if txn.InvoiceID.Valid && txn.InvoiceID.Int64 == invoiceID &&
		(txn.Status == db.StatusMatched || txn.Status == db.StatusImported) {
		return nil
	}
	if txn.InvoiceID.Valid && txn.InvoiceID.Int64 != invoiceID {
		return fmt.Errorf("transaction %d is already matched to another invoice; unmatch it first", txnID)
	}

	inv, err := m.ledger.GetInvoice(invoiceID)
	if err != nil {
		return err
	}

	conn, err := m.conns.Get(txn.ConnectionID)
	if err != nil {
		return err
	}

	amount, err := decimal.NewFromString(txn.Amount)
	if err != nil {
		return fmt.Errorf("invalid stored amount %q: %w", txn.Amount, err)
	}

	return m.txer.Transaction(func(tx *sql.Tx) error {
		bankLineID := txn.BankLineID
		if !bankLineID.Valid {
			bl := &db.BankLine{
				LedgerAccountID: conn.LedgerAccountID,
				BookingDate:     txn.BookingDate,
				Amount:          amount,
				Label:           txn.CounterpartyName,
			}
			if err := m.ledger.CreateBankLineTx(tx, bl); err != nil {
				return err
			}
			bankLineID = sql.NullInt64{Int64: bl.ID, Valid: true}
		}

		p := &db.Payment{
			InvoiceID:  inv.ID,
			Amount:     amount.Abs(),
			Currency:   txn.Currency,
			PaidAt:     txn.BookingDate,
			BankLineID: bankLineID,
		}
		if err := m.ledger.CreatePaymentTx(tx, p); err != nil {
			return err
		}
		if err := m.ledger.SettleInvoiceTx(tx, inv.ID); err != nil {
			return err
		}

		thirdParty := sql.NullInt64{Int64: inv.ThirdPartyID, Valid: true}
		if err := m.txns.LinkTx(tx, txn.ID, sql.NullInt64{Int64: inv.ID, Valid: true}, thirdParty, bankLineID); err != nil {
			return err
		}
		if txn.Status != db.StatusImported {
			if err := m.txns.SetStatusTx(tx, txn.ID, db.StatusMatched); err != nil {
				return err
			}
		}
		return nil
	})
}

// Unmatch undoes an invoice link. A matched transaction returns to new and
// its payment is removed with the invoice reopened, all in one database
// transaction; an imported transaction keeps its status and posted bank
// line and only loses the invoice and third-party links.
func (m *Matcher) Unmatch(txnID int64) error {
	txn, err := m.txns.Get(txnID)
	if err != nil {
		return err
	}
	if !txn.InvoiceID.Valid {
		return nil
	}
	invoiceID := txn.InvoiceID.Int64

	if txn.Status == db.StatusImported {
		return m.txns.ClearLinks(txnID)
	}

	return m.txer.Transaction(func(tx *sql.Tx) error {
		if err := m.ledger.DeletePaymentsForInvoiceTx(tx, invoiceID); err != nil {
			return err
		}
		if err := m.ledger.ReopenInvoiceTx(tx, invoiceID); err != nil {
			return err
		}
		if err := m.txns.SetStatusTx(tx, txnID, db.StatusNew); err != nil {
			return err
		}
		return m.txns.ClearLinksTx(tx, txnID)
	})
}

// Ignore marks a transaction as not relevant for reconciliation.
// A no-op when it already is.
func (m *Matcher) Ignore(txnID int64) error {
	txn, err := m.txns.Get(txnID)
	if err != nil {
		return err
	}
	if txn.Status == db.StatusIgnored {
		return nil
	}
	if txn.Status != db.StatusNew {
		return fmt.Errorf("only new transactions can be ignored (current status %q)", txn.Status)
	}
	return m.txns.SetStatus(txnID, db.StatusIgnored)
}

// Unignore returns an ignored transaction to new. A no-op otherwise.
func (m *Matcher) Unignore(txnID int64) error {
	txn, err := m.txns.Get(txnID)
	if err != nil {
		return err
	}
	if txn.Status != db.StatusIgnored {
		return nil
	}
	return m.txns.SetStatus(txnID, db.StatusNew)
}

// ImportToLedger posts a transaction to the ledger bank account and marks
// it imported. Idempotent for already-imported records.
func (m *Matcher) ImportToLedger(txnID int64) error {
	txn, err := m.txns.Get(txnID)
	if err != nil {
		return err
	}
	if txn.Status == db.StatusImported {
		return nil
	}
	if txn.Status == db.StatusIgnored {
		return fmt.Errorf("transaction %d is ignored; unignore it before importing", txnID)
	}

	conn, err := m.conns.Get(txn.ConnectionID)
	if err != nil {
		return err
	}
	amount, err := decimal.NewFromString(txn.Amount)
	if err != nil {
		return fmt.Errorf("invalid stored amount %q: %w", txn.Amount, err)
	}

	return m.txer.Transaction(func(tx *sql.Tx) error {
		bankLineID := txn.BankLineID
		if !bankLineID.Valid {
			bl := &db.BankLine{
				LedgerAccountID: conn.LedgerAccountID,
				BookingDate:     txn.BookingDate,
				Amount:          amount,
				Label:           txn.CounterpartyName,
			}
			if err := m.ledger.CreateBankLineTx(tx, bl); err != nil {
				return err
			}
			bankLineID = sql.NullInt64{Int64: bl.ID, Valid: true}
		}
		if err := m.txns.LinkTx(tx, txn.ID, txn.InvoiceID, txn.ThirdPartyID, bankLineID); err != nil {
			return err
		}
		return m.txns.SetStatusTx(tx, txn.ID, db.StatusImported)
	})
}
