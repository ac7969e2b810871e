package reconcile

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fintshub/fints-sync/pkg/db"
)

func newMatcherFixture(t *testing.T) (*fixture, *Matcher) {
	f := newFixture(t)
	m := NewMatcher(f.txns, f.conns, f.ledger, f.conn, DefaultMatchWeights())
	return f, m
}

func (f *fixture) importOne(t *testing.T, amount, cd, desc string) int64 {
	t.Helper()
	_, err := f.importe.Import(f.bc, statement(remoteTxn(3, amount, cd, desc, "DE89370400440532013000")))
	require.NoError(t, err)
	rows, err := f.txns.ListByConnection(f.bc.ID, "", 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	return rows[0].ID
}

func (f *fixture) invoice(t *testing.T, ref, customerRef, kind, amount string) *db.Invoice {
	t.Helper()
	inv := &db.Invoice{
		Ref:          ref,
		CustomerRef:  customerRef,
		ThirdPartyID: 10,
		Kind:         kind,
		Amount:       decimal.RequireFromString(amount),
		Currency:     "EUR",
		Open:         true,
	}
	require.NoError(t, f.ledger.CreateInvoice(inv))
	return inv
}

func TestAutoMatchByDirectRef(t *testing.T) {
	f, m := newMatcherFixture(t)

	want := f.invoice(t, "RE-2026-0815", "", db.InvoiceCustomer, "1190.00")
	f.invoice(t, "RE-2026-0816", "", db.InvoiceCustomer, "1190.00")
	txnID := f.importOne(t, "1190.00", "C", "Zahlung RE-2026-0815 Danke")

	invoiceID, ok, err := m.AutoMatch(txnID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want.ID, invoiceID)
}

func TestAutoMatchDebitSearchesSupplierInvoices(t *testing.T) {
	f, m := newMatcherFixture(t)

	f.invoice(t, "ER-4711", "", db.InvoiceCustomer, "238.00")
	want := f.invoice(t, "ER-4711", "", db.InvoiceSupplier, "238.00")
	txnID := f.importOne(t, "238.00", "D", "Rechnung ER-4711")

	invoiceID, ok, err := m.AutoMatch(txnID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want.ID, invoiceID)
}

func TestAutoMatchSoleCandidateWithoutEvidence(t *testing.T) {
	f, m := newMatcherFixture(t)

	want := f.invoice(t, "RE-77", "", db.InvoiceCustomer, "49.90")
	txnID := f.importOne(t, "49.90", "C", "Ueberweisung ohne Verwendungszweck")

	invoiceID, ok, err := m.AutoMatch(txnID)
	require.NoError(t, err)
	require.True(t, ok, "a sole amount candidate is accepted")
	require.Equal(t, want.ID, invoiceID)
}

func TestAutoMatchAbstainsOnAmbiguity(t *testing.T) {
	f, m := newMatcherFixture(t)

	f.invoice(t, "RE-1", "", db.InvoiceCustomer, "49.90")
	f.invoice(t, "RE-2", "", db.InvoiceCustomer, "49.90")
	txnID := f.importOne(t, "49.90", "C", "Ueberweisung ohne Verwendungszweck")

	_, ok, err := m.AutoMatch(txnID)
	require.NoError(t, err)
	require.False(t, ok, "two candidates without evidence must go to manual matching")
}

func TestAutoMatchCustomerRefOutweighsEndToEnd(t *testing.T) {
	f, m := newMatcherFixture(t)

	byCustomer := f.invoice(t, "RE-100", "KD-555", db.InvoiceCustomer, "20.00")
	f.invoice(t, "RE-200", "", db.InvoiceCustomer, "20.00")

	rt := remoteTxn(3, "20.00", "C", "Zahlung Kunde KD-555", "DE89370400440532013000")
	rt.EndToEndID = "RE-200"
	_, err := f.importe.Import(f.bc, statement(rt))
	require.NoError(t, err)
	rows, err := f.txns.ListByConnection(f.bc.ID, "", 1, 0)
	require.NoError(t, err)

	invoiceID, ok, err := m.AutoMatch(rows[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, byCustomer.ID, invoiceID)
}

func TestMatchCreatesPaymentAndSettles(t *testing.T) {
	f, m := newMatcherFixture(t)

	inv := f.invoice(t, "RE-2026-0815", "", db.InvoiceCustomer, "1190.00")
	txnID := f.importOne(t, "1190.00", "C", "Zahlung RE-2026-0815")

	require.NoError(t, m.Match(txnID, inv.ID))

	txn, err := f.txns.Get(txnID)
	require.NoError(t, err)
	require.Equal(t, db.StatusMatched, txn.Status)
	require.Equal(t, inv.ID, txn.InvoiceID.Int64)
	require.True(t, txn.BankLineID.Valid, "match posts a bank line")
	require.True(t, txn.MatchedAt.Valid)

	got, err := f.ledger.GetInvoice(inv.ID)
	require.NoError(t, err)
	require.False(t, got.Open, "matched invoice is settled")

	// Re-matching the same pair is a no-op, not a second payment.
	require.NoError(t, m.Match(txnID, inv.ID))

	other := f.invoice(t, "RE-X", "", db.InvoiceCustomer, "1190.00")
	require.Error(t, m.Match(txnID, other.ID), "matched transactions must be unmatched first")
}

func TestUnmatchReopensInvoice(t *testing.T) {
	f, m := newMatcherFixture(t)

	inv := f.invoice(t, "RE-2026-0815", "", db.InvoiceCustomer, "1190.00")
	txnID := f.importOne(t, "1190.00", "C", "Zahlung RE-2026-0815")
	require.NoError(t, m.Match(txnID, inv.ID))

	require.NoError(t, m.Unmatch(txnID))

	txn, err := f.txns.Get(txnID)
	require.NoError(t, err)
	require.Equal(t, db.StatusNew, txn.Status)
	require.False(t, txn.InvoiceID.Valid)
	require.False(t, txn.MatchedAt.Valid)

	got, err := f.ledger.GetInvoice(inv.ID)
	require.NoError(t, err)
	require.True(t, got.Open, "unmatch reopens the invoice")

	require.NoError(t, m.Unmatch(txnID), "unmatch without a link is a no-op")
}

func TestIgnoreLifecycle(t *testing.T) {
	f, m := newMatcherFixture(t)
	txnID := f.importOne(t, "49.90", "D", "Gebuehren")

	require.NoError(t, m.Ignore(txnID))
	require.NoError(t, m.Ignore(txnID), "ignoring twice is a no-op")

	inv := f.invoice(t, "ER-1", "", db.InvoiceSupplier, "49.90")
	require.Error(t, m.Match(txnID, inv.ID), "ignored transactions cannot be matched")

	require.NoError(t, m.Unignore(txnID))
	txn, err := f.txns.Get(txnID)
	require.NoError(t, err)
	require.Equal(t, db.StatusNew, txn.Status)

	require.NoError(t, m.Unignore(txnID), "unignore on a non-ignored record is a no-op")
}

func TestImportToLedger(t *testing.T) {
	f, m := newMatcherFixture(t)
	txnID := f.importOne(t, "49.90", "D", "Vertrag 88123 August")

	require.NoError(t, m.ImportToLedger(txnID))

	txn, err := f.txns.Get(txnID)
	require.NoError(t, err)
	require.Equal(t, db.StatusImported, txn.Status)
	require.True(t, txn.BankLineID.Valid)
	firstLine := txn.BankLineID.Int64

	require.NoError(t, m.ImportToLedger(txnID), "importing twice is a no-op")
	txn, _ = f.txns.Get(txnID)
	require.Equal(t, firstLine, txn.BankLineID.Int64, "no second bank line is posted")
}

func TestUnmatchKeepsImportedBankLine(t *testing.T) {
	f, m := newMatcherFixture(t)

	inv := f.invoice(t, "RE-2026-0815", "", db.InvoiceCustomer, "1190.00")
	txnID := f.importOne(t, "1190.00", "C", "Zahlung RE-2026-0815")
	require.NoError(t, m.Match(txnID, inv.ID))
	require.NoError(t, m.ImportToLedger(txnID))

	require.NoError(t, m.Unmatch(txnID))

	txn, err := f.txns.Get(txnID)
	require.NoError(t, err)
	require.Equal(t, db.StatusImported, txn.Status, "imported status survives unmatch")
	require.True(t, txn.BankLineID.Valid, "the posted bank line stays")
	require.False(t, txn.InvoiceID.Valid)
}

// rollbackTxer runs the unit of work but refuses the commit, so tests can
// verify nothing is applied partially.
type rollbackTxer struct {
	conn *db.Connection
}

func (r *rollbackTxer) Transaction(fn func(*sql.Tx) error) error {
	return r.conn.Transaction(func(tx *sql.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errors.New("transaction aborted")
	})
}

func TestUnmatchAppliesAllOrNothing(t *testing.T) {
	f, m := newMatcherFixture(t)

	inv := f.invoice(t, "RE-900", "", db.InvoiceCustomer, "77.00")
	txnID := f.importOne(t, "77.00", "C", "Zahlung RE-900")
	require.NoError(t, m.Match(txnID, inv.ID))

	broken := NewMatcher(f.txns, f.conns, f.ledger, &rollbackTxer{f.conn}, DefaultMatchWeights())
	require.Error(t, broken.Unmatch(txnID))

	// The rolled-back unmatch left the match fully intact: no deleted
	// payment next to a still-settled invoice, no half-cleared links.
	got, err := f.ledger.GetInvoice(inv.ID)
	require.NoError(t, err)
	require.False(t, got.Open, "invoice must stay settled")
	txn, err := f.txns.Get(txnID)
	require.NoError(t, err)
	require.Equal(t, db.StatusMatched, txn.Status)
	require.True(t, txn.InvoiceID.Valid)

	require.NoError(t, m.Unmatch(txnID))
	got, err = f.ledger.GetInvoice(inv.ID)
	require.NoError(t, err)
	require.True(t, got.Open)
	txn, err = f.txns.Get(txnID)
	require.NoError(t, err)
	require.Equal(t, db.StatusNew, txn.Status)
	require.False(t, txn.InvoiceID.Valid)
}
