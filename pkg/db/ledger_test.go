package db

import (
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFindOpenInvoicesTolerance(t *testing.T) {
	conn := testConn(t)
	ledger := NewSQLLedger(conn)

	invoices := []*Invoice{
		{Ref: "RE-1", Kind: InvoiceCustomer, Amount: dec("100.00"), Currency: "EUR", Open: true},
		{Ref: "RE-2", Kind: InvoiceCustomer, Amount: dec("100.01"), Currency: "EUR", Open: true},
		{Ref: "RE-3", Kind: InvoiceCustomer, Amount: dec("105.00"), Currency: "EUR", Open: true},
		{Ref: "RE-4", Kind: InvoiceCustomer, Amount: dec("100.00"), Currency: "EUR", Open: false},
		{Ref: "ER-1", Kind: InvoiceSupplier, Amount: dec("100.00"), Currency: "EUR", Open: true},
	}
	for _, inv := range invoices {
		if err := ledger.CreateInvoice(inv); err != nil {
			t.Fatalf("create invoice failed: %v", err)
		}
	}

	got, err := ledger.FindOpenInvoices(InvoiceCustomer, dec("100.00"), dec("0.01"))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d invoices, want 2: %+v", len(got), got)
	}
	for _, inv := range got {
		if inv.Ref != "RE-1" && inv.Ref != "RE-2" {
			t.Fatalf("unexpected candidate %q", inv.Ref)
		}
	}

	// Settled invoices and the wrong kind never appear.
	got, err = ledger.FindOpenInvoices(InvoiceSupplier, dec("100.00"), dec("0.01"))
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(got) != 1 || got[0].Ref != "ER-1" {
		t.Fatalf("supplier search returned %+v", got)
	}
}

func TestSettleAndReopenInvoice(t *testing.T) {
	conn := testConn(t)
	ledger := NewSQLLedger(conn)

	inv := &Invoice{Ref: "RE-9", Kind: InvoiceCustomer, Amount: dec("50.00"), Currency: "EUR", Open: true}
	if err := ledger.CreateInvoice(inv); err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	err := conn.Transaction(func(tx *sql.Tx) error {
		if err := ledger.CreatePaymentTx(tx, &Payment{
			InvoiceID: inv.ID, Amount: dec("50.00"), Currency: "EUR", PaidAt: "2026-08-03",
		}); err != nil {
			return err
		}
		return ledger.SettleInvoiceTx(tx, inv.ID)
	})
	if err != nil {
		t.Fatalf("settle transaction failed: %v", err)
	}

	got, err := ledger.GetInvoice(inv.ID)
	if err != nil {
		t.Fatalf("get invoice failed: %v", err)
	}
	if got.Open {
		t.Fatal("invoice should be settled")
	}

	if err := ledger.ReopenInvoice(inv.ID); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, _ = ledger.GetInvoice(inv.ID)
	if !got.Open {
		t.Fatal("invoice should be open again")
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	conn := testConn(t)
	ledger := NewSQLLedger(conn)

	inv := &Invoice{Ref: "RE-10", Kind: InvoiceCustomer, Amount: dec("50.00"), Currency: "EUR", Open: true}
	if err := ledger.CreateInvoice(inv); err != nil {
		t.Fatalf("create invoice failed: %v", err)
	}

	err := conn.Transaction(func(tx *sql.Tx) error {
		if err := ledger.SettleInvoiceTx(tx, inv.ID); err != nil {
			return err
		}
		return sql.ErrTxDone // force a rollback
	})
	if err == nil {
		t.Fatal("transaction should have failed")
	}

	got, _ := ledger.GetInvoice(inv.ID)
	if !got.Open {
		t.Fatal("rolled-back settle must not persist")
	}
}
