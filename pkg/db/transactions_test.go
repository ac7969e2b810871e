package db

import (
	"testing"
)

func testConn(t *testing.T) *Connection {
	t.Helper()
	conn, err := OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func testConnection(t *testing.T, conn *Connection) int64 {
	t.Helper()
	conns := NewConnections(conn)
	bc := &BankConnection{
		LedgerAccountID: 1,
		BankCode:        "12030000",
		URL:             "https://banking.example.com/fints",
		Username:        "kunde1",
		Active:          true,
	}
	if err := conns.Create(bc); err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	return bc.ID
}

func sampleTxn(connID int64, fingerprint string) *ImportedTransaction {
	return &ImportedTransaction{
		ConnectionID:     connID,
		Fingerprint:      fingerprint,
		BookingDate:      "2026-08-03",
		Amount:           "1190.00",
		Currency:         "EUR",
		CounterpartyName: "Muster GmbH",
		Description:      "RE-2026-0815 Zahlung",
	}
}

func TestInsertDeduplicates(t *testing.T) {
	conn := testConn(t)
	connID := testConnection(t, conn)
	txns := NewTransactions(conn)

	inserted, err := txns.Insert(sampleTxn(connID, "fp-1"))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should report inserted")
	}

	inserted, err = txns.Insert(sampleTxn(connID, "fp-1"))
	if err != nil {
		t.Fatalf("duplicate insert failed: %v", err)
	}
	if inserted {
		t.Fatal("duplicate fingerprint must be skipped, not re-inserted")
	}

	// The same fingerprint on another connection is a different record.
	otherID := testConnection(t, conn)
	inserted, err = txns.Insert(sampleTxn(otherID, "fp-1"))
	if err != nil {
		t.Fatalf("insert for second connection failed: %v", err)
	}
	if !inserted {
		t.Fatal("fingerprints dedupe per connection, not globally")
	}
}

func TestStatusTransitions(t *testing.T) {
	conn := testConn(t)
	connID := testConnection(t, conn)
	txns := NewTransactions(conn)

	rec := sampleTxn(connID, "fp-status")
	if _, err := txns.Insert(rec); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := txns.Get(rec.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusNew {
		t.Fatalf("fresh record status = %q, want %q", got.Status, StatusNew)
	}
	if got.MatchedAt.Valid {
		t.Fatal("fresh record must not carry matched_at")
	}

	if err := txns.SetStatus(rec.ID, StatusMatched); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	got, err = txns.Get(rec.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusMatched {
		t.Fatalf("status = %q, want %q", got.Status, StatusMatched)
	}
	if !got.MatchedAt.Valid {
		t.Fatal("matched status must stamp matched_at")
	}

	if err := txns.SetStatus(9999, StatusIgnored); err != ErrNotFound {
		t.Fatalf("set status on missing record = %v, want ErrNotFound", err)
	}
}

func TestListByConnectionFilters(t *testing.T) {
	conn := testConn(t)
	connID := testConnection(t, conn)
	txns := NewTransactions(conn)

	for i, fp := range []string{"a", "b", "c"} {
		rec := sampleTxn(connID, fp)
		rec.BookingDate = "2026-08-0" + string(rune('1'+i))
		if _, err := txns.Insert(rec); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if fp == "b" {
			if err := txns.SetStatus(rec.ID, StatusIgnored); err != nil {
				t.Fatalf("set status failed: %v", err)
			}
		}
	}

	all, err := txns.ListByConnection(connID, "", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}
	if all[0].BookingDate != "2026-08-03" {
		t.Fatalf("expected newest first, got %s", all[0].BookingDate)
	}

	ignored, err := txns.ListByConnection(connID, StatusIgnored, 10, 0)
	if err != nil {
		t.Fatalf("filtered list failed: %v", err)
	}
	if len(ignored) != 1 || ignored[0].Fingerprint != "b" {
		t.Fatalf("status filter returned wrong rows: %+v", ignored)
	}

	page, err := txns.ListByConnection(connID, "", 1, 1)
	if err != nil {
		t.Fatalf("paged list failed: %v", err)
	}
	if len(page) != 1 || page[0].BookingDate != "2026-08-02" {
		t.Fatalf("pagination returned wrong row: %+v", page)
	}
}

func TestStatsAndDeleteAll(t *testing.T) {
	conn := testConn(t)
	connID := testConnection(t, conn)
	txns := NewTransactions(conn)

	for _, fp := range []string{"a", "b", "c", "d"} {
		if _, err := txns.Insert(sampleTxn(connID, fp)); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	all, _ := txns.ListByConnection(connID, "", 10, 0)
	txns.SetStatus(all[0].ID, StatusMatched)
	txns.SetStatus(all[1].ID, StatusIgnored)

	stats, err := txns.GetStats(connID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 4 || stats.New != 2 || stats.Matched != 1 || stats.Ignored != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if !stats.LastImport.Valid {
		t.Fatal("stats must report the last import time")
	}

	n, err := txns.DeleteAllForConnection(connID)
	if err != nil {
		t.Fatalf("delete all failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("deleted %d rows, want 4", n)
	}
	count, _ := txns.CountByConnection(connID, "")
	if count != 0 {
		t.Fatalf("%d rows remain after delete all", count)
	}
}
