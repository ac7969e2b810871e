package reconcile

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fintshub/fints-sync/pkg/db"
	"github.com/fintshub/fints-sync/pkg/fints"
)

// Result summarizes one import run.
type Result struct {
	Imported int
	Skipped  int
}

// Importer persists decoded bank statements as imported transactions.
type Importer struct {
	txns  *db.Transactions
	conns *db.Connections
	now   func() time.Time
}

// NewImporter creates a new Importer.
func NewImporter(txns *db.Transactions, conns *db.Connections) *Importer {
	return &Importer{txns: txns, conns: conns, now: time.Now}
}

// Import writes every transaction of the given statements, skipping rows
// whose fingerprint already exists for this connection. Each row is its own
// insert, so a failure partway through leaves the already-imported rows
// valid; re-running the same sync afterwards is safe thanks to the
// fingerprint dedupe. The connection's watermark is advanced on every
// successful run, even when nothing new was found.
func (im *Importer) Import(conn *db.BankConnection, statements []fints.RemoteStatement) (Result, error) {
	var res Result

	for _, st := range statements {
		for _, rt := range st.Transactions {
			rec, err := im.toRecord(conn, rt)
			if err != nil {
				return res, err
			}
			inserted, err := im.txns.Insert(rec)
			if err != nil {
				return res, fmt.Errorf("failed to import transaction on %s: %w", rec.BookingDate, err)
			}
			if inserted {
				res.Imported++
			} else {
				res.Skipped++
			}
		}
	}

	if err := im.conns.TouchLastSync(conn.ID, im.now()); err != nil {
		return res, err
	}

	slog.Info("statement import finished",
		"connection_id", conn.ID,
		"imported", res.Imported,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (im *Importer) toRecord(conn *db.BankConnection, rt fints.RemoteTransaction) (*db.ImportedTransaction, error) {
	amount := NormalizeAmount(rt)

	raw, err := json.Marshal(map[string]string{
		"description1": rt.Description1,
		"description2": rt.Description2,
		"primanota":    rt.Primanota,
		"credit_debit": rt.CreditDebit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot raw transaction data: %w", err)
	}

	currency := rt.Currency
	if currency == "" {
		currency = "EUR"
	}

	rec := &db.ImportedTransaction{
		ConnectionID:     conn.ID,
		Fingerprint:      Fingerprint(rt.BookingDate, amount, rt.Description1, rt.CounterAccount),
		BookingDate:      rt.BookingDate.Format("2006-01-02"),
		Amount:           amount.StringFixed(2),
		Currency:         currency,
		CounterpartyName: rt.Name,
		CounterpartyIBAN: rt.CounterAccount,
		CounterpartyBIC:  rt.CounterBank,
		Description:      strings.TrimSpace(rt.Description1 + " " + rt.Description2),
		BookingText:      rt.BookingText,
		EndToEndID:       rt.EndToEndID,
		RawData:          string(raw),
		Status:           db.StatusNew,
	}
	if !rt.ValueDate.IsZero() {
		rec.ValueDate = sql.NullString{String: rt.ValueDate.Format("2006-01-02"), Valid: true}
	}
	return rec, nil
}
