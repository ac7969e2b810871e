// Package reconcile turns decoded bank statements into durable transaction
// records and matches them against open ledger invoices.
package reconcile

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fintshub/fints-sync/pkg/fints"
)

// Fingerprint computes the content hash that deduplicates imported
// transactions. It covers booking date, signed amount, the primary
// description line and the counter account, so re-syncing an overlapping
// date range never creates duplicates. The hash is stable across runs.
func Fingerprint(bookingDate time.Time, amount decimal.Decimal, description1, counterAccount string) string {
	h := md5.Sum([]byte(
		bookingDate.Format("2006-01-02") +
			amount.StringFixed(2) +
			description1 +
			counterAccount,
	))
	return hex.EncodeToString(h[:])
}

// NormalizeAmount applies the sign convention to a remote transaction:
// debit (outgoing) amounts are negative, credit (incoming) positive,
// regardless of how the bank encodes the magnitude.
func NormalizeAmount(rt fints.RemoteTransaction) decimal.Decimal {
	amt := rt.Amount.Abs()
	if rt.CreditDebit == "D" {
		return amt.Neg()
	}
	return amt
}
