// Package fints wraps an external FinTS/HBCI client library behind a small
// capability interface so the rest of the system never depends on its
// concrete types. Dialog persist/resume blobs are opaque byte strings and
// must not be interpreted by callers.
package fints

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionConfig holds everything needed to open a dialog with a bank.
type ConnectionConfig struct {
	BankCode   string // BLZ, 8 digits
	URL        string // FinTS endpoint
	Username   string
	CustomerID string // optional, defaults to Username
	ProductID  string // FinTS product registration name
}

// TanMode describes one TAN procedure advertised by the bank.
type TanMode struct {
	ID          int
	Name        string
	IsDecoupled bool
	NeedsMedium bool
}

// TanRequest is the bank's challenge when an action demands a TAN.
type TanRequest struct {
	Challenge  string // human-readable challenge text
	ChallengeB []byte // binary HHD/UC challenge (photoTAN image container), may be nil
	MediumName string
	Decoupled  bool
}

// RemoteAccount is one account the bank reports for the login.
type RemoteAccount struct {
	IBAN          string
	BIC           string
	AccountNumber string
}

// RemoteTransaction is a single booked transaction from a statement.
type RemoteTransaction struct {
	BookingDate    time.Time
	ValueDate      time.Time
	Amount         decimal.Decimal // magnitude, sign carried by CreditDebit
	CreditDebit    string          // "C" or "D"
	Currency       string
	Name           string
	CounterAccount string // counterparty IBAN or account number
	CounterBank    string // counterparty BIC or bank code
	Description1   string
	Description2   string
	BookingText    string // bank-assigned category text
	EndToEndID     string
	Primanota      string
}

// RemoteStatement is one statement block returned by the bank.
type RemoteStatement struct {
	Account      RemoteAccount
	Transactions []RemoteTransaction
}

// Action is an in-flight, possibly TAN-interrupted banking operation. Its
// contents are owned by the gateway binding.
type Action interface {
	// Persist serializes the action so it can survive a request boundary.
	Persist() ([]byte, error)
}

// ActionResult is the normalized outcome of executing or resuming an action.
// The "TAN required" condition is always reported here as a flag, never as
// an error.
type ActionResult struct {
	NeedsTan   bool
	TanRequest *TanRequest
	Statements []RemoteStatement
	Accounts   []RemoteAccount
}

// Session is an open FinTS dialog. Sequence counters inside the dialog are
// not safe for concurrent use; callers must serialize access per connection.
type Session interface {
	// Persist serializes the full dialog state (sequence counters,
	// signature context, selected TAN mode) as an opaque blob.
	Persist() ([]byte, error)
	Close() error
}

// Gateway is the capability surface over the external FinTS client.
// Every networked call may fail with a *ConnectionError (transient,
// retryable from the last persisted checkpoint) or a *ProtocolError
// (bank-side rejection, not retryable).
type Gateway interface {
	// Open creates a dialog. A non-nil resumeState restores a previously
	// persisted dialog instead of starting a fresh one.
	Open(ctx context.Context, cfg ConnectionConfig, pin string, resumeState []byte) (Session, error)

	ListTanModes(ctx context.Context, s Session) ([]TanMode, error)

	// SelectTanMode fixes the TAN procedure for the dialog. It must be
	// called exactly once per dialog; re-selecting on a resumed dialog
	// restarts it and invalidates any in-flight action.
	SelectTanMode(ctx context.Context, s Session, mode TanMode, medium string) error

	// Login authenticates the dialog. May demand a TAN.
	Login(ctx context.Context, s Session) (Action, ActionResult, error)

	ListAccounts(ctx context.Context, s Session) ([]RemoteAccount, error)

	// FetchStatement requests booked transactions for [from, to].
	FetchStatement(ctx context.Context, s Session, acct RemoteAccount, from, to time.Time) (Action, ActionResult, error)

	// SubmitTan answers the pending challenge of an action.
	SubmitTan(ctx context.Context, s Session, a Action, tan string) (ActionResult, error)

	// CheckDecoupledSubmission polls whether a decoupled (push) TAN has
	// been confirmed in the user's app. It never blocks beyond one
	// round-trip; the caller owns the poll loop.
	CheckDecoupledSubmission(ctx context.Context, s Session, a Action) (ActionResult, bool, error)

	// RestoreAction revives a persisted in-flight action on a resumed
	// session.
	RestoreAction(s Session, state []byte) (Action, error)
}
