// Package syncsession orchestrates a TAN-gated bank statement sync across
// request boundaries. The FinTS dialog state is persisted as opaque blobs
// between steps; the PIN lives only in process memory for the lifetime of
// the TAN round-trip and is never written to durable storage or logs.
package syncsession

import (
	"time"

	"github.com/google/uuid"
)

// Step names the action a pending TAN belongs to.
type Step string

const (
	// StepLogin means the bank demanded a TAN to authenticate the dialog.
	StepLogin Step = "login"
	// StepStatement means the statement retrieval itself demanded a TAN.
	StepStatement Step = "statement"
)

// Session is the in-flight state of one TAN-gated sync. Exactly one may be
// active per (user, connection) pair.
type Session struct {
	ID           string
	UserID       string
	ConnectionID int64
	Step         Step

	// pin is deliberately unexported: it must never be serialized,
	// logged or otherwise leave this process.
	pin string

	// DialogState and ActionState are opaque blobs produced by the
	// gateway. They are stored and restored without interpretation.
	DialogState []byte
	ActionState []byte

	// TanModeID remembers the procedure selected when the dialog was
	// opened. Re-selecting on a resumed dialog would restart it.
	TanModeID int
	Decoupled bool

	// TanRetries counts successive needs-TAN re-prompts for the current
	// action, to bound loops caused by a misbehaving counterpart.
	TanRetries int

	From time.Time
	To   time.Time

	CreatedAt time.Time
	touchedAt time.Time
}

func newSession(userID string, connectionID int64, pin string, from, to time.Time, now time.Time) *Session {
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		ConnectionID: connectionID,
		pin:          pin,
		From:         from,
		To:           to,
		CreatedAt:    now,
		touchedAt:    now,
	}
}

// PIN returns the secret entered when the sync was started.
func (s *Session) PIN() string { return s.pin }

// Result codes for SyncResult.Code.
const (
	CodeConfig         = "config_error"
	CodeConnection     = "connection_error"
	CodeProtocol       = "protocol_error"
	CodeSessionExpired = "session_expired"
	CodeTimeout        = "tan_timeout"
)

// SyncResult is the structured outcome of every sync step, shaped for the
// presentation layer: a success flag and a human-readable error, never a
// stack trace or internal identifier.
type SyncResult struct {
	Success        bool   `json:"success"`
	NeedsTan       bool   `json:"needsTan"`
	Decoupled      bool   `json:"decoupled,omitempty"`
	Challenge      string `json:"challenge,omitempty"`
	ChallengeMIME  string `json:"challengeMime,omitempty"`
	ChallengeImage []byte `json:"challengeImage,omitempty"` // base64 in JSON
	TanMedium      string `json:"tanMedium,omitempty"`
	Imported       int    `json:"imported"`
	Skipped        int    `json:"skipped"`
	Code           string `json:"code,omitempty"`
	Error          string `json:"error,omitempty"`
}

func failure(code, msg string) SyncResult {
	return SyncResult{Success: false, Code: code, Error: msg}
}
