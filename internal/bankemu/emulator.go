// Package bankemu is a scripted in-memory bank for tests and demo runs.
// It implements the fints.Gateway interface without any network access:
// the TAN demands, accounts, and statement data it serves are configured
// up front, and failures can be injected per operation.
package bankemu

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fintshub/fints-sync/pkg/fints"
)

// TanDemand says whether and how an emulated action asks for a TAN.
type TanDemand int

const (
	DemandNone TanDemand = iota
	DemandText
	DemandPhoto
	DemandDecoupled
)

// Emulator is a scripted fints.Gateway. Configure it before use; the
// methods are safe for concurrent calls.
type Emulator struct {
	PIN string // accepted PIN, empty accepts any
	TAN string // accepted TAN for text and photo demands

	Modes      []fints.TanMode
	Accounts   []fints.RemoteAccount
	Statements []fints.RemoteStatement

	LoginDemand     TanDemand
	StatementDemand TanDemand

	// Reprompts makes the first n TAN submissions come back with another
	// challenge even when the TAN was correct.
	Reprompts int

	// ConfirmAfterPolls is how many CheckDecoupledSubmission calls return
	// unconfirmed before the push TAN counts as approved.
	ConfirmAfterPolls int

	// Fail injects an error for the named operation: "open", "login",
	// "accounts", "statement", "submit".
	Fail map[string]error

	mu        sync.Mutex
	polls     int
	reprompts int
	dialogSeq int

	OpenCalls   int
	CloseCalls  int
	SubmitCalls int

	// LastConfig records the configuration of the most recent Open.
	LastConfig fints.ConnectionConfig
}

// New returns an emulator with one account, one photoTAN mode, and a
// small statement, good enough for a demo sync out of the box.
func New() *Emulator {
	return &Emulator{
		PIN: "12345",
		TAN: "000042",
		Modes: []fints.TanMode{
			{ID: 942, Name: "photoTAN-Verfahren", IsDecoupled: false},
			{ID: 944, Name: "pushTAN 2.0", IsDecoupled: true},
		},
		Accounts: []fints.RemoteAccount{
			{IBAN: "DE02120300000000202051", BIC: "BYLADEM1001", AccountNumber: "202051"},
		},
		Statements:      []fints.RemoteStatement{demoStatement()},
		LoginDemand:     DemandPhoto,
		StatementDemand: DemandNone,
	}
}

type sessionState struct {
	DialogID  string `json:"dialogId"`
	TanModeID int    `json:"tanModeId"`
}

type emuSession struct {
	e     *Emulator
	state sessionState
}

func (s *emuSession) Persist() ([]byte, error) { return json.Marshal(s.state) }
func (s *emuSession) Close() error {
	s.e.mu.Lock()
	s.e.CloseCalls++
	s.e.mu.Unlock()
	return nil
}

type actionState struct {
	Kind   string    `json:"kind"` // "login" or "statement"
	Demand TanDemand `json:"demand"`
}

type emuAction struct {
	state actionState
}

func (a *emuAction) Persist() ([]byte, error) { return json.Marshal(a.state) }

func (e *Emulator) Open(ctx context.Context, cfg fints.ConnectionConfig, pin string, resumeState []byte) (fints.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.OpenCalls++
	e.LastConfig = cfg
	if err := e.Fail["open"]; err != nil {
		return nil, err
	}
	if e.PIN != "" && pin != e.PIN {
		return nil, &fints.ProtocolError{Msg: "9942: Ihre PIN ist gesperrt"}
	}
	s := &emuSession{e: e}
	if len(resumeState) > 0 {
		if err := json.Unmarshal(resumeState, &s.state); err != nil {
			return nil, &fints.ProtocolError{Msg: "cannot resume dialog: " + err.Error()}
		}
		return s, nil
	}
	e.dialogSeq++
	s.state.DialogID = fmt.Sprintf("DLG%04d", e.dialogSeq)
	return s, nil
}

func (e *Emulator) ListTanModes(ctx context.Context, s fints.Session) ([]fints.TanMode, error) {
	return e.Modes, nil
}

func (e *Emulator) SelectTanMode(ctx context.Context, s fints.Session, mode fints.TanMode, medium string) error {
	es := s.(*emuSession)
	es.state.TanModeID = mode.ID
	return nil
}

func (e *Emulator) Login(ctx context.Context, s fints.Session) (fints.Action, fints.ActionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Fail["login"]; err != nil {
		return nil, fints.ActionResult{}, err
	}
	a := &emuAction{state: actionState{Kind: "login", Demand: e.LoginDemand}}
	if e.LoginDemand == DemandNone {
		return a, fints.ActionResult{}, nil
	}
	return a, fints.ActionResult{NeedsTan: true, TanRequest: e.request(e.LoginDemand)}, nil
}

func (e *Emulator) ListAccounts(ctx context.Context, s fints.Session) ([]fints.RemoteAccount, error) {
	if err := e.Fail["accounts"]; err != nil {
		return nil, err
	}
	return e.Accounts, nil
}

func (e *Emulator) FetchStatement(ctx context.Context, s fints.Session, acct fints.RemoteAccount, from, to time.Time) (fints.Action, fints.ActionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Fail["statement"]; err != nil {
		return nil, fints.ActionResult{}, err
	}
	a := &emuAction{state: actionState{Kind: "statement", Demand: e.StatementDemand}}
	if e.StatementDemand == DemandNone {
		return a, fints.ActionResult{Statements: e.Statements}, nil
	}
	return a, fints.ActionResult{NeedsTan: true, TanRequest: e.request(e.StatementDemand)}, nil
}

func (e *Emulator) SubmitTan(ctx context.Context, s fints.Session, a fints.Action, tan string) (fints.ActionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.SubmitCalls++
	if err := e.Fail["submit"]; err != nil {
		return fints.ActionResult{}, err
	}
	ea := a.(*emuAction)
	if e.TAN != "" && tan != e.TAN {
		return fints.ActionResult{}, &fints.ProtocolError{Msg: "9941: Die eingegebene TAN ist falsch"}
	}
	if e.reprompts < e.Reprompts {
		e.reprompts++
		return fints.ActionResult{NeedsTan: true, TanRequest: e.request(ea.state.Demand)}, nil
	}
	return e.finish(ea), nil
}

func (e *Emulator) CheckDecoupledSubmission(ctx context.Context, s fints.Session, a fints.Action) (fints.ActionResult, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Fail["submit"]; err != nil {
		return fints.ActionResult{}, false, err
	}
	if e.polls < e.ConfirmAfterPolls {
		e.polls++
		return fints.ActionResult{}, false, nil
	}
	return e.finish(a.(*emuAction)), true, nil
}

func (e *Emulator) RestoreAction(s fints.Session, state []byte) (fints.Action, error) {
	a := &emuAction{}
	if err := json.Unmarshal(state, &a.state); err != nil {
		return nil, &fints.ProtocolError{Msg: "cannot restore action: " + err.Error()}
	}
	return a, nil
}

func (e *Emulator) finish(a *emuAction) fints.ActionResult {
	if a.state.Kind == "statement" {
		return fints.ActionResult{Statements: e.Statements}
	}
	return fints.ActionResult{}
}

func (e *Emulator) request(d TanDemand) *fints.TanRequest {
	switch d {
	case DemandText:
		return &fints.TanRequest{Challenge: "Bitte geben Sie die TAN ein.", MediumName: "TAN-Liste"}
	case DemandPhoto:
		return &fints.TanRequest{
			Challenge:  "Bitte scannen Sie die Grafik mit der photoTAN-App.",
			ChallengeB: ChallengeContainer("image/png", demoPNG),
			MediumName: "photoTAN-Gerät",
		}
	case DemandDecoupled:
		return &fints.TanRequest{Challenge: "Bitte bestätigen Sie den Auftrag in Ihrer App.", Decoupled: true}
	default:
		return nil
	}
}

// ChallengeContainer wraps an image in the length-prefixed HHD/UC wire
// layout banks use for photoTAN challenges.
func ChallengeContainer(mime string, payload []byte) []byte {
	buf := make([]byte, 0, 4+len(mime)+len(payload))
	buf = append(buf, byte(len(mime)>>8), byte(len(mime)))
	buf = append(buf, mime...)
	buf = append(buf, byte(len(payload)>>8), byte(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// demoPNG is a 1x1 transparent PNG.
var demoPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

func demoStatement() fints.RemoteStatement {
	day := func(d int) time.Time { return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC) }
	return fints.RemoteStatement{
		Account: fints.RemoteAccount{IBAN: "DE02120300000000202051", AccountNumber: "202051"},
		Transactions: []fints.RemoteTransaction{
			{
				BookingDate: day(3), ValueDate: day(3),
				Amount: decimal.RequireFromString("1190.00"), CreditDebit: "C", Currency: "EUR",
				Name: "Muster GmbH", CounterAccount: "DE89370400440532013000", CounterBank: "COBADEFFXXX",
				Description1: "RE-2026-0815 Zahlung", BookingText: "GUTSCHRIFT", EndToEndID: "RE-2026-0815",
			},
			{
				BookingDate: day(5), ValueDate: day(5),
				Amount: decimal.RequireFromString("238.00"), CreditDebit: "D", Currency: "EUR",
				Name: "Bürobedarf Schmidt", CounterAccount: "DE75512108001245126199",
				Description1: "Rechnung ER-4711", BookingText: "LASTSCHRIFT",
			},
			{
				BookingDate: day(12), ValueDate: day(12),
				Amount: decimal.RequireFromString("49.90"), CreditDebit: "D", Currency: "EUR",
				Name: "Hosting AG", CounterAccount: "DE12500105170648489890",
				Description1: "Vertrag 88123 August", BookingText: "DAUERAUFTRAG",
			},
		},
	}
}
