package syncsession

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fintshub/fints-sync/pkg/db"
	"github.com/fintshub/fints-sync/pkg/fints"
	"github.com/fintshub/fints-sync/pkg/reconcile"
)

// Options tune the manager's policy knobs. Zero values fall back to the
// reference behavior.
type Options struct {
	PollInterval time.Duration // decoupled-TAN poll interval, default 3s
	PollTimeout  time.Duration // decoupled-TAN poll budget, default 60s
	TanRetryCap  int           // successive re-prompts per action, default 3
	ProductID    string        // FinTS product registration used when the connection has none
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 60 * time.Second
	}
	if o.TanRetryCap <= 0 {
		o.TanRetryCap = 3
	}
}

// Manager drives the sync state machine: Idle, AwaitingLogin,
// AwaitingStatement, Completed, with Failed/Expired as terminal outcomes.
// Entering any terminal state removes the stored session, so a failed
// attempt never leaves a half-alive dialog blocking the next one.
type Manager struct {
	gw       fints.Gateway
	conns    *db.Connections
	importer *reconcile.Importer
	store    *Store
	opts     Options
}

// NewManager creates a sync session manager.
func NewManager(gw fints.Gateway, conns *db.Connections, importer *reconcile.Importer, store *Store, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{gw: gw, conns: conns, importer: importer, store: store, opts: opts}
}

// StartSync begins a statement sync for a connection. When the bank demands
// a TAN the returned result carries the challenge and a session is stored;
// the caller continues with SubmitTan or, for push TAN, PollDecoupled.
// Any still-active session for the same (user, connection) pair is
// invalidated first: the protocol's dialog sequence counters are not safe
// for interleaved use.
func (m *Manager) StartSync(ctx context.Context, userID string, connectionID int64, pin string, from, to time.Time) SyncResult {
	conn, err := m.conns.Get(connectionID)
	if err != nil {
		return failure(CodeConfig, "bank connection not found")
	}
	if !conn.Active {
		return failure(CodeConfig, "bank connection is disabled")
	}
	cfg := m.fintsConfig(conn)
	if err := fints.ValidateConfig(cfg); err != nil {
		return failure(CodeConfig, err.Error())
	}
	if err := fints.ValidatePIN(pin); err != nil {
		return failure(CodeConfig, err.Error())
	}

	if prev := m.store.Delete(userID, connectionID); prev != nil {
		slog.Info("replacing stale sync session", "connection_id", connectionID)
		m.closeDialog(ctx, cfg, prev)
	}

	now := time.Now()
	if from.IsZero() {
		from = conn.DefaultSyncFrom(now)
	}
	if to.IsZero() {
		to = now
	}

	sess, err := m.gw.Open(ctx, cfg, pin, nil)
	if err != nil {
		return m.classify(err)
	}

	modes, err := m.gw.ListTanModes(ctx, sess)
	if err != nil {
		sess.Close()
		return m.classify(err)
	}
	mode, ok := chooseTanMode(modes)
	if !ok {
		sess.Close()
		return failure(CodeProtocol, "bank advertised no usable TAN procedure")
	}
	if err := m.gw.SelectTanMode(ctx, sess, mode, ""); err != nil {
		sess.Close()
		return m.classify(err)
	}

	slog.Info("bank dialog opened",
		"connection_id", connectionID,
		"tan_mode", mode.Name,
	)

	action, res, err := m.gw.Login(ctx, sess)
	if err != nil {
		sess.Close()
		return m.classify(err)
	}

	if res.NeedsTan {
		s := newSession(userID, connectionID, pin, from, to, now)
		s.Step = StepLogin
		s.TanModeID = mode.ID
		s.Decoupled = mode.IsDecoupled || (res.TanRequest != nil && res.TanRequest.Decoupled)
		return m.suspend(s, sess, action, res.TanRequest)
	}

	s := newSession(userID, connectionID, pin, from, to, now)
	s.TanModeID = mode.ID
	s.Decoupled = mode.IsDecoupled
	return m.fetchStatement(ctx, sess, conn, s)
}

// SubmitTan answers the pending challenge of the caller's active session
// and advances the state machine. With no active or an expired session it
// reports a session-expired result; the caller must restart from StartSync.
//
// The session is taken out of the store for the whole step: a second
// SubmitTan racing this one gets a session-expired result instead of
// resuming the same dialog, whose sequence counters tolerate no
// interleaved use.
func (m *Manager) SubmitTan(ctx context.Context, userID string, connectionID int64, tan string) SyncResult {
	s, err := m.store.Take(userID, connectionID)
	if err != nil {
		return failure(CodeSessionExpired, "sync session expired, please start again")
	}
	if tan == "" {
		m.store.CheckIn(s)
		return failure(CodeConfig, "TAN is required")
	}

	conn, sess, action, res := m.resume(ctx, s)
	if res != nil {
		return *res
	}

	result, err := m.gw.SubmitTan(ctx, sess, action, tan)
	if err != nil {
		return m.fail(sess, err)
	}

	return m.advance(ctx, conn, s, sess, action, result)
}

// PollDecoupled waits for the user to confirm a decoupled (push) TAN in
// their banking app. It polls the bank on a fixed interval up to a bounded
// budget, then gives up, closing the dialog so the session is not left open
// past the poll window.
func (m *Manager) PollDecoupled(ctx context.Context, userID string, connectionID int64) SyncResult {
	s, err := m.store.Take(userID, connectionID)
	if err != nil {
		return failure(CodeSessionExpired, "sync session expired, please start again")
	}
	if !s.Decoupled {
		m.store.CheckIn(s)
		return failure(CodeConfig, "session is not using a decoupled TAN procedure")
	}

	conn, sess, action, res := m.resume(ctx, s)
	if res != nil {
		return *res
	}

	deadline := time.Now().Add(m.opts.PollTimeout)
	for {
		result, confirmed, err := m.gw.CheckDecoupledSubmission(ctx, sess, action)
		if err != nil {
			return m.fail(sess, err)
		}
		if confirmed {
			return m.advance(ctx, conn, s, sess, action, result)
		}
		if time.Now().After(deadline) {
			sess.Close()
			return failure(CodeTimeout, "no confirmation received from the banking app, please start again")
		}
		select {
		case <-ctx.Done():
			sess.Close()
			return failure(CodeConnection, "sync cancelled")
		case <-time.After(m.opts.PollInterval):
		}
	}
}

// Cancel drops the caller's active session and closes its bank dialog.
func (m *Manager) Cancel(ctx context.Context, userID string, connectionID int64) {
	s := m.store.Delete(userID, connectionID)
	if s == nil {
		return
	}
	conn, err := m.conns.Get(connectionID)
	if err != nil {
		return
	}
	m.closeDialog(ctx, m.fintsConfig(conn), s)
}

// fintsConfig builds the gateway configuration for a connection, filling
// in the instance-wide product registration when the record has none.
func (m *Manager) fintsConfig(conn *db.BankConnection) fints.ConnectionConfig {
	cfg := conn.FintsConfig()
	if cfg.ProductID == "" {
		cfg.ProductID = m.opts.ProductID
	}
	return cfg
}

// resume restores the gateway dialog and in-flight action of a stored
// session. On failure the session is cleared and a terminal result
// returned.
func (m *Manager) resume(ctx context.Context, s *Session) (*db.BankConnection, fints.Session, fints.Action, *SyncResult) {
	conn, err := m.conns.Get(s.ConnectionID)
	if err != nil {
		r := failure(CodeConfig, "bank connection not found")
		return nil, nil, nil, &r
	}

	// The resumed dialog already carries the selected TAN mode;
	// re-selecting here would restart it and void the pending action.
	sess, err := m.gw.Open(ctx, m.fintsConfig(conn), s.PIN(), s.DialogState)
	if err != nil {
		r := m.fail(nil, err)
		return nil, nil, nil, &r
	}

	action, err := m.gw.RestoreAction(sess, s.ActionState)
	if err != nil {
		r := m.fail(sess, err)
		return nil, nil, nil, &r
	}
	return conn, sess, action, nil
}

// advance processes an action result after a TAN was accepted or the bank
// re-prompted.
func (m *Manager) advance(ctx context.Context, conn *db.BankConnection, s *Session, sess fints.Session, action fints.Action, res fints.ActionResult) SyncResult {
	if res.NeedsTan {
		s.TanRetries++
		if s.TanRetries >= m.opts.TanRetryCap {
			sess.Close()
			return failure(CodeProtocol, "bank keeps requesting additional TANs, giving up")
		}
		return m.suspend(s, sess, action, res.TanRequest)
	}

	switch s.Step {
	case StepLogin:
		s.TanRetries = 0
		return m.fetchStatement(ctx, sess, conn, s)
	case StepStatement:
		return m.complete(sess, conn, s, res.Statements)
	default:
		return m.fail(sess, &fints.ProtocolError{Msg: fmt.Sprintf("unexpected sync step %q", s.Step)})
	}
}

// fetchStatement runs the post-login path: pick the remote account, request
// the statement, and either suspend for another TAN or import the result.
func (m *Manager) fetchStatement(ctx context.Context, sess fints.Session, conn *db.BankConnection, s *Session) SyncResult {
	accounts, err := m.gw.ListAccounts(ctx, sess)
	if err != nil {
		return m.fail(sess, err)
	}
	if len(accounts) == 0 {
		return m.fail(sess, &fints.ProtocolError{Msg: "no accounts found at bank"})
	}
	acct := pickAccount(accounts, conn)

	action, res, err := m.gw.FetchStatement(ctx, sess, acct, s.From, s.To)
	if err != nil {
		return m.fail(sess, err)
	}

	if res.NeedsTan {
		s.Step = StepStatement
		s.TanRetries = 0
		if res.TanRequest != nil && res.TanRequest.Decoupled {
			s.Decoupled = true
		}
		return m.suspend(s, sess, action, res.TanRequest)
	}

	return m.complete(sess, conn, s, res.Statements)
}

// suspend persists the dialog and action blobs and checks the session back
// into the store, so the TAN answer can arrive on a later request.
func (m *Manager) suspend(s *Session, sess fints.Session, action fints.Action, req *fints.TanRequest) SyncResult {
	dialog, err := sess.Persist()
	if err != nil {
		return m.fail(sess, err)
	}
	actionState, err := action.Persist()
	if err != nil {
		return m.fail(sess, err)
	}
	s.DialogState = dialog
	s.ActionState = actionState
	if !m.store.CheckIn(s) {
		// A newer sync replaced this session while the step ran.
		sess.Close()
		return failure(CodeSessionExpired, "sync session expired, please start again")
	}

	slog.Info("sync awaiting TAN",
		"connection_id", s.ConnectionID,
		"step", string(s.Step),
		"decoupled", s.Decoupled,
	)
	return challengeResult(s, req)
}

// complete imports the fetched statements and tears the session down.
func (m *Manager) complete(sess fints.Session, conn *db.BankConnection, s *Session, statements []fints.RemoteStatement) SyncResult {
	res, err := m.importer.Import(conn, statements)
	if err != nil {
		return m.fail(sess, err)
	}
	sess.Close()
	return SyncResult{Success: true, Imported: res.Imported, Skipped: res.Skipped}
}

// fail closes the dialog and surfaces the error. The session is owned by
// the caller and simply not checked back in, so a failed attempt never
// blocks subsequent ones.
func (m *Manager) fail(sess fints.Session, err error) SyncResult {
	if sess != nil {
		sess.Close()
	}
	return m.classify(err)
}

func (m *Manager) classify(err error) SyncResult {
	var cfgErr *fints.ConfigError
	if errors.As(err, &cfgErr) {
		return failure(CodeConfig, cfgErr.Error())
	}
	if fints.IsRetryable(err) {
		return failure(CodeConnection, "bank connection failed, please try again")
	}
	var protoErr *fints.ProtocolError
	if errors.As(err, &protoErr) {
		return failure(CodeProtocol, protoErr.Msg)
	}
	return failure(CodeProtocol, err.Error())
}

// closeDialog best-effort closes the bank dialog of an abandoned session.
func (m *Manager) closeDialog(ctx context.Context, cfg fints.ConnectionConfig, s *Session) {
	if len(s.DialogState) == 0 {
		return
	}
	sess, err := m.gw.Open(ctx, cfg, s.PIN(), s.DialogState)
	if err != nil {
		return
	}
	sess.Close()
}

func chooseTanMode(modes []fints.TanMode) (fints.TanMode, bool) {
	if len(modes) == 0 {
		return fints.TanMode{}, false
	}
	for _, mode := range modes {
		name := strings.ToLower(mode.Name)
		if strings.Contains(name, "photo") || strings.Contains(name, "push") || strings.Contains(name, "app") {
			return mode, true
		}
	}
	return modes[0], true
}

// pickAccount selects the bank-side account the connection is configured
// for, falling back to the first one the bank reports.
func pickAccount(accounts []fints.RemoteAccount, conn *db.BankConnection) fints.RemoteAccount {
	for _, a := range accounts {
		if conn.IBAN != "" && a.IBAN == conn.IBAN {
			return a
		}
	}
	for _, a := range accounts {
		if conn.AccountNumber != "" && a.AccountNumber == conn.AccountNumber {
			return a
		}
	}
	return accounts[0]
}

func challengeResult(s *Session, req *fints.TanRequest) SyncResult {
	out := SyncResult{Success: true, NeedsTan: true, Decoupled: s.Decoupled}
	if req == nil {
		return out
	}
	out.Challenge = req.Challenge
	out.TanMedium = req.MediumName

	if len(req.ChallengeB) > 0 {
		mime, img, err := fints.DecodeChallengeImage(req.ChallengeB)
		if err == nil {
			out.ChallengeMIME = mime
			out.ChallengeImage = img
		} else if out.Challenge == "" {
			// Not displayable; surface the raw bytes as hex so the user
			// can still read a TAN off another device.
			out.Challenge = hex.EncodeToString(req.ChallengeB)
		}
	}
	return out
}
