package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fintshub/fints-sync/pkg/db"
	"github.com/fintshub/fints-sync/pkg/reconcile"
)

// TransactionsHandler handles imported transaction endpoints.
type TransactionsHandler struct {
	txns    *db.Transactions
	matcher *reconcile.Matcher
}

// NewTransactionsHandler creates a new TransactionsHandler.
func NewTransactionsHandler(txns *db.Transactions, matcher *reconcile.Matcher) *TransactionsHandler {
	return &TransactionsHandler{txns: txns, matcher: matcher}
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListByConnection handles GET /api/v1/connections/{id}/transactions.
// Supports status, page and page_size query parameters.
func (h *TransactionsHandler) ListByConnection(w http.ResponseWriter, r *http.Request) {
	connID, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", db.StatusNew, db.StatusMatched, db.StatusImported, db.StatusIgnored:
	default:
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid status filter")
		return
	}

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	pageSize := defaultPageSize
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPageSize {
			pageSize = n
		}
	}

	rows, err := h.txns.ListByConnection(connID, status, pageSize, (page-1)*pageSize)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to list transactions")
		return
	}
	total, err := h.txns.CountByConnection(connID, status)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to count transactions")
		return
	}

	out := make([]transactionJSON, 0, len(rows))
	for i := range rows {
		out = append(out, toTransactionJSON(&rows[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": out,
		"page":         page,
		"pageSize":     pageSize,
		"total":        total,
	})
}

// DeleteAll handles DELETE /api/v1/connections/{id}/transactions. Requires
// confirm=true; this wipes every imported record of the connection so nothing
// blocks a clean re-sync.
func (h *TransactionsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	connID, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid connection ID")
		return
	}
	if r.URL.Query().Get("confirm") != "true" {
		writeJSONError(w, http.StatusBadRequest, "confirmation_required", "Pass confirm=true to delete all transactions")
		return
	}
	n, err := h.txns.DeleteAllForConnection(connID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to delete transactions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": n})
}

// AutoMatch handles POST /api/v1/transactions/{id}/automatch.
func (h *TransactionsHandler) AutoMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid transaction ID")
		return
	}
	invoiceID, matched, err := h.matcher.AutoMatch(id)
	if err != nil {
		h.writeMatcherError(w, err)
		return
	}
	if !matched {
		writeJSON(w, http.StatusOK, map[string]interface{}{"matched": false})
		return
	}
	if err := h.matcher.Match(id, invoiceID); err != nil {
		h.writeMatcherError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matched": true, "invoiceId": invoiceID})
}

type matchRequest struct {
	InvoiceID int64 `json:"invoiceId"`
}

// Match handles POST /api/v1/transactions/{id}/match.
func (h *TransactionsHandler) Match(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid transaction ID")
		return
	}
	var req matchRequest
	if err := decodeBody(r, &req); err != nil || req.InvoiceID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Missing invoiceId")
		return
	}
	if err := h.matcher.Match(id, req.InvoiceID); err != nil {
		h.writeMatcherError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matched": true, "invoiceId": req.InvoiceID})
}

// Unmatch handles POST /api/v1/transactions/{id}/unmatch.
func (h *TransactionsHandler) Unmatch(w http.ResponseWriter, r *http.Request) {
	h.simpleOp(w, r, h.matcher.Unmatch)
}

// Ignore handles POST /api/v1/transactions/{id}/ignore.
func (h *TransactionsHandler) Ignore(w http.ResponseWriter, r *http.Request) {
	h.simpleOp(w, r, h.matcher.Ignore)
}

// Unignore handles POST /api/v1/transactions/{id}/unignore.
func (h *TransactionsHandler) Unignore(w http.ResponseWriter, r *http.Request) {
	h.simpleOp(w, r, h.matcher.Unignore)
}

// Import handles POST /api/v1/transactions/{id}/import.
func (h *TransactionsHandler) Import(w http.ResponseWriter, r *http.Request) {
	h.simpleOp(w, r, h.matcher.ImportToLedger)
}

func (h *TransactionsHandler) simpleOp(w http.ResponseWriter, r *http.Request, op func(int64) error) {
	id, ok := idParam(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid transaction ID")
		return
	}
	if err := op(id); err != nil {
		h.writeMatcherError(w, err)
		return
	}
	txn, err := h.txns.Get(id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "Failed to reload transaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": toTransactionJSON(txn)})
}

func (h *TransactionsHandler) writeMatcherError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "Record not found")
		return
	}
	// Lifecycle conflicts (already matched, ignored) come back as plain
	// errors with a user-facing message.
	writeJSONError(w, http.StatusConflict, "conflict", err.Error())
}

// transactionJSON is the wire shape of an imported transaction.
type transactionJSON struct {
	ID               int64  `json:"id"`
	ConnectionID     int64  `json:"connectionId"`
	BookingDate      string `json:"bookingDate"`
	ValueDate        string `json:"valueDate,omitempty"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	CounterpartyName string `json:"counterpartyName,omitempty"`
	CounterpartyIBAN string `json:"counterpartyIban,omitempty"`
	Description      string `json:"description,omitempty"`
	BookingText      string `json:"bookingText,omitempty"`
	EndToEndID       string `json:"endToEndId,omitempty"`
	Status           string `json:"status"`
	InvoiceID        int64  `json:"invoiceId,omitempty"`
	ThirdPartyID     int64  `json:"thirdPartyId,omitempty"`
	BankLineID       int64  `json:"bankLineId,omitempty"`
}

func toTransactionJSON(t *db.ImportedTransaction) transactionJSON {
	out := transactionJSON{
		ID:               t.ID,
		ConnectionID:     t.ConnectionID,
		BookingDate:      t.BookingDate,
		Amount:           t.Amount,
		Currency:         t.Currency,
		CounterpartyName: t.CounterpartyName,
		CounterpartyIBAN: t.CounterpartyIBAN,
		Description:      t.Description,
		BookingText:      t.BookingText,
		EndToEndID:       t.EndToEndID,
		Status:           t.Status,
	}
	if t.ValueDate.Valid {
		out.ValueDate = t.ValueDate.String
	}
	if t.InvoiceID.Valid {
		out.InvoiceID = t.InvoiceID.Int64
	}
	if t.ThirdPartyID.Valid {
		out.ThirdPartyID = t.ThirdPartyID.Int64
	}
	if t.BankLineID.Valid {
		out.BankLineID = t.BankLineID.Int64
	}
	return out
}
