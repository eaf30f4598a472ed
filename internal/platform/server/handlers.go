package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/auth"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/idempotency"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/logger"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxBodyBytes         = 1 << 16

	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// LedgerHandler exposes the engine over JSON. Authentication happens in
// front of it; each route checks the caller's role.
type LedgerHandler struct {
	Engine      *ledger.Engine
	Idempotency *idempotency.Guard
	Audit       audit.Store
}

type routeFunc func(w http.ResponseWriter, r *http.Request, actor auth.Actor, params map[string]string)

func (h *LedgerHandler) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern string
		roles           []string
		fn              routeFunc
	}{
		{http.MethodPost, "/v1/accounts/{account_id}/deposits", []string{auth.RoleTeller}, h.deposit},
		{http.MethodPost, "/v1/withdrawals", []string{auth.RoleTeller}, h.withdraw},
		{http.MethodPost, "/v1/transfers", []string{auth.RoleCustomer}, h.initiateTransfer},
		{http.MethodGet, "/v1/transfers/{reference}", []string{auth.RoleCustomer}, h.getTransfer},
		{http.MethodPost, "/v1/transfers/{reference}/complete", []string{auth.RoleCustomer}, h.completeTransfer},
		{http.MethodPost, "/v1/cards/{card_id}/top-ups", []string{auth.RoleCustomer}, h.topUp},
		{http.MethodGet, "/v1/transactions", []string{auth.RoleCustomer}, h.listTransactions},
		{http.MethodGet, "/v1/accounts/{account_number}/statement", []string{auth.RoleCustomer}, h.statement},
		{http.MethodGet, "/v1/admin/audit", []string{auth.RoleAdmin}, h.listAudit},
		{http.MethodGet, "/v1/admin/audit/verify", []string{auth.RoleAdmin}, h.verifyAudit},
	}
	for _, rt := range routes {
		rt := rt
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			auth.RequireRole(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				actor, _ := auth.ActorFromContext(r.Context())
				rt.fn(w, r, actor, params)
			}), rt.roles...).ServeHTTP(w, r)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, codeInvalidRequestEnvelope, "malformed request body: "+err.Error())
		return false
	}
	return true
}

func parseUUID(w http.ResponseWriter, field, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeBadRequest(w, ledger.CodeInvalidArgument, field+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// runIdempotent executes op under the request's Idempotency-Key and writes
// either the fresh or the recorded response.
func (h *LedgerHandler) runIdempotent(w http.ResponseWriter, r *http.Request, actor auth.Actor, endpoint, hash string, status int, op func(ctx context.Context) (any, error)) {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" {
		writeBadRequest(w, codeIdempotencyKeyMissing, idempotencyKeyHeader+" header is required")
		return
	}
	req := idempotency.Request{Key: key, UserID: actor.ID, Endpoint: endpoint, RequestHash: hash}
	resp, replayed, err := h.Idempotency.Do(r.Context(), req, func(ctx context.Context) (idempotency.Response, error) {
		out, err := op(ctx)
		if err != nil {
			return idempotency.Response{}, err
		}
		body, err := json.Marshal(out)
		if err != nil {
			return idempotency.Response{}, err
		}
		return idempotency.Response{Code: status, Body: body}, nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if replayed {
		w.Header().Set(replayedHeader, "true")
		log := logger.FromContext(r.Context())
		log.Info().Str("endpoint", endpoint).Msg("replayed idempotent response")
	}
	w.WriteHeader(resp.Code)
	_, _ = w.Write(resp.Body)
}

func (h *LedgerHandler) deposit(w http.ResponseWriter, r *http.Request, actor auth.Actor, params map[string]string) {
	accountID, ok := parseUUID(w, "account_id", params["account_id"])
	if !ok {
		return
	}
	tellerID, ok := parseUUID(w, "actor", actor.ID)
	if !ok {
		return
	}
	var body depositBody
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := h.Engine.Deposit(r.Context(), ledger.DepositRequest{
		AccountID:   accountID,
		TellerID:    tellerID,
		Amount:      body.Amount,
		Description: body.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resultJSON{Transaction: toTransactionJSON(res.Transaction), Account: toAccountJSON(res.Account)})
}

func (h *LedgerHandler) withdraw(w http.ResponseWriter, r *http.Request, actor auth.Actor, _ map[string]string) {
	tellerID, ok := parseUUID(w, "actor", actor.ID)
	if !ok {
		return
	}
	var body withdrawBody
	if !decodeBody(w, r, &body) {
		return
	}
	hash := idempotency.HashRequest(body.AccountNumber, body.Username, body.Amount.String(), body.Description)
	h.runIdempotent(w, r, actor, idempotency.EndpointWithdraw, hash, http.StatusCreated, func(ctx context.Context) (any, error) {
		res, err := h.Engine.Withdraw(ctx, ledger.WithdrawRequest{
			AccountNumber: body.AccountNumber,
			Username:      body.Username,
			Amount:        body.Amount,
			Description:   body.Description,
			TellerID:      tellerID,
		})
		if err != nil {
			return nil, err
		}
		return resultJSON{Transaction: toTransactionJSON(res.Transaction), Account: toAccountJSON(res.Account)}, nil
	})
}

func (h *LedgerHandler) initiateTransfer(w http.ResponseWriter, r *http.Request, actor auth.Actor, _ map[string]string) {
	senderID, ok := parseUUID(w, "actor", actor.ID)
	if !ok {
		return
	}
	var body transferBody
	if !decodeBody(w, r, &body) {
		return
	}
	fromID, ok := parseUUID(w, "from_account_id", body.FromAccountID)
	if !ok {
		return
	}
	hash := idempotency.HashRequest(body.FromAccountID, body.ToAccountNumber, body.Amount.String(), body.Description)
	h.runIdempotent(w, r, actor, idempotency.EndpointTransferInitiate, hash, http.StatusAccepted, func(ctx context.Context) (any, error) {
		res, err := h.Engine.InitiateTransfer(ctx, ledger.TransferRequest{
			SenderID:              senderID,
			SenderAccountID:       fromID,
			ReceiverAccountNumber: body.ToAccountNumber,
			Amount:                body.Amount,
			Description:           body.Description,
			SecurityAnswer:        body.SecurityAnswer,
		})
		if err != nil {
			return nil, err
		}
		return toInitiateJSON(res), nil
	})
}

func (h *LedgerHandler) getTransfer(w http.ResponseWriter, r *http.Request, actor auth.Actor, params map[string]string) {
	userID, ok := parseUUID(w, "actor", actor.ID)
	if !ok {
		return
	}
	t, err := h.Engine.Transfer(r.Context(), userID, params["reference"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionJSON(t))
}

func (h *LedgerHandler) completeTransfer(w http.ResponseWriter, r *http.Request, actor auth.Actor, params map[string]string) {
	userID, ok := parseUUID(w, "actor", actor.ID)
	if !ok {
		return
	}
	var body completeBody
	if !decodeBody(w, r, &body) {
		return
	}
	reference := params["reference"]
	// Only the sender may complete; others see the transfer as absent.
	if _, err := h.Engine.Transfer(r.Context(), userID, reference); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.Engine.CompleteTransfer(r.Context(), reference, body.OTP)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completeJSON{Transaction: toTransactionJSON(res.Transaction), SenderAccount: toAccountJSON(res.Sender)})
}

func (h *LedgerHandler) topUp(w http.ResponseWriter, r *http.Request, actor auth.Actor, params map[string]string) {
	userID, ok := parseUUID(w, "actor", actor.ID)
	if !ok {
		return
	}
	cardID, ok := parseUUID(w, "card_id", params["card_id"])
	if !ok {
		return
	}
	var body topUpBody
	if !decodeBody(w, r, &body) {
		return
	}
	hash := idempotency.HashRequest(cardID.String(), body.AccountNumber, body.Amount.String(), body.Description)
	h.runIdempotent(w, r, actor, idempotency.EndpointTopUp, hash, http.StatusOK, func(ctx context.Context) (any, error) {
		res, err := h.Engine.TopUpCard(ctx, ledger.TopUpRequest{
			UserID:        userID,
			CardID:        cardID,
			AccountNumber: body.AccountNumber,
			Amount:        body.Amount,
			Description:   body.Description,
		})
		if err != nil {
			return nil, err
		}
		return toTopUpJSON(res), nil
	})
}

func (h *LedgerHandler) listTransactions(w http.ResponseWriter, r *http.Request, actor auth.Actor, _ map[string]string) {
	userID, ok := parseUUID(w, "actor", actor.ID)
	if !ok {
		return
	}
	f, err := parseHistoryFilter(r)
	if err != nil {
		writeBadRequest(w, ledger.CodeInvalidArgument, err.Error())
		return
	}
	page, err := h.Engine.ListTransactions(r.Context(), userID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := historyJSON{Transactions: make([]transactionJSON, 0, len(page.Transactions)), Total: page.Total, Skip: page.Skip, Limit: page.Limit}
	for _, t := range page.Transactions {
		out.Transactions = append(out.Transactions, toTransactionJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type queryError string

func (e queryError) Error() string { return string(e) }

func parseHistoryFilter(r *http.Request) (ledger.HistoryFilter, error) {
	q := r.URL.Query()
	var f ledger.HistoryFilter
	parseTime := func(name string) (*time.Time, error) {
		v := q.Get(name)
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, queryError(name + " must be RFC3339")
		}
		return &t, nil
	}
	parseAmount := func(name string) (*decimal.Decimal, error) {
		v := q.Get(name)
		if v == "" {
			return nil, nil
		}
		d, err := money.ParseAmount(v)
		if err != nil {
			return nil, queryError(name + ": " + err.Error())
		}
		return &d, nil
	}
	parseInt := func(name string) (int, error) {
		v := q.Get(name)
		if v == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, queryError(name + " must be a non-negative integer")
		}
		return n, nil
	}
	var err error
	if f.StartDate, err = parseTime("start_date"); err != nil {
		return f, err
	}
	if f.EndDate, err = parseTime("end_date"); err != nil {
		return f, err
	}
	if f.MinAmount, err = parseAmount("min_amount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = parseAmount("max_amount"); err != nil {
		return f, err
	}
	if f.Skip, err = parseInt("skip"); err != nil {
		return f, err
	}
	if f.Limit, err = parseInt("limit"); err != nil {
		return f, err
	}
	f.Type = ledger.TransactionType(q.Get("type"))
	f.Category = ledger.TransactionCategory(q.Get("category"))
	f.Status = ledger.TransactionStatus(q.Get("status"))
	return f, nil
}

func (h *LedgerHandler) statement(w http.ResponseWriter, r *http.Request, actor auth.Actor, params map[string]string) {
	userID, ok := parseUUID(w, "actor", actor.ID)
	if !ok {
		return
	}
	q := r.URL.Query()
	start, err1 := time.Parse(time.RFC3339, q.Get("start"))
	end, err2 := time.Parse(time.RFC3339, q.Get("end"))
	if err1 != nil || err2 != nil {
		writeBadRequest(w, ledger.CodeInvalidArgument, "start and end must be RFC3339 timestamps")
		return
	}
	st, err := h.Engine.Statement(r.Context(), userID, params["account_number"], start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatementJSON(st))
}

func (h *LedgerHandler) listAudit(w http.ResponseWriter, r *http.Request, _ auth.Actor, _ map[string]string) {
	if h.Audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []auditEventJSON{}})
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	events, err := h.Audit.List(r.Context(), audit.Filter{ObjectType: q.Get("object_type"), ObjectID: q.Get("object_id"), Limit: limit})
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]auditEventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, toAuditEventJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

type auditVerifyJSON struct {
	Verified bool   `json:"verified"`
	Events   int    `json:"events"`
	Error    string `json:"error,omitempty"`
}

// verifyAudit recomputes the hash chain over every stored event. A broken
// link is reported in the body, not as a request failure.
func (h *LedgerHandler) verifyAudit(w http.ResponseWriter, r *http.Request, _ auth.Actor, _ map[string]string) {
	walker, ok := h.Audit.(audit.Walker)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorBody{Code: ledger.CodeSystemError, Message: "audit store cannot be verified"})
		return
	}
	n, err := audit.VerifyStore(r.Context(), walker)
	switch {
	case errors.Is(err, audit.ErrCorruptChain):
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Int("verified", n).Msg("audit chain broken")
		writeJSON(w, http.StatusOK, auditVerifyJSON{Verified: false, Events: n, Error: err.Error()})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, auditVerifyJSON{Verified: true, Events: n})
	}
}
