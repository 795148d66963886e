package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var errUnsupported = errors.New("not supported by the configured ledger backend")

// balanceLister is implemented by ledger backends that can enumerate the
// balances of an account.
type balanceLister interface {
	GetAllBalances(ctx context.Context, account string) ([]models.AccountBalance, error)
}

// historyReader is implemented by ledger backends that keep a per-account
// transaction journal.
type historyReader interface {
	GetTransactionHistory(ctx context.Context, account, asset string, limit, offset int) ([]models.Transaction, error)
}

// reconciler verifies a cached balance against the account journal.
type reconciler interface {
	ReconcileBalance(ctx context.Context, account, asset string) error
}

func (s *LedgerService) handleReconcile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ledger.(reconciler)
	if !ok {
		writeError(w, http.StatusNotImplemented, errUnsupported)
		return
	}
	account, asset := chi.URLParam(r, "account"), chi.URLParam(r, "asset")
	err := rec.ReconcileBalance(r.Context(), account, asset)
	if err != nil && !errors.Is(err, store.ErrInvariantViolation) {
		s.fail(w, "reconciliation", err)
		return
	}
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"account": account, "asset": asset, "consistent": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "asset": asset, "consistent": true})
}

func (s *LedgerService) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, asset := chi.URLParam(r, "account"), chi.URLParam(r, "asset")
	balance, err := s.ledger.Balance(r.Context(), asset, account)
	if err != nil {
		s.fail(w, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, models.AccountBalance{Account: account, Asset: asset, Balance: balance})
}

func (s *LedgerService) handleBalances(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.ledger.(balanceLister)
	if !ok {
		writeError(w, http.StatusNotImplemented, errUnsupported)
		return
	}
	balances, err := lister.GetAllBalances(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		s.fail(w, "balances", err)
		return
	}
	if balances == nil {
		balances = []models.AccountBalance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *LedgerService) handleTransactions(w http.ResponseWriter, r *http.Request) {
	reader, ok := s.ledger.(historyReader)
	if !ok {
		writeError(w, http.StatusNotImplemented, errUnsupported)
		return
	}
	limit, err := queryInt(r, "limit", defaultHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit = min(limit, maxHistoryLimit)

	history, err := reader.GetTransactionHistory(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "asset"), limit, offset)
	if err != nil {
		s.fail(w, "transaction history", err)
		return
	}
	if history == nil {
		history = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, history)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", store.ErrValidation, name)
	}
	return v, nil
}
