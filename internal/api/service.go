/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"grove-ledger-go/internal/harvest"
	"grove-ledger-go/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// HealthChecker reports whether the backing database answers.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// LedgerService serves a read-only view of grove reserves, harvests and
// ledger balances.
type LedgerService struct {
	db        HealthChecker
	ledger    store.TransferPort
	workflows map[string]*harvest.Workflow
	router    http.Handler
}

func NewLedgerService(db HealthChecker, ledger store.TransferPort, workflows ...*harvest.Workflow) *LedgerService {
	s := &LedgerService{
		db:        db,
		ledger:    ledger,
		workflows: make(map[string]*harvest.Workflow, len(workflows)),
	}
	for _, w := range workflows {
		s.workflows[w.Asset().Id] = w
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *LedgerService) Handler() http.Handler {
	return s.router
}

func (s *LedgerService) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/groves", func(gr chi.Router) {
		gr.Get("/", s.handleListGroves)
		gr.Get("/{assetId}", s.handleGrove)
		gr.Get("/{assetId}/harvests", s.handleHarvests)
		gr.Get("/{assetId}/distributions/{distributionId}/payouts", s.handlePayouts)
	})
	r.Route("/accounts/{account}", func(ar chi.Router) {
		ar.Get("/balances", s.handleBalances)
		ar.Get("/balances/{asset}", s.handleBalance)
		ar.Get("/balances/{asset}/reconcile", s.handleReconcile)
		ar.Get("/transactions/{asset}", s.handleTransactions)
	})
	return r
}

func (s *LedgerService) HealthCheck(ctx context.Context) error {
	if err := s.db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func (s *LedgerService) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.HealthCheck(r.Context()); err != nil {
		zap.L().Warn("Health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvariantViolation):
		return http.StatusConflict
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
