package api

import (
	"fmt"
	"net/http"
	"sort"

	"grove-ledger-go/internal/harvest"
	"grove-ledger-go/internal/models"
	"grove-ledger-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GroveStatus is the reserve view of one grove asset.
type GroveStatus struct {
	Asset           models.GroveAsset     `json:"asset"`
	Reserve         models.ReserveState   `json:"reserve"`
	PendingHarvests int                   `json:"pending_harvests"`
	Distributions   []DistributionSummary `json:"distributions"`
}

type DistributionSummary struct {
	models.Distribution
	FailedPayouts int             `json:"failed_payouts"`
	Dust          decimal.Decimal `json:"dust"`
}

// PayoutEntry is a payout log entry with its derived status.
type PayoutEntry struct {
	models.HolderPayout
	State models.PayoutStatus `json:"status"`
}

func (s *LedgerService) workflow(r *http.Request) (*harvest.Workflow, error) {
	id := chi.URLParam(r, "assetId")
	w, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: grove asset %s", store.ErrNotFound, id)
	}
	return w, nil
}

func (s *LedgerService) handleListGroves(w http.ResponseWriter, _ *http.Request) {
	ids := lo.Keys(s.workflows)
	sort.Strings(ids)
	assets := lo.Map(ids, func(id string, _ int) models.GroveAsset { return s.workflows[id].Asset() })
	writeJSON(w, http.StatusOK, assets)
}

func (s *LedgerService) handleGrove(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflow(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	ctx := r.Context()
	rsv := wf.Reserve()

	pending, err := wf.PendingHarvests(ctx, 0)
	if err != nil {
		s.fail(w, "pending harvests", err)
		return
	}
	dists, err := rsv.Distributions(ctx)
	if err != nil {
		s.fail(w, "distributions", err)
		return
	}

	summaries := make([]DistributionSummary, 0, len(dists))
	for _, d := range dists {
		failed, err := rsv.FailedPayouts(ctx, d.Id)
		if err != nil {
			s.fail(w, "payout log", err)
			return
		}
		dust, err := rsv.Dust(ctx, d.Id)
		if err != nil {
			s.fail(w, "distribution dust", err)
			return
		}
		summaries = append(summaries, DistributionSummary{Distribution: d, FailedPayouts: len(failed), Dust: dust})
	}

	writeJSON(w, http.StatusOK, GroveStatus{
		Asset:           wf.Asset(),
		Reserve:         rsv.State(),
		PendingHarvests: len(pending),
		Distributions:   summaries,
	})
}

func (s *LedgerService) handleHarvests(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflow(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	harvests, err := wf.Harvests(r.Context())
	if err != nil {
		s.fail(w, "harvests", err)
		return
	}
	writeJSON(w, http.StatusOK, harvests)
}

func (s *LedgerService) handlePayouts(w http.ResponseWriter, r *http.Request) {
	wf, err := s.workflow(r)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	payouts, err := wf.Reserve().Payouts(r.Context(), chi.URLParam(r, "distributionId"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(payouts, func(p models.HolderPayout, _ int) PayoutEntry {
		return PayoutEntry{HolderPayout: p, State: p.Status()}
	}))
}

func (s *LedgerService) fail(w http.ResponseWriter, what string, err error) {
	zap.L().Error("Status query failed", zap.String("query", what), zap.Error(err))
	writeError(w, statusFor(err), fmt.Errorf("failed to load %s", what))
}
