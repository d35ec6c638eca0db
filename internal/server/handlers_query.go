package server

import (
	"net/http"
	"time"

	"github.com/liminalqa/liminal/internal/analytics"
	"github.com/liminalqa/liminal/internal/model"
)

// HandleQuery handles POST /query. The kind discriminator selects one of the
// five query shapes; every shape answers with {rows: [...]}.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req model.QueryRequest
	if err := decodeJSON(w, r, &req, h.bodyMaxBytes); err != nil {
		h.handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateQuery(req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	rows, err := h.runQuery(r, req)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.QueryResponse{Rows: rows})
}

func (h *Handlers) runQuery(r *http.Request, req model.QueryRequest) ([]any, error) {
	ctx := r.Context()

	switch req.Kind {
	case model.QueryCurrentTests:
		facts, err := h.mgr.CurrentTestFacts(ctx, req.RunID)
		if err != nil {
			return nil, err
		}
		return toRows(facts), nil

	case model.QueryTimeshift:
		facts, err := h.mgr.TimeshiftTestFacts(ctx, req.RunID, *req.ValidAt, req.TxAt)
		if err != nil {
			return nil, err
		}
		return toRows(facts), nil

	case model.QueryCausality:
		window := analytics.DefaultCausalityWindow
		if req.WindowSeconds != nil {
			window = time.Duration(*req.WindowSeconds) * time.Second
		}
		rows, err := h.queries.CausalityWalk(ctx, req.RunID, window)
		if err != nil {
			return nil, err
		}
		return toRows(rows), nil

	case model.QueryResonance:
		bucket := analytics.DefaultResonanceBucket
		if req.BucketSeconds != nil {
			bucket = time.Duration(*req.BucketSeconds) * time.Second
		}
		rows, err := h.queries.ResonanceMap(ctx, req.RunID, bucket)
		if err != nil {
			return nil, err
		}
		return toRows(rows), nil

	case model.QueryStability:
		lookback := analytics.DefaultLookbackRuns
		if req.LookbackRuns != nil {
			lookback = *req.LookbackRuns
		}
		res, err := h.queries.StabilityScore(ctx, req.TestName, lookback)
		if err != nil {
			return nil, err
		}
		return []any{res}, nil
	}

	// ValidateQuery already rejected unknown kinds.
	return nil, nil
}

// HandleFlakyTests handles GET /resonance/flaky: the detected instability
// patterns, strongest first.
func (h *Handlers) HandleFlakyTests(w http.ResponseWriter, r *http.Request) {
	resonances, err := h.queries.ListResonances(r.Context(), 100)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.QueryResponse{Rows: toRows(resonances)})
}

func toRows[T any](items []T) []any {
	rows := make([]any, len(items))
	for i, item := range items {
		rows[i] = item
	}
	return rows
}
