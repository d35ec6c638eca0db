package server

import (
	"fmt"
	"net/http"

	"github.com/liminalqa/liminal/internal/model"
)

// HandleIngestRun handles POST /ingest/run.
func (h *Handlers) HandleIngestRun(w http.ResponseWriter, r *http.Request) {
	var dto model.RunDTO
	if err := decodeJSON(w, r, &dto, h.bodyMaxBytes); err != nil {
		h.handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateRun(dto); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	runID, wasClosed, err := h.mgr.IngestRun(r.Context(), dto)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	if wasClosed {
		h.sink.IncLateIngest("/ingest/run")
	}

	writeJSON(w, r, http.StatusOK, model.RunResponse{RunID: runID})
}

// HandleIngestTests handles POST /ingest/tests.
func (h *Handlers) HandleIngestTests(w http.ResponseWriter, r *http.Request) {
	var req model.TestsRequest
	if err := decodeJSON(w, r, &req, h.bodyMaxBytes); err != nil {
		h.handleDecodeError(w, r, err)
		return
	}
	if req.RunID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id is required")
		return
	}
	if len(req.Tests) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "tests array must not be empty")
		return
	}
	for i, t := range req.Tests {
		if err := model.ValidateTest(t); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				fmt.Sprintf("tests[%d]: %v", i, err))
			return
		}
	}

	factIDs, wasClosed, err := h.mgr.IngestTests(r.Context(), req)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	h.recordTestMetrics(r, req.Tests, wasClosed, "/ingest/tests")
	writeJSON(w, r, http.StatusOK, model.TestsResponse{FactIDs: factIDs})
}

// HandleIngestSignals handles POST /ingest/signals.
func (h *Handlers) HandleIngestSignals(w http.ResponseWriter, r *http.Request) {
	var req model.SignalsRequest
	if err := decodeJSON(w, r, &req, h.bodyMaxBytes); err != nil {
		h.handleDecodeError(w, r, err)
		return
	}
	if req.RunID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id is required")
		return
	}
	if len(req.Signals) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "signals array must not be empty")
		return
	}
	for i, s := range req.Signals {
		if err := model.ValidateSignal(s); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				fmt.Sprintf("signals[%d]: %v", i, err))
			return
		}
	}

	signalIDs, _, wasClosed, err := h.mgr.IngestSignals(r.Context(), req)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	if wasClosed {
		h.sink.IncLateIngest("/ingest/signals")
	}

	writeJSON(w, r, http.StatusOK, model.SignalsResponse{SignalIDs: signalIDs})
}

// HandleIngestArtifacts handles POST /ingest/artifacts.
func (h *Handlers) HandleIngestArtifacts(w http.ResponseWriter, r *http.Request) {
	var req model.ArtifactsRequest
	if err := decodeJSON(w, r, &req, h.bodyMaxBytes); err != nil {
		h.handleDecodeError(w, r, err)
		return
	}
	if req.RunID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id is required")
		return
	}
	if len(req.Artifacts) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "artifacts array must not be empty")
		return
	}
	for i, a := range req.Artifacts {
		if err := model.ValidateArtifact(a); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				fmt.Sprintf("artifacts[%d]: %v", i, err))
			return
		}
	}

	artifactIDs, _, wasClosed, err := h.mgr.IngestArtifacts(r.Context(), req)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	if wasClosed {
		h.sink.IncLateIngest("/ingest/artifacts")
	}

	writeJSON(w, r, http.StatusOK, model.ArtifactsResponse{ArtifactIDs: artifactIDs})
}

// HandleIngestBatch handles POST /ingest/batch. The batch commits atomically;
// any invalid element rejects the whole payload before any write happens.
func (h *Handlers) HandleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req model.BatchRequest
	if err := decodeJSON(w, r, &req, h.batchMaxBytes); err != nil {
		h.handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateRun(req.Run); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run: "+err.Error())
		return
	}
	for i, t := range req.Tests {
		if err := model.ValidateTest(t); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				fmt.Sprintf("tests[%d]: %v", i, err))
			return
		}
	}
	for i, s := range req.Signals {
		if err := model.ValidateSignal(s); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				fmt.Sprintf("signals[%d]: %v", i, err))
			return
		}
	}
	for i, a := range req.Artifacts {
		if err := model.ValidateArtifact(a); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				fmt.Sprintf("artifacts[%d]: %v", i, err))
			return
		}
	}

	res, err := h.mgr.IngestBatch(r.Context(), req)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	h.recordTestMetrics(r, req.Tests, res.WasClosed, "/ingest/batch")
	writeJSON(w, r, http.StatusOK, model.BatchResponse{
		RunID: res.RunID,
		Counts: map[string]int{
			"tests":     len(res.FactIDs),
			"signals":   len(res.SignalIDs),
			"artifacts": len(res.ArtifactIDs),
		},
	})
}

// recordTestMetrics emits the per-status counters and duration histogram for
// an accepted set of tests, refreshes the open-facts gauge, and flags late
// data.
func (h *Handlers) recordTestMetrics(r *http.Request, tests []model.TestDTO, wasClosed bool, endpoint string) {
	var failures int64
	perStatus := make(map[model.TestStatus]int64)
	for _, t := range tests {
		perStatus[t.Status]++
		if t.Status.Failed() {
			failures++
		}
		if t.DurationMS != nil {
			h.sink.ObserveTestDuration(float64(*t.DurationMS) / 1000.0)
		}
	}
	for status, n := range perStatus {
		h.sink.IncTests(string(status), n)
	}
	if failures > 0 {
		h.sink.IncTestFailures(failures)
	}
	if wasClosed {
		h.sink.IncLateIngest(endpoint)
	}

	// Gauge refresh is best-effort; a failed count must not fail the ingest.
	if n, err := h.db.CountOpenFacts(r.Context()); err == nil {
		h.sink.SetActiveTests(n)
	}
}
