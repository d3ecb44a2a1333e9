package server

import (
	"net/http"

	"mercator-hq/keyweave/pkg/optimizer"
	"mercator-hq/keyweave/pkg/weights"
)

// ApplyRequest is the body of POST /api/weights/apply.
type ApplyRequest struct {
	Strategy        string                     `json:"strategy,omitempty"`
	Recommendations []optimizer.Recommendation `json:"recommendations"`
}

// NormalizeRequest is the body of POST /api/weights/normalize.
type NormalizeRequest struct {
	TargetTotal int `json:"target_total"`
}

// DistributeRequest is the body of POST /api/weights/distribute.
type DistributeRequest struct {
	TotalWeight int `json:"total_weight"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Weights.Stats(r.Context()))
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Weights.Distribution(r.Context()))
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Weights.Analyze(r.Context()))
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Weights.Recommend(r.Context(), r.URL.Query().Get("strategy"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetKey(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var u weights.KeyUpdate
	if err := decodeJSON(w, r, &u, false); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.deps.Weights.SetKey(r.Context(), a, r.PathValue("id"), u)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req weights.BatchRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.deps.Weights.Batch(r.Context(), a, req)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRebalance runs the optimizer and applies what passes the
// auto-apply policy, unless dry_run is set.
func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	dryRun, err := queryBool(r, "dry_run")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.deps.Weights.Rebalance(r.Context(), a, r.URL.Query().Get("strategy"), dryRun)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req ApplyRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.deps.Weights.Apply(r.Context(), a, req.Strategy, req.Recommendations)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req NormalizeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.deps.Weights.Normalize(r.Context(), a, req.TargetTotal)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req DistributeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.deps.Weights.DistributeEvenly(r.Context(), a, req.TotalWeight)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": s.deps.Weights.Strategies()})
}
