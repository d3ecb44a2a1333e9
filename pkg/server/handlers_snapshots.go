package server

import (
	"net/http"

	"mercator-hq/keyweave/pkg/presets"
)

// SnapshotRequest is the body of POST /api/snapshots.
type SnapshotRequest struct {
	Description string `json:"description"`
}

// RollbackRequest is the body of POST /api/snapshots/{id}/rollback.
type RollbackRequest struct {
	Reason string `json:"reason,omitempty"`
}

// PresetRequest is the body of POST /api/presets. Omitted weights capture
// the current weights of every key.
type PresetRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Weights     map[string]int `json:"weights,omitempty"`
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Weights.Snapshots().List(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": list})
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req SnapshotRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		WriteError(w, r, err)
		return
	}
	snap, err := s.deps.Weights.Capture(r.Context(), a, req.Description)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Weights.Snapshots().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req RollbackRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.deps.Weights.Rollback(r.Context(), a, r.PathValue("id"), req.Reason)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) presetStore(w http.ResponseWriter, r *http.Request) (*presets.Store, bool) {
	store := s.deps.Weights.Presets()
	if store == nil {
		WriteError(w, r, badRequest("presets", "preset storage is not configured"))
		return nil, false
	}
	return store, true
}

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	store, ok := s.presetStore(w, r)
	if !ok {
		return
	}
	list, err := store.List(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": list})
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var req PresetRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		WriteError(w, r, err)
		return
	}
	p, err := s.deps.Weights.CreatePreset(r.Context(), a, req.Name, req.Description, req.Weights)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	store, ok := s.presetStore(w, r)
	if !ok {
		return
	}
	p, err := store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	store, ok := s.presetStore(w, r)
	if !ok {
		return
	}
	if err := store.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := s.deps.Weights.ApplyPreset(r.Context(), a, r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
