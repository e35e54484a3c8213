package api

import (
	"net/http"

	"github.com/user/gencanvas/internal/batch"
	"github.com/user/gencanvas/internal/orchestrator"
	"github.com/user/gencanvas/internal/types"
)

type resultResponse struct {
	*orchestrator.Result
	Error string `json:"error,omitempty"`
}

type generateRequest struct {
	Mode             orchestrator.Mode `json:"mode"`
	Overrides        overrideFields    `json:"overrides"`
	ReferenceImageID types.ImageID     `json:"reference_image_id"`
	AutoSelect       bool              `json:"auto_select"`
}

type continueRequest struct {
	ImageID   types.ImageID             `json:"image_id"`
	Mode      orchestrator.ContinueMode `json:"mode"`
	Overrides overrideFields            `json:"overrides"`
}

type restoreRequest struct {
	RevisionID types.RevisionID `json:"revision_id"`
	Generate   bool             `json:"generate"`
}

type batchRequest struct {
	NodeIDs     []types.NodeID    `json:"node_ids"`
	Concurrency int               `json:"concurrency"`
	Mode        orchestrator.Mode `json:"mode"`
}

// acquire takes a generation slot, answering 503 if the client gives up
// first.
func (s *Server) acquire(w http.ResponseWriter, r *http.Request) bool {
	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for a generation slot")
		return false
	}
	return true
}

func (s *Server) writeResult(w http.ResponseWriter, op string, res *orchestrator.Result, err error) {
	if err != nil {
		s.writeOpError(w, op, err)
		return
	}
	status := http.StatusOK
	if res.CallErr != nil {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resultResponse{Result: res, Error: res.CallError()})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Mode != "" && !req.Mode.Valid() {
		writeError(w, http.StatusBadRequest, "unknown mode")
		return
	}
	if !s.acquire(w, r) {
		return
	}
	defer s.sem.Release(1)

	res, err := s.orch.GenerateFromNode(r.Context(), nodeID(r), orchestrator.Options{
		Mode:             req.Mode,
		Overrides:        req.Overrides.overrides(),
		ReferenceImageID: req.ReferenceImageID,
		AutoSelect:       req.AutoSelect,
	})
	s.writeResult(w, "generate", res, err)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	var req continueRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ImageID == "" {
		writeError(w, http.StatusBadRequest, "image_id is required")
		return
	}
	switch req.Mode {
	case "", orchestrator.ContinueSingle, orchestrator.ContinueMulti:
	default:
		writeError(w, http.StatusBadRequest, "unknown continue mode")
		return
	}
	if !s.acquire(w, r) {
		return
	}
	defer s.sem.Release(1)

	res, err := s.orch.ContinueFromImage(r.Context(), nodeID(r), req.ImageID, req.Mode, req.Overrides.overrides())
	s.writeResult(w, "continue", res, err)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RevisionID == "" {
		writeError(w, http.StatusBadRequest, "revision_id is required")
		return
	}
	if req.Generate {
		if !s.acquire(w, r) {
			return
		}
		defer s.sem.Release(1)
	}

	res, err := s.orch.RestoreRevision(r.Context(), nodeID(r), req.RevisionID, req.Generate)
	if err != nil {
		s.writeOpError(w, "restore revision", err)
		return
	}
	if !req.Generate {
		n, _ := s.store.Node(nodeID(r))
		writeJSON(w, http.StatusOK, n)
		return
	}
	s.writeResult(w, "restore revision", res, nil)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.NodeIDs) == 0 {
		writeError(w, http.StatusBadRequest, "node_ids is required")
		return
	}
	sum, err := s.scheduler.Run(r.Context(), req.NodeIDs, batch.Options{
		Concurrency: req.Concurrency,
		Mode:        req.Mode,
	})
	if err != nil {
		s.writeOpError(w, "batch", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
