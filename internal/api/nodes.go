package api

import (
	"encoding/json"
	"net/http"

	"github.com/user/gencanvas/internal/graph"
	"github.com/user/gencanvas/internal/types"
)

// nodeFields is the JSON shape of an edit. Absent fields are left alone.
type nodeFields struct {
	Prompt      *string             `json:"prompt"`
	PromptParts *[]types.PromptPart `json:"prompt_parts"`
	Count       *int                `json:"count"`
	ImageSize   *types.ImageSize    `json:"image_size"`
	AspectRatio *types.AspectRatio  `json:"aspect_ratio"`
	Tags        *[]string           `json:"tags"`
	Notes       *string             `json:"notes"`
}

func (f nodeFields) patch() graph.Patch {
	return graph.Patch{
		Prompt:      f.Prompt,
		PromptParts: f.PromptParts,
		Count:       f.Count,
		ImageSize:   f.ImageSize,
		AspectRatio: f.AspectRatio,
		Tags:        f.Tags,
		Notes:       f.Notes,
	}
}

// overrideFields adds the fields only a branch or generation may replace.
type overrideFields struct {
	nodeFields
	BaseMode         *types.BaseMode `json:"generation_base_mode"`
	ReferenceImageID *types.ImageID  `json:"reference_image_id"`
}

func (f overrideFields) overrides() graph.Overrides {
	return graph.Overrides{
		Patch:            f.patch(),
		BaseMode:         f.BaseMode,
		ReferenceImageID: f.ReferenceImageID,
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func nodeID(r *http.Request) types.NodeID {
	return types.NodeID(r.PathValue("id"))
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req overrideFields
	if !decode(w, r, &req) {
		return
	}
	n := &types.Node{Count: 1}
	req.overrides().Apply(n)
	id := s.store.AddNode(n)
	created, _ := s.store.Node(id)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, ok := s.store.Node(nodeID(r))
	if !ok {
		writeError(w, http.StatusNotFound, graph.ErrNodeNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type editRequest struct {
	nodeFields
	Source types.RevisionSource `json:"source"`
}

func (s *Server) handleEditNode(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = types.RevisionManual
	}
	changed, err := s.store.CommitNodeEdit(nodeID(r), req.patch(), req.Source)
	if err != nil {
		s.writeOpError(w, "edit node", err)
		return
	}
	n, _ := s.store.Node(nodeID(r))
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed, "node": n})
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemoveNode(nodeID(r)); err != nil {
		s.writeOpError(w, "remove node", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	var req overrideFields
	if !decode(w, r, &req) {
		return
	}
	id, err := s.store.BranchNode(nodeID(r), req.overrides())
	if err != nil {
		s.writeOpError(w, "branch node", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]types.NodeID{"id": id})
}

func (s *Server) handleDuplicate(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.DuplicateNode(nodeID(r))
	if err != nil {
		s.writeOpError(w, "duplicate node", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]types.NodeID{"id": id})
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (s *Server) handleCollapse(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.store.SetCollapsed(nodeID(r), req.Value); err != nil {
		s.writeOpError(w, "collapse node", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	var req flagRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.store.SetFavorite(nodeID(r), req.Value); err != nil {
		s.writeOpError(w, "favorite node", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if err := s.store.SelectOnlyNode(nodeID(r)); err != nil {
		s.writeOpError(w, "select node", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImageFavorite(w http.ResponseWriter, r *http.Request) {
	if !s.store.ToggleImageFavorite(types.ImageID(r.PathValue("id"))) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
