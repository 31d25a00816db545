package api

import (
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/usecase/bus"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := s.sim.Repo.Health(r.Context())
	status := http.StatusOK
	if !h.Reachable && !h.Degraded {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, h)
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Network.Nodes())
}

func (s *Server) listActiveNodes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sim.Network.ActiveNodes())
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.sim.Network.Node(model.NodeID(chi.URLParam(r, "nodeID")))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, node)
}

type updateNodeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (s *Server) updateNodeStatus(w http.ResponseWriter, r *http.Request) {
	var req updateNodeRequest
	if err := s.decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	id := model.NodeID(chi.URLParam(r, "nodeID"))
	node, err := s.sim.Network.UpdateNodeStatus(r.Context(), id, *req.Active)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if node == nil {
		respondError(w, r, goerr.Wrap(model.ErrNotFound, "node not found", goerr.V("node_id", id)))
		return
	}
	respondJSON(w, http.StatusOK, node)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := bus.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(w, r, goerr.New("limit must be a positive integer", goerr.V("limit", v)))
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, nonNil(s.sim.Bus.History(r.Context(), limit)))
}

type sendMessageRequest struct {
	From    model.NodeID      `json:"from" validate:"required"`
	To      model.NodeID      `json:"to" validate:"required"`
	Type    model.MessageType `json:"type" validate:"required,oneof=query response storage retrieval"`
	Content string            `json:"content"`
}

type sendMessageResponse struct {
	ID model.MessageID `json:"id"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := s.decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	id, err := s.sim.Bus.Send(r.Context(), req.From, req.To, req.Type, req.Content)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sendMessageResponse{ID: id})
}

// listContent returns every record, or only those whose metadata matches all
// query parameters when any are given. Parameter values are typed with
// queryValue.
func (s *Server) listContent(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if len(params) == 0 {
		respondJSON(w, http.StatusOK, nonNil(s.sim.Content.ListAll(r.Context())))
		return
	}

	query := make(map[string]any, len(params))
	for key := range params {
		query[key] = queryValue(params.Get(key))
	}
	respondJSON(w, http.StatusOK, nonNil(s.sim.Content.Search(r.Context(), query)))
}

type putContentRequest struct {
	Content  string         `json:"content" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

type putContentResponse struct {
	CID model.CID `json:"cid"`
}

func (s *Server) putContent(w http.ResponseWriter, r *http.Request) {
	var req putContentRequest
	if err := s.decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	cid, err := s.sim.Content.Put(r.Context(), req.Content, req.Metadata)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, putContentResponse{CID: cid})
}

func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sim.Content.Record(r.Context(), model.CID(chi.URLParam(r, "cid")))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteContent(w http.ResponseWriter, r *http.Request) {
	cid := model.CID(chi.URLParam(r, "cid"))
	existed, err := s.sim.Content.Delete(r.Context(), cid)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !existed {
		respondError(w, r, goerr.Wrap(model.ErrNotFound, "content not found", goerr.V("cid", cid)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateMetadataRequest struct {
	Metadata map[string]any `json:"metadata" validate:"required"`
}

func (s *Server) updateMetadata(w http.ResponseWriter, r *http.Request) {
	var req updateMetadataRequest
	if err := s.decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	cid := model.CID(chi.URLParam(r, "cid"))
	ok, err := s.sim.Content.UpdateMetadata(r.Context(), cid, req.Metadata)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !ok {
		respondError(w, r, goerr.Wrap(model.ErrNotFound, "content not found", goerr.V("cid", cid)))
		return
	}

	rec, err := s.sim.Content.Record(r.Context(), cid)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type queryRequest struct {
	Query string `json:"query" validate:"required"`
}

func (s *Server) processQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := s.decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	result, err := s.sim.Orchestrator.ProcessQuery(r.Context(), req.Query)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.sim.Reset(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, nodes)
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.services.Services())
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

// queryValue types a metadata query parameter the way JSON metadata decodes:
// "true" and "false" are booleans, numbers are float64, a double-quoted value
// is the string inside the quotes, and anything else is a plain string.
func queryValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	if s, err := strconv.Unquote(raw); err == nil && strings.HasPrefix(raw, `"`) {
		return s
	}
	return raw
}
