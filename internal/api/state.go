package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/u3640877/transitive/internal/topics"
)

// rpcTimeout bounds API-initiated RPC calls; a lost response otherwise
// hangs the HTTP request until the write timeout.
const rpcTimeout = 30 * time.Second

// handleHealth reports liveness and version.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleGetState returns the value at a concrete topic.
//
// GET /v1/state?topic=/acme/r1/status
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic query parameter is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"topic": topic,
		"value": s.sync.Data.GetByTopic(topic),
	})
}

// handleFilterState returns the subtree matching a selector (wildcards
// honoured).
//
// GET /v1/state/filter?selector=/acme/+/status
func (s *Server) handleFilterState(w http.ResponseWriter, r *http.Request) {
	selector := r.URL.Query().Get("selector")
	if selector == "" {
		writeError(w, http.StatusBadRequest, "selector query parameter is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"selector": selector,
		"value":    s.sync.Data.FilterByTopic(selector),
	})
}

// putStateRequest is the body of PUT /v1/state.
type putStateRequest struct {
	Topic string `json:"topic"`
	Value any    `json:"value"`
}

// handlePutState writes a value into the cache as a local writer; the sync
// core publishes it if a published selector covers the topic.
func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	var req putStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	if len(topics.TopicToPath(req.Topic)) == 0 {
		writeError(w, http.StatusBadRequest, "topic must have at least one segment")
		return
	}

	changes := s.sync.Data.UpdateFromTopic(req.Topic, req.Value, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"changed": len(changes),
	})
}

// rpcRequest is the body of POST /v1/rpc.
type rpcRequest struct {
	Command string `json:"command"`
	Args    any    `json:"args"`
}

// handleRPC invokes a command over the broker and returns its result.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rpcTimeout)
	defer cancel()

	result, err := s.sync.CallContext(ctx, req.Command, req.Args)
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, "rpc call did not complete")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"result": result,
	})
}

// handleHistory returns recorded changes for a topic, newest first.
//
// GET /v1/history?topic=/acme/r1/status&limit=50
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history recording is disabled")
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic query parameter is required")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	entries, err := s.history.Query(r.Context(), topic, limit)
	if err != nil {
		s.logger.Error("history query failed", "topic", topic, "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}

	type entryJSON struct {
		Topic     string `json:"topic"`
		Value     any    `json:"value"`
		External  bool   `json:"external"`
		CreatedAt string `json:"created_at"`
	}
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON{
			Topic:     e.Topic,
			Value:     e.Value,
			External:  e.External,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
	})
}
