package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nexuscore/nexus/engine/audit"
	"github.com/nexuscore/nexus/engine/cognition"
	"github.com/nexuscore/nexus/engine/domain"
	"github.com/nexuscore/nexus/engine/graph"
	"github.com/nexuscore/nexus/engine/vector"
)

// recaller is the read-side of engine/vector this server depends on. Reranking
// and optional query rewriting both live inside Recall itself, so every
// caller gets them unconditionally rather than re-implementing the handoff.
type recaller interface {
	Recall(ctx context.Context, query string, k int, allowedScopes []string, useRewrite bool) ([]vector.Candidate, error)
}

// assembler is the subset of engine/cognition.Assembler this server needs.
type assembler interface {
	AssembleTopic(ctx context.Context, query string) (cognition.Artifact, error)
}

// graphWriter is the node-mutation surface the governed write endpoints use.
type graphWriter interface {
	PromoteIntent(ctx context.Context, id string, next graph.Lifecycle) (graph.Node, error)
	KillNode(ctx context.Context, id, reason, actor string) (graph.Node, error)
	SupersedeNode(ctx context.Context, oldID, newID, reason, actor string) error
	NodeCounts(ctx context.Context) (map[string]int64, error)
	RelationshipCounts(ctx context.Context) (map[string]int64, error)
	LifecycleCounts(ctx context.Context) (map[string]int64, error)
}

// runReader loads a persisted Source Run by id.
type runReader interface {
	GetRun(ctx context.Context, id string) (domain.SourceRun, error)
}

type apiServer struct {
	recaller  recaller
	assembler assembler
	graph     graphWriter
	runs      runReader
	auditLog  *audit.Logger
	logger    *slog.Logger
}

// handleRecall implements GET /recall?query&k&allowed_scopes&use_rewrite.
// Reranking always runs inside Recall; use_rewrite only controls whether the
// query text is first rewritten by the LLM query rewriter.
func (a *apiServer) handleRecall(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	k := 10
	if ks := q.Get("k"); ks != "" {
		if parsed, err := strconv.Atoi(ks); err == nil && parsed > 0 {
			k = parsed
		}
	}
	var allowedScopes []string
	if s := q.Get("allowed_scopes"); s != "" {
		allowedScopes = strings.Split(s, ",")
	}
	useRewrite := q.Get("use_rewrite") == "true" || q.Get("use_rewrite") == "1"

	candidates, err := a.recaller.Recall(r.Context(), query, k, allowedScopes, useRewrite)
	if err != nil {
		a.logger.Error("recall failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

// assembleRequest is the JSON body for POST /cognition/assemble.
type assembleRequest struct {
	Topic string `json:"topic"`
}

func (a *apiServer) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	artifact, err := a.assembler.AssembleTopic(r.Context(), req.Topic)
	if err != nil {
		a.logger.Error("assemble topic failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

type promoteRequest struct {
	ID        string `json:"id"`
	Lifecycle string `json:"lifecycle"`
}

// handlePromote implements POST /graph/node/promote. Repeating a promote
// into the node's current lifecycle is a no-op success, per the HTTP
// contract's idempotency requirement.
func (a *apiServer) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Lifecycle == "" {
		writeError(w, http.StatusBadRequest, "id and lifecycle are required")
		return
	}
	node, err := a.graph.PromoteIntent(r.Context(), req.ID, graph.Lifecycle(req.Lifecycle))
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type killRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (a *apiServer) handleKill(w http.ResponseWriter, r *http.Request) {
	var req killRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	node, err := a.graph.KillNode(r.Context(), req.ID, req.Reason, req.Actor)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type supersedeRequest struct {
	OldID  string `json:"old_id"`
	NewID  string `json:"new_id"`
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

func (a *apiServer) handleSupersede(w http.ResponseWriter, r *http.Request) {
	var req supersedeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OldID == "" || req.NewID == "" {
		writeError(w, http.StatusBadRequest, "old_id and new_id are required")
		return
	}
	if err := a.graph.SupersedeNode(r.Context(), req.OldID, req.NewID, req.Reason, req.Actor); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuditEvents implements GET /api/audit/events?event&component&run_id&offset&limit,
// filtering and paginating the audit log newest-first.
func (a *apiServer) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if ls := q.Get("limit"); ls != "" {
		if parsed, err := strconv.Atoi(ls); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	offset := 0
	if os := q.Get("offset"); os != "" {
		if parsed, err := strconv.Atoi(os); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	filter := audit.Filter{
		EventType: audit.EventType(q.Get("event")),
		Component: q.Get("component"),
		RunID:     q.Get("run_id"),
		Offset:    offset,
		Limit:     limit,
	}
	events, err := audit.Read(a.auditLog.Path(), filter)
	if err != nil {
		a.logger.Error("audit read failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *apiServer) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	run, err := a.runs.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// graphSnapshot is the payload for GET /api/graph/snapshot.
type graphSnapshot struct {
	NodesByType         map[string]int64 `json:"nodes_by_type"`
	RelationshipsByType map[string]int64 `json:"relationships_by_type"`
	IntentsByLifecycle  map[string]int64 `json:"intents_by_lifecycle"`
}

func (a *apiServer) handleGraphSnapshot(w http.ResponseWriter, r *http.Request) {
	nodeCounts, err := a.graph.NodeCounts(r.Context())
	if err != nil {
		a.logger.Error("node counts failed", "err", err)
		nodeCounts = map[string]int64{}
	}
	relCounts, err := a.graph.RelationshipCounts(r.Context())
	if err != nil {
		a.logger.Error("relationship counts failed", "err", err)
		relCounts = map[string]int64{}
	}
	lifecycleCounts, err := a.graph.LifecycleCounts(r.Context())
	if err != nil {
		a.logger.Error("lifecycle counts failed", "err", err)
		lifecycleCounts = map[string]int64{}
	}
	writeJSON(w, http.StatusOK, graphSnapshot{
		NodesByType:         nodeCounts,
		RelationshipsByType: relCounts,
		IntentsByLifecycle:  lifecycleCounts,
	})
}
