package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/meridian/pkg/cluster"
	"github.com/cuemby/meridian/pkg/log"
	"github.com/cuemby/meridian/pkg/merr"
	"github.com/cuemby/meridian/pkg/metrics"
	"github.com/cuemby/meridian/pkg/txn"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/rs/zerolog"
)

// Server implements the JSON/HTTP external interface over a
// cluster.Supervisor: one handler per operation in the coordination
// design's §6 table, plus /health and /ready for operator and
// orchestrator probes.
type Server struct {
	sup    *cluster.Supervisor
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer builds a Server over sup and registers every route.
func NewServer(sup *cluster.Supervisor) *Server {
	s := &Server{sup: sup, mux: http.NewServeMux(), logger: log.WithComponent("api")}
	s.routes()
	return s
}

// Handler returns the http.Handler to mount, e.g. under an
// *http.Server.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server at addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.Handle("/metrics", metrics.Handler())

	s.mux.HandleFunc("/nodes/register", s.withMetrics("register_node", s.handleRegisterNode))
	s.mux.HandleFunc("/nodes/deregister", s.withMetrics("deregister_node", s.handleDeregisterNode))
	s.mux.HandleFunc("/nodes/heartbeat", s.withMetrics("heartbeat", s.handleHeartbeat))
	s.mux.HandleFunc("/log/submit", s.withMetrics("submit_command", s.handleSubmitCommand))
	s.mux.HandleFunc("/txn/begin", s.withMetrics("begin_transaction", s.handleBeginTransaction))
	s.mux.HandleFunc("/txn/add_participant", s.withMetrics("add_participant", s.handleAddParticipant))
	s.mux.HandleFunc("/txn/add_saga_step", s.withMetrics("add_saga_step", s.handleAddSagaStep))
	s.mux.HandleFunc("/txn/execute", s.withMetrics("execute_transaction", s.handleExecuteTransaction))
	s.mux.HandleFunc("/query/execute", s.withMetrics("execute_cross_shard", s.handleExecuteCrossShard))
	s.mux.HandleFunc("/metrics/resource_sample", s.withMetrics("update_resource_sample", s.handleUpdateResourceSample))
}

func (s *Server) withMetrics(op string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		status := "ok"
		if rec.status >= 400 {
			status = "error"
		}
		metrics.APIRequestsTotal.WithLabelValues(op, status).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, op)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// refreshComponentHealth samples each critical component before
// answering a health/readiness probe, so the response reflects this
// instant rather than whatever was last registered.
func (s *Server) refreshComponentHealth() {
	if s.sup.Consensus().IsLeader() || s.sup.Consensus().LeaderHint() != "" {
		metrics.RegisterComponent("consensus", true, "")
	} else {
		metrics.RegisterComponent("consensus", false, "no known leader")
	}

	if s.sup.Registry().Healthy() {
		metrics.RegisterComponent("registry", true, "")
	} else {
		metrics.RegisterComponent("registry", false, "majority of members unreachable")
	}

	metrics.RegisterComponent("api", true, "")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.refreshComponentHealth()
	metrics.HealthHandler()(w, r)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.refreshComponentHealth()
	metrics.ReadyHandler()(w, r)
}

type registerNodeRequest struct {
	NodeID types.NodeID `json:"node_id"`
	Addr   string       `json:"addr"`
	Port   int          `json:"port"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sup.AddNode(req.NodeID, req.Addr, req.Port); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

type nodeIDRequest struct {
	NodeID types.NodeID `json:"node_id"`
}

func (s *Server) handleDeregisterNode(w http.ResponseWriter, r *http.Request) {
	var req nodeIDRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sup.RemoveNode(req.NodeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req nodeIDRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sup.Heartbeat(req.NodeID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

type submitCommandRequest struct {
	Command string `json:"command"`
	Payload []byte `json:"payload"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req submitCommandRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	index, err := s.sup.SubmitCommand(req.Command, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"index": index})
}

type beginTransactionRequest struct {
	Kind         types.TxnKind     `json:"kind"`
	Participants []txn.Participant `json:"participants,omitempty"`
	Steps        []types.SagaStep  `json:"steps,omitempty"`
}

func (s *Server) handleBeginTransaction(w http.ResponseWriter, r *http.Request) {
	var req beginTransactionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	txnID, err := s.sup.BeginTransaction(req.Kind, req.Participants, req.Steps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.TxnID{"txn_id": txnID})
}

type addParticipantRequest struct {
	TxnID       types.TxnID     `json:"txn_id"`
	Participant txn.Participant `json:"participant"`
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req addParticipantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sup.AddParticipant(req.TxnID, req.Participant); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

type addSagaStepRequest struct {
	TxnID types.TxnID    `json:"txn_id"`
	Step  types.SagaStep `json:"step"`
}

func (s *Server) handleAddSagaStep(w http.ResponseWriter, r *http.Request) {
	var req addSagaStepRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sup.AddSagaStep(req.TxnID, req.Step); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse())
}

type executeTransactionRequest struct {
	TxnID types.TxnID `json:"txn_id"`
}

func (s *Server) handleExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	var req executeTransactionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	state, err := s.sup.ExecuteTransaction(req.TxnID)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"state": state, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]types.TxnState{"state": state})
}

type executeCrossShardRequest struct {
	Query    string          `json:"query"`
	ShardIDs []types.ShardID `json:"shard_ids,omitempty"`
}

func (s *Server) handleExecuteCrossShard(w http.ResponseWriter, r *http.Request) {
	var req executeCrossShardRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	results, err := s.sup.ExecuteCrossShardQuery(req.Query, req.ShardIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]types.ShardResult{"results": results})
}

func (s *Server) handleUpdateResourceSample(w http.ResponseWriter, r *http.Request) {
	var sample types.ResourceSample
	if err := decode(r, &sample); err != nil {
		writeError(w, err)
		return
	}
	s.sup.UpdateResourceSample(sample)
	writeJSON(w, http.StatusOK, okResponse())
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return merr.Wrap(merr.KindInvalidArgument, err, "malformed request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps a merr.Kind to the HTTP status an operator tool should
// expect; unrecognized errors default to 500.
func statusFor(err error) int {
	switch {
	case merr.Is(err, merr.KindNotFound):
		return http.StatusNotFound
	case merr.Is(err, merr.KindDuplicate):
		return http.StatusConflict
	case merr.Is(err, merr.KindNotLeader):
		return http.StatusTemporaryRedirect
	case merr.Is(err, merr.KindTimeout):
		return http.StatusGatewayTimeout
	case merr.Is(err, merr.KindInvalidArgument):
		return http.StatusBadRequest
	case merr.Is(err, merr.KindUnavailable):
		return http.StatusServiceUnavailable
	case merr.Is(err, merr.KindWrongState), merr.Is(err, merr.KindParticipantFailed), merr.Is(err, merr.KindCompensationFailed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func okResponse() map[string]string { return map[string]string{"status": "ok"} }
