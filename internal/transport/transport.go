// Package transport exposes a node's syncstate.Guard over HTTP: clients
// submit changes, peers push and pull full state, and operators inspect
// the operation log, history, and detected conflicts.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/crdtbase/kvsync/internal/auth"
	"github.com/crdtbase/kvsync/internal/conflict"
	"github.com/crdtbase/kvsync/internal/crdt"
	"github.com/crdtbase/kvsync/internal/monitoring"
	"github.com/crdtbase/kvsync/internal/signing"
	"github.com/crdtbase/kvsync/internal/syncstate"
	"github.com/crdtbase/kvsync/internal/tracing"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Guard is the slice of syncstate.Guard the HTTP surface depends on.
type Guard interface {
	ApplyChanges(ctx context.Context, changes []syncstate.Change) error
	Merge(ctx context.Context, other *syncstate.State) ([]crdt.TypeMismatchError, error)
	Snapshot() *syncstate.State
	StateHash() string
	ExportOpLog() []byte
}

// PeerClient pushes this node's state to another node's /merge endpoint,
// used by the one-shot POST /sync-peer route.
type PeerClient interface {
	PushState(ctx context.Context, peerURL string, state *syncstate.State) error
}

// Server wires a Guard behind gorilla/mux, with optional JWT auth and
// Ed25519 request-signature verification.
type Server struct {
	guard   Guard
	peers   PeerClient
	metrics *monitoring.Metrics
	logger  *zap.Logger
	router  *mux.Router
	signKey []byte // Ed25519 public key clients must sign ApplyChanges bodies with; nil disables the check
	authMW  *auth.Middleware
}

// Config controls which optional boundaries Server enforces.
type Config struct {
	Guard      Guard
	Peers      PeerClient
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
	AuthMW     *auth.Middleware // nil disables JWT auth
	SigningKey []byte           // nil disables signature verification on ApplyChanges
}

// NewServer builds a Server and registers its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		guard:   cfg.Guard,
		peers:   cfg.Peers,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		router:  mux.NewRouter(),
		signKey: cfg.SigningKey,
		authMW:  cfg.AuthMW,
	}
	s.routes()
	return s
}

// ServeHTTP satisfies http.Handler so a Server can be passed straight to
// http.Server.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	protect := func(h http.HandlerFunc) http.Handler {
		var handler http.Handler = h
		if s.authMW != nil {
			handler = s.authMW.Authenticate(handler)
		}
		return handler
	}

	s.router.Handle("/sync", protect(s.handleSync)).Methods(http.MethodPost)
	s.router.Handle("/sync-peer", protect(s.handleSyncPeer)).Methods(http.MethodPost)
	s.router.Handle("/merge", protect(s.handleMerge)).Methods(http.MethodPost)
	s.router.Handle("/state", protect(s.handleState)).Methods(http.MethodGet)
	s.router.Handle("/state-hash", protect(s.handleStateHash)).Methods(http.MethodGet)
	s.router.Handle("/oplog", protect(s.handleOpLog)).Methods(http.MethodGet)
	s.router.Handle("/history", protect(s.handleHistory)).Methods(http.MethodGet)
	s.router.Handle("/conflicts", protect(s.handleConflicts)).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

type syncRequest struct {
	Changes   []syncstate.Change `json:"changes"`
	Signature []byte             `json:"signature,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "transport.ApplyChanges")
	defer span.End()

	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req syncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if s.signKey != nil {
		payload, _ := json.Marshal(req.Changes)
		if !signing.Verify(s.signKey, payload, req.Signature) {
			writeError(w, http.StatusUnauthorized, errSignatureInvalid)
			return
		}
	}

	start := time.Now()
	err = s.guard.ApplyChanges(ctx, req.Changes)
	if s.metrics != nil {
		s.metrics.ApplyChangesLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.ErrorCount.Inc()
		}
		if s.logger != nil {
			s.logger.Warn("apply changes rejected", zap.Error(err))
		}
		writeError(w, http.StatusConflict, err)
		return
	}
	if s.metrics != nil {
		s.metrics.OpsApplied.Add(float64(len(req.Changes)))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

type syncPeerRequest struct {
	PeerURL string `json:"peer_url"`
}

func (s *Server) handleSyncPeer(w http.ResponseWriter, r *http.Request) {
	if s.peers == nil {
		writeError(w, http.StatusNotImplemented, errNoPeerClient)
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req syncPeerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snapshot := s.guard.Snapshot()
	if err := s.peers.PushState(r.Context(), req.PeerURL, snapshot); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "transport.Merge")
	defer span.End()

	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var other syncstate.State
	if err := json.Unmarshal(body, &other); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	mismatches, err := s.guard.Merge(ctx, &other)
	if s.metrics != nil {
		s.metrics.MergeLatency.Observe(time.Since(start).Seconds())
		s.metrics.MergesReceived.Inc()
		if len(mismatches) > 0 {
			s.metrics.TypeMismatches.Add(float64(len(mismatches)))
		}
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.ErrorCount.Inc()
		}
		if s.logger != nil {
			s.logger.Warn("merge failed", zap.Error(err))
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "merged",
		"mismatches": mismatches,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.guard.Snapshot())
}

func (s *Server) handleStateHash(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"hash": s.guard.StateHash()})
}

func (s *Server) handleOpLog(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(s.guard.ExportOpLog())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	type historyEntry struct {
		ID      string `json:"id"`
		Ts      int64  `json:"ts"`
		Summary string `json:"summary"`
	}
	entries := s.guard.Snapshot().ExportOpLog()
	history := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		history = append(history, historyEntry{ID: e.ID, Ts: e.Ts, Summary: string(e.Op.Type) + " " + e.Op.Key})
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	snapshot := s.guard.Snapshot()
	conflicts := conflict.Detect(snapshot.Log)
	if s.metrics != nil && len(conflicts) > 0 {
		s.metrics.ConflictsDetected.Add(float64(len(conflicts)))
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "timestamp": time.Now().UnixMilli()})
}
