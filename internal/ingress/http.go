// Package ingress implements the REST ingress surface (C1, KindIngress):
// the five endpoints of spec.md §6 plus the supplemented operator
// status/buildinfo surface, all routed with gorilla/mux the way the
// teacher repository routes its own HTTP API
// (cmd/tempo/app/http_handler.go).
package ingress

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/testprobe/testprobe/internal/apperrors"
	"github.com/testprobe/testprobe/internal/blockstorage"
)

// Config bounds the REST ingress server.
type Config struct {
	Host           string        `yaml:"host,omitempty"`
	Port           int           `yaml:"port,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// DefaultConfig matches spec.md §6's implied defaults: bind on all
// interfaces, a generous per-request timeout.
func DefaultConfig() Config {
	return Config{Host: "0.0.0.0", Port: 8080, RequestTimeout: 30 * time.Second}
}

// QueueFacade is the subset of *queue.Queue the ingress handlers need.
// Kept as an interface so this package never imports queue, matching
// the assembly invariant that Ingress is wired last and depends only on
// the already-built ActorRuntime's exposed surface.
type QueueFacade interface {
	Initialize(testID string, directive blockstorage.Directive) error
	Start(testID string) error
	Cancel(testID string)
	GetStatus(testID string) (Status, bool)
	GetQueueStatus() QueueStatusView
}

// Status mirrors queue.Status without importing the queue package.
type Status struct {
	TestID string
	State  string
}

// QueueStatusView mirrors queue.QueueStatus.
type QueueStatusView struct {
	Depth    int
	InFlight int
}

// StatusReporter exposes the supplemented operator status surface
// (spec.md SPEC_FULL expansion): a state string per component, mirroring
// the teacher's writeStatusServices.
type StatusReporter interface {
	ServiceStates() map[string]string
}

// Server wraps a gorilla/mux router implementing every endpoint in
// spec.md §6's REST ingress table plus /status, /status/services, and
// /api/v1/buildinfo.
type Server struct {
	cfg      Config
	queue    QueueFacade
	status   StatusReporter
	buildInfo BuildInfo
	router   *mux.Router
}

// BuildInfo is the supplemented version/revision surface, mirroring
// cmd/tempo/build/build.go.
type BuildInfo struct {
	Version  string `json:"version"`
	Revision string `json:"revision"`
	Branch   string `json:"branch"`
}

// NewServer builds the router. It performs no network binding; that
// happens in Listen, called from the Ingress module's Initialize step
// so Validate can run with no side effects.
func NewServer(cfg Config, q QueueFacade, status StatusReporter, build BuildInfo) *Server {
	s := &Server{cfg: cfg, queue: q, status: status, buildInfo: build}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/api/v1/tests/initialize", s.handleInitialize).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/tests/start", s.handleStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/tests/{testId}/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/tests/{testId}", s.handleCancel).Methods(http.MethodDelete)
	s.router.HandleFunc("/api/v1/queue/status", s.handleQueueStatus).Methods(http.MethodGet)

	s.router.HandleFunc("/status", s.handleStatusPage).Methods(http.MethodGet)
	s.router.HandleFunc("/status/services", s.handleStatusPage).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/buildinfo", s.handleBuildInfo).Methods(http.MethodGet)
}

// Router exposes the underlying mux.Router, e.g. for Verify to probe
// readiness without a live network listener.
func (s *Server) Router() http.Handler { return s.router }

// Listen binds the configured host:port and starts serving in the
// background. Returns the bound listener so Verify can confirm it is
// live and Stop can close it during shutdown.
func (s *Server) Listen() (net.Listener, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: s.router, ReadTimeout: s.cfg.RequestTimeout, WriteTimeout: s.cfg.RequestTimeout}
	go func() { _ = srv.Serve(lis) }()
	return lis, nil
}

type initializeRequest struct {
	TestID              string `json:"testId"`
	FeatureFilesLocation string `json:"featureFilesLocation"`
	BucketName          string `json:"bucketName"`
}

type startRequest struct {
	TestID string `json:"testId"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if u, err := uuid.Parse(req.TestID); err != nil || u.Version() != 4 {
		writeFailure(w, http.StatusBadRequest, "testId must be a v4 UUID")
		return
	}

	directive := blockstorage.Directive{Bucket: req.BucketName, ObjectPath: req.FeatureFilesLocation}
	if err := s.queue.Initialize(req.TestID, directive); err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "InitializeTestSuccess", "testId": req.TestID})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.queue.Start(req.TestID); err != nil {
		writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "StartTestSuccess", "testId": req.TestID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	testID := mux.Vars(r)["testId"]
	status, ok := s.queue.GetStatus(testID)
	if !ok {
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("unknown testId %s", testID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "TestStatusSuccess", "status": status.State, "progress": status.State})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	testID := mux.Vars(r)["testId"]
	s.queue.Cancel(testID)
	writeJSON(w, http.StatusOK, map[string]any{"result": "TestCancelledSuccess", "testId": testID})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	qs := s.queue.GetQueueStatus()
	writeJSON(w, http.StatusOK, map[string]any{"result": "QueueStatusSuccess", "depth": qs.Depth, "inProgress": qs.InFlight})
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.status.ServiceStates())
}

func (s *Server) handleBuildInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.buildInfo)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]any{"result": "Failure", "reason": reason})
}

// writeQueueError maps the queue's apperrors kinds onto HTTP status
// codes without ever leaking their Go type names to the wire.
func writeQueueError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *apperrors.ValidationError:
		writeFailure(w, http.StatusBadRequest, err.Error())
	default:
		writeFailure(w, http.StatusInternalServerError, err.Error())
	}
}
