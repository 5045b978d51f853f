// Package httpapi implements the §6 External Interfaces: the three HTTP
// endpoints the core exposes itself through (POST /, GET /health,
// POST /change_hc_version/:v), routed with github.com/gorilla/mux.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"chartexport/internal/apperror"
	"chartexport/internal/config"
	"chartexport/internal/export"
	"chartexport/internal/logging"
)

// Orchestrator is the subset of export.Orchestrator the handlers depend on,
// kept narrow so the handlers can be exercised against a fake in tests.
type Orchestrator interface {
	Export(ctx context.Context, req *export.RenderRequest) (*export.Artifact, error)
	UpdateVersion(ctx context.Context, v string) error
	Health() export.HealthReport
}

// Server wires the export core onto the §6 HTTP surface.
type Server struct {
	orch            Orchestrator
	policy          config.PolicyConfig
	adminToken      string
	maxRequestBytes int64
	development     bool
	log             *logging.Logger
	startedAt       time.Time
}

// NewServer constructs a Server bound to an already-initialized orchestrator.
// maxRequestBytes <= 0 leaves the request body unbounded. When development
// is true, surfaced errors get a "stack" field holding the error's %+v text;
// no call stack is captured, so that field repeats the error message.
func NewServer(orch Orchestrator, policy config.PolicyConfig, adminToken string, maxRequestBytes int64, development bool, log *logging.Logger) *Server {
	return &Server{orch: orch, policy: policy, adminToken: adminToken, maxRequestBytes: maxRequestBytes, development: development, log: log, startedAt: time.Now()}
}

// Router builds the gorilla/mux router wiring the three §6 endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.ExportHandler).Methods(http.MethodPost)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/change_hc_version/{version}", s.ChangeVersionHandler).Methods(http.MethodPost)
	r.Handle("/metrics", export.Handler()).Methods(http.MethodGet)
	return r
}

// errorBody is the §7 surfaced-error wire shape: {code, message, requestId}.
type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
	Stack     string `json:"stack,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error, requestID string, development bool) {
	code := apperror.Code(err)
	status := apperror.HTTPStatus(code)

	body := errorBody{Code: string(code), Message: err.Error(), RequestID: requestID}
	if development {
		body.Stack = fmt.Sprintf("%+v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ExportHandler implements `POST /`, §6: decode the request (JSON or
// multipart), build a RenderRequest, run it through the orchestrator, and
// write the artifact bytes (or their base64 form when `b64=true`).
func (s *Server) ExportHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	if s.maxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	}

	wire, err := decodeWireRequest(r)
	if err != nil {
		s.writeError(w, apperror.NewWithField(apperror.CodeConfigInvalid, err.Error(), "body"), requestID, s.development)
		return
	}

	req, err := buildRenderRequest(wire, s.policy)
	if err != nil {
		s.writeError(w, apperror.NewWithField(apperror.CodeConfigInvalid, err.Error(), "request"), requestID, s.development)
		return
	}
	req.RequestID = requestID

	artifact, err := s.orch.Export(r.Context(), req)
	if err != nil {
		if s.log != nil {
			s.log.Error("export: request failed", "request_id", requestID, "error", err)
		}
		s.writeError(w, err, requestID, s.development)
		return
	}

	wantB64 := parseBool(wire.b64)
	noDownload := parseBool(wire.noDownload)

	w.Header().Set("Content-Type", artifact.MIME)
	if !noDownload {
		filename := "chart" + artifact.Format.Extension()
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}

	if wantB64 {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(base64.StdEncoding.EncodeToString(artifact.Bytes)))
		return
	}
	_, _ = w.Write(artifact.Bytes)
}

// HealthHandler implements `GET /health`, §6.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	report := s.orch.Health()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

type changeVersionResponse struct {
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ChangeVersionHandler implements `POST /change_hc_version/:v`, §6: gated
// by a shared-secret `hc-auth` header, it invokes Cache.UpdateVersion(v)
// through the orchestrator.
func (s *Server) ChangeVersionHandler(w http.ResponseWriter, r *http.Request) {
	if s.adminToken == "" || r.Header.Get("hc-auth") != s.adminToken {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(changeVersionResponse{Error: "unauthorized", Message: "missing or invalid hc-auth header"})
		return
	}

	version := mux.Vars(r)["version"]
	if err := s.orch.UpdateVersion(r.Context(), version); err != nil {
		code := apperror.Code(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apperror.HTTPStatus(code))
		_ = json.NewEncoder(w).Encode(changeVersionResponse{Error: string(code), Message: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(changeVersionResponse{Version: version})
}
