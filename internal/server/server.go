// Package server exposes the venue's outer surfaces: a gRPC endpoint
// with health and reflection services, and an HTTP/JSON API for
// queries, admin operations, metrics, and probes.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"perpvenue/internal/ingestion"
	"perpvenue/internal/observability"
	"perpvenue/internal/projection"
	"perpvenue/internal/query"
)

// Deps holds everything the servers need.
type Deps struct {
	Log      zerolog.Logger
	DB       *sql.DB
	Query    *query.Service
	Injector *ingestion.Injector
	Health   *observability.HealthChecker
}

// Server wraps the gRPC server and the HTTP API.
type Server struct {
	log        zerolog.Logger
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	deps       *Deps
}

func New(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	return &Server{
		log:        deps.Log,
		grpcServer: grpcServer,
		grpcAddr:   grpcAddr,
		httpAddr:   httpAddr,
		deps:       deps,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("grpc server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("grpc server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	if s.deps.Health != nil {
		mux.HandleFunc("/healthz", s.deps.Health.LivenessHandler)
		mux.HandleFunc("/readyz", s.deps.Health.ReadinessHandler)
	}

	mux.HandleFunc("GET /v1/accounts/{account}", s.handleGetAccount)
	mux.HandleFunc("GET /v1/funding", s.handleListFunding)
	mux.HandleFunc("GET /v1/trades", s.handleListTrades)
	mux.HandleFunc("GET /v1/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/integrity", s.handleVerifyIntegrity)

	mux.HandleFunc("POST /v1/admin/oracle-price", s.handleInjectOraclePrice)
	mux.HandleFunc("POST /v1/admin/pause", s.handleInjectPause)
	mux.HandleFunc("POST /v1/admin/params", s.handleInjectParam)
	mux.HandleFunc("POST /v1/admin/settlement", s.handleInjectSettlement)
	mux.HandleFunc("POST /v1/admin/rebuild-projections", s.handleRebuildProjections)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Query handlers ---

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account := r.PathValue("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}

	resp, err := s.deps.Query.GetAccount(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp == nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleListFunding(w http.ResponseWriter, r *http.Request) {
	limit, before := pagination(r)

	history, err := s.deps.Query.ListFundingHistory(r.Context(), limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"funding": history})
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	trader := r.URL.Query().Get("trader")
	if trader == "" {
		writeError(w, http.StatusBadRequest, "trader is required")
		return
	}
	limit, before := pagination(r)

	trades, err := s.deps.Query.ListTrades(r.Context(), trader, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"trades": trades})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	limit, before := pagination(r)

	events, err := s.deps.Query.ListEvents(r.Context(), account, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"events": events})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Query.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, report)
}

// --- Admin handlers ---

type oraclePriceRequest struct {
	Caller    string          `json:"caller"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

func (s *Server) handleInjectOraclePrice(w http.ResponseWriter, r *http.Request) {
	var req oraclePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Injector.InjectOraclePrice(r.Context(), req.Caller, req.Price, req.Timestamp); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"accepted": true})
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
	Tick   int64  `json:"tick"`
}

func (s *Server) handleInjectPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Injector.InjectPause(r.Context(), req.Caller, req.Paused, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"accepted": true})
}

type paramRequest struct {
	Caller string          `json:"caller"`
	Param  string          `json:"param"`
	Value  decimal.Decimal `json:"value"`
	Tick   int64           `json:"tick"`
}

func (s *Server) handleInjectParam(w http.ResponseWriter, r *http.Request) {
	var req paramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Injector.InjectSetParam(r.Context(), req.Caller, req.Param, req.Value, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"accepted": true})
}

type settlementRequest struct {
	Caller string          `json:"caller"`
	Price  decimal.Decimal `json:"price"`
	Tick   int64           `json:"tick"`
}

func (s *Server) handleInjectSettlement(w http.ResponseWriter, r *http.Request) {
	var req settlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.deps.Injector.InjectBeginSettlement(r.Context(), req.Caller, req.Price, req.Tick); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"accepted": true})
}

func (s *Server) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.Rebuild(r.Context(), s.deps.DB, s.log); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"rebuilt": true})
}

// --- helpers ---

func pagination(r *http.Request) (int, *int64) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			before = &n
		}
	}
	return limit, before
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
