package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/scorelab/noveltyd/internal/extract"
	"github.com/scorelab/noveltyd/internal/novelty"
	"github.com/scorelab/noveltyd/internal/observability"
	"github.com/scorelab/noveltyd/internal/scoring"
	"github.com/scorelab/noveltyd/internal/store"
)

// DefaultMaxUploadBytes caps multipart document uploads.
const DefaultMaxUploadBytes = 32 << 20

// APIConfig holds API server configuration.
type APIConfig struct {
	ListenAddr     string // e.g. ":8000"
	Version        string
	MaxUploadBytes int64
}

// DefaultAPIConfig returns sensible defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		ListenAddr:     ":8000",
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
}

// APIServer is the novelty scoring HTTP server.
type APIServer struct {
	config    *APIConfig
	svc       *novelty.Service
	extractor extract.Extractor
	health    *HealthServer
	server    *http.Server
}

// NewAPIServer creates the API server. The health server is shared so
// component checks registered at startup show up under /api/health.
func NewAPIServer(config *APIConfig, svc *novelty.Service, extractor extract.Extractor, health *HealthServer) *APIServer {
	if config == nil {
		config = DefaultAPIConfig()
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if extractor == nil {
		extractor = extract.Passthrough{}
	}

	s := &APIServer{
		config:    config,
		svc:       svc,
		extractor: extractor,
		health:    health,
	}

	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/novelty-check", s.handleNoveltyCheck)
	mux.HandleFunc("/api/novelty", s.handleNovelty)
	mux.HandleFunc("/api/novelty/file", s.handleNoveltyFile)
	mux.HandleFunc("/api/ingest", s.handleIngest)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", observability.Metrics().Handler())
	mux.HandleFunc("/", s.handleRoot)

	// Wrap with CORS and logging middleware
	handler := corsMiddleware(loggingMiddleware(mux))

	s.server = &http.Server{
		Addr:         config.ListenAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the routed handler for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving the API.
func (s *APIServer) Start() error {
	slog.Info("Starting API server", "addr", s.config.ListenAddr, "mode", s.svc.Mode())
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	slog.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// Wire types

type noveltyCheckRequest struct {
	ApplicationNumber string `json:"application_number"`
	ExtractedText     string `json:"extracted_text"`
}

type similarProposal struct {
	ApplicationNumber    string  `json:"application_number"`
	SimilarityPercentage float64 `json:"similarity_percentage"`
}

type noveltyCheckResponse struct {
	ApplicationNumber     string            `json:"application_number"`
	NoveltyScore          float64           `json:"novelty_score"`
	TotalProposalsChecked int64             `json:"total_proposals_checked"`
	SimilarProposals      []similarProposal `json:"similar_proposals"`
}

type noveltyRequest struct {
	Text string `json:"text"`
}

type neighborResult struct {
	Key        string  `json:"key"`
	Similarity float64 `json:"similarity"`
}

type noveltyResponse struct {
	NoveltyScore          float64          `json:"novelty_score"`
	Interpretation        string           `json:"interpretation"`
	Description           string           `json:"description"`
	TotalProposalsChecked int64            `json:"total_proposals_checked"`
	Neighbors             []neighborResult `json:"neighbors"`
	Filename              string           `json:"filename,omitempty"`
}

type ingestRequest struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type ingestResponse struct {
	ID  int64  `json:"id"`
	Key string `json:"key"`
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// handleNoveltyCheck handles POST /api/novelty-check: check-and-remember
// keyed by application number, similarities reported as percentages.
func (s *APIServer) handleNoveltyCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req noveltyCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", "validate")
		return
	}

	report, err := s.svc.CheckAndStore(r.Context(), req.ApplicationNumber, req.ExtractedText)
	if err != nil {
		respondPipelineError(w, err)
		return
	}

	resp := noveltyCheckResponse{
		ApplicationNumber:     report.Key,
		NoveltyScore:          report.Score,
		TotalProposalsChecked: report.TotalChecked,
		SimilarProposals:      make([]similarProposal, 0, len(report.Neighbors)),
	}
	for _, n := range report.Neighbors {
		resp.SimilarProposals = append(resp.SimilarProposals, similarProposal{
			ApplicationNumber:    n.Key,
			SimilarityPercentage: scoring.Percentage(n.Similarity),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleNovelty handles POST /api/novelty: read-only check, similarities
// reported as 0-1 fractions.
func (s *APIServer) handleNovelty(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req noveltyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body", "validate")
		return
	}

	report, err := s.svc.Check(r.Context(), req.Text)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, buildNoveltyResponse(report, ""))
}

// handleNoveltyFile handles POST /api/novelty/file: multipart upload,
// extract, then read-only check.
func (s *APIServer) handleNoveltyFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename, text, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	report, err := s.svc.Check(r.Context(), text)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, buildNoveltyResponse(report, filename))
}

// handleIngest handles POST /api/ingest: persist without scoring. Accepts
// JSON {key, text} or a multipart upload with an optional key field.
func (s *APIServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var key, text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		filename, extracted, ok := s.readUpload(w, r)
		if !ok {
			return
		}
		key = r.FormValue("key")
		if key == "" && s.svc.Mode() == store.ModeUpsert {
			key = filename
		}
		text = extracted
	} else {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body", "validate")
			return
		}
		key, text = req.Key, req.Text
	}

	id, key, err := s.svc.Ingest(r.Context(), key, text)
	if err != nil {
		respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ingestResponse{ID: id, Key: key})
}

// handleHealth handles GET /api/health.
func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.health != nil {
		s.health.handleHealth(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRoot serves the service banner.
func (s *APIServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "noveltyd",
		"version": s.config.Version,
		"mode":    string(s.svc.Mode()),
		"endpoints": []string{
			"POST /api/novelty-check",
			"POST /api/novelty",
			"POST /api/novelty/file",
			"POST /api/ingest",
			"GET /api/health",
			"GET /metrics",
		},
	})
}

// readUpload pulls the uploaded document out of a multipart request and
// extracts its text. On failure it writes the error response itself and
// returns ok=false.
func (s *APIServer) readUpload(w http.ResponseWriter, r *http.Request) (filename, text string, ok bool) {
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error(), "validate")
		return "", "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing file field", "validate")
		return "", "", false
	}
	defer file.Close()

	format, err := extract.DetectFormat(header.Filename)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "extract")
		return "", "", false
	}

	data, err := io.ReadAll(io.LimitReader(file, s.config.MaxUploadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read upload: "+err.Error(), "validate")
		return "", "", false
	}

	ctx, span := observability.StartExtractSpan(r.Context(), string(format), len(data))
	text, err = s.extractor.Extract(ctx, data, format)
	if err != nil {
		observability.FailSpan(span, err)
		span.End()
		respondError(w, http.StatusBadRequest, err.Error(), "extract")
		return "", "", false
	}
	span.End()

	return header.Filename, text, true
}

func buildNoveltyResponse(report *novelty.Report, filename string) noveltyResponse {
	resp := noveltyResponse{
		NoveltyScore:          report.Score,
		Interpretation:        report.Interpretation,
		Description:           report.Description,
		TotalProposalsChecked: report.TotalChecked,
		Neighbors:             make([]neighborResult, 0, len(report.Neighbors)),
		Filename:              filename,
	}
	for _, n := range report.Neighbors {
		resp.Neighbors = append(resp.Neighbors, neighborResult{
			Key:        n.Key,
			Similarity: n.Similarity,
		})
	}
	return resp
}

// respondPipelineError maps a stage-tagged pipeline error to a status
// code: caller faults (validation, extraction) are 400, provider and
// store failures are 500.
func respondPipelineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if novelty.IsCallerFault(err) {
		status = http.StatusBadRequest
	}

	stage := ""
	var se *novelty.Error
	if errors.As(err, &se) {
		stage = string(se.Stage)
	}

	if status >= 500 {
		slog.Error("Pipeline request failed", "stage", stage, "error", err)
	}
	respondError(w, status, err.Error(), stage)
}

func respondError(w http.ResponseWriter, status int, msg, stage string) {
	respondJSON(w, status, errorResponse{Error: msg, Stage: stage})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// corsMiddleware adds CORS headers for browser clients
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests and feeds the request histogram
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		observability.Metrics().RecordHTTPRequest(time.Since(start))
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
