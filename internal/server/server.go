package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zgpcy/azure-billing-collector/internal/collector"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/version"
)

//go:embed templates/index.html
var indexTemplate string

var indexPage = template.Must(template.New("index").Parse(indexTemplate))

// HTTP server timeout constants
const (
	DefaultReadTimeout  = 15 * time.Second // Maximum duration for reading the entire request
	DefaultWriteTimeout = 15 * time.Second // Maximum duration before timing out writes of the response
	DefaultIdleTimeout  = 60 * time.Second // Maximum amount of time to wait for the next request
)

// indexPageData holds template data for the index page
type indexPageData struct {
	StatusClass     string
	StatusText      string
	LastRun         string
	LastError       string
	RecordCount     int
	RefreshInterval int
	CostMetric      string
	CollectMode     string
	CollectScope    string
	Version         string
}

// Server represents the HTTP server
type Server struct {
	server    *http.Server
	collector *collector.CostCollector
	cfg       *config.Config
	logger    *logger.Logger
}

// NewServer creates a new HTTP server. Metrics are served from gatherer,
// or from the default Prometheus registry when gatherer is nil.
func NewServer(cfg *config.Config, collector *collector.CostCollector, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = logger.Discard()
	}

	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      mux,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		collector: collector,
		cfg:       cfg,
		logger:    log,
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

// Handler returns the server's request router
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// handleIndex serves a simple landing page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	statusClass := "not-ready"
	statusText := "Not Ready"
	if s.collector.IsReady() {
		statusClass = "ready"
		statusText = "Ready"
	}

	lastRun := s.collector.LastRunTime()
	lastRunText := "Never"
	if !lastRun.IsZero() {
		lastRunText = lastRun.Format("2006-01-02 15:04:05 MST")
	}

	lastError := ""
	if err := s.collector.LastError(); err != nil {
		lastError = err.Error()
	}

	data := indexPageData{
		StatusClass:     statusClass,
		StatusText:      statusText,
		LastRun:         lastRunText,
		LastError:       lastError,
		RecordCount:     s.collector.RecordCount(),
		RefreshInterval: s.cfg.RefreshInterval,
		CostMetric:      s.cfg.Options.CostMetric,
		CollectMode:     s.cfg.Options.CollectMode,
		CollectScope:    s.cfg.TaskOptions.CollectScope,
		Version:         version.Version,
	}

	w.Header().Set("Content-Type", "text/html")
	if err := indexPage.Execute(w, data); err != nil {
		s.logger.Error("Failed to execute index template", "error", err)
	}
}

// handleHealth handles health check requests (always returns 200 for liveness)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady returns 200 only once a collection has completed and the last run succeeded
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.collector.IsReady() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not ready",
			"message": "waiting for initial collection",
		})
		return
	}

	if err := s.collector.LastError(); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to write response", "status", status, "error", err)
	}
}
