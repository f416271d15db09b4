package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/lacquerai/silhouette/internal/analysis"
	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/pkg/events"
)

// Config holds the server configuration
type Config struct {
	Host            string
	Port            int
	Concurrency     int
	Timeout         time.Duration
	EnableMetrics   bool
	EnableCORS      bool
	DataDir         string
	MaxBodyBytes    int64
	Settings        config.Settings
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Retention is how long finished analyses stay queryable.
	Retention time.Duration
}

const defaultMaxBodyBytes = 64 << 20

const (
	// DefaultRetention keeps finished analyses for an hour.
	DefaultRetention = time.Hour

	// maxStoredEvents bounds the replayable history of one analysis.
	maxStoredEvents = 256
)

var (
	// ErrAnalysisExists is returned when a run ID is already tracked.
	ErrAnalysisExists = errors.New("analysis already exists")

	// ErrAtCapacity is returned when the concurrency limit is reached.
	ErrAtCapacity = errors.New("server at capacity")
)

// DefaultConfig returns a default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		Concurrency:     5,
		Timeout:         30 * time.Minute,
		EnableMetrics:   true,
		EnableCORS:      true,
		MaxBodyBytes:    defaultMaxBodyBytes,
		Settings:        config.Default(),
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Retention:       DefaultRetention,
	}
}

// AnalysisStatus represents the status of an analysis run
type AnalysisStatus struct {
	RunID     string           `json:"run_id"`
	Source    string           `json:"source,omitempty"`
	Status    string           `json:"status"`
	StartTime time.Time        `json:"start_time"`
	EndTime   *time.Time       `json:"end_time,omitempty"`
	Duration  time.Duration    `json:"duration"`
	Rows      int              `json:"rows"`
	Error     string           `json:"error,omitempty"`
	Progress  []events.Event   `json:"progress,omitempty"`
	Result    *analysis.Report `json:"result,omitempty"`

	// WebSocket connections for streaming
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex

	cancel context.CancelFunc
}

// AnalysisSummary is the list form of an AnalysisStatus.
type AnalysisSummary struct {
	RunID     string        `json:"run_id"`
	Source    string        `json:"source,omitempty"`
	Status    string        `json:"status"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	Rows      int           `json:"rows"`
}

// StatusRunning is the status of an analysis that has not finished yet.
const StatusRunning = "running"

// AnalysisManager handles concurrent analyses
type AnalysisManager struct {
	analyses       map[string]*AnalysisStatus
	maxConcurrency int
	currentCount   int
	retention      time.Duration
	mu             sync.RWMutex

	// Metrics
	totalAnalyses    prometheus.Counter
	activeAnalyses   prometheus.Gauge
	rowsAnalysed     prometheus.Counter
	analysisDuration *prometheus.HistogramVec
	analysisStatus   *prometheus.CounterVec
}

// NewAnalysisManager creates a new analysis manager
func NewAnalysisManager(maxConcurrency int) *AnalysisManager {
	return NewAnalysisManagerWithRegistry(maxConcurrency, prometheus.DefaultRegisterer)
}

// NewAnalysisManagerWithRegistry creates a new analysis manager with a custom registry
func NewAnalysisManagerWithRegistry(maxConcurrency int, registerer prometheus.Registerer) *AnalysisManager {
	am := &AnalysisManager{
		analyses:       make(map[string]*AnalysisStatus),
		maxConcurrency: maxConcurrency,
		retention:      DefaultRetention,

		totalAnalyses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silq_analyses_total",
			Help: "Total number of analyses started",
		}),
		activeAnalyses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "silq_analyses_active",
			Help: "Number of currently running analyses",
		}),
		rowsAnalysed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "silq_rows_analysed_total",
			Help: "Total number of rows that received a coefficient",
		}),
		analysisDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "silq_analysis_duration_seconds",
			Help: "Analysis duration in seconds",
		}, []string{"status"}),
		analysisStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "silq_analysis_status_total",
			Help: "Total analyses by final status",
		}, []string{"status"}),
	}

	if registerer != nil {
		registerer.MustRegister(am.totalAnalyses)
		registerer.MustRegister(am.activeAnalyses)
		registerer.MustRegister(am.rowsAnalysed)
		registerer.MustRegister(am.analysisDuration)
		registerer.MustRegister(am.analysisStatus)
	}

	return am
}

// SetRetention sets how long finished analyses are kept. Zero or less keeps
// them until the server stops.
func (am *AnalysisManager) SetRetention(d time.Duration) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.retention = d
}

// pruneLocked drops analyses that finished longer than the retention ago.
// am.mu must be held for writing.
func (am *AnalysisManager) pruneLocked(now time.Time) {
	if am.retention <= 0 {
		return
	}
	for id, status := range am.analyses {
		if status.EndTime != nil && now.Sub(*status.EndTime) > am.retention {
			delete(am.analyses, id)
			log.Debug().Str("run_id", id).Msg("Evicted finished analysis")
		}
	}
}

// CanStartAnalysis checks if a new analysis can be started
func (am *AnalysisManager) CanStartAnalysis() bool {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.currentCount < am.maxConcurrency
}

// StartAnalysis starts tracking a new analysis. It fails with
// ErrAnalysisExists when the run ID is already tracked and with ErrAtCapacity
// when the manager is full.
func (am *AnalysisManager) StartAnalysis(runID, source string, rows int, cancel context.CancelFunc) (*AnalysisStatus, error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	am.pruneLocked(time.Now())

	if _, exists := am.analyses[runID]; exists {
		return nil, fmt.Errorf("analysis %q: %w", runID, ErrAnalysisExists)
	}
	if am.currentCount >= am.maxConcurrency {
		return nil, ErrAtCapacity
	}

	status := &AnalysisStatus{
		RunID:     runID,
		Source:    source,
		Status:    StatusRunning,
		StartTime: time.Now(),
		Rows:      rows,
		Progress:  make([]events.Event, 0),
		clients:   make(map[*websocket.Conn]bool),
		cancel:    cancel,
	}

	am.analyses[runID] = status
	am.currentCount++

	am.totalAnalyses.Inc()
	am.activeAnalyses.Inc()

	return status, nil
}

// FinishAnalysis records the outcome of an analysis and closes its streams.
func (am *AnalysisManager) FinishAnalysis(runID string, result *analysis.Result, err error) {
	am.mu.Lock()
	defer am.mu.Unlock()

	status, exists := am.analyses[runID]
	if !exists || status.Status != StatusRunning {
		return
	}

	now := time.Now()
	status.EndTime = &now
	status.Duration = now.Sub(status.StartTime)

	switch {
	case result != nil:
		status.Result = result.Report()
		status.Status = result.Status
		status.Error = result.Error
	case err != nil:
		status.Status = analysis.StatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status.Status = analysis.StatusCancelled
		}
		status.Error = err.Error()
	default:
		status.Status = analysis.StatusCompleted
	}

	if status.cancel != nil {
		status.cancel()
	}
	am.currentCount--

	am.activeAnalyses.Dec()
	am.analysisDuration.WithLabelValues(status.Status).Observe(status.Duration.Seconds())
	am.analysisStatus.WithLabelValues(status.Status).Inc()
	if status.Status == analysis.StatusCompleted {
		am.rowsAnalysed.Add(float64(status.Rows))
	}

	status.clientsMu.Lock()
	for client := range status.clients {
		client.Close()
	}
	status.clients = make(map[*websocket.Conn]bool)
	status.clientsMu.Unlock()
}

// CancelAnalysis stops a running analysis. It reports false for unknown or
// finished runs.
func (am *AnalysisManager) CancelAnalysis(runID string) bool {
	am.mu.RLock()
	defer am.mu.RUnlock()

	status, exists := am.analyses[runID]
	if !exists || status.Status != StatusRunning || status.cancel == nil {
		return false
	}
	status.cancel()
	return true
}

// GetAnalysis retrieves an analysis status
func (am *AnalysisManager) GetAnalysis(runID string) (*AnalysisStatus, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	status, exists := am.analyses[runID]
	return status, exists
}

// snapshot returns a copy of the status that is safe to encode.
func (am *AnalysisManager) snapshot(runID string) (AnalysisStatus, bool) {
	am.mu.RLock()
	defer am.mu.RUnlock()

	status, exists := am.analyses[runID]
	if !exists {
		return AnalysisStatus{}, false
	}

	out := AnalysisStatus{
		RunID:     status.RunID,
		Source:    status.Source,
		Status:    status.Status,
		StartTime: status.StartTime,
		EndTime:   status.EndTime,
		Duration:  status.Duration,
		Rows:      status.Rows,
		Error:     status.Error,
		Progress:  slices.Clone(status.Progress),
		Result:    status.Result,
	}
	if out.EndTime == nil {
		out.Duration = time.Since(status.StartTime)
	}
	return out, true
}

// ListAnalyses returns every tracked analysis, newest first.
func (am *AnalysisManager) ListAnalyses() []AnalysisSummary {
	am.mu.RLock()
	defer am.mu.RUnlock()

	out := make([]AnalysisSummary, 0, len(am.analyses))
	for _, status := range am.analyses {
		d := status.Duration
		if status.EndTime == nil {
			d = time.Since(status.StartTime)
		}
		out = append(out, AnalysisSummary{
			RunID:     status.RunID,
			Source:    status.Source,
			Status:    status.Status,
			StartTime: status.StartTime,
			Duration:  d,
			Rows:      status.Rows,
		})
	}

	slices.SortFunc(out, func(a, b AnalysisSummary) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return out
}

// AddProgressEvent adds a progress event to an analysis and broadcasts it to
// the streaming clients.
func (am *AnalysisManager) AddProgressEvent(runID string, event events.Event) {
	am.mu.Lock()
	status, exists := am.analyses[runID]
	if exists {
		status.Progress = storeEvent(status.Progress, event)
	}
	am.mu.Unlock()

	if !exists {
		return
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return
	}

	status.clientsMu.Lock()
	defer status.clientsMu.Unlock()
	for client := range status.clients {
		if err := client.WriteMessage(websocket.TextMessage, eventJSON); err != nil {
			client.Close()
			delete(status.clients, client)
		}
	}
}

// storeEvent adds event to the replayable history. Consecutive progress
// events of one phase collapse into the latest, and once the history is full
// only the final event of the run is still stored.
func storeEvent(history []events.Event, event events.Event) []events.Event {
	switch event.Type {
	case events.EventRowCompleted, events.EventPhaseProgress:
		if n := len(history); n > 0 && history[n-1].Type == event.Type && history[n-1].Phase == event.Phase {
			history[n-1] = event
			return history
		}
	case events.EventAnalysisCompleted, events.EventAnalysisFailed:
		return append(history, event)
	}

	if len(history) >= maxStoredEvents {
		return history
	}
	return append(history, event)
}

// subscribe registers a streaming client and replays the events recorded so
// far. It returns false when the analysis has already finished.
func (am *AnalysisManager) subscribe(status *AnalysisStatus, conn *websocket.Conn) bool {
	// lock order matches AddProgressEvent: manager first, then clients
	am.mu.RLock()
	progress := slices.Clone(status.Progress)
	running := status.Status == StatusRunning
	status.clientsMu.Lock()
	am.mu.RUnlock()
	defer status.clientsMu.Unlock()

	for _, event := range progress {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, eventJSON); err != nil {
			return false
		}
	}

	if running {
		status.clients[conn] = true
	}
	return running
}

func (am *AnalysisManager) unsubscribe(status *AnalysisStatus, conn *websocket.Conn) {
	status.clientsMu.Lock()
	delete(status.clients, conn)
	status.clientsMu.Unlock()
}

// GetActiveAnalyses returns the number of active analyses
func (am *AnalysisManager) GetActiveAnalyses() int {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return am.currentCount
}

// progressListener forwards the events of one run to the manager.
type progressListener struct {
	manager *AnalysisManager
	runID   string
}

func (l *progressListener) StartListening(progressChan <-chan events.Event) {
	for event := range progressChan {
		l.manager.AddProgressEvent(l.runID, event)
	}
}

func (l *progressListener) StopListening() {}

// Server represents the silq HTTP server
type Server struct {
	config   *Config
	manager  *AnalysisManager
	gatherer prometheus.Gatherer
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
}

// New creates a new silq server
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.DataDir != "" {
		info, err := os.Stat(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("data directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("data directory %s is not a directory", cfg.DataDir)
		}
	}

	return &Server{
		config:   cfg,
		gatherer: prometheus.DefaultGatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return cfg.EnableCORS
			},
		},
	}, nil
}

// initializeManager initializes the analysis manager if not already set
func (s *Server) initializeManager() {
	if s.manager == nil {
		s.manager = NewAnalysisManager(s.config.Concurrency)
		s.manager.SetRetention(s.config.Retention)
	}
}

// Handler builds the router serving the API, the health check and metrics.
func (s *Server) Handler() http.Handler {
	s.initializeManager()

	router := mux.NewRouter()

	if s.config.EnableCORS {
		router.Use(s.corsMiddleware)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/analyses", s.listAnalyses).Methods("GET")
	api.HandleFunc("/analyses", s.createAnalysis).Methods("POST")
	api.HandleFunc("/analyses/{runId}", s.getAnalysis).Methods("GET")
	api.HandleFunc("/analyses/{runId}", s.cancelAnalysis).Methods("DELETE")
	api.HandleFunc("/analyses/{runId}/stream", s.streamAnalysis).Methods("GET")
	api.HandleFunc("/methods", s.listMethods).Methods("GET")

	if s.config.EnableCORS {
		api.Methods("OPTIONS").HandlerFunc(s.handleOptions)
	}

	if s.config.EnableMetrics {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	router.HandleFunc("/health", s.healthCheck)

	return router
}

// Start starts the HTTP server in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Addr:         listener.Addr().String(),
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	log.Info().
		Str("addr", s.server.Addr).
		Int("concurrency", s.config.Concurrency).
		Bool("metrics", s.config.EnableMetrics).
		Str("data_dir", s.config.DataDir).
		Msg("Starting silq server")

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server stopped unexpectedly")
		}
	}()

	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Info().Msg("Shutting down server...")
	return s.server.Shutdown(ctx)
}

// StartWithGracefulShutdown starts the server and blocks until ctx is done or
// an interrupt signal arrives.
func (s *Server) StartWithGracefulShutdown(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info().Msg("Server shutdown complete")
	return nil
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// handleOptions handles CORS preflight requests
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
