package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/lacquerai/silhouette/internal/analysis"
	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/internal/dataset"
	"github.com/lacquerai/silhouette/internal/distance"
)

// analysisRequest is the body of POST /api/v1/analyses. Exactly one of Source
// and Dataset must be set.
type analysisRequest struct {
	RunID   string            `json:"run_id,omitempty"`
	Source  string            `json:"source,omitempty"`
	Dataset *dataset.Document `json:"dataset,omitempty"`
	// Settings are applied over the server defaults.
	Settings json.RawMessage `json:"settings,omitempty"`
}

// HTTP Handlers

// createAnalysis validates a request and starts the analysis in the background
func (s *Server) createAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest

	limit := s.config.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	if err := decoder.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if (req.Source == "") == (req.Dataset == nil) {
		http.Error(w, "Exactly one of 'source' and 'dataset' is required", http.StatusBadRequest)
		return
	}

	settings := cloneSettings(s.config.Settings)
	if len(req.Settings) > 0 {
		if err := json.Unmarshal(req.Settings, &settings); err != nil {
			http.Error(w, fmt.Sprintf("Invalid settings: %v", err), http.StatusBadRequest)
			return
		}
	}

	if settings.Matrix != "" {
		path, err := s.dataPath(settings.Matrix)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		settings.Matrix = path
	}

	table, err := s.loadTable(req, settings)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, vr := settings.Resolve(table); vr.HasErrors() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(formatValidationErrors(vr))
		return
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	// use background context as hanging off the request context
	// will cause the context to be cancelled when the request is finished.
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.config.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	status, err := s.manager.StartAnalysis(runID, req.Source, table.Len(), cancel)
	if err != nil {
		cancel()
		if errors.Is(err, ErrAnalysisExists) {
			http.Error(w, fmt.Sprintf("Analysis '%s' already exists", runID), http.StatusConflict)
			return
		}
		http.Error(w, "Server at capacity, try again later", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"run_id":     runID,
		"status":     StatusRunning,
		"rows":       table.Len(),
		"started_at": status.StartTime,
	})

	go s.runAnalysis(ctx, analysis.Request{
		RunID:    runID,
		Source:   req.Source,
		Table:    table,
		Settings: settings,
	})
}

// runAnalysis executes an analysis in the background
func (s *Server) runAnalysis(ctx context.Context, req analysis.Request) {
	runner := analysis.NewRunner(analysis.WithListener(&progressListener{
		manager: s.manager,
		runID:   req.RunID,
	}))

	result, err := runner.Run(ctx, req)
	s.manager.FinishAnalysis(req.RunID, result, err)

	log.Info().
		Str("run_id", req.RunID).
		Str("source", req.Source).
		Err(err).
		Msg("Analysis finished")
}

// cloneSettings copies the reference fields so decoding a request cannot
// write into the server defaults.
func cloneSettings(in config.Settings) config.Settings {
	out := in
	out.Include = slices.Clone(in.Include)
	out.Exclude = slices.Clone(in.Exclude)
	out.Missing = slices.Clone(in.Missing)
	if in.LabelIndex != nil {
		idx := *in.LabelIndex
		out.LabelIndex = &idx
	}
	return out
}

// loadTable returns the dataset of a request, reading file sources from the
// data directory.
func (s *Server) loadTable(req analysisRequest, settings config.Settings) (*dataset.Table, error) {
	if req.Dataset != nil {
		table, err := req.Dataset.Table()
		if err != nil {
			return nil, fmt.Errorf("invalid dataset: %w", err)
		}
		return table, nil
	}

	path, err := s.dataPath(req.Source)
	if err != nil {
		return nil, err
	}

	table, err := dataset.LoadFile(path, settings.Missing...)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", req.Source, err)
	}
	return table, nil
}

// dataPath resolves a client supplied file name inside the data directory.
func (s *Server) dataPath(name string) (string, error) {
	if s.config.DataDir == "" {
		return "", errors.New("file sources are disabled, start the server with --data-dir")
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%q is not a path inside the data directory", name)
	}

	path := filepath.Join(s.config.DataDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%q not found in the data directory", name)
	}
	return path, nil
}

// listAnalyses returns every tracked analysis
func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"analyses": s.manager.ListAnalyses(),
	})
}

// getAnalysis returns the status of a specific analysis
func (s *Server) getAnalysis(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	status, exists := s.manager.snapshot(runID)
	if !exists {
		http.Error(w, fmt.Sprintf("Analysis '%s' not found", runID), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// cancelAnalysis stops a running analysis
func (s *Server) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	if _, exists := s.manager.GetAnalysis(runID); !exists {
		http.Error(w, fmt.Sprintf("Analysis '%s' not found", runID), http.StatusNotFound)
		return
	}

	if !s.manager.CancelAnalysis(runID) {
		http.Error(w, fmt.Sprintf("Analysis '%s' is not running", runID), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"run_id": runID,
		"status": "cancelling",
	})
}

// streamAnalysis provides WebSocket streaming of analysis events. Events
// recorded before the client connected are replayed first.
func (s *Server) streamAnalysis(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["runId"]

	status, exists := s.manager.GetAnalysis(runID)
	if !exists {
		http.Error(w, fmt.Sprintf("Analysis '%s' not found", runID), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	if !s.manager.subscribe(status, conn) {
		return
	}
	defer s.manager.unsubscribe(status, conn)

	// the manager closes the connection when the analysis finishes
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// listMethods returns the supported string distances
func (s *Server) listMethods(w http.ResponseWriter, r *http.Request) {
	methods := make([]string, 0, len(distance.Methods()))
	for _, m := range distance.Methods() {
		methods = append(methods, m.String())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"methods": methods,
		"default": distance.Levenshtein.String(),
		"distances": []string{
			config.DistancePrecomputed,
			config.DistanceOnTheFly,
		},
	})
}

// healthCheck returns server health status
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":           "healthy",
		"active_analyses":  s.manager.GetActiveAnalyses(),
		"concurrency":      s.config.Concurrency,
		"file_sources":     s.config.DataDir != "",
		"timestamp":        time.Now(),
		"default_settings": s.config.Settings,
	})
}

// formatValidationErrors formats validation errors for HTTP response
func formatValidationErrors(result *config.ValidationResult) map[string]any {
	details := make([]map[string]any, len(result.Errors))

	for i, err := range result.Errors {
		details[i] = map[string]any{
			"field":   err.Field,
			"message": err.Message,
		}
		if err.Value != nil {
			details[i]["value"] = err.Value
		}
	}

	response := map[string]any{
		"error":   "Configuration validation failed",
		"details": details,
	}
	if len(result.Warnings) > 0 {
		response["warnings"] = result.Warnings
	}
	return response
}
