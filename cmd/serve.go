package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brandlens/geo-audit/internal/audit"
	"github.com/brandlens/geo-audit/internal/model"
	"github.com/brandlens/geo-audit/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audit API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(e),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter assembles the HTTP API.
func newRouter(e *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs/{runID}/process", func(w http.ResponseWriter, req *http.Request) {
		handleProcessRun(w, req, e)
	})

	r.Get("/analysis", func(w http.ResponseWriter, req *http.Request) {
		handleGetAnalysis(w, req, e)
	})

	r.Post("/analysis", func(w http.ResponseWriter, req *http.Request) {
		handleReanalyze(w, req, e)
	})

	return r
}

func handleProcessRun(w http.ResponseWriter, req *http.Request, e *env) {
	runID := chi.URLParam(req, "runID")

	summary, err := e.Runner.ProcessRun(req.Context(), runID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "run not found")
		return
	case errors.Is(err, audit.ErrRunNotQueued):
		writeError(w, http.StatusBadRequest, "run is not queued")
		return
	case err != nil:
		zap.L().Error("process run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"processed":  summary.Processed,
		"errors":     summary.Errors,
		"score":      summary.Score,
		"visibility": summary.Visibility,
	})
}

// analysisResponse is the GET /analysis payload.
type analysisResponse struct {
	BatchID            string                    `json:"batch_id"`
	BatchStatus        model.BatchStatus         `json:"batch_status"`
	Runs               []model.Run               `json:"runs"`
	Scores             map[string]model.RunScore `json:"scores"`
	CrossModelAnalysis *model.CrossModelAnalysis `json:"cross_model_analysis,omitempty"`
	Summary            map[string]any            `json:"summary"`
}

func handleGetAnalysis(w http.ResponseWriter, req *http.Request, e *env) {
	ctx := req.Context()
	batchID := req.URL.Query().Get("batchId")
	propertyID := req.URL.Query().Get("propertyId")

	if batchID == "" && propertyID == "" {
		writeError(w, http.StatusBadRequest, "batchId or propertyId is required")
		return
	}

	if batchID == "" {
		// Most recent batch for the property.
		runs, err := e.Store.ListRuns(ctx, store.RunFilter{PropertyID: propertyID, Limit: 1})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if len(runs) == 0 {
			writeError(w, http.StatusNotFound, "no runs for property")
			return
		}
		batchID = runs[0].BatchID
	}

	resp, err := buildAnalysisResponse(ctx, e, batchID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func buildAnalysisResponse(ctx context.Context, e *env, batchID string) (*analysisResponse, error) {
	runs, err := e.Store.ListRuns(ctx, store.RunFilter{BatchID: batchID})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, store.ErrNotFound
	}

	status := audit.BatchStatusOf(audit.RunStatuses(runs))

	scores := make(map[string]model.RunScore)
	for _, run := range runs {
		rs, err := e.Store.GetRunScore(ctx, run.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		scores[string(run.Surface)] = *rs
	}

	resp := &analysisResponse{
		BatchID:     batchID,
		BatchStatus: status,
		Runs:        runs,
		Scores:      scores,
		Summary: map[string]any{
			"complete": status == model.BatchStatusCompleted,
			"surfaces": len(runs),
			"scored":   len(scores),
		},
	}

	// Cross-model analysis is only attached once the batch fully completed;
	// partial data is provider-biased.
	if status == model.BatchStatusCompleted && len(runs) == 2 {
		analysis, err := e.Analyzer.Analyze(ctx, batchID)
		if err != nil && !errors.Is(err, audit.ErrBatchNotReady) {
			return nil, err
		}
		resp.CrossModelAnalysis = analysis
	}

	return resp, nil
}

func handleReanalyze(w http.ResponseWriter, req *http.Request, e *env) {
	var body struct {
		BatchID string `json:"batch_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.BatchID == "" {
		writeError(w, http.StatusBadRequest, "batch_id is required")
		return
	}

	analysis, err := e.Analyzer.Analyze(req.Context(), body.BatchID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "batch not found")
		return
	case errors.Is(err, audit.ErrBatchNotReady):
		writeError(w, http.StatusConflict, "batch not ready for analysis")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
