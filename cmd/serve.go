package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/pipeline"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/scheduler"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/staging"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Store.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if err := seedSourceConfigs(ctx, env.Store); err != nil {
			return eris.Wrap(err, "seed source configs")
		}

		if cfg.Scheduler.Enabled {
			sched, err := scheduler.New(cfg.Scheduler, env.Orch, env.Cache)
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()
		}

		mux := newAdminMux(ctx, env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting admin server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// newAdminMux builds the admin routes. Runs started over HTTP live on the
// server context, not the request context, so they outlast the request.
func newAdminMux(ctx context.Context, env *pipelineEnv) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /runs", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Strategy string   `json:"strategy"`
			Sources  []string `json:"sources"`
			Force    bool     `json:"force"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		strategy, err := model.ParseStrategy(req.Strategy)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		// Run asynchronously; progress is observable via /status and /events.
		go func() {
			summary, err := env.Orch.Run(ctx, pipeline.RunOptions{
				Strategy: strategy,
				Sources:  req.Sources,
				Force:    req.Force,
			})
			if err != nil {
				zap.L().Error("run failed to start", zap.Error(err))
				return
			}
			zap.L().Info("run finished",
				zap.String("run_id", summary.RunID),
				zap.String("overall", string(summary.Overall)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		states, err := env.Orch.Status(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_states": states,
			"cache":      env.Cache.Stats(),
		})
	})

	mux.HandleFunc("POST /pause", func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		env.Orch.Control().Pause(source)
		zap.L().Info("pause requested", zap.String("source", source))
		writeJSON(w, http.StatusOK, map[string]string{"status": "paused", "source": source})
	})

	mux.HandleFunc("POST /resume", func(w http.ResponseWriter, r *http.Request) {
		source := r.URL.Query().Get("source")
		env.Orch.Control().Resume(source)
		zap.L().Info("resume requested", zap.String("source", source))
		writeJSON(w, http.StatusOK, map[string]string{"status": "resumed", "source": source})
	})

	mux.HandleFunc("GET /staging", func(w http.ResponseWriter, r *http.Request) {
		filter := store.StagingFilter{
			SourceName:       r.URL.Query().Get("source"),
			ExpertReviewOnly: r.URL.Query().Get("expert_only") == "true",
		}
		if v := r.URL.Query().Get("min_priority"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, `{"error":"min_priority must be an integer"}`, http.StatusBadRequest)
				return
			}
			filter.MinPriority = n
		}
		records, err := env.Staging.ListPending(r.Context(), filter)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	mux.HandleFunc("POST /staging/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
		var req staging.ApprovalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		gene, err := env.Staging.Approve(r.Context(), r.PathValue("id"), req)
		if err != nil {
			writeJSON(w, stagingErrorStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, gene)
	})

	mux.HandleFunc("POST /staging/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Reviewer string `json:"reviewer"`
			Notes    string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if err := env.Staging.Reject(r.Context(), r.PathValue("id"), req.Reviewer, req.Notes); err != nil {
			writeJSON(w, stagingErrorStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	})

	mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		events, cancel, ok := env.Orch.Subscribe()
		if !ok {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "no run in progress"})
			return
		}
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case st, open := <-events:
				if !open {
					return
				}
				payload, err := json.Marshal(st)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	})

	return mux
}

func stagingErrorStatus(err error) int {
	switch {
	case eris.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case eris.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
