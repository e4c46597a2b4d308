package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/orcgraph/graph"
	"github.com/dshills/orcgraph/workflow"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"serve-metrics"},
		Short:   "Serve the run API and Prometheus metrics over HTTP",
		Long: `Serve keeps one application instance alive and exposes it over HTTP:

  POST /runs                     start a run
  GET  /runs/{id}                status, with the nested run it waits on
  POST /runs/{id}/resume         resume unchanged
  POST /runs/{id}/choice         {"choice": "refine|new|finish", "feedback": "..."}
  POST /runs/{id}/review         {"approve": true, "feedback": "..."}
  GET  /runs/{id}/history        checkpoints
  GET  /runs/{id}/usage          model usage of this process
  GET  /metrics                  Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = opts.cfg.Metrics.Addr
			}
			return withApp(cmd, opts, func(ctx context.Context, rt *runtime) error {
				srv := &http.Server{
					Addr:              addr,
					Handler:           newHandler(rt),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					opts.logger.Info("serving", "addr", addr)
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
					defer cancel()
					opts.logger.Info("shutting down", "timeout", shutdownTimeout)
					return srv.Shutdown(shutdownCtx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default metrics.addr from config)")
	return cmd
}

type startRequest struct {
	ThreadID string   `json:"thread_id"`
	FilePath string   `json:"file_path"`
	Query    string   `json:"query"`
	Formats  []string `json:"formats"`
	UserID   string   `json:"user_id"`
}

type choiceRequest struct {
	Choice   string `json:"choice"`
	Feedback string `json:"feedback"`
}

type reviewRequest struct {
	Approve  bool   `json:"approve"`
	Feedback string `json:"feedback"`
}

func newHandler(rt *runtime) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		var body startRequest
		if !decode(w, req, &body) {
			return
		}
		if body.ThreadID == "" {
			body.ThreadID = uuid.NewString()
		}
		res, err := rt.app.Start(req.Context(), body.ThreadID, workflow.Input{
			FilePath: body.FilePath,
			Query:    body.Query,
			Formats:  body.Formats,
			UserID:   body.UserID,
		})
		writeRun(w, rt, res, err)
	})
	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		view, err := rt.app.Status(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if view.Status.Status == graph.StatusIdle {
			writeError(w, graph.ErrThreadNotFound)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})
	r.Post("/runs/{id}/resume", func(w http.ResponseWriter, req *http.Request) {
		res, err := rt.app.Resume(req.Context(), chi.URLParam(req, "id"))
		writeRun(w, rt, res, err)
	})
	r.Post("/runs/{id}/choice", func(w http.ResponseWriter, req *http.Request) {
		var body choiceRequest
		if !decode(w, req, &body) {
			return
		}
		res, err := rt.app.Choose(req.Context(), chi.URLParam(req, "id"), body.Choice, body.Feedback)
		writeRun(w, rt, res, err)
	})
	r.Post("/runs/{id}/review", func(w http.ResponseWriter, req *http.Request) {
		var body reviewRequest
		if !decode(w, req, &body) {
			return
		}
		res, err := rt.app.Review(req.Context(), chi.URLParam(req, "id"), body.Approve, body.Feedback)
		writeRun(w, rt, res, err)
	})
	r.Get("/runs/{id}/history", func(w http.ResponseWriter, req *http.Request) {
		history, err := rt.app.History(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
	})
	r.Get("/runs/{id}/usage", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, rt.app.Usage(chi.URLParam(req, "id")))
	})
	return r
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// writeRun answers a run call. Failed runs are reported in the body with
// status 200; the call itself succeeded.
func writeRun(w http.ResponseWriter, rt *runtime, res graph.Result, err error) {
	if res.Status == "" {
		writeError(w, err)
		return
	}
	out := runOutput{
		ThreadID:  res.ThreadID,
		Status:    res.Status,
		Pending:   res.Pending,
		Interrupt: res.Interrupt,
		State:     res.State,
		Usage:     rt.app.Usage(res.ThreadID),
	}
	if err != nil {
		out.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, graph.ErrThreadNotFound):
		status = http.StatusNotFound
	case errors.Is(err, graph.ErrThreadExists),
		errors.Is(err, graph.ErrNotSuspended),
		errors.Is(err, workflow.ErrNotAwaitingChoice),
		errors.Is(err, workflow.ErrNotAwaitingReview):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrInvalidChoice):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
