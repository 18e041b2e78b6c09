package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/knovalab/knova/internal/config"
	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/metrics"
	"github.com/knovalab/knova/internal/project"
	"github.com/knovalab/knova/internal/service"
)

func newServeCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the knova HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.ListenAddr = listenAddr
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	svc, manager, reg, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	var heartbeat *project.Heartbeat
	if cfg.Heartbeat.Enabled {
		heartbeat = project.NewHeartbeat(manager, cfg.Heartbeat.Interval,
			project.WithHeartbeatLogger(slog.Default()),
			project.WithWarmQueries(cfg.Heartbeat.WarmQueries))
		heartbeat.Start()
		defer heartbeat.Stop()
	}

	api := &apiServer{svc: svc, manager: manager}
	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api.routes(reg),
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving", slog.String("addr", cfg.Server.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-stop:
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// apiServer maps HTTP routes onto the service facade.
type apiServer struct {
	svc     *service.Service
	manager *project.Manager
}

func (a *apiServer) routes(reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /v1/projects", a.handleCreateProject)
	mux.HandleFunc("GET /v1/projects", a.handleListProjects)
	mux.HandleFunc("GET /v1/projects/{id}", a.handleGetProject)
	mux.HandleFunc("PATCH /v1/projects/{id}", a.handleUpdateProject)
	mux.HandleFunc("DELETE /v1/projects/{id}", a.handleDeleteProject)

	mux.HandleFunc("POST /v1/projects/{id}/keys", a.handleCreateKey)
	mux.HandleFunc("GET /v1/projects/{id}/keys", a.handleListKeys)
	mux.HandleFunc("DELETE /v1/projects/{id}/keys/{keyID}", a.handleRevokeKey)

	mux.HandleFunc("POST /v1/projects/{id}/query", a.handleQuery)
	mux.HandleFunc("POST /v1/projects/{id}/documents", a.handleIngest)
	mux.HandleFunc("GET /v1/projects/{id}/documents", a.handleListDocuments)
	mux.HandleFunc("DELETE /v1/projects/{id}/documents", a.handleDeleteDocuments)

	return mux
}

// authorize checks the request's API key against the project. Projects
// without any keys accept unauthenticated requests so a fresh project
// can be bootstrapped.
func (a *apiServer) authorize(r *http.Request, projectID string, required project.Scope) error {
	raw := r.Header.Get("X-API-Key")
	if raw == "" {
		keys, err := a.manager.ListAPIKeys(projectID)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return kberr.New(kberr.KindUnauthorized, "api key required")
	}

	keyProject, _, err := a.manager.ValidateAPIKey(r.Context(), raw, required)
	if err != nil {
		return err
	}
	if keyProject != projectID {
		return kberr.New(kberr.KindUnauthorized, "api key does not grant access to this project")
	}
	return nil
}

func (a *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"projects": a.svc.Status(r.Context()),
	})
}

func (a *apiServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var params project.CreateParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}
	p, err := a.svc.CreateProject(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *apiServer) handleListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := a.svc.ListProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (a *apiServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.GetProject(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *apiServer) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeAdmin); err != nil {
		writeError(w, err)
		return
	}
	var patch project.Patch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	p, err := a.svc.UpdateProject(r.Context(), projectID, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *apiServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeAdmin); err != nil {
		writeError(w, err)
		return
	}
	if err := a.svc.DeleteProject(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeAdmin); err != nil {
		writeError(w, err)
		return
	}
	var params project.KeyParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}
	raw, key, err := a.manager.CreateAPIKey(r.Context(), projectID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"key":     key,
		"raw_key": raw,
	})
}

func (a *apiServer) handleListKeys(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeAdmin); err != nil {
		writeError(w, err)
		return
	}
	keys, err := a.manager.ListAPIKeys(projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (a *apiServer) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeAdmin); err != nil {
		writeError(w, err)
		return
	}
	if err := a.manager.RevokeAPIKey(r.Context(), projectID, r.PathValue("keyID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeRead); err != nil {
		writeError(w, err)
		return
	}
	var req service.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ProjectID = projectID
	resp, err := a.svc.Query(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *apiServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeWrite); err != nil {
		writeError(w, err)
		return
	}
	var req service.IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.ProjectID = projectID
	resp, err := a.svc.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *apiServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeRead); err != nil {
		writeError(w, err)
		return
	}
	docs, err := a.svc.ListDocuments(projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *apiServer) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if err := a.authorize(r, projectID, project.ScopeWrite); err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		IDs    []string          `json:"ids,omitempty"`
		Filter map[string]string `json:"filter,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	deleted, err := a.svc.DeleteDocuments(r.Context(), projectID, req.IDs, req.Filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return kberr.Wrap(kberr.KindInvalidArgument, "decode request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	apiErr := service.FromError(err)
	writeJSON(w, statusFor(kberr.Kind(apiErr.ErrorKind)), map[string]*service.APIError{"error": apiErr})
}

func statusFor(kind kberr.Kind) int {
	switch kind {
	case kberr.KindInvalidArgument:
		return http.StatusBadRequest
	case kberr.KindNotFound:
		return http.StatusNotFound
	case kberr.KindDuplicateName, kberr.KindConflict:
		return http.StatusConflict
	case kberr.KindUnauthorized:
		return http.StatusUnauthorized
	case kberr.KindRateLimited:
		return http.StatusTooManyRequests
	case kberr.KindNotReady, kberr.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case kberr.KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
