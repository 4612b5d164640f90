package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/core/ports"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DomainSyncer rewrites a single domain's zone and its aliases.
type DomainSyncer interface {
	SyncDomain(ctx context.Context, name string) error
}

// CatalogRebuilder regenerates the catalog zone from the store.
type CatalogRebuilder interface {
	RebuildCatalog(ctx context.Context) error
}

// ZoneReAdder rewrites every zone file.
type ZoneReAdder interface {
	ReAddAllZones(ctx context.Context) error
}

// OpsHandler serves health, metrics and the maintenance triggers of the
// sync daemon.
type OpsHandler struct {
	repo    ports.DomainRepository
	syncer  DomainSyncer
	catalog CatalogRebuilder
	zones   ZoneReAdder
	token   string
	logger  *slog.Logger
}

// NewOpsHandler creates an OpsHandler. An empty token leaves the maintenance
// routes unauthenticated.
func NewOpsHandler(repo ports.DomainRepository, syncer DomainSyncer, catalog CatalogRebuilder, zones ZoneReAdder, token string, logger *slog.Logger) *OpsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{repo: repo, syncer: syncer, catalog: catalog, zones: zones, token: token, logger: logger}
}

// RegisterRoutes registers the routes with the provided ServeMux.
func (h *OpsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /metrics", h.Metrics)

	auth := TokenMiddleware(h.token)
	logged := RequestLogger(h.logger)

	mux.Handle("POST /domains/{name}/sync", logged(auth(http.HandlerFunc(h.SyncDomain))))
	mux.Handle("POST /catalog/rebuild", logged(auth(http.HandlerFunc(h.RebuildCatalog))))
	mux.Handle("POST /zones/readd", logged(auth(http.HandlerFunc(h.ReAddZones))))
}

// Metrics handles Prometheus metrics scraping requests.
func (h *OpsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// HealthCheck reports whether the domain store is reachable.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	details := map[string]string{"database": "OK"}

	if err := h.repo.Ping(r.Context()); err != nil {
		status = "DEGRADED"
		details["database"] = err.Error()
	}

	code := http.StatusOK
	if status == "DEGRADED" {
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"details": details,
	})
}

func (h *OpsHandler) SyncDomain(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.run(w, r, "sync", func(ctx context.Context) error {
		return h.syncer.SyncDomain(ctx, name)
	})
}

func (h *OpsHandler) RebuildCatalog(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "rebuild_catalog", h.catalog.RebuildCatalog)
}

func (h *OpsHandler) ReAddZones(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "readd_zones", h.zones.ReAddAllZones)
}

func (h *OpsHandler) run(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	start := time.Now()
	if err := fn(r.Context()); err != nil {
		h.logger.Error("operation failed", "operation", op, "error", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"operation": op,
		"status":    "done",
		"duration":  time.Since(start).String(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrDomainNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidZoneName):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCatalogLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *OpsHandler) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}
