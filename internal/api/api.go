package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/topo/internal/export"
	"github.com/jbweber/homelab/topo/internal/logging"
	"github.com/jbweber/homelab/topo/internal/observability"
	"github.com/jbweber/homelab/topo/internal/registry"
	"github.com/jbweber/homelab/topo/internal/repository"
	"github.com/jbweber/homelab/topo/internal/topology"
)

// API serves the registry and the manifest exports over HTTP
type API struct {
	registry *registry.Registry
	options  export.Options
}

// NewAPI creates an API. options are the export defaults; metrics may be nil.
func NewAPI(reg *registry.Registry, options export.Options, metrics *observability.Collector) *API {
	options.Metrics = metrics
	return &API{
		registry: reg,
		options:  options,
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes registers all API endpoints to the given chi router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v0/devices", func(r chi.Router) {
		r.Get("/", a.listDevicesHandler)
		r.Post("/", a.createDeviceHandler)
		r.Get("/{id}", a.getDeviceHandler)
		r.Put("/{id}", a.updateDeviceHandler)
		r.Delete("/{id}", a.deleteDeviceHandler)
	})

	r.Route("/api/v0/connections", func(r chi.Router) {
		r.Get("/", a.listConnectionsHandler)
		r.Post("/", a.createConnectionHandler)
		r.Get("/{id}", a.getConnectionHandler)
		r.Delete("/{id}", a.deleteConnectionHandler)
	})

	r.Get("/api/v0/topology", a.topologyHandler)
	r.Get("/api/v0/design", a.designHandler)
	r.Get("/api/v0/export/{mode}", a.exportHandler)
}

// statusFor maps registry and pipeline errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, repository.ErrInvalidEntity),
		errors.Is(err, repository.ErrOperationNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, export.ErrNoDevices),
		errors.Is(err, topology.ErrSubnetMismatch),
		errors.Is(err, topology.ErrUnknownStrategy):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeFailure reports err with the status it maps to. Server side failures
// are logged and their detail withheld.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, what string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logging.Error(what, "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, what)
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}
