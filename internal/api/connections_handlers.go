package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/topo/internal/domain"
)

type ConnectionRequest struct {
	ID           string `json:"id,omitempty"`
	From         string `json:"from"`
	To           string `json:"to"`
	FromRouterIP string `json:"from_router_ip,omitempty"`
	ToRouterIP   string `json:"to_router_ip,omitempty"`
	Bandwidth    string `json:"bandwidth,omitempty"`
}

type ConnectionResponse struct {
	ID           string `json:"id"`
	From         string `json:"from"`
	To           string `json:"to"`
	FromRouterIP string `json:"from_router_ip,omitempty"`
	ToRouterIP   string `json:"to_router_ip,omitempty"`
	Bandwidth    string `json:"bandwidth,omitempty"`
}

func toConnectionResponse(c domain.Connection) ConnectionResponse {
	return ConnectionResponse{
		ID:           c.ID,
		From:         c.From,
		To:           c.To,
		FromRouterIP: c.FromRouterIP,
		ToRouterIP:   c.ToRouterIP,
		Bandwidth:    c.Bandwidth,
	}
}

func (a *API) listConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	conns, err := a.registry.ListConnections(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to list connections")
		return
	}

	response := make([]ConnectionResponse, len(conns))
	for i, c := range conns {
		response[i] = toConnectionResponse(c)
	}
	writeJSON(w, http.StatusOK, response)
}

// createConnectionHandler handles POST /api/v0/connections.
//
// Unknown endpoints are 404, invalid links 400 and a second link between the
// same pair 409.
func (a *API) createConnectionHandler(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}

	created, err := a.registry.CreateConnection(r.Context(), domain.Connection{
		ID:           req.ID,
		From:         req.From,
		To:           req.To,
		FromRouterIP: req.FromRouterIP,
		ToRouterIP:   req.ToRouterIP,
		Bandwidth:    req.Bandwidth,
	})
	if err != nil {
		writeFailure(w, r, err, "Failed to create connection")
		return
	}
	writeJSON(w, http.StatusCreated, toConnectionResponse(created))
}

func (a *API) getConnectionHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := a.registry.GetConnection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err, "Failed to get connection")
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(conn))
}

func (a *API) deleteConnectionHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.DeleteConnection(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, r, err, "Failed to delete connection")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
