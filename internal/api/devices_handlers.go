package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/topo/internal/domain"
)

type DeviceRequest struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	CPU          string            `json:"cpu,omitempty"`
	Memory       string            `json:"memory,omitempty"`
	Storage      string            `json:"storage,omitempty"`
	IP           string            `json:"ip,omitempty"`
	InterfaceIPs map[string]string `json:"interface_ips,omitempty"`
}

type DeviceResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	CPU          string            `json:"cpu"`
	Memory       string            `json:"memory"`
	Storage      string            `json:"storage"`
	IP           string            `json:"ip,omitempty"`
	InterfaceIPs map[string]string `json:"interface_ips,omitempty"`
}

func toDeviceResponse(d domain.Device) DeviceResponse {
	return DeviceResponse{
		ID:           d.ID,
		Type:         string(d.Type),
		CPU:          d.CPU,
		Memory:       d.Memory,
		Storage:      d.Storage,
		IP:           d.IP,
		InterfaceIPs: d.InterfaceIPs,
	}
}

// toDevice converts a request body. An empty type is left empty so updates
// keep the stored one.
func (req DeviceRequest) toDevice() (domain.Device, error) {
	d := domain.Device{
		ID:           req.ID,
		CPU:          req.CPU,
		Memory:       req.Memory,
		Storage:      req.Storage,
		IP:           req.IP,
		InterfaceIPs: req.InterfaceIPs,
	}
	if req.Type != "" {
		t, err := domain.ParseDeviceType(req.Type)
		if err != nil {
			return domain.Device{}, err
		}
		d.Type = t
	}
	return d, nil
}

func (a *API) listDevicesHandler(w http.ResponseWriter, r *http.Request) {
	devices, err := a.registry.ListDevices(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to list devices")
		return
	}

	response := make([]DeviceResponse, len(devices))
	for i, d := range devices {
		response[i] = toDeviceResponse(d)
	}
	writeJSON(w, http.StatusOK, response)
}

// createDeviceHandler handles POST /api/v0/devices.
//
// Returns 201 with the stored device, 400 for invalid input and 409 when the
// id or static address is already taken.
func (a *API) createDeviceHandler(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "id and type are required")
		return
	}

	device, err := req.toDevice()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := a.registry.CreateDevice(r.Context(), device)
	if err != nil {
		writeFailure(w, r, err, "Failed to create device")
		return
	}
	writeJSON(w, http.StatusCreated, toDeviceResponse(created))
}

func (a *API) getDeviceHandler(w http.ResponseWriter, r *http.Request) {
	device, err := a.registry.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, r, err, "Failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(device))
}

// updateDeviceHandler handles PUT /api/v0/devices/{id}.
//
// The path id wins over any id in the body. Changing the type is rejected.
func (a *API) updateDeviceHandler(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = chi.URLParam(r, "id")

	device, err := req.toDevice()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := a.registry.UpdateDevice(r.Context(), device)
	if err != nil {
		writeFailure(w, r, err, "Failed to update device")
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(updated))
}

// deleteDeviceHandler removes the device together with its connections.
func (a *API) deleteDeviceHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.registry.DeleteDevice(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, r, err, "Failed to delete device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
