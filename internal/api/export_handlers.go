package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jbweber/homelab/topo/internal/export"
	"github.com/jbweber/homelab/topo/internal/loader"
	"github.com/jbweber/homelab/topo/internal/logging"
	"github.com/jbweber/homelab/topo/internal/topology"
)

// optionsFor applies the strategy, strict, namespace and generation query
// parameters on top of the configured export defaults.
func (a *API) optionsFor(r *http.Request) (export.Options, error) {
	opts := a.options
	q := r.URL.Query()

	if s := q.Get("strategy"); s != "" {
		strategy, err := topology.ParseStrategy(s)
		if err != nil {
			return export.Options{}, err
		}
		opts.Strategy = strategy
	}
	if s := q.Get("strict"); s != "" {
		strict, err := strconv.ParseBool(s)
		if err != nil {
			return export.Options{}, err
		}
		opts.StrictSubnets = strict
	}
	if ns := q.Get("namespace"); ns != "" {
		opts.Namespace = ns
	}
	if gen := q.Get("generation"); gen != "" {
		opts.Generation = gen
	}
	return opts, nil
}

// topologyHandler previews segments and address assignments as JSON.
func (a *API) topologyHandler(w http.ResponseWriter, r *http.Request) {
	opts, err := a.optionsFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	devices, conns, err := a.registry.Snapshot(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to read registry")
		return
	}

	plan, err := export.Compile(devices, conns, opts)
	if err != nil {
		writeFailure(w, r, err, "Failed to compile topology")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// designHandler returns the registry contents in the design file format
// accepted by the compile command.
func (a *API) designHandler(w http.ResponseWriter, r *http.Request) {
	devices, conns, err := a.registry.Snapshot(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to read registry")
		return
	}

	var buf bytes.Buffer
	if err := loader.FromSnapshot(devices, conns).Encode(&buf); err != nil {
		writeFailure(w, r, err, "Failed to encode design")
		return
	}
	writeYAML(w, buf.Bytes())
}

// exportHandler handles GET /api/v0/export/{mode} where mode is bundle,
// claims or machines.
func (a *API) exportHandler(w http.ResponseWriter, r *http.Request) {
	mode, err := export.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	opts, err := a.optionsFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	devices, conns, err := a.registry.Snapshot(r.Context())
	if err != nil {
		writeFailure(w, r, err, "Failed to read registry")
		return
	}

	out, err := export.Export(mode, devices, conns, opts)
	if err != nil {
		writeFailure(w, r, err, "Failed to export manifests")
		return
	}
	writeYAML(w, []byte(out))
}

func writeYAML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logging.Error("failed to write yaml response", "error", err)
	}
}
