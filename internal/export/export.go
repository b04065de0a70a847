// Package export runs the topology pipeline (analyze, assign, build, render)
// over a device/connection snapshot and returns manifest text.
package export

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paularlott/logger"

	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/logging"
	"github.com/jbweber/homelab/topo/internal/manifest"
	"github.com/jbweber/homelab/topo/internal/observability"
	"github.com/jbweber/homelab/topo/internal/topology"
)

// ErrNoDevices is returned when an export is requested for an empty design.
var ErrNoDevices = errors.New("no devices to export")

// DefaultPassword is the first-boot login password when none is configured.
const DefaultPassword = "changeme"

// Mode selects which manifest families an export contains.
type Mode string

const (
	ModeBundle   Mode = "bundle"
	ModeClaims   Mode = "claims"
	ModeMachines Mode = "machines"
)

// ParseMode converts a user supplied mode; empty selects ModeBundle.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeBundle, nil
	case ModeBundle, ModeClaims, ModeMachines:
		return m, nil
	default:
		return "", fmt.Errorf("unknown export mode %q", s)
	}
}

// Options configures an export. An empty Generation derives a base-36 unix
// seconds token from Now.
type Options struct {
	Namespace     string
	StorageClass  string
	ImageURL      string
	Password      string
	Strategy      topology.Strategy
	StrictSubnets bool
	Generation    string
	UserDataLimit int
	Now           func() time.Time
	Logger        logger.Logger
	Metrics       *observability.Collector
}

func (o Options) logger() logger.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logging.Default()
}

func (o Options) settings() manifest.Settings {
	password := o.Password
	if password == "" {
		password = DefaultPassword
	}
	limit := o.UserDataLimit
	if limit <= 0 {
		limit = manifest.DefaultUserDataLimit
	}
	return manifest.Settings{
		Namespace:     o.Namespace,
		StorageClass:  o.StorageClass,
		ImageURL:      o.ImageURL,
		Password:      password,
		Generation:    o.generation(),
		UserDataLimit: limit,
	}
}

// generation returns the configured token or base-36 unix seconds.
func (o Options) generation() string {
	if o.Generation != "" {
		return o.Generation
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	return strconv.FormatInt(now().Unix(), 36)
}

// Plan is the intermediate result of analysis and address assignment.
type Plan struct {
	Topology    *topology.Topology               `json:"topology"`
	Assignments map[string][]topology.Assignment `json:"assignments"`
}

// Compile analyzes the snapshot and assigns addresses without rendering.
func Compile(devices []domain.Device, conns []domain.Connection, opts Options) (*Plan, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	topo, err := topology.Analyze(devices, conns, topology.Options{
		Strategy: opts.Strategy,
		Strict:   opts.StrictSubnets,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze topology: %w", err)
	}

	log := opts.logger()
	for _, w := range topo.Warnings {
		log.Warn("address outside segment subnet", "segment", w.Segment, "subnet", w.Subnet, "ip", w.IP, "source", w.Source)
	}
	opts.Metrics.AddSubnetWarnings(len(topo.Warnings))

	assignments, err := topology.Assign(topo, devices, conns)
	if err != nil {
		return nil, fmt.Errorf("failed to assign addresses: %w", err)
	}
	return &Plan{Topology: topo, Assignments: assignments}, nil
}

// FullBundle renders attachments, storage claims and machines.
func FullBundle(devices []domain.Device, conns []domain.Connection, opts Options) (string, error) {
	return Export(ModeBundle, devices, conns, opts)
}

// StorageClaims renders attachments and storage claims only, for staging
// disk imports ahead of the machines.
func StorageClaims(devices []domain.Device, conns []domain.Connection, opts Options) (string, error) {
	return Export(ModeClaims, devices, conns, opts)
}

// Machines renders machines only. They reference claims by their stable
// names, so they bind to claims from an earlier StorageClaims export.
func Machines(devices []domain.Device, conns []domain.Connection, opts Options) (string, error) {
	return Export(ModeMachines, devices, conns, opts)
}

// Export renders the documents selected by mode.
func Export(mode Mode, devices []domain.Device, conns []domain.Connection, opts Options) (string, error) {
	start := time.Now()
	out, err := export(mode, devices, conns, opts)
	opts.Metrics.ObserveExport(string(mode), time.Since(start), err)
	return out, err
}

func export(mode Mode, devices []domain.Device, conns []domain.Connection, opts Options) (string, error) {
	var withAttachments, withClaims, withMachines bool
	switch mode {
	case ModeBundle:
		withAttachments, withClaims, withMachines = true, true, true
	case ModeClaims:
		withAttachments, withClaims = true, true
	case ModeMachines:
		withMachines = true
	default:
		return "", fmt.Errorf("unknown export mode %q", mode)
	}

	plan, err := Compile(devices, conns, opts)
	if err != nil {
		return "", err
	}
	settings := opts.settings()
	log := opts.logger()

	var docs []any
	if withAttachments {
		bridges := manifest.Bridges(plan.Topology)
		for _, name := range plan.Topology.Order {
			nad, err := manifest.Attachment(plan.Topology.Segments[name], bridges[name], settings)
			if err != nil {
				return "", err
			}
			docs = append(docs, nad)
		}
		opts.Metrics.AddDocuments("NetworkAttachmentDefinition", len(plan.Topology.Order))
	}

	if withClaims {
		for _, d := range devices {
			docs = append(docs, manifest.Claim(d, settings))
		}
		opts.Metrics.AddDocuments("PersistentVolumeClaim", len(devices))
	}

	if withMachines {
		for _, d := range devices {
			vm, abbreviated, err := manifest.Machine(d, plan.Assignments[d.ID], settings)
			if err != nil {
				return "", fmt.Errorf("failed to build machine for %s: %w", d.ID, err)
			}
			if abbreviated {
				log.Warn("first-boot script exceeds inline limit, using abbreviated script",
					"device", d.ID, "limit", settings.UserDataLimit)
				opts.Metrics.IncUserDataFallback()
			}
			docs = append(docs, vm)
		}
		opts.Metrics.AddDocuments("VirtualMachine", len(devices))
	}

	out, err := manifest.RenderString(docs...)
	if err != nil {
		return "", err
	}
	log.Info("rendered manifests", "mode", string(mode), "devices", len(devices),
		"segments", len(plan.Topology.Order), "documents", len(docs), "generation", settings.Generation)
	return out, nil
}
