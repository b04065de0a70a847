// Package topology turns devices and connections into isolated network
// segments and per-interface address assignments.
//
// Everything here is a pure function of its inputs: the same snapshot always
// produces the same segment names, subnets and addresses.
package topology

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jbweber/homelab/topo/internal/domain"
)

var (
	// ErrSubnetMismatch is returned in strict mode when an address used on a
	// segment lies outside the subnet derived for it.
	ErrSubnetMismatch = errors.New("subnet mismatch")

	// ErrUnknownStrategy is returned for an unsupported analyzer strategy.
	ErrUnknownStrategy = errors.New("unknown analyzer strategy")
)

// Strategy selects how connections are grouped into segments.
type Strategy string

const (
	// StrategyPerConnection gives every link its own broadcast domain.
	StrategyPerConnection Strategy = "per-connection"
	// StrategyShared puts every connected device on one network.
	StrategyShared Strategy = "shared"
	// StrategyPerType builds one network per device type, joined by routers.
	StrategyPerType Strategy = "per-type"
)

// ParseStrategy converts a configuration value into a Strategy. An empty
// value selects StrategyPerConnection.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyPerConnection, nil
	case StrategyPerConnection, StrategyShared, StrategyPerType:
		return st, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownStrategy)
	}
}

// Segment is one isolated L2/L3 network derived from the topology.
type Segment struct {
	Name         string   `json:"name"`
	Subnet       string   `json:"subnet"`
	NetworkBase  string   `json:"networkBase"`
	Devices      []string `json:"devices"`
	ConnectionID string   `json:"connectionId,omitempty"`
	Bandwidth    string   `json:"bandwidth,omitempty"`
}

// SubnetWarning flags an address that will be used on a segment but lies
// outside the segment's subnet.
type SubnetWarning struct {
	Segment string `json:"segment"`
	Subnet  string `json:"subnet"`
	IP      string `json:"ip"`
	Source  string `json:"source"`
}

func (w SubnetWarning) String() string {
	return fmt.Sprintf("%s: %s (%s) is outside %s", w.Segment, w.IP, w.Source, w.Subnet)
}

// Topology is the analyzer output.
type Topology struct {
	Segments       map[string]*Segment `json:"segments"`
	Order          []string            `json:"order"`
	DeviceSegments map[string][]string `json:"deviceSegments"`
	Warnings       []SubnetWarning     `json:"warnings,omitempty"`
}

// Options controls the analyzer.
type Options struct {
	Strategy Strategy
	// Strict turns subnet warnings into ErrSubnetMismatch.
	Strict bool
}

// Analyze partitions the snapshot into segments using opts.Strategy.
func Analyze(devices []domain.Device, conns []domain.Connection, opts Options) (*Topology, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyPerConnection
	}

	a := newAnalysis(devices)
	switch strategy {
	case StrategyPerConnection:
		a.perConnection(conns)
	case StrategyShared:
		a.shared(conns)
	case StrategyPerType:
		a.perType(conns)
	default:
		return nil, fmt.Errorf("%q: %w", strategy, ErrUnknownStrategy)
	}

	if opts.Strict && len(a.topo.Warnings) > 0 {
		msgs := make([]string, 0, len(a.topo.Warnings))
		for _, w := range a.topo.Warnings {
			msgs = append(msgs, w.String())
		}
		return nil, fmt.Errorf("%s: %w", strings.Join(msgs, "; "), ErrSubnetMismatch)
	}
	return a.topo, nil
}

// candidate is an address considered when deriving a segment subnet.
type candidate struct {
	ip     string
	source string
	// used marks addresses the assigner will place on the segment; only those
	// are checked against the derived subnet.
	used bool
}

type analysis struct {
	devices map[string]domain.Device
	order   []string
	topo    *Topology
	counter int
}

func newAnalysis(devices []domain.Device) *analysis {
	a := &analysis{
		devices: make(map[string]domain.Device, len(devices)),
		topo: &Topology{
			Segments:       make(map[string]*Segment),
			DeviceSegments: make(map[string][]string, len(devices)),
		},
		counter: 1,
	}
	for _, d := range devices {
		a.devices[d.ID] = d
		a.order = append(a.order, d.ID)
		a.topo.DeviceSegments[d.ID] = []string{}
	}
	return a
}

func (a *analysis) perConnection(conns []domain.Connection) {
	processed := make(map[string]bool, 2*len(conns))
	for _, conn := range conns {
		if processed[conn.From+"-"+conn.To] || processed[conn.To+"-"+conn.From] {
			continue
		}

		from, to := a.devices[conn.From], a.devices[conn.To]
		candidates := []candidate{
			{ip: conn.FromRouterIP, source: conn.From + " router interface", used: from.IsRouter()},
			{ip: conn.ToRouterIP, source: conn.To + " router interface", used: to.IsRouter()},
			{ip: from.IP, source: conn.From + " static address", used: a.usesStaticIP(from)},
			{ip: to.IP, source: conn.To + " static address", used: a.usesStaticIP(to)},
		}

		seg := a.newSegment(candidates, conn.From, conn.To)
		seg.ConnectionID = conn.ID
		seg.Bandwidth = conn.Bandwidth

		processed[conn.From+"-"+conn.To] = true
		processed[conn.To+"-"+conn.From] = true
	}
}

func (a *analysis) shared(conns []domain.Connection) {
	members := a.connectedDevices(conns, nil)
	if len(members) == 0 {
		return
	}

	var candidates []candidate
	for _, id := range members {
		d := a.devices[id]
		candidates = append(candidates, candidate{ip: d.IP, source: id + " static address", used: a.usesStaticIP(d)})
	}
	a.newSegment(candidates, members...)
}

func (a *analysis) perType(conns []domain.Connection) {
	routers := a.connectedDevices(conns, func(d domain.Device) bool { return d.IsRouter() })

	grouped := false
	for _, dt := range domain.DeviceTypes {
		if dt == domain.DeviceTypeRouter {
			continue
		}
		typed := a.connectedDevices(conns, func(d domain.Device) bool { return d.Type == dt })
		if len(typed) == 0 {
			continue
		}

		var candidates []candidate
		for _, id := range typed {
			d := a.devices[id]
			candidates = append(candidates, candidate{ip: d.IP, source: id + " static address", used: a.usesStaticIP(d)})
		}
		members := append(append([]string{}, routers...), typed...)
		a.newSegment(candidates, members...)
		grouped = true
	}

	// Router-only designs still get a transit network.
	if !grouped && len(routers) > 0 {
		a.newSegment(nil, routers...)
	}
}

// connectedDevices returns, in device order, the devices that have at least
// one connection and satisfy keep.
func (a *analysis) connectedDevices(conns []domain.Connection, keep func(domain.Device) bool) []string {
	connected := make(map[string]bool)
	for _, conn := range conns {
		connected[conn.From] = true
		connected[conn.To] = true
	}

	var ids []string
	for _, id := range a.order {
		if !connected[id] {
			continue
		}
		if keep != nil && !keep(a.devices[id]) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// usesStaticIP reports whether the next segment appended to d will carry
// d's global static address.
func (a *analysis) usesStaticIP(d domain.Device) bool {
	return !d.IsRouter() && d.IP != "" && len(a.topo.DeviceSegments[d.ID]) == 0
}

// newSegment allocates net<counter>, derives its subnet from the first valid
// candidate and records membership.
func (a *analysis) newSegment(candidates []candidate, members ...string) *Segment {
	name := fmt.Sprintf("net%d", a.counter)

	base := ""
	for _, c := range candidates {
		if domain.IsIPv4(c.ip) {
			base = NetworkBase(c.ip)
			break
		}
	}
	if base == "" {
		base = fmt.Sprintf("192.168.%d", a.counter)
	}

	seg := &Segment{
		Name:        name,
		Subnet:      base + ".0/24",
		NetworkBase: base,
		Devices:     append([]string(nil), members...),
	}

	for _, c := range candidates {
		if !c.used || !domain.IsIPv4(c.ip) || NetworkBase(c.ip) == base {
			continue
		}
		a.topo.Warnings = append(a.topo.Warnings, SubnetWarning{
			Segment: name,
			Subnet:  seg.Subnet,
			IP:      c.ip,
			Source:  c.source,
		})
	}

	a.topo.Segments[name] = seg
	a.topo.Order = append(a.topo.Order, name)
	for _, id := range members {
		a.topo.DeviceSegments[id] = append(a.topo.DeviceSegments[id], name)
	}
	a.counter++
	return seg
}

// NetworkBase returns the first three octets of a dotted-quad address.
func NetworkBase(ip string) string {
	parsed := net.ParseIP(ip).To4()
	if parsed == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", parsed[0], parsed[1], parsed[2])
}

// Host returns the address with the given last octet on a network base.
func Host(base string, octet int) string {
	return fmt.Sprintf("%s.%d", base, octet)
}
