package topology

import (
	"fmt"
	"sort"

	"github.com/jbweber/homelab/topo/internal/domain"
)

// Host octets used when no explicit address is given.
const (
	gatewayOctet     = 1
	routerPeerOctet  = 10
	defaultPeerOctet = 11
	secondPeerOctet  = 12
	firstMemberOctet = 10
	firstRouterOctet = 1
)

// Assignment is the address a device uses on one of its segment interfaces.
type Assignment struct {
	Network       string `json:"network"`
	IP            string `json:"ip"`
	Subnet        string `json:"subnet"`
	Gateway       string `json:"gateway"`
	InterfaceName string `json:"interfaceName"`
	Index         int    `json:"index"`
	IsCustomIP    bool   `json:"isCustomIP"`
}

// InterfaceName is the guest name of the interface at a 0-based segment index.
func InterfaceName(index int) string {
	return fmt.Sprintf("eth%d", index+1)
}

// Assign computes, for every device, one Assignment per segment it belongs
// to, ordered like topo.DeviceSegments. Devices without segments map to an
// empty slice.
func Assign(topo *Topology, devices []domain.Device, conns []domain.Connection) (map[string][]Assignment, error) {
	as := &assigner{
		topo:    topo,
		devices: make(map[string]domain.Device, len(devices)),
		conns:   make(map[string]domain.Connection, len(conns)),
	}
	for _, d := range devices {
		as.devices[d.ID] = d
	}
	for _, c := range conns {
		as.conns[c.ID] = c
	}

	result := make(map[string][]Assignment, len(devices))
	for _, d := range devices {
		segments := topo.DeviceSegments[d.ID]
		assignments := make([]Assignment, 0, len(segments))
		for i, name := range segments {
			seg, ok := topo.Segments[name]
			if !ok {
				return nil, fmt.Errorf("device %s references unknown segment %s", d.ID, name)
			}

			ip, custom, err := as.resolve(d, seg, i)
			if err != nil {
				return nil, err
			}
			gateway, err := as.gateway(seg)
			if err != nil {
				return nil, err
			}

			assignments = append(assignments, Assignment{
				Network:       seg.Name,
				IP:            ip,
				Subnet:        seg.Subnet,
				Gateway:       gateway,
				InterfaceName: InterfaceName(i),
				Index:         i,
				IsCustomIP:    custom,
			})
		}
		result[d.ID] = assignments
	}
	return result, nil
}

type assigner struct {
	topo    *Topology
	devices map[string]domain.Device
	conns   map[string]domain.Connection
}

// resolve returns the address of d on seg, where index is the position of
// seg in d's segment list.
func (as *assigner) resolve(d domain.Device, seg *Segment, index int) (string, bool, error) {
	if seg.ConnectionID == "" {
		return as.resolveMember(d, seg, index)
	}

	conn, ok := as.conns[seg.ConnectionID]
	if !ok {
		return "", false, fmt.Errorf("segment %s references unknown connection %s", seg.Name, seg.ConnectionID)
	}
	peer := as.devices[conn.Peer(d.ID)]

	switch d.Type {
	case domain.DeviceTypeRouter:
		if ip := conn.RouterIPFor(d.ID); domain.IsIPv4(ip) {
			return ip, true, nil
		}
		if ip := d.InterfaceIP(peer.ID); domain.IsIPv4(ip) {
			return ip, true, nil
		}
		return Host(seg.NetworkBase, gatewayOctet), false, nil

	case domain.DeviceTypeVM, domain.DeviceTypeSwitch:
		if index == 0 && domain.IsIPv4(d.IP) {
			return d.IP, true, nil
		}
		switch peer.Type {
		case domain.DeviceTypeRouter:
			return Host(seg.NetworkBase, routerPeerOctet), false, nil
		case domain.DeviceTypeVM, domain.DeviceTypeSwitch:
			// Two non-routers on one link: the second endpoint steps aside
			// when the first also falls back to the default address.
			if d.ID == conn.To && as.peerDefaultsTo(peer, seg, defaultPeerOctet) {
				return Host(seg.NetworkBase, secondPeerOctet), false, nil
			}
			return Host(seg.NetworkBase, defaultPeerOctet), false, nil
		default:
			return Host(seg.NetworkBase, defaultPeerOctet), false, nil
		}

	default:
		return "", false, fmt.Errorf("device %s has unsupported type %q", d.ID, d.Type)
	}
}

// peerDefaultsTo reports whether the non-router peer resolves to the given
// default octet on seg.
func (as *assigner) peerDefaultsTo(peer domain.Device, seg *Segment, octet int) bool {
	peerIndex := indexOf(as.topo.DeviceSegments[peer.ID], seg.Name)
	if peerIndex == 0 && domain.IsIPv4(peer.IP) {
		return peer.IP == Host(seg.NetworkBase, octet)
	}
	return true
}

// resolveMember handles segments shared by several devices, where no single
// connection describes the link.
func (as *assigner) resolveMember(d domain.Device, seg *Segment, index int) (string, bool, error) {
	switch d.Type {
	case domain.DeviceTypeRouter:
		if ip := storedInterfaceIP(d, seg.NetworkBase); ip != "" {
			return ip, true, nil
		}
		return Host(seg.NetworkBase, firstRouterOctet+as.ordinal(d.ID, seg, true)), false, nil
	case domain.DeviceTypeVM, domain.DeviceTypeSwitch:
		if index == 0 && domain.IsIPv4(d.IP) {
			return d.IP, true, nil
		}
		return Host(seg.NetworkBase, firstMemberOctet+as.ordinal(d.ID, seg, false)), false, nil
	default:
		return "", false, fmt.Errorf("device %s has unsupported type %q", d.ID, d.Type)
	}
}

// ordinal is the position of id among the routers (or non-routers) of seg.
func (as *assigner) ordinal(id string, seg *Segment, routers bool) int {
	n := 0
	for _, member := range seg.Devices {
		if member == id {
			return n
		}
		if as.devices[member].IsRouter() == routers {
			n++
		}
	}
	return n
}

// gateway returns the router address on seg, or <base>.1 without a router.
func (as *assigner) gateway(seg *Segment) (string, error) {
	if seg.ConnectionID != "" {
		conn := as.conns[seg.ConnectionID]
		for _, id := range []string{conn.From, conn.To} {
			d := as.devices[id]
			if !d.IsRouter() {
				continue
			}
			ip, _, err := as.resolve(d, seg, indexOf(as.topo.DeviceSegments[id], seg.Name))
			return ip, err
		}
		return Host(seg.NetworkBase, gatewayOctet), nil
	}

	for _, id := range seg.Devices {
		d := as.devices[id]
		if d.IsRouter() {
			ip, _, err := as.resolveMember(d, seg, indexOf(as.topo.DeviceSegments[id], seg.Name))
			return ip, err
		}
	}
	return Host(seg.NetworkBase, gatewayOctet), nil
}

// storedInterfaceIP returns the first stored interface address of d, in key
// order, that lies on base.
func storedInterfaceIP(d domain.Device, base string) string {
	keys := make([]string, 0, len(d.InterfaceIPs))
	for k := range d.InterfaceIPs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if ip := d.InterfaceIPs[k]; domain.IsIPv4(ip) && NetworkBase(ip) == base {
			return ip
		}
	}
	return ""
}

func indexOf(list []string, name string) int {
	for i, v := range list {
		if v == name {
			return i
		}
	}
	return -1
}
