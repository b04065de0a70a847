package domain

import (
	"fmt"
	"net"
	"strings"
)

// DeviceType is the kind of node placed in a topology.
type DeviceType string

const (
	DeviceTypeVM     DeviceType = "vm"
	DeviceTypeRouter DeviceType = "router"
	DeviceTypeSwitch DeviceType = "switch"
)

// DeviceTypes lists every supported device type in a stable order.
var DeviceTypes = []DeviceType{DeviceTypeVM, DeviceTypeRouter, DeviceTypeSwitch}

// ParseDeviceType converts a user supplied string into a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	t := DeviceType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown device type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the supported device types.
func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTypeVM, DeviceTypeRouter, DeviceTypeSwitch:
		return true
	default:
		return false
	}
}

// Device represents a VM, router or switch in the designed topology
type Device struct {
	ID           string            // User chosen, stable key
	Type         DeviceType        // vm, router or switch
	CPU          string            // Free-form CPU sizing (e.g. "2 cores")
	Memory       string            // Free-form memory sizing (e.g. "2GB")
	Storage      string            // Free-form disk sizing (e.g. "20GB")
	IP           string            // Static IPv4 address (optional)
	InterfaceIPs map[string]string // Router only, keyed by InterfaceKey(peer)
}

// IsRouter reports whether the device forwards traffic between segments.
func (d Device) IsRouter() bool {
	return d.Type == DeviceTypeRouter
}

// InterfaceIP returns the stored address of the interface facing peer.
func (d Device) InterfaceIP(peer string) string {
	if d.InterfaceIPs == nil {
		return ""
	}
	return d.InterfaceIPs[InterfaceKey(peer)]
}

// Connection represents a point-to-point link between two devices
type Connection struct {
	ID           string // Generated identifier
	From         string // Device ID of the first endpoint
	To           string // Device ID of the second endpoint
	FromRouterIP string // Address of From on this link, when From is a router
	ToRouterIP   string // Address of To on this link, when To is a router
	Bandwidth    string // Optional label (e.g. "1Gbps")
}

// Involves reports whether the device is one of the connection endpoints.
func (c Connection) Involves(deviceID string) bool {
	return c.From == deviceID || c.To == deviceID
}

// Peer returns the endpoint opposite to deviceID.
func (c Connection) Peer(deviceID string) string {
	if c.From == deviceID {
		return c.To
	}
	return c.From
}

// RouterIPFor returns the router address recorded on the side of deviceID.
func (c Connection) RouterIPFor(deviceID string) string {
	switch deviceID {
	case c.From:
		return c.FromRouterIP
	case c.To:
		return c.ToRouterIP
	default:
		return ""
	}
}

// PairKey returns the order independent key of the connection endpoints.
func (c Connection) PairKey() string {
	return PairKey(c.From, c.To)
}

// PairKey builds an unordered key for two device IDs.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// InterfaceKey is the InterfaceIPs key of the interface facing peer.
func InterfaceKey(peer string) string {
	return "to_" + peer
}

// IsIPv4 checks if a string is a valid dotted-quad IPv4 address
func IsIPv4(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.To4() != nil && strings.Count(ip, ".") == 3
}
