package manifest

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/topo/internal/domain"
	"github.com/jbweber/homelab/topo/internal/topology"
)

const (
	// DefaultUserDataLimit is the inline user-data ceiling of the platform.
	DefaultUserDataLimit = 2048

	cloudConfigHeader = "#cloud-config\n"
	managementIface   = "eth0"

	segmentRouteMetric    = 50
	managementRouteMetric = 200
)

// UserData renders the first-boot #cloud-config for a device. When the full
// script exceeds limit, an abbreviated script is returned instead and the
// second result is true. The output is never truncated.
func UserData(d domain.Device, assignments []topology.Assignment, password string, limit int) (string, bool, error) {
	if limit <= 0 {
		limit = DefaultUserDataLimit
	}

	full, err := firstBootCommands(d, assignments)
	if err != nil {
		return "", false, err
	}
	text, err := renderCloudConfig(d, password, full)
	if err != nil {
		return "", false, err
	}
	if len(text) <= limit {
		return text, false, nil
	}

	text, err = renderCloudConfig(d, password, abbreviatedCommands(d, assignments))
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

func renderCloudConfig(d domain.Device, password string, runcmd []string) (string, error) {
	cfg := CloudConfig{
		Hostname:  DNSName(d.ID),
		Password:  password,
		Chpasswd:  Chpasswd{Expire: false},
		SSHPwauth: true,
		Runcmd:    runcmd,
	}

	var buf bytes.Buffer
	buf.WriteString(cloudConfigHeader)
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&cfg); err != nil {
		return "", fmt.Errorf("failed to encode cloud-config for %s: %w", d.ID, err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("failed to encode cloud-config for %s: %w", d.ID, err)
	}
	return buf.String(), nil
}

func firstBootCommands(d domain.Device, assignments []topology.Assignment) ([]string, error) {
	cmds := managementCommands(d)
	for _, a := range assignments {
		cmds = append(cmds, interfaceCommands(d, a)...)
	}

	switch d.Type {
	case domain.DeviceTypeRouter:
		cmds = append(cmds,
			"sysctl -w net.ipv4.ip_forward=1",
			"iptables -P FORWARD ACCEPT",
		)
	case domain.DeviceTypeVM, domain.DeviceTypeSwitch:
		if len(assignments) > 0 {
			cmds = append(cmds, defaultRouteCommands(assignments[0])...)
		}
	default:
		return nil, fmt.Errorf("device %s has unsupported type %q", d.ID, d.Type)
	}
	return cmds, nil
}

// abbreviatedCommands keeps DHCP on the management interface and the first
// segment interface with its gateway.
func abbreviatedCommands(d domain.Device, assignments []topology.Assignment) []string {
	cmds := managementCommands(d)
	if len(assignments) == 0 {
		return cmds
	}
	first := assignments[0]
	cmds = append(cmds, interfaceCommands(d, first)...)
	if !d.IsRouter() {
		cmds = append(cmds, fmt.Sprintf("ip route replace default via %s dev %s metric %d",
			first.Gateway, first.InterfaceName, segmentRouteMetric))
	}
	return cmds
}

func managementCommands(d domain.Device) []string {
	return []string{
		renameCommand(MACAddress(d.ID, 0), managementIface),
		"ip link set " + managementIface + " up",
		"dhclient " + managementIface + " || udhcpc -i " + managementIface + " || true",
	}
}

func interfaceCommands(d domain.Device, a topology.Assignment) []string {
	return []string{
		renameCommand(MACAddress(d.ID, a.Index+1), a.InterfaceName),
		fmt.Sprintf("ip addr add %s/24 dev %s", a.IP, a.InterfaceName),
		"ip link set " + a.InterfaceName + " up",
	}
}

// defaultRouteCommands moves the default route onto the first segment and
// keeps the management route as a lower priority fallback.
func defaultRouteCommands(a topology.Assignment) []string {
	return []string{
		fmt.Sprintf("GW=$(ip route show default dev %s | awk '{print $3; exit}'); [ -n \"$GW\" ] && ip route del default dev %s && ip route add default via $GW dev %s metric %d",
			managementIface, managementIface, managementIface, managementRouteMetric),
		fmt.Sprintf("ip route add default via %s dev %s metric %d", a.Gateway, a.InterfaceName, segmentRouteMetric),
	}
}

// renameCommand renames whichever link carries mac to name.
func renameCommand(mac, name string) string {
	return fmt.Sprintf("for i in /sys/class/net/*; do [ \"$(cat $i/address)\" = %s ] && [ \"${i##*/}\" != %s ] && ip link set \"${i##*/}\" down && ip link set \"${i##*/}\" name %s; done; true",
		mac, name, name)
}
