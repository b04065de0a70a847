package manifest

import (
	"fmt"
	"hash/fnv"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/jbweber/homelab/topo/internal/domain"
)

const (
	DefaultStorage = "10Gi"

	// maxNameBase leaves room for the "-disk" and generation suffixes inside
	// the 63 character DNS label limit.
	maxNameBase = 48

	// maxBridgeName is the Linux interface name limit (IFNAMSIZ - 1).
	maxBridgeName = 15
)

var (
	storagePattern = regexp.MustCompile(`(?i)^\s*(\d+)\s*(gi|mi|ti|gb|mb|tb|g|m|t)?\s*$`)
	memoryPattern  = regexp.MustCompile(`(?i)^\s*(\d+)\s*(gib|gi|gb|g|mib|mi|mb|m)?\s*$`)
	integerPattern = regexp.MustCompile(`\d+`)
	invalidDNS     = regexp.MustCompile(`[^a-z0-9-]+`)
)

// NormalizeStorage converts a free-form size such as "20GB" into a binary
// quantity ("20Gi"). A bare number is read as gigabytes. Anything else
// yields DefaultStorage.
func NormalizeStorage(s string) string {
	m := storagePattern.FindStringSubmatch(s)
	if m == nil {
		return DefaultStorage
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return DefaultStorage
	}

	switch strings.ToLower(m[2]) {
	case "m", "mb", "mi":
		return fmt.Sprintf("%dMi", n)
	case "t", "tb", "ti":
		return fmt.Sprintf("%dTi", n)
	default:
		return fmt.Sprintf("%dGi", n)
	}
}

// ParseCores returns the first integer found in s, or the default core
// count for the device type.
func ParseCores(s string, t domain.DeviceType) int {
	if match := integerPattern.FindString(s); match != "" {
		if n, err := strconv.Atoi(match); err == nil && n > 0 {
			return n
		}
	}
	if t == domain.DeviceTypeRouter {
		return 2
	}
	return 1
}

// NormalizeMemory strips unit decoration down to "<n>G" or "<n>M". A bare
// number is read as gigabytes.
func NormalizeMemory(s string, t domain.DeviceType) string {
	if m := memoryPattern.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			if strings.HasPrefix(strings.ToLower(m[2]), "m") {
				return fmt.Sprintf("%dM", n)
			}
			return fmt.Sprintf("%dG", n)
		}
	}
	if t == domain.DeviceTypeRouter {
		return "2G"
	}
	return "1G"
}

// DNSName turns a device ID into a valid Kubernetes object name fragment.
func DNSName(id string) string {
	name := invalidDNS.ReplaceAllString(strings.ToLower(id), "-")
	name = strings.Trim(name, "-")
	if len(name) > maxNameBase {
		name = strings.TrimRight(name[:maxNameBase], "-")
	}
	if name == "" {
		return "device"
	}
	return name
}

// ClaimName is the stable storage claim name of a device. It never carries a
// generation token so machines from any export bind to the same claim.
func ClaimName(id string) string {
	return DNSName(id) + "-disk"
}

// MachineName is the virtual machine name for a device at a generation.
func MachineName(id, generation string) string {
	generation = invalidDNS.ReplaceAllString(strings.ToLower(generation), "")
	if generation == "" {
		return DNSName(id)
	}
	return DNSName(id) + "-" + generation
}

// BridgeName derives a short host bridge name from the third octet of
// subnet. Names already present in used get an "s<n>" suffix. The chosen
// name is recorded in used.
func BridgeName(subnet string, used map[string]bool) string {
	octet := 0
	if ip, _, err := net.ParseCIDR(subnet); err == nil && ip.To4() != nil {
		octet = int(ip.To4()[2])
	}

	name := fmt.Sprintf("br%d", octet)
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("br%ds%d", octet, n)
	}
	if len(name) > maxBridgeName {
		name = name[:maxBridgeName]
	}
	used[name] = true
	return name
}

// MACAddress returns a locally administered unicast MAC for the interface at
// index on the device. Index 0 is the management interface.
func MACAddress(id string, index int) string {
	h := fnv.New32a()
	h.Write([]byte(id))
	sum := h.Sum32()
	return fmt.Sprintf("02:%02x:%02x:%02x:%02x:%02x",
		byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum), byte(index))
}
