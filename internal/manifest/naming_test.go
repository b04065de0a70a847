package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jbweber/homelab/topo/internal/domain"
)

func TestNormalizeStorage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"20GB", "20Gi"},
		{"512MB", "512Mi"},
		{"", "10Gi"},
		{"2tb", "2Ti"},
		{"30", "30Gi"},
		{" 20 Gi ", "20Gi"},
		{"100g", "100Gi"},
		{"64m", "64Mi"},
		{"abc", "10Gi"},
		{"1.5GB", "10Gi"},
		{"0GB", "10Gi"},
		{"20PB", "10Gi"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeStorage(tt.in))
		})
	}
}

func TestParseCores(t *testing.T) {
	assert.Equal(t, 4, ParseCores("4 cores", domain.DeviceTypeVM))
	assert.Equal(t, 8, ParseCores("vcpu: 8", domain.DeviceTypeRouter))
	assert.Equal(t, 1, ParseCores("", domain.DeviceTypeVM))
	assert.Equal(t, 1, ParseCores("", domain.DeviceTypeSwitch))
	assert.Equal(t, 2, ParseCores("", domain.DeviceTypeRouter))
	assert.Equal(t, 1, ParseCores("many", domain.DeviceTypeVM))
	assert.Equal(t, 1, ParseCores("0", domain.DeviceTypeVM))
}

func TestNormalizeMemory(t *testing.T) {
	assert.Equal(t, "2G", NormalizeMemory("2GB", domain.DeviceTypeVM))
	assert.Equal(t, "2G", NormalizeMemory("2Gi", domain.DeviceTypeVM))
	assert.Equal(t, "4G", NormalizeMemory("4 GiB", domain.DeviceTypeVM))
	assert.Equal(t, "512M", NormalizeMemory("512MB", domain.DeviceTypeVM))
	assert.Equal(t, "4G", NormalizeMemory("4", domain.DeviceTypeVM))
	assert.Equal(t, "1G", NormalizeMemory("", domain.DeviceTypeVM))
	assert.Equal(t, "2G", NormalizeMemory("", domain.DeviceTypeRouter))
	assert.Equal(t, "1G", NormalizeMemory("lots", domain.DeviceTypeSwitch))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "web-server-1", DNSName("Web_Server 1"))
	assert.Equal(t, "device", DNSName("---"))
	assert.Equal(t, "r1", DNSName("R1"))

	long := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghij"
	assert.Len(t, DNSName(long), maxNameBase)

	assert.Equal(t, "v1-disk", ClaimName("V1"))
	assert.Equal(t, "v1-lq2x9a", MachineName("V1", "lq2x9a"))
	assert.Equal(t, "v1", MachineName("V1", ""))
	assert.Equal(t, "v1-gen2", MachineName("V1", "Gen_2"))
}

func TestBridgeName(t *testing.T) {
	used := map[string]bool{}

	assert.Equal(t, "br1", BridgeName("192.168.1.0/24", used))
	assert.Equal(t, "br1s2", BridgeName("10.0.1.0/24", used))
	assert.Equal(t, "br1s3", BridgeName("172.16.1.0/24", used))
	assert.Equal(t, "br255", BridgeName("10.0.255.0/24", used))
	assert.Equal(t, "br0", BridgeName("bogus", used))

	for name := range used {
		assert.LessOrEqual(t, len(name), maxBridgeName)
	}
}

func TestMACAddress(t *testing.T) {
	mac := MACAddress("V1", 0)
	assert.Regexp(t, `^02(:[0-9a-f]{2}){5}$`, mac)
	assert.Equal(t, mac, MACAddress("V1", 0))
	assert.Equal(t, mac[:14], MACAddress("V1", 3)[:14])
	assert.Equal(t, "03", MACAddress("V1", 3)[15:])
	assert.NotEqual(t, mac, MACAddress("V2", 0))
}
