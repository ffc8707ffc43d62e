package agent

import (
	"context"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// PlaceholderMAC is reported when no hardware address could be detected
const PlaceholderMAC = "00:00:00:00:00:01"

// HostIdentity is what the agent reports about the machine it runs on
type HostIdentity struct {
	DeviceID   string
	MACAddress string
	Hostname   string
	OSInfo     string
}

// DetectIdentity inspects the host. DeviceID is freshly generated on every call.
func DetectIdentity(ctx context.Context) HostIdentity {
	id := HostIdentity{
		DeviceID:   uuid.NewString(),
		MACAddress: PlaceholderMAC,
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		id.Hostname = info.Hostname
		id.OSInfo = strings.Join(strings.Fields(strings.Join([]string{info.OS, info.Platform, info.PlatformVersion}, " ")), " ")
	}
	if id.Hostname == "" {
		id.Hostname, _ = os.Hostname()
	}

	if ifaces, err := psnet.InterfacesWithContext(ctx); err == nil {
		if mac := pickMAC(ifaces); mac != "" {
			id.MACAddress = mac
		}
	}
	return id
}

// pickMAC returns the hardware address of the lowest-index interface that is
// up and not a loopback, or "" when there is none
func pickMAC(ifaces []psnet.InterfaceStat) string {
	sorted := append([]psnet.InterfaceStat(nil), ifaces...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	for _, iface := range sorted {
		mac := strings.ToLower(strings.TrimSpace(iface.HardwareAddr))
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		up, loopback := false, false
		for _, f := range iface.Flags {
			switch strings.ToLower(f) {
			case "up":
				up = true
			case "loopback":
				loopback = true
			}
		}
		if up && !loopback {
			return mac
		}
	}
	return ""
}
