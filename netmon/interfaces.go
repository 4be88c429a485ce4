package netmon

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/jackpal/gateway"
	"go.uber.org/zap"
)

// Classification groups interfaces by the kind of uplink they usually are.
type Classification int

const (
	Other Classification = iota
	Ethernet
	Wireless
	Modem
)

func (c Classification) String() string {
	switch c {
	case Ethernet:
		return "Ethernet"
	case Wireless:
		return "Wireless"
	case Modem:
		return "Modem"
	default:
		return "Other"
	}
}

// MarshalText lets snapshots render the classification by name in JSON.
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// InterfaceInfo describes one IPv4 address bound to a network interface.
type InterfaceInfo struct {
	Name           string         `json:"name"`
	IPv4           string         `json:"ipv4"`
	CIDR           string         `json:"cidr"`
	MAC            string         `json:"mac"`
	Gateway        string         `json:"gateway"`
	IsUp           bool           `json:"is_up"`
	IsRunning      bool           `json:"is_running"`
	IsDefaultRoute bool           `json:"is_default_route"`
	Class          Classification `json:"classification"`
}

// Active reports whether the interface is usable as a bonding path.
func (i InterfaceInfo) Active() bool {
	return i.IsUp && i.IsRunning && !isLoopback(i.Name, i.IPv4)
}

func isLoopback(name, addr string) bool {
	if name == "lo" || addr == "127.0.0.1" {
		return true
	}
	ip := net.ParseIP(addr)
	return ip != nil && ip.IsLoopback()
}

// Classify maps an interface name to its classification using the usual
// Linux and BSD naming prefixes.
func Classify(name string) Classification {
	lower := strings.ToLower(name)
	switch {
	case hasAnyPrefix(lower, "eth", "en"):
		return Ethernet
	case hasAnyPrefix(lower, "wlan", "wifi", "wl"):
		return Wireless
	case hasAnyPrefix(lower, "ppp", "tun", "tap", "wwan", "rmnet", "usb"):
		return Modem
	default:
		return Other
	}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func priority(c Classification) int {
	switch c {
	case Ethernet:
		return 1
	case Wireless:
		return 2
	case Modem:
		return 3
	default:
		return 100
	}
}

// DetectSystem enumerates the IPv4 addresses of every non-loopback interface
// on this machine. It never fails: enumeration errors yield an empty snapshot.
func DetectSystem(logger *zap.Logger) Snapshot {
	snap := Snapshot{CapturedAt: time.Now()}

	ifaces, err := net.Interfaces()
	if err != nil {
		logger.Warn("enumerate interfaces", zap.Error(err))
		return snap
	}

	gatewayIP, err := gateway.DiscoverGateway()
	if err != nil {
		logger.Debug("discover gateway", zap.Error(err))
		gatewayIP = nil
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
				continue
			}

			info := InterfaceInfo{
				Name:      iface.Name,
				IPv4:      ipNet.IP.To4().String(),
				MAC:       iface.HardwareAddr.String(),
				Gateway:   "Not detected",
				IsUp:      iface.Flags&net.FlagUp != 0,
				IsRunning: iface.Flags&net.FlagRunning != 0,
				Class:     Classify(iface.Name),
			}
			ones, _ := ipNet.Mask.Size()
			info.CIDR = fmt.Sprintf("%s/%d", info.IPv4, ones)
			if gatewayIP != nil && ipNet.Contains(gatewayIP) {
				info.Gateway = gatewayIP.String()
				info.IsDefaultRoute = true
			}
			snap.Interfaces = append(snap.Interfaces, info)
		}
	}

	sort.SliceStable(snap.Interfaces, func(i, j int) bool {
		a, b := snap.Interfaces[i], snap.Interfaces[j]
		if pa, pb := priority(a.Class), priority(b.Class); pa != pb {
			return pa < pb
		}
		return a.Name < b.Name
	})

	return snap
}
