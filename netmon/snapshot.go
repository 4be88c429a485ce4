package netmon

import (
	"sort"
	"time"
)

// Snapshot is the set of interfaces observed by one poll. Published
// snapshots are shared read-only; use Clone before modifying one.
type Snapshot struct {
	Interfaces []InterfaceInfo `json:"interfaces"`
	CapturedAt time.Time       `json:"captured_at"`
}

// Clone returns a copy that does not share the interface slice.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{CapturedAt: s.CapturedAt}
	if s.Interfaces != nil {
		out.Interfaces = make([]InterfaceInfo, len(s.Interfaces))
		copy(out.Interfaces, s.Interfaces)
	}
	return out
}

// Active returns the active interfaces in snapshot order.
func (s Snapshot) Active() []InterfaceInfo {
	var out []InterfaceInfo
	for _, iface := range s.Interfaces {
		if iface.Active() {
			out = append(out, iface)
		}
	}
	return out
}

// ActiveAddresses returns the sorted, de-duplicated IPv4 addresses of the
// active interfaces.
func (s Snapshot) ActiveAddresses() []string {
	seen := make(map[string]struct{})
	var addrs []string
	for _, iface := range s.Active() {
		if _, ok := seen[iface.IPv4]; ok {
			continue
		}
		seen[iface.IPv4] = struct{}{}
		addrs = append(addrs, iface.IPv4)
	}
	sort.Strings(addrs)
	return addrs
}

// Changed reports whether two snapshots differ in their active address set.
// Interface names, ordering and classification are ignored.
func Changed(prev, next Snapshot) bool {
	a, b := prev.ActiveAddresses(), next.ActiveAddresses()
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return true
		}
	}
	return false
}
