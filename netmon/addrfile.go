package netmon

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PlaceholderAddress is written at sender launch when no interface is
// active, so the sender never starts from an empty address bank.
const PlaceholderAddress = "192.168.1.100"

// WriteAddressFile overwrites path with one active address per line and
// returns how many addresses were written. When the snapshot has no active
// address the file is left empty, unless fallback is set, in which case
// fallback is written instead.
func WriteAddressFile(snap Snapshot, path, fallback string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create address file directory: %w", err)
	}

	seen := make(map[string]struct{})
	var lines []string
	for _, iface := range snap.Active() {
		if _, ok := seen[iface.IPv4]; ok {
			continue
		}
		seen[iface.IPv4] = struct{}{}
		lines = append(lines, iface.IPv4)
	}
	if len(lines) == 0 && fallback != "" {
		lines = append(lines, fallback)
	}

	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return 0, fmt.Errorf("write address file: %w", err)
	}
	return len(lines), nil
}
