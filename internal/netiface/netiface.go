// Package netiface enumerates host network interfaces and applies the
// operator-configured allowlist, per spec.md's ALLOWED_IFACES setting.
package netiface

import "net"

// List returns the names of interfaces that are up, non-loopback, and
// present in allowed (if allowed is empty, every up non-loopback
// interface is permitted). Grounded on the teacher's
// collectors/network.go enumeration convention, simplified from
// primary-interface heuristics to a flat allowlist filter.
func List(allowed []string) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var allowSet map[string]struct{}
	if len(allowed) > 0 {
		allowSet = make(map[string]struct{}, len(allowed))
		for _, name := range allowed {
			allowSet[name] = struct{}{}
		}
	}

	var names []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if allowSet != nil {
			if _, ok := allowSet[iface.Name]; !ok {
				continue
			}
		}
		names = append(names, iface.Name)
	}
	return names, nil
}

// IsAllowed reports whether iface is permitted under the allowlist.
func IsAllowed(iface string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == iface {
			return true
		}
	}
	return false
}
