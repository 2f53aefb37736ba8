package sandbox

import (
	"fmt"
	"net"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/types"
)

const (
	maxProbeAttempts = 100
	maxHostPort      = 65535
)

// probeFunc reports whether a host port is currently free. Swapped out in
// tests.
type probeFunc func(port int) bool

func probeTCP(port int) bool {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// assignReplicaPorts derives host ports for a replica by probing upward from
// each original mapping's host port + 1. Probing is not atomic with container
// creation, so the runtime can still report Conflict; callers treat that as
// retriable.
func assignReplicaPorts(orig []types.PortMapping, probe probeFunc) ([]types.PortMapping, error) {
	assigned := make([]types.PortMapping, 0, len(orig))
	taken := make(map[int]bool, len(orig))

	for _, m := range orig {
		found := false
		for attempt := 1; attempt <= maxProbeAttempts; attempt++ {
			candidate := m.Host + attempt
			if candidate > maxHostPort {
				break
			}
			if taken[candidate] || !probe(candidate) {
				continue
			}
			assigned = append(assigned, types.PortMapping{Container: m.Container, Host: candidate})
			taken[candidate] = true
			found = true
			break
		}
		if !found {
			return nil, errdefs.Newf(errdefs.KindConflict,
				"no free host port within %d attempts after %d", maxProbeAttempts, m.Host)
		}
	}
	return assigned, nil
}
