package sandbox

import (
	"testing"

	"github.com/burrowhq/burrow/pkg/errdefs"
	"github.com/burrowhq/burrow/pkg/types"
)

func TestAssignReplicaPorts(t *testing.T) {
	orig := []types.PortMapping{
		{Container: 80, Host: 48080},
		{Container: 9090, Host: 48090},
	}

	t.Run("first candidates free", func(t *testing.T) {
		got, err := assignReplicaPorts(orig, func(int) bool { return true })
		if err != nil {
			t.Fatalf("assignReplicaPorts() error = %v", err)
		}
		want := []types.PortMapping{
			{Container: 80, Host: 48081},
			{Container: 9090, Host: 48091},
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("port[%d] = %+v, want %+v", i, got[i], want[i])
			}
		}
	})

	t.Run("skips busy ports", func(t *testing.T) {
		busy := map[int]bool{48081: true, 48082: true}
		got, err := assignReplicaPorts(orig, func(p int) bool { return !busy[p] })
		if err != nil {
			t.Fatalf("assignReplicaPorts() error = %v", err)
		}
		if got[0].Host != 48083 {
			t.Errorf("port[0].Host = %d, want 48083", got[0].Host)
		}
	})

	t.Run("avoids duplicates within one call", func(t *testing.T) {
		same := []types.PortMapping{
			{Container: 80, Host: 48080},
			{Container: 81, Host: 48080},
		}
		got, err := assignReplicaPorts(same, func(int) bool { return true })
		if err != nil {
			t.Fatalf("assignReplicaPorts() error = %v", err)
		}
		if got[0].Host == got[1].Host {
			t.Errorf("both mappings assigned host %d", got[0].Host)
		}
	})

	t.Run("exhaustion is a conflict", func(t *testing.T) {
		_, err := assignReplicaPorts(orig, func(int) bool { return false })
		if !errdefs.IsConflict(err) {
			t.Errorf("error = %v, want conflict", err)
		}
	})

	t.Run("stops at the port ceiling", func(t *testing.T) {
		high := []types.PortMapping{{Container: 80, Host: maxHostPort}}
		_, err := assignReplicaPorts(high, func(int) bool { return true })
		if !errdefs.IsConflict(err) {
			t.Errorf("error = %v, want conflict at ceiling", err)
		}
	})
}
