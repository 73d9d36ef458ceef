package peer

import (
	"fmt"
	"net/netip"
	"testing"
)

func mkAddrs(n int) []netip.AddrPort {
	addrs := make([]netip.AddrPort, 0, n)
	for i := 0; i < n; i++ {
		addrs = append(addrs, netip.MustParseAddrPort(
			fmt.Sprintf("10.0.%d.%d:4000", i/256, i%256)))
	}
	sortAddrs(addrs)
	return addrs
}

func TestSuccessors_WrapAround(t *testing.T) {
	addrs := mkAddrs(5)
	self := addrs[len(addrs)-1] // highest address wraps to the start
	others := addrs[:len(addrs)-1]

	got := successors(self, others, 2)
	if len(got) != 2 {
		t.Fatalf("successors = %v", got)
	}
	if got[0] != others[0] || got[1] != others[1] {
		t.Fatalf("successors = %v, want %v", got, others[:2])
	}
}

func TestSuccessors_FewerPeersThanK(t *testing.T) {
	addrs := mkAddrs(2)
	got := successors(addrs[0], addrs[1:], 2)
	if len(got) != 1 || got[0] != addrs[1] {
		t.Fatalf("successors = %v", got)
	}
}

// Every peer must be monitored by at least two others once heartbeats
// stop broadcasting.
func TestSuccessors_CoverageProperty(t *testing.T) {
	const n = 30
	addrs := mkAddrs(n)

	monitors := make(map[netip.AddrPort]int)
	for _, self := range addrs {
		others := make([]netip.AddrPort, 0, n-1)
		for _, a := range addrs {
			if a != self {
				others = append(others, a)
			}
		}
		for _, target := range successors(self, others, successorCount) {
			monitors[target]++
		}
	}

	for _, a := range addrs {
		if monitors[a] < 2 {
			t.Fatalf("peer %v monitored by %d peers, want >= 2", a, monitors[a])
		}
	}
}

func TestHeartbeatTargets_SmallVsLargeDirectory(t *testing.T) {
	p := &Peer{
		addr:      netip.MustParseAddrPort("10.0.0.0:4000"),
		directory: make(map[string]netip.AddrPort),
	}
	p.directory["self"] = p.addr

	for i := 1; i < 10; i++ {
		p.directory[fmt.Sprintf("p%d", i)] = netip.MustParseAddrPort(
			fmt.Sprintf("10.0.0.%d:4000", i))
	}
	if got := len(p.heartbeatTargets()); got != 9 {
		t.Fatalf("small directory targets = %d, want 9", got)
	}

	for i := 10; i <= 40; i++ {
		p.directory[fmt.Sprintf("p%d", i)] = netip.MustParseAddrPort(
			fmt.Sprintf("10.0.%d.%d:4000", i/256, i%256))
	}
	if got := len(p.heartbeatTargets()); got != successorCount {
		t.Fatalf("large directory targets = %d, want %d", got, successorCount)
	}
}

func TestUniqueName(t *testing.T) {
	p := &Peer{directory: map[string]netip.AddrPort{
		"a":   netip.MustParseAddrPort("10.0.0.1:4000"),
		"a#1": netip.MustParseAddrPort("10.0.0.2:4000"),
	}}

	joiner := netip.MustParseAddrPort("10.0.0.9:4000")
	tests := []struct {
		proposed string
		joiner   netip.AddrPort
		want     string
	}{
		{"b", joiner, "b"},
		{"a", joiner, "a#2"},
		{"a#1", joiner, "a#1#1"},
		// Rejoin under the address that already owns the name.
		{"a", netip.MustParseAddrPort("10.0.0.1:4000"), "a"},
	}

	for _, tc := range tests {
		if got := p.uniqueName(tc.proposed, tc.joiner); got != tc.want {
			t.Fatalf("uniqueName(%q) = %q, want %q", tc.proposed, got, tc.want)
		}
	}
}
