package peer

import (
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/musenet/muse/internal/config"
	"github.com/musenet/muse/internal/protocol"
)

func unrunPeer(t *testing.T, name string) *Peer {
	t.Helper()

	cfg := &config.Config{
		Name:              name,
		Port:              "4000",
		HeartbeatInterval: 10 * time.Second,
		DialTimeout:       500 * time.Millisecond,
	}

	p, err := New(cfg, &recordingListener{}, &nopSink{}, &Opts{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		ListenAddr: netip.MustParseAddrPort("127.0.0.1:0"),
	})
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	return p
}

func encodeTable(t *testing.T, table map[string]netip.AddrPort) []byte {
	t.Helper()

	b, err := protocol.EncodeTable(table)
	if err != nil {
		t.Fatalf("EncodeTable: %v", err)
	}
	return b
}

// A gossiped update can overtake the direct join reply when two peers
// join back to back. Folding both by merge keeps every member in the
// directory regardless of arrival order.
func TestNetworkTable_ReorderTolerant(t *testing.T) {
	p := unrunPeer(t, "c")

	a := netip.MustParseAddrPort("10.0.0.1:4000")
	b := netip.MustParseAddrPort("10.0.0.2:4000")

	update := encodeTable(t, map[string]netip.AddrPort{"a": a, "b": b, "c": p.addr})
	full := encodeTable(t, map[string]netip.AddrPort{"a": a, "c": p.addr})

	// The broadcast naming the middle joiner lands first.
	p.handleNetworkTable(update)
	p.handleNetworkTable(full)

	want := map[string]netip.AddrPort{"a": a, "b": b, "c": p.addr}
	for name, addr := range want {
		if got := p.directory[name]; got != addr {
			t.Fatalf("directory[%q] = %v, want %v (full: %v)", name, got, addr, p.directory)
		}
	}
	if len(p.directory) != len(want) {
		t.Fatalf("directory = %v, want %v", p.directory, want)
	}
}

// The join reply doubles as the rename notice: a table mapping our
// address to a different name means the bootstrap peer disambiguated us.
func TestNetworkTable_AdoptsAssignedName(t *testing.T) {
	p := unrunPeer(t, "a")

	other := netip.MustParseAddrPort("10.0.0.1:4000")
	full := encodeTable(t, map[string]netip.AddrPort{"a": other, "a#1": p.addr})

	p.handleNetworkTable(full)

	if p.name != "a#1" {
		t.Fatalf("name = %q, want %q", p.name, "a#1")
	}
	if p.directory["a"] != other || p.directory["a#1"] != p.addr {
		t.Fatalf("directory = %v", p.directory)
	}
}
