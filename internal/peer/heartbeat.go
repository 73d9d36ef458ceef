package peer

import (
	"context"
	"net/netip"

	"github.com/musenet/muse/internal/protocol"
)

// successorCount is how many address-sorted successors each peer
// monitors once the directory outgrows broadcastLimit. Two monitors per
// peer keeps a single simultaneous failure from hiding a death.
const (
	broadcastLimit = 20
	successorCount = 2
)

// runHeartbeat is the failure detector: every heartbeat period it sends
// an empty record to the monitored subset of the directory. Delivery is
// the signal; a failed connect surfaces through the transport's
// unreachable callback and drains the dead peer from every directory.
func (p *Peer) runHeartbeat(ctx context.Context) error {
	ticker := p.clk.Ticker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			// Buffered so an abandoned closure cannot block the
			// dispatcher's shutdown drain.
			targets := make(chan []netip.AddrPort, 1)
			select {
			case p.snapshots <- func() { targets <- p.heartbeatTargets() }:
			case <-ctx.Done():
				return nil
			}

			var ts []netip.AddrPort
			select {
			case ts = <-targets:
			case <-ctx.Done():
				return nil
			}

			beat := p.notification(protocol.Heartbeat{})
			for _, target := range ts {
				p.tr.Send(target, beat)
			}
		}
	}
}

// heartbeatTargets picks who to monitor this period: everyone while the
// directory is small, otherwise our successors in address-sorted order.
// Dispatcher-owned state; runs on the dispatcher.
func (p *Peer) heartbeatTargets() []netip.AddrPort {
	others := p.otherAddrs()
	if len(others) == 0 {
		return nil
	}
	if len(others) < broadcastLimit {
		return others
	}
	return successors(p.addr, others, successorCount)
}

// successors returns the k addresses that follow self in sorted order,
// wrapping around. addrs must be sorted and must not contain self.
func successors(self netip.AddrPort, addrs []netip.AddrPort, k int) []netip.AddrPort {
	if k > len(addrs) {
		k = len(addrs)
	}

	start := len(addrs)
	for i, a := range addrs {
		if self.Addr().Compare(a.Addr()) < 0 ||
			(self.Addr() == a.Addr() && self.Port() < a.Port()) {
			start = i
			break
		}
	}

	out := make([]netip.AddrPort, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, addrs[(start+i)%len(addrs)])
	}
	return out
}
