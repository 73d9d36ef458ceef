package peer

import (
	"fmt"
	"net/netip"

	"github.com/musenet/muse/internal/protocol"
)

// handleRequestForTable admits a newcomer: disambiguate its proposed
// name if taken, tell it about the rename, hand it the full directory,
// and gossip the updated directory to the existing members.
func (p *Peer) handleRequestForTable(proposed string, joiner netip.AddrPort) {
	name := p.uniqueName(proposed, joiner)
	if name != proposed {
		p.log.Info("renaming joining peer", "proposed", proposed, "assigned", name)
		p.tr.Send(joiner, p.notification(protocol.ChangePeerName{Value: name}))
	}

	p.directory[name] = joiner

	table, err := protocol.EncodeTable(p.directory)
	if err != nil {
		p.log.Error("directory encode failed", "error", err)
		return
	}

	p.tr.Send(joiner, p.notification(protocol.SendNetworkTable{Value: table}))
	for _, target := range p.otherAddrs(joiner) {
		p.tr.Send(target, p.notification(protocol.SendNetworkUpdateTable{Value: table}))
	}
}

// uniqueName appends "#n" until the proposed name is free in the
// directory. A rejoining peer keeps the name its address already owns.
func (p *Peer) uniqueName(proposed string, joiner netip.AddrPort) string {
	if addr, taken := p.directory[proposed]; !taken || addr == joiner {
		return proposed
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s#%d", proposed, n)
		if addr, taken := p.directory[candidate]; !taken || addr == joiner {
			return candidate
		}
	}
}

// handleChangePeerName is the joiner's side of collision resolution: the
// bootstrap peer assigned us a fresh name before announcing us.
func (p *Peer) handleChangePeerName(assigned string) {
	p.log.Info("renamed by the network", "old", p.name, "new", assigned)
	delete(p.directory, p.name)
	p.name = assigned
	p.directory[p.name] = p.addr
}

// handleNetworkTable folds a directory payload into ours. Tables merge
// rather than replace, so the full table sent to a joiner and the
// gossiped updates may arrive in either order without losing entries. A
// table carrying a different name for our own address is the bootstrap
// peer telling us what we are called now.
func (p *Peer) handleNetworkTable(payload []byte) {
	table, err := protocol.DecodeTable(payload)
	if err != nil {
		p.log.Warn("dropping undecodable directory payload", "error", err)
		return
	}

	for name, addr := range table {
		if addr == p.addr && name != p.name {
			p.log.Info("renamed by the network", "old", p.name, "new", name)
			delete(p.directory, p.name)
			p.name = name
		}
	}
	for name, addr := range table {
		p.directory[name] = addr
	}
	p.directory[p.name] = p.addr

	p.log.Debug("directory updated", "size", len(p.directory))
}

// handleExitPeer handles both sides of a graceful exit. Locally queued
// (addr == ours): announce the exit to everyone and shut down. From the
// network: drop the leaver and gossip its name to the survivors.
func (p *Peer) handleExitPeer(addr netip.AddrPort) {
	if addr == p.addr {
		exit := p.notification(protocol.ExitPeer{Addr: p.addr})
		for _, target := range p.otherAddrs() {
			if err := p.tr.SendWait(target, exit); err != nil {
				p.log.Debug("exit announcement failed", "target", target, "error", err)
			}
		}
		p.quitOnce.Do(func() { close(p.quit) })
		return
	}

	name, ok := p.nameByAddr(addr)
	if !ok {
		return
	}
	delete(p.directory, name)

	gossip := p.notification(protocol.DeleteFromNetwork{Name: name})
	for _, target := range p.otherAddrs(addr) {
		p.tr.Send(target, gossip)
	}
}

func (p *Peer) handleDeleteFromNetwork(name string) {
	if name == p.name {
		return
	}
	delete(p.directory, name)
}

// handleDroppedPeer removes a dead address. When we detected the death
// ourselves (the notification is locally queued), the evidence fans out
// to the rest of the directory; the fan-out sends recurse through the
// same path if they fail too.
func (p *Peer) handleDroppedPeer(addr netip.AddrPort, sender netip.AddrPort) {
	if addr == p.addr {
		return
	}

	name, ok := p.nameByAddr(addr)
	if !ok {
		return
	}
	delete(p.directory, name)
	p.log.Info("peer dropped", "name", name, "addr", addr)

	if sender != p.addr {
		return
	}
	dropped := p.notification(protocol.DroppedPeer{Addr: addr})
	for _, target := range p.otherAddrs(addr) {
		p.tr.Send(target, dropped)
	}
}

// handleLostConnection is the transport's unreachable callback. It runs
// on a sender goroutine, so the removal is queued for the dispatcher
// rather than applied here.
func (p *Peer) handleLostConnection(target netip.AddrPort) {
	select {
	case p.queue <- p.notification(protocol.DroppedPeer{Addr: target}):
	case <-p.quit:
	}
}

func (p *Peer) nameByAddr(addr netip.AddrPort) (string, bool) {
	for name, a := range p.directory {
		if a == addr {
			return name, true
		}
	}
	return "", false
}
