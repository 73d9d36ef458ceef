package peer

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/musenet/muse/internal/protocol"
)

// The request API is the front-end surface. Every call funnels through
// the same work queue as remote records, so a command issued here and
// the same command arriving off the wire are indistinguishable to the
// dispatcher. Calls block while the queue is full.

// Push reads an audio file from disk and stores it in the network with
// twofold redundancy. Local I/O errors are the caller's problem; nothing
// is sent when the file cannot be read.
func (p *Peer) Push(path, title string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("peer: push %q: %w", path, err)
	}

	p.enqueue(protocol.PushToDB{
		Key:   title,
		Value: data,
		From:  p.addr.String(),
	})
	return nil
}

// Remove deletes title everywhere in the network.
func (p *Peer) Remove(title string) {
	p.enqueue(protocol.FindFile{Instr: protocol.InstrRemove, SongName: title})
}

// Stream plays title, fetching it from whichever peer holds it.
func (p *Peer) Stream(title string) {
	p.enqueue(protocol.PlayAudioRequest{Name: &title, State: protocol.MusicPlay})
}

// Download fetches a copy of title into the local store.
func (p *Peer) Download(title string) {
	p.enqueue(protocol.FindFile{Instr: protocol.InstrGet, SongName: title})
}

// Order asks every peer in the network to hold a copy of title.
func (p *Peer) Order(title string) {
	p.enqueue(protocol.OrderSongRequest{SongName: title})
}

// Play resumes a paused track, or starts title when the sink is idle.
// This is the only place the playing flag is consulted by callers. A
// bare play with nothing paused has no track to name and goes nowhere.
func (p *Peer) Play(title string) {
	if p.player.Busy() {
		p.enqueue(protocol.PlayAudioRequest{State: protocol.MusicContinue})
		return
	}
	if title == "" {
		p.log.Warn("nothing paused and no title to play")
		return
	}
	p.enqueue(protocol.PlayAudioRequest{Name: &title, State: protocol.MusicPlay})
}

func (p *Peer) Pause() {
	p.enqueue(protocol.PlayAudioRequest{State: protocol.MusicPause})
}

func (p *Peer) Stop() {
	p.enqueue(protocol.PlayAudioRequest{State: protocol.MusicStop})
}

// Status returns a snapshot of the directory.
func (p *Peer) Status() map[string]netip.AddrPort {
	var snapshot map[string]netip.AddrPort
	p.inspect(func() {
		snapshot = make(map[string]netip.AddrPort, len(p.directory))
		for name, addr := range p.directory {
			snapshot[name] = addr
		}
	})
	return snapshot
}

// Files returns the titles held locally.
func (p *Peer) Files() []string {
	var names []string
	p.inspect(func() { names = p.fileNames() })
	return names
}

// Name returns the peer's current name, which may differ from the
// configured one after collision resolution.
func (p *Peer) Name() string {
	var name string
	p.inspect(func() { name = p.name })
	return name
}

// SelfStatus upcalls the listener with the local name and file list.
func (p *Peer) SelfStatus() {
	p.enqueue(protocol.SelfStatusRequest{})
}

// RequestStatus asks target for its name and file list; the answer
// arrives through the listener.
func (p *Peer) RequestStatus(target netip.AddrPort) {
	p.tr.Send(target, p.notification(protocol.StatusRequest{}))
}

// Quit leaves the network gracefully: every peer is told we are exiting
// before the runtime shuts down. Blocks until the exit is announced.
func (p *Peer) Quit() {
	p.enqueue(protocol.ExitPeer{Addr: p.addr})
	<-p.quit
}
