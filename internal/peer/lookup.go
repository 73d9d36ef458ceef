package peer

import (
	"net/netip"
	"time"

	"github.com/musenet/muse/internal/protocol"
)

// handleFindFile resolves a song either locally or by fanning an
// ExistFile query out to the directory and parking the intent in the
// pending table until the first holder answers.
func (p *Peer) handleFindFile(instr protocol.Instruction, song string) {
	if instr == protocol.InstrRemove {
		p.handleDeleteFile(song)
		for _, target := range p.otherAddrs() {
			p.tr.Send(target, p.notification(protocol.DeleteFileRequest{SongName: song}))
		}
		return
	}

	if data, ok := p.files[song]; ok {
		switch instr {
		case protocol.InstrPlay:
			if err := p.player.Play(song, data); err != nil {
				p.log.Warn("sink rejected local track", "title", song, "error", err)
				return
			}
			title := song
			p.listener.PlayerPlaying(&title)
		case protocol.InstrGet:
			p.listener.FileStatusChanged(song, FileDownload)
		case protocol.InstrOrder:
			// Already held; an order needs no copy here.
		}
		return
	}

	targets := p.otherAddrs()
	if len(targets) == 0 {
		p.log.Warn("file not found and no peers to ask", "song", song)
		if instr == protocol.InstrPlay {
			p.listener.PlayerStopped()
		}
		return
	}

	// First response wins; the timestamp doubles as the sweep deadline.
	p.pending[song] = pendingLookup{
		at:        p.clk.Now(),
		requester: p.addr,
		instr:     instr,
	}

	query := p.notification(protocol.ExistFile{SongName: song, ID: p.pending[song].at})
	for _, target := range targets {
		p.tr.Send(target, query)
	}
}

// handleExistFile answers only when we hold the song; silence means "not
// here". The query id is echoed back so the requester can correlate.
func (p *Peer) handleExistFile(song string, id time.Time, sender netip.AddrPort) {
	if _, ok := p.files[song]; !ok {
		return
	}

	p.tr.Send(sender, p.notification(protocol.ExistFileResponse{
		SongName: song,
		ID:       id,
	}))
}

// handleExistFileResponse honors only the first answer for a pending
// lookup; later holders are ignored, so at most one GetFile goes out.
func (p *Peer) handleExistFileResponse(song string, holder netip.AddrPort) {
	entry, ok := p.pending[song]
	if !ok {
		p.log.Debug("late lookup response dropped", "song", song, "holder", holder)
		return
	}
	delete(p.pending, song)

	p.tr.Send(holder, p.notification(protocol.GetFile{
		Instr: entry.instr,
		Key:   song,
	}))
}

// sweepPending discards lookups that have waited longer than two
// heartbeat periods. Without the sweep, a query for a song nobody holds
// would pin its entry forever.
func (p *Peer) sweepPending() {
	if len(p.pending) == 0 {
		return
	}

	deadline := p.clk.Now().Add(-2 * p.cfg.HeartbeatInterval)
	for song, entry := range p.pending {
		if entry.at.After(deadline) {
			continue
		}
		delete(p.pending, song)
		p.log.Warn("lookup expired; no peer holds the file", "song", song, "instr", entry.instr)
		if entry.instr == protocol.InstrPlay {
			p.listener.PlayerStopped()
		}
	}
}
