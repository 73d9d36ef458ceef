package peer

import (
	"context"
	"math/rand"
	"net/netip"

	"github.com/musenet/muse/internal/protocol"
)

// dispatch is the sole consumer of the work queue and the sole writer of
// peer state. Local commands and remote records arrive through the same
// queue, so every mutation is serialized here.
func (p *Peer) dispatch(ctx context.Context) error {
	defer p.drainSnapshots()

	for {
		select {
		case <-ctx.Done():
			return nil

		case fn := <-p.snapshots:
			fn()

		case n := <-p.queue:
			p.sweepPending()
			p.handle(n)
		}
	}
}

// drainSnapshots runs whatever closures were queued before the
// dispatcher exited, then marks the channel dead so later inspect calls
// return instead of waiting on a goroutine that is gone.
func (p *Peer) drainSnapshots() {
	for {
		select {
		case fn := <-p.snapshots:
			fn()
		default:
			close(p.dispatcherDone)
			return
		}
	}
}

func (p *Peer) handle(n protocol.Notification) {
	sender := n.From

	switch c := n.Content.(type) {
	case protocol.PushToDB:
		p.handlePush(c.Key, c.Value, c.From)
	case protocol.RedundantPushToDB:
		p.handleRedundantPush(c.Key, c.Value)
	case protocol.ChangePeerName:
		p.handleChangePeerName(c.Value)
	case protocol.SendNetworkTable:
		p.handleNetworkTable(c.Value)
	case protocol.SendNetworkUpdateTable:
		p.handleNetworkTable(c.Value)
	case protocol.RequestForTable:
		p.handleRequestForTable(c.Value, sender)
	case protocol.FindFile:
		p.handleFindFile(c.Instr, c.SongName)
	case protocol.ExistFile:
		p.handleExistFile(c.SongName, c.ID, sender)
	case protocol.ExistFileResponse:
		p.handleExistFileResponse(c.SongName, sender)
	case protocol.GetFile:
		p.handleGetFile(c.Instr, c.Key, sender)
	case protocol.GetFileResponse:
		p.handleGetFileResponse(c.Instr, c.Key, c.Value, sender)
	case protocol.DeleteFileRequest:
		p.handleDeleteFile(c.SongName)
	case protocol.DeleteFromNetwork:
		p.handleDeleteFromNetwork(c.Name)
	case protocol.ExitPeer:
		p.handleExitPeer(c.Addr)
	case protocol.DroppedPeer:
		p.handleDroppedPeer(c.Addr, sender)
	case protocol.StatusRequest:
		p.handleStatusRequest(sender)
	case protocol.SelfStatusRequest:
		p.listener.NotifyStatus(p.fileNames(), p.name)
	case protocol.StatusResponse:
		p.listener.NotifyStatus(c.Files, c.Name)
	case protocol.PlayAudioRequest:
		p.handlePlayAudio(c.Name, c.State)
	case protocol.OrderSongRequest:
		p.handleOrderSong(c.SongName, sender)
	case protocol.Heartbeat:
		// Successful delivery is the whole message.
	default:
		p.log.Warn("dropping unhandled notification", "kind", n.Content.Kind())
	}
}

// handlePush stores the blob and replicates it to one other peer chosen
// uniformly at random, excluding ourselves and the origin.
func (p *Peer) handlePush(key string, value []byte, origin string) {
	p.files[key] = value

	exclude := []netip.AddrPort{}
	if originAddr, err := netip.ParseAddrPort(origin); err == nil {
		exclude = append(exclude, originAddr)
	}

	if target, ok := randomTarget(p.otherAddrs(exclude...)); ok {
		p.tr.Send(target, p.notification(protocol.RedundantPushToDB{
			Key:   key,
			Value: value,
			From:  origin,
		}))
	} else {
		p.log.Warn("no replication target; file stored on a single peer", "key", key)
	}

	p.listener.FileStatusChanged(key, FileNew)
}

func (p *Peer) handleRedundantPush(key string, value []byte) {
	p.files[key] = value
	p.listener.FileStatusChanged(key, FileNew)
}

func (p *Peer) handleGetFile(instr protocol.Instruction, key string, requester netip.AddrPort) {
	value, ok := p.files[key]
	if !ok {
		p.log.Warn("asked for a file we do not hold", "key", key)
		return
	}

	p.tr.Send(requester, p.notification(protocol.GetFileResponse{
		Instr: instr,
		Key:   key,
		Value: value,
	}))
}

func (p *Peer) handleGetFileResponse(instr protocol.Instruction, key string, value []byte, holder netip.AddrPort) {
	switch instr {
	case protocol.InstrPlay:
		if err := p.player.Play(key, value); err != nil {
			p.log.Warn("sink rejected fetched track", "key", key, "error", err)
			return
		}
		title := key
		p.listener.PlayerPlaying(&title)

	case protocol.InstrGet:
		p.files[key] = value
		p.listener.FileStatusChanged(key, FileDownload)

	case protocol.InstrOrder:
		p.files[key] = value
		if target, ok := randomTarget(p.otherAddrs(holder)); ok {
			p.tr.Send(target, p.notification(protocol.RedundantPushToDB{
				Key:   key,
				Value: value,
				From:  p.addr.String(),
			}))
		}
		p.listener.FileStatusChanged(key, FileNew)

	default:
		p.log.Warn("fetched file with no follow-up action", "key", key, "instr", instr)
	}
}

func (p *Peer) handleDeleteFile(song string) {
	if _, ok := p.files[song]; !ok {
		return
	}
	delete(p.files, song)
	p.listener.FileStatusChanged(song, FileDelete)
}

// handleOrderSong asks every peer to hold a copy of the song. A locally
// issued order fans out to the network first; every peer that lacks the
// song then fetches it through the regular lookup path.
func (p *Peer) handleOrderSong(song string, sender netip.AddrPort) {
	if sender == p.addr {
		for _, target := range p.otherAddrs() {
			p.tr.Send(target, p.notification(protocol.OrderSongRequest{SongName: song}))
		}
	}

	if _, ok := p.files[song]; ok {
		return
	}
	p.handleFindFile(protocol.InstrOrder, song)
}

func (p *Peer) handleStatusRequest(requester netip.AddrPort) {
	p.tr.Send(requester, p.notification(protocol.StatusResponse{
		Files: p.fileNames(),
		Name:  p.name,
	}))
}

func (p *Peer) handlePlayAudio(name *string, state protocol.MusicState) {
	switch state {
	case protocol.MusicPlay:
		if name == nil {
			p.log.Warn("play request without a title")
			return
		}
		if data, ok := p.files[*name]; ok {
			if err := p.player.Play(*name, data); err != nil {
				p.log.Warn("sink rejected local track", "title", *name, "error", err)
				return
			}
			p.listener.PlayerPlaying(name)
			return
		}
		p.handleFindFile(protocol.InstrPlay, *name)

	case protocol.MusicPause:
		p.player.Pause()

	case protocol.MusicStop:
		if p.player.Stop() {
			p.listener.PlayerStopped()
		}

	case protocol.MusicContinue:
		p.player.Resume()

	default:
		p.log.Warn("unknown playback command", "state", state)
	}
}

func (p *Peer) fileNames() []string {
	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	return names
}

func randomTarget(candidates []netip.AddrPort) (netip.AddrPort, bool) {
	if len(candidates) == 0 {
		return netip.AddrPort{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}
