// Package player tracks what the local audio sink is doing. The sink
// itself is a capability: the GUI, the terminal client, and tests each
// plug in their own.
package player

import (
	"errors"
	"log/slog"
	"sync"
)

// Sink is the local audio output abstraction. Implementations must
// tolerate being driven only through the transitions below; the player
// never pauses an idle sink or resumes a playing one.
type Sink interface {
	Play(title string, data []byte) error
	Pause()
	Stop()
	Resume()
}

type State uint8

const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

var ErrNoTrack = errors.New("player: no track")

// Player is the IDLE/PLAYING/PAUSED machine in front of the sink.
// Commands that do not apply in the current state are ignored, matching
// the last-writer-wins nature of playback.
type Player struct {
	log *slog.Logger

	mu      sync.Mutex
	sink    Sink
	state   State
	current string
}

func New(sink Sink, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		log:  logger.With("src", "player"),
		sink: sink,
	}
}

// Play starts title, preempting whatever is playing or paused.
func (p *Player) Play(title string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Idle {
		p.sink.Stop()
		p.state = Idle
		p.current = ""
	}

	if err := p.sink.Play(title, data); err != nil {
		return err
	}

	p.state = Playing
	p.current = title
	p.log.Debug("playing", "title", title)
	return nil
}

// Pause suspends the current track. No-op unless playing.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Playing {
		return
	}
	p.sink.Pause()
	p.state = Paused
}

// Resume continues a paused track. No-op unless paused.
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Paused {
		return
	}
	p.sink.Resume()
	p.state = Playing
}

// Stop discards the current track. Reports whether there was one.
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Idle {
		return false
	}
	p.sink.Stop()
	p.state = Idle
	p.current = ""
	return true
}

// Busy reports whether the sink holds an unfinished track, playing or
// paused. This is the "playing" flag front-ends consult before choosing
// between PLAY and CONTINUE.
func (p *Player) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state != Idle
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Current returns the title the sink holds.
func (p *Player) Current() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Idle {
		return "", ErrNoTrack
	}
	return p.current, nil
}
