// Package peer implements the peer runtime: the replicated member
// directory, the in-memory audio store with twofold redundancy, the
// single-consumer dispatcher, the bootstrap handshake, and the
// heartbeat failure detector.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/google/uuid"
	"github.com/musenet/muse/internal/config"
	"github.com/musenet/muse/internal/player"
	"github.com/musenet/muse/internal/protocol"
	"github.com/musenet/muse/internal/transport"
	"golang.org/x/sync/errgroup"
)

// workQueueSize bounds the dispatcher's inbox. Producers (accept loop,
// request API) block when it is full; that blocking is the only
// backpressure in the system.
const workQueueSize = 5

// FileStatus describes a change to the local slice of the store.
type FileStatus string

const (
	FileNew      FileStatus = "NEW"
	FileDownload FileStatus = "DOWNLOAD"
	FileDelete   FileStatus = "DELETE"
)

// Listener is the upcall capability the front-end provides. Upcalls may
// arrive while the peer's internal lock is held, so implementations must
// not call back into the peer synchronously.
type Listener interface {
	NotifyStatus(files []string, name string)
	FileStatusChanged(name string, status FileStatus)
	PlayerPlaying(title *string)
	PlayerStopped()
}

type pendingLookup struct {
	at        time.Time
	requester netip.AddrPort
	instr     protocol.Instruction
}

// Peer is one process in the network. All mutable state is owned by the
// dispatcher goroutine, the sole consumer of the work queue; the request
// API and the transport only produce into that queue.
type Peer struct {
	log      *slog.Logger
	cfg      *config.Config
	clk      clock.Clock
	queue    chan protocol.Notification
	tr       *transport.Transport
	listener Listener
	player   *player.Player

	addr netip.AddrPort

	// Owned by the dispatcher. The request API reads them only through
	// snapshot accessors that funnel through the state channel below.
	name      string
	directory map[string]netip.AddrPort
	files     map[string][]byte
	pending   map[string]pendingLookup

	// snapshots serializes read access to dispatcher-owned state for
	// the request API without a lock: the dispatcher drains it between
	// messages. dispatcherDone closes once the dispatcher has exited and
	// run every closure still queued, so waiters never hang on shutdown.
	snapshots      chan func()
	dispatcherDone chan struct{}

	quit     chan struct{}
	quitOnce sync.Once
}

type Opts struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// ListenAddr overrides the interface-derived listen address. Tests
	// bind to 127.0.0.1:0.
	ListenAddr netip.AddrPort
}

// New validates the configuration, binds the listening socket, and
// returns a peer whose directory contains only itself. Errors here are
// the fatal kind; nothing has been spawned yet.
func New(cfg *config.Config, listener Listener, sink player.Sink, opts *Opts) (*Peer, error) {
	if opts == nil {
		opts = &Opts{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr := opts.ListenAddr
	if !addr.IsValid() {
		var err error
		addr, err = cfg.ListenAddr()
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger.With("src", "peer", "session", uuid.NewString()[:8])

	p := &Peer{
		log:            logger,
		cfg:            cfg,
		clk:            opts.Clock,
		queue:          make(chan protocol.Notification, workQueueSize),
		listener:       listener,
		player:         player.New(sink, logger),
		name:           cfg.Name,
		directory:      make(map[string]netip.AddrPort),
		files:          make(map[string][]byte),
		pending:        make(map[string]pendingLookup),
		snapshots:      make(chan func(), 16),
		dispatcherDone: make(chan struct{}),
		quit:           make(chan struct{}),
	}

	p.tr = transport.New(p.queue, &transport.Opts{
		Logger:      logger,
		DialTimeout: cfg.DialTimeout,
	})
	p.tr.OnUnreachable = p.handleLostConnection

	if err := p.tr.Listen(addr); err != nil {
		return nil, err
	}
	p.addr = p.tr.Addr()
	p.directory[p.name] = p.addr

	p.log.Info("local address", "addr", p.addr, "name", p.name)
	return p, nil
}

// Addr is the address this peer announces to the network.
func (p *Peer) Addr() netip.AddrPort { return p.addr }

// Run starts the accept loop, the dispatcher, and the failure detector,
// then joins the bootstrap network if one was configured. It blocks
// until ctx is canceled or Quit completes.
func (p *Peer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return p.tr.Serve(gctx) })
	g.Go(func() error { return p.dispatch(gctx) })
	g.Go(func() error { return p.runHeartbeat(gctx) })
	g.Go(func() error {
		select {
		case <-p.quit:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if bootstrap, ok := p.cfg.BootstrapAddr(); ok {
		err := p.tr.SendWait(bootstrap, p.notification(protocol.RequestForTable{Value: p.name}))
		if err != nil {
			cancel()
			g.Wait()
			return fmt.Errorf("peer: no existing network at %s: %w", bootstrap, err)
		}
	}

	return g.Wait()
}

func (p *Peer) notification(content protocol.Content) protocol.Notification {
	return protocol.Notification{From: p.addr, Content: content}
}

// enqueue feeds the dispatcher. Blocks when the queue is full.
func (p *Peer) enqueue(content protocol.Content) {
	p.queue <- p.notification(content)
}

// inspect runs fn on the dispatcher goroutine and waits for it. The
// request API uses it to snapshot dispatcher-owned state. After the
// dispatcher has exited the call returns without running fn; callers see
// zero values, never a hang.
func (p *Peer) inspect(fn func()) {
	done := make(chan struct{})
	select {
	case p.snapshots <- func() { fn(); close(done) }:
		select {
		case <-done:
		case <-p.dispatcherDone:
		}
	case <-p.dispatcherDone:
	}
}

// otherAddrs returns every directory address except our own and any
// listed in exclude. Dispatcher-owned state; call from the dispatcher.
func (p *Peer) otherAddrs(exclude ...netip.AddrPort) []netip.AddrPort {
	skip := map[netip.AddrPort]struct{}{p.addr: {}}
	for _, a := range exclude {
		skip[a] = struct{}{}
	}

	out := make([]netip.AddrPort, 0, len(p.directory))
	for _, a := range p.directory {
		if _, ok := skip[a]; ok {
			continue
		}
		out = append(out, a)
		skip[a] = struct{}{}
	}

	sortAddrs(out)
	return out
}

func sortAddrs(addrs []netip.AddrPort) {
	sort.Slice(addrs, func(i, j int) bool {
		if c := addrs[i].Addr().Compare(addrs[j].Addr()); c != 0 {
			return c < 0
		}
		return addrs[i].Port() < addrs[j].Port()
	})
}
