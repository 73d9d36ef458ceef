package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/musenet/muse/internal/protocol"
	"golang.org/x/sync/semaphore"
)

// maxSenders caps the number of concurrent outbound connections. The
// protocol is one-shot per message, so a partition storm would otherwise
// spawn a goroutine per directory entry per tick.
const maxSenders = 64

var ErrNotListening = errors.New("transport: not listening")

// Transport owns the listening socket and the one-shot outbound sends.
// Inbound records are decoded and pushed onto the work queue; enqueue
// blocks when the queue is full, which backpressures the accept loop.
type Transport struct {
	log         *slog.Logger
	dialTimeout time.Duration
	queue       chan<- protocol.Notification
	sem         *semaphore.Weighted
	ln          net.Listener

	// OnUnreachable is invoked when an async send cannot reach its
	// target. Connect failure is the network's only death certificate.
	OnUnreachable func(target netip.AddrPort)
}

type Opts struct {
	Logger      *slog.Logger
	DialTimeout time.Duration
}

func New(queue chan<- protocol.Notification, opts *Opts) *Transport {
	if opts == nil {
		opts = &Opts{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = time.Second
	}

	return &Transport{
		log:         opts.Logger.With("src", "transport"),
		dialTimeout: opts.DialTimeout,
		queue:       queue,
		sem:         semaphore.NewWeighted(maxSenders),
	}
}

// Listen binds the listening socket. Bind failure is fatal to the caller.
func (t *Transport) Listen(addr netip.AddrPort) error {
	ln, err := net.Listen("tcp", addr.String())
	if err != nil {
		return fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	t.ln = ln
	return nil
}

// Addr reports the bound address. Valid after Listen.
func (t *Transport) Addr() netip.AddrPort {
	if t.ln == nil {
		return netip.AddrPort{}
	}
	return t.ln.Addr().(*net.TCPAddr).AddrPort()
}

// Serve runs the accept loop until ctx is canceled or the listener
// closes. Each connection carries exactly one record, delimited by the
// sender's half-close.
func (t *Transport) Serve(ctx context.Context) error {
	if t.ln == nil {
		return ErrNotListening
	}

	go func() {
		<-ctx.Done()
		t.ln.Close()
	}()

	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}
		t.handleConn(ctx, conn)
	}
}

func (t *Transport) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	n, err := protocol.ReadNotification(conn)
	if err != nil {
		t.log.Warn("dropping undecodable record",
			"remote", conn.RemoteAddr(),
			"error", err,
		)
		return
	}

	select {
	case t.queue <- n:
	case <-ctx.Done():
	}
}

// Send delivers n to target asynchronously. Failure to connect or write
// surfaces through OnUnreachable, never to the caller. The pool slot is
// taken inside the goroutine: the semaphore bounds concurrent outbound
// connections, and the caller must never block on it, since failed
// senders report back into the queue the caller is draining.
func (t *Transport) Send(target netip.AddrPort, n protocol.Notification) {
	go func() {
		if err := t.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer t.sem.Release(1)

		if err := t.sendOnce(target, n); err != nil {
			t.log.Debug("send failed",
				"target", target,
				"kind", n.Content.Kind(),
				"error", err,
			)
			if t.OnUnreachable != nil {
				t.OnUnreachable(target)
			}
		}
	}()
}

// SendWait delivers n synchronously and returns the error instead of
// reporting through OnUnreachable. Used for the bootstrap join, where an
// unreachable target is fatal.
func (t *Transport) SendWait(target netip.AddrPort, n protocol.Notification) error {
	return t.sendOnce(target, n)
}

func (t *Transport) sendOnce(target netip.AddrPort, n protocol.Notification) error {
	d := net.Dialer{Timeout: t.dialTimeout}

	conn, err := d.Dial("tcp", target.String())
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(t.dialTimeout))
	return protocol.WriteNotification(conn, n)
}
