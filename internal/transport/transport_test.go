package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/musenet/muse/internal/protocol"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startTransport(t *testing.T, queue chan protocol.Notification) (*Transport, context.CancelFunc) {
	t.Helper()

	tr := New(queue, &Opts{Logger: discard()})
	if err := tr.Listen(netip.MustParseAddrPort("127.0.0.1:0")); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go tr.Serve(ctx)
	t.Cleanup(cancel)

	return tr, cancel
}

func TestTransport_DeliverOneRecord(t *testing.T) {
	queue := make(chan protocol.Notification, 1)
	recv, _ := startTransport(t, queue)

	sender, _ := startTransport(t, make(chan protocol.Notification, 1))

	want := protocol.Notification{
		From:    sender.Addr(),
		Content: protocol.RequestForTable{Value: "alice"},
	}
	sender.Send(recv.Addr(), want)

	select {
	case got := <-queue:
		if got.From != want.From {
			t.Fatalf("from = %v, want %v", got.From, want.From)
		}
		if got.Content != want.Content {
			t.Fatalf("content = %#v, want %#v", got.Content, want.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestTransport_DropsMalformedRecord(t *testing.T) {
	queue := make(chan protocol.Notification, 1)
	recv, _ := startTransport(t, queue)

	conn, err := net.Dial("tcp", recv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte("definitely not a notification"))
	conn.Close()

	// A well-formed record after the garbage must still get through.
	sender, _ := startTransport(t, make(chan protocol.Notification, 1))
	sender.Send(recv.Addr(), protocol.Notification{
		From:    sender.Addr(),
		Content: protocol.Heartbeat{},
	})

	select {
	case got := <-queue:
		if _, ok := got.Content.(protocol.Heartbeat); !ok {
			t.Fatalf("content = %#v, want Heartbeat", got.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat never arrived")
	}
}

func TestTransport_UnreachableTargetReported(t *testing.T) {
	tr := New(make(chan protocol.Notification, 1), &Opts{
		Logger:      discard(),
		DialTimeout: 200 * time.Millisecond,
	})

	// Grab a port that nothing listens on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dead := ln.Addr().(*net.TCPAddr).AddrPort()
	ln.Close()

	reported := make(chan netip.AddrPort, 1)
	tr.OnUnreachable = func(target netip.AddrPort) { reported <- target }

	tr.Send(dead, protocol.Notification{Content: protocol.Heartbeat{}})

	select {
	case got := <-reported:
		if got != dead {
			t.Fatalf("reported = %v, want %v", got, dead)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unreachable target never reported")
	}

	if err := tr.SendWait(dead, protocol.Notification{Content: protocol.Heartbeat{}}); err == nil {
		t.Fatal("SendWait to dead target returned nil error")
	}
}

// Send must return immediately even when every pool slot is held by a
// sender stuck in the unreachable callback; the caller is the dispatcher
// draining the very queue those callbacks feed.
func TestTransport_SendNeverBlocksCaller(t *testing.T) {
	tr := New(make(chan protocol.Notification, 1), &Opts{
		Logger:      discard(),
		DialTimeout: 200 * time.Millisecond,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dead := ln.Addr().(*net.TCPAddr).AddrPort()
	ln.Close()

	release := make(chan struct{})
	defer close(release)
	tr.OnUnreachable = func(netip.AddrPort) { <-release }

	start := time.Now()
	for i := 0; i < maxSenders+8; i++ {
		tr.Send(dead, protocol.Notification{Content: protocol.Heartbeat{}})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Send blocked the caller for %v", elapsed)
	}
}
