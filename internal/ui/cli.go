// Package ui is the terminal front-end: a small command loop over the
// peer's request API, and the Listener that renders upcalls.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/musenet/muse/internal/peer"
)

type Client struct {
	log  *slog.Logger
	out  io.Writer
	peer *peer.Peer

	titleColor *color.Color
	eventColor *color.Color
	errColor   *color.Color
}

func NewClient(out io.Writer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		log:        logger.With("src", "ui"),
		out:        out,
		titleColor: color.New(color.FgCyan, color.Bold),
		eventColor: color.New(color.FgGreen),
		errColor:   color.New(color.FgRed),
	}
}

// Attach wires the peer in after construction; the peer needs the
// listener at startup, so the two meet halfway.
func (c *Client) Attach(p *peer.Peer) { c.peer = p }

// NotifyStatus, FileStatusChanged, PlayerPlaying, and PlayerStopped are
// the peer's upcalls. They may run while the peer is dispatching, so
// they only render.

func (c *Client) NotifyStatus(files []string, name string) {
	sort.Strings(files)
	fmt.Fprintf(c.out, "%s holds: %s\n",
		c.titleColor.Sprint(name), strings.Join(files, ", "))
}

func (c *Client) FileStatusChanged(name string, status peer.FileStatus) {
	c.eventColor.Fprintf(c.out, "[%s] %s\n", status, name)
}

func (c *Client) PlayerPlaying(title *string) {
	if title == nil {
		c.eventColor.Fprintln(c.out, "[PLAYING]")
		return
	}
	c.eventColor.Fprintf(c.out, "[PLAYING] %s\n", *title)
}

func (c *Client) PlayerStopped() {
	c.eventColor.Fprintln(c.out, "[STOPPED]")
}

// Run reads commands until EOF or "quit".
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	c.printHelp()

	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if done := c.execute(fields[0], fields[1:]); done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (c *Client) execute(cmd string, args []string) (done bool) {
	switch cmd {
	case "push":
		if len(args) != 2 {
			c.usage("push <path> <title>")
			return false
		}
		if err := c.peer.Push(args[0], args[1]); err != nil {
			c.errColor.Fprintf(c.out, "push failed: %v\n", err)
		}
	case "remove":
		if len(args) != 1 {
			c.usage("remove <title>")
			return false
		}
		c.peer.Remove(args[0])
	case "stream":
		if len(args) != 1 {
			c.usage("stream <title>")
			return false
		}
		c.peer.Stream(args[0])
	case "download":
		if len(args) != 1 {
			c.usage("download <title>")
			return false
		}
		c.peer.Download(args[0])
	case "order":
		if len(args) != 1 {
			c.usage("order <title>")
			return false
		}
		c.peer.Order(args[0])
	case "play":
		title := ""
		if len(args) == 1 {
			title = args[0]
		}
		c.peer.Play(title)
	case "pause":
		c.peer.Pause()
	case "stop":
		c.peer.Stop()
	case "status":
		c.printStatus()
	case "files":
		c.peer.SelfStatus()
	case "quit":
		c.peer.Quit()
		return true
	case "help":
		c.printHelp()
	default:
		c.errColor.Fprintf(c.out, "unknown command %q; try help\n", cmd)
	}
	return false
}

func (c *Client) printStatus() {
	directory := c.peer.Status()

	names := make([]string, 0, len(directory))
	for name := range directory {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(c.out, "  %s  %s\n", c.titleColor.Sprint(name), directory[name])
	}
}

func (c *Client) usage(s string) {
	c.errColor.Fprintf(c.out, "usage: %s\n", s)
}

func (c *Client) printHelp() {
	fmt.Fprintln(c.out, `commands:
  push <path> <title>   share a local audio file with the network
  remove <title>        delete a title everywhere
  stream <title>        play a title from wherever it lives
  download <title>      fetch a local copy
  order <title>         have every peer keep a copy
  play [title]          play a title, or continue a paused one
  pause | stop          control playback
  status                show who is online
  files                 show what this peer holds
  quit                  leave the network`)
}
