// Package ioloop implements the single dedicated worker described in spec.md §4.6:
// it multiplexes the transport file descriptor, a wake pipe standing in for the
// original's local console, and the transport's exception set (RTS/break), and
// routes every inbound byte either into the frame parser or into REPL handling.
package ioloop

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sys/unix"

	"github.com/usbdbg/dbglinkd/internal/frame"
	"github.com/usbdbg/dbglinkd/internal/link"
	"github.com/usbdbg/dbglinkd/internal/transport"
)

const (
	defaultSelectTimeout = time.Second
	defaultRTSRateLimit  = time.Second
	readChunk            = 4096
	mockLinePrefix       = 23
)

// handshakeTokens are the three 6-byte tokens host tools are known to send on
// connect, all recognized (spec.md §6).
var handshakeTokens = [][]byte{
	{0x30, 0x8D, 0x04, 0x00, 0x00, 0x00}, // CanMV IDE
	{0x30, 0x80, 0x0C, 0x00, 0x00, 0x00}, // OpenMV IDE
	{0x30, 0x87, 0x04, 0x00, 0x00, 0x00},
}

// mockReplLines are silently dropped when seen as ordinary REPL input (spec.md §6);
// only their first mockLinePrefix bytes are compared.
var mockReplLines = [][]byte{
	[]byte("from machine import UART\r"),
	[]byte("repl = UART.repl_uart()\r"),
	[]byte("repl.init(1500000, 8, None, 1, read_buf_len=2048, ide=True)\r"),
}

// Loop is the I/O loop's runtime state: everything spec.md §5 says is "owned by the
// I/O loop only; no locking required" except the parser, which the caller owns.
type Loop struct {
	Transport *transport.Device
	Link      *link.Link
	Parser    *frame.Parser

	// SelectTimeout and RTSRateLimit default to one second each (spec.md §4.6) but are
	// overridable, matching config.Config's ReadTimeout/RTSRateLimit.
	SelectTimeout time.Duration
	RTSRateLimit  time.Duration

	wakeRead, wakeWrite int
	lastRTS             time.Time
}

// New wires a Loop around an already-open transport, link, and frame parser, with the
// default select timeout and RTS rate limit. Set Loop.SelectTimeout/RTSRateLimit
// afterward to override either.
func New(t *transport.Device, l *link.Link, p *frame.Parser) (*Loop, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("ioloop: wake pipe: %w", err)
	}
	return &Loop{
		Transport:     t,
		Link:          l,
		Parser:        p,
		SelectTimeout: defaultSelectTimeout,
		RTSRateLimit:  defaultRTSRateLimit,
		wakeRead:      fds[0],
		wakeWrite:     fds[1],
	}, nil
}

// Wake requests an orderly exit from Run — the headless equivalent of the original's
// local-console Ctrl-C/`q` path (SPEC_FULL.md §6).
func (lp *Loop) Wake() {
	unix.Write(lp.wakeWrite, []byte{1})
}

// Close releases the wake pipe; the transport is owned by the caller.
func (lp *Loop) Close() error {
	_ = unix.Close(lp.wakeRead)
	return unix.Close(lp.wakeWrite)
}

// Run is the I/O loop's body. It blocks until ctx is canceled or Wake is called.
func (lp *Loop) Run(ctx context.Context) error {
	buf := make([]byte, readChunk)
	fd := lp.Transport.Fd()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		var readSet, exceptSet unix.FdSet
		readSet.Set(fd)
		readSet.Set(lp.wakeRead)
		exceptSet.Set(fd)
		tv := unix.NsecToTimeval(lp.SelectTimeout.Nanoseconds())

		nfd := fd
		if lp.wakeRead > nfd {
			nfd = lp.wakeRead
		}

		n, err := unix.Select(nfd+1, &readSet, nil, &exceptSet, &tv)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("ioloop: select: %w", err)
		}
		if n == 0 {
			continue // select timeout, spec.md §4.6 (default 1s)
		}

		if readSet.IsSet(lp.wakeRead) {
			return nil
		}

		if exceptSet.IsSet(fd) {
			lp.handleRTS()
		}

		if readSet.IsSet(fd) {
			nr, err := lp.Transport.Read(buf)
			if err != nil {
				log.Printf("ioloop: transport read: %v", err)
				continue
			}
			lp.handleTransportRead(buf[:nr])
		}
	}
}

// handleRTS implements spec.md §4.6's RTS handling, rate-limited to once per
// RTSRateLimit (default one second).
func (lp *Loop) handleRTS() {
	now := time.Now()
	if now.Sub(lp.lastRTS) < lp.RTSRateLimit {
		return
	}
	lp.lastRTS = now

	switch {
	case lp.Link.Attached() && lp.Link.ScriptRunning():
		lp.Link.RequestReset()
	case lp.Link.Attached():
		lp.Link.Detach()
	}
}

// handleTransportRead implements spec.md §4.6's dual-mode input routing.
func (lp *Loop) handleTransportRead(data []byte) {
	if lp.Link.Attached() {
		lp.Parser.Feed(data)
		return
	}

	if token, ok := matchHandshake(data); ok {
		// Attach itself raises the IDE interrupt when a script was already running
		// (spec.md §4.6's interrupt_ide() on handshake); nothing further to do here.
		lp.Link.Attach()
		lp.Parser.Feed(token)
		if rest := data[len(token):]; len(rest) > 0 {
			lp.Parser.Feed(rest)
		}
		return
	}

	lp.handleREPLInput(data)
}

// handleREPLInput is the "ordinary REPL input" branch of spec.md §4.6: mock lines are
// dropped, Ctrl-C under a running script raises keyboard-interrupt, everything else
// goes into the stdin ring one byte at a time.
func (lp *Loop) handleREPLInput(data []byte) {
	if isMockLine(data) {
		return
	}
	for _, b := range data {
		if b == 0x03 && lp.Link.ScriptRunning() {
			if lp.Link.Runtime != nil {
				lp.Link.Runtime.RaiseKeyboardInterrupt()
			}
			continue
		}
		lp.Link.Stdin.Write(b)
	}
}

func matchHandshake(data []byte) ([]byte, bool) {
	for _, tok := range handshakeTokens {
		if len(data) >= len(tok) && bytes.Equal(data[:len(tok)], tok) {
			return tok, true
		}
	}
	return nil, false
}

func isMockLine(data []byte) bool {
	if len(data) < mockLinePrefix {
		return false
	}
	prefix := data[:mockLinePrefix]
	for _, line := range mockReplLines {
		if len(line) >= mockLinePrefix && bytes.Equal(prefix, line[:mockLinePrefix]) {
			return true
		}
	}
	return false
}
