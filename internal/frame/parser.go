// Package frame implements the debug link's 5-state frame parser: a streaming state
// machine that turns an arbitrary-length byte stream from the transport into
// (command, declared_length) tuples and hands each one to a Dispatcher, which may
// pull its payload inline before the parser resumes scanning for the next frame.
package frame

import (
	"encoding/binary"
	"io"
)

// Phase is one of the parser's five states (spec.md §4.1, §3 "Parser state").
type Phase int

const (
	PhaseHead Phase = iota
	PhaseCmd
	PhaseLen
	PhaseDispatch
	PhaseRecv
)

func (p Phase) String() string {
	switch p {
	case PhaseHead:
		return "HEAD"
	case PhaseCmd:
		return "CMD"
	case PhaseLen:
		return "LEN"
	case PhaseDispatch:
		return "DISPATCH"
	case PhaseRecv:
		return "RECV"
	default:
		return "UNKNOWN"
	}
}

// syncByte is the fixed frame-start marker (spec.md §6).
const syncByte = 0x30

// PayloadReader lets a Dispatcher pull a frame's declared-length payload. It prefers
// bytes already present in the chunk the parser is currently scanning — "extra bytes
// received beyond the 6-byte frame header ... are consumed by that handler, not by
// the parser" (spec.md §4.1) — and falls back to a blocking full-read on the
// transport for whatever the current chunk doesn't cover.
type PayloadReader struct {
	local    []byte
	consumed int
	readFull func([]byte) error
}

// ReadExact fills buf, first from the chunk still pending in the parser, then (if
// buf is longer than what remained) via a blocking transport read.
func (r *PayloadReader) ReadExact(buf []byte) error {
	n := copy(buf, r.local)
	r.local = r.local[n:]
	r.consumed += n
	if n == len(buf) {
		return nil
	}
	if r.readFull == nil {
		return io.ErrUnexpectedEOF
	}
	return r.readFull(buf[n:])
}

// Dispatcher handles one parsed frame header. It may call pr.ReadExact to pull the
// frame's payload; the parser resumes scanning immediately after Dispatch returns.
type Dispatcher interface {
	Dispatch(cmd byte, length uint32, pr *PayloadReader)
}

// Parser is the frame state machine. It is owned exclusively by the I/O loop — see
// spec.md §3 "Parser state... Owned exclusively by the I/O loop."
type Parser struct {
	phase Phase
	cmd   byte

	recvLack   uint32
	recvNext   Phase
	recvTarget []byte // accumulator for the in-flight multi-byte field (currently only declared_length)
	lenBuf     [4]byte

	dispatcher Dispatcher
	readFull   func([]byte) error
}

// New returns a parser in the HEAD state. readFull performs a blocking full-read of
// len(buf) bytes directly from the transport; it backs PayloadReader's fallback path.
func New(d Dispatcher, readFull func([]byte) error) *Parser {
	return &Parser{phase: PhaseHead, dispatcher: d, readFull: readFull}
}

// Phase reports the parser's current state.
func (p *Parser) Phase() Phase { return p.phase }

// Feed delivers the next chunk of bytes read from the transport. It consumes exactly
// 6 + payload_bytes_read_by_handler bytes for every accepted frame (spec.md §8), and
// never leaves the parser in an invalid state, regardless of where the chunk
// boundary falls.
func (p *Parser) Feed(data []byte) {
	i := 0
	for i < len(data) || p.phase == PhaseDispatch {
		switch p.phase {
		case PhaseHead:
			if data[i] == syncByte {
				p.phase = PhaseCmd
			}
			i++

		case PhaseCmd:
			p.cmd = data[i]
			i++
			p.recvLack = 4
			p.recvNext = PhaseDispatch
			p.recvTarget = p.lenBuf[:0]
			p.phase = PhaseRecv
			// Falls through to PhaseRecv on the next loop iteration, exactly as
			// ide_dbg_update's FRAME_DATA_LENGTH case does (no byte consumed here).

		case PhaseRecv:
			avail := len(data) - i
			if avail >= int(p.recvLack) {
				p.recvTarget = append(p.recvTarget, data[i:i+int(p.recvLack)]...)
				i += int(p.recvLack)
				p.recvLack = 0
				p.phase = p.recvNext
				if p.phase == PhaseDispatch {
					p.cmdLength()
				}
			} else {
				p.recvTarget = append(p.recvTarget, data[i:]...)
				p.recvLack -= uint32(avail)
				i = len(data)
			}

		case PhaseDispatch:
			length := binary.LittleEndian.Uint32(p.lenBuf[:4])
			pr := &PayloadReader{local: data[i:], readFull: p.readFull}
			if p.dispatcher != nil {
				p.dispatcher.Dispatch(p.cmd, length, pr)
			}
			i += pr.consumed
			p.phase = PhaseHead

		case PhaseLen:
			// Unreachable: PhaseCmd routes the length accumulation through
			// PhaseRecv directly, matching the original state machine.
			p.phase = PhaseRecv

		default:
			p.phase = PhaseHead
		}
	}
}

// cmdLength snapshots the accumulated 4-byte field into lenBuf so PhaseDispatch can
// decode it regardless of how many Feed calls it took to arrive.
func (p *Parser) cmdLength() {
	copy(p.lenBuf[:], p.recvTarget)
}
