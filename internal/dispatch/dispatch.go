// Package dispatch implements the command dispatcher (spec.md §4.2): the per-command
// handler table wired to internal/link for state and internal/transport (via the
// Writer interface) for responses.
package dispatch

import (
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"github.com/usbdbg/dbglinkd/internal/frame"
	"github.com/usbdbg/dbglinkd/internal/hwsink"
	"github.com/usbdbg/dbglinkd/internal/link"
)

// Command codes (SPEC_FULL.md §2 — spec.md §6 leaves these to an implementation
// header this repo doesn't have; see DESIGN.md for how these values were chosen).
const (
	CmdNone          = 0x00
	CmdScriptExec    = 0x05
	CmdScriptStop    = 0x06
	CmdScriptSave    = 0x07
	CmdSysReset      = 0x0B
	CmdFBEnable      = 0x0D
	CmdQueryStatus   = 0x80
	CmdArchStr       = 0x81
	CmdScriptRunning = 0x82
	CmdTxBufLen      = 0x83
	CmdTxBuf         = 0x84
	CmdQueryFileStat = 0x85
	CmdCreateFile    = 0x86
	CmdFwVersion     = 0x88
	CmdVerifyFile    = 0x89
	CmdFrameSize     = 0x8A
	CmdFrameDump     = 0x8B
	CmdWriteFile     = 0x8C
)

// archStringWidth is the fixed, zero-padded response width for ARCH_STR (spec.md
// §4.2: "N=0x40 ... 64 bytes").
const archStringWidth = 0x40

// createFileFixedFields is {u32 chunk_size} + {u8 sha256[32]} — the part of the
// CREATEFILE payload that isn't the variable-length name field (spec.md §6).
const createFileFixedFields = 4 + 32

// postInterruptWait is how long SCRIPT_EXEC waits for a previously-running script to
// observe the IDE interrupt it just raised (spec.md §5: "a short ~100ms post-interrupt
// wait").
const postInterruptWait = 100 * time.Millisecond

// scriptStopDrainPoll is how often that wait re-checks whether the script stopped.
const scriptStopDrainPoll = 5 * time.Millisecond

// Writer is the response sink, satisfied by *transport.Device.
type Writer interface {
	Write(data []byte) error
}

// Trace is one dispatched command, published to anything watching (the Link Monitor).
type Trace struct {
	Cmd    byte
	Name   string
	Length uint32
}

// Version is the firmware version reported by FW_VERSION.
type Version struct {
	Major, Minor, Micro uint32
}

// Dispatcher implements frame.Dispatcher over a Link, a response Writer, and the
// hardware collaborators the framebuffer pipeline needs.
type Dispatcher struct {
	Link    *link.Link
	Out     Writer
	Version Version
	Arch    string
	Board   string
	UID     string

	FileRoot string

	WBC      hwsink.WriteBackSource
	Encoder  hwsink.JPEGEncoder
	Rotator  hwsink.Rotator

	OnTrace func(Trace)
}

var _ frame.Dispatcher = (*Dispatcher)(nil)

// Dispatch implements frame.Dispatcher (spec.md §4.2). Unknown commands are logged
// and ignored; handler errors never tear down the parser (spec.md §7).
func (d *Dispatcher) Dispatch(cmd byte, length uint32, pr *frame.PayloadReader) {
	if d.OnTrace != nil {
		d.OnTrace(Trace{Cmd: cmd, Name: commandName(cmd), Length: length})
	}

	switch cmd {
	case CmdQueryStatus:
		d.respond(u32le(0xFFEEBBAA))
	case CmdFwVersion:
		d.respond(d.firmwareVersion())
	case CmdArchStr:
		d.respond(d.archString())
	case CmdScriptExec:
		d.handleScriptExec(length, pr)
	case CmdScriptStop:
		if d.Link.ScriptRunning() && d.Link.Runtime != nil {
			d.Link.Runtime.RaiseIDEInterrupt()
		}
	case CmdScriptSave:
		// Reserved; no response (spec.md §4.2).
	case CmdScriptRunning:
		d.respond(u32le(boolU32(d.Link.ScriptRunning())))
	case CmdTxBufLen:
		d.respond(u32le(uint32(d.Link.Stdout.Readable())))
	case CmdTxBuf:
		d.handleTxBuf(length)
	case CmdQueryFileStat:
		d.respond(u32le(d.Link.FileErrcode()))
	case CmdCreateFile:
		d.handleCreateFile(length, pr)
	case CmdWriteFile:
		d.handleWriteFile(length, pr)
	case CmdVerifyFile:
		d.respond(u32le(d.Link.VerifyFile()))
	case CmdFrameSize:
		d.handleFrameSize()
	case CmdFrameDump:
		d.respond(d.Link.FrameDump())
	case CmdSysReset:
		d.Link.RequestReset()
	case CmdFBEnable:
		d.handleFBEnable(length, pr)
	default:
		log.Printf("dispatch: unknown command %#02x (length=%d)", cmd, length)
	}
}

func (d *Dispatcher) handleScriptExec(length uint32, pr *frame.PayloadReader) {
	source := make([]byte, length)
	if err := pr.ReadExact(source); err != nil {
		log.Printf("dispatch: SCRIPT_EXEC payload read: %v", err)
		return
	}

	if d.Link.ScriptRunning() {
		if d.Link.Runtime != nil {
			d.Link.Runtime.RaiseIDEInterrupt()
		}
		deadline := time.Now().Add(postInterruptWait)
		for d.Link.ScriptRunning() && time.Now().Before(deadline) {
			time.Sleep(scriptStopDrainPoll)
		}
		if d.Link.ScriptRunning() {
			// Still running after the grace period: drop this request (spec.md §4.2).
			return
		}
	}

	d.Link.StageScript(source)
}

func (d *Dispatcher) handleTxBuf(length uint32) {
	buf := make([]byte, length)
	n := d.Link.Stdout.Read(buf)
	d.respond(buf[:n])
}

func (d *Dispatcher) handleCreateFile(length uint32, pr *frame.PayloadReader) {
	buf := make([]byte, length)
	if err := pr.ReadExact(buf); err != nil {
		log.Printf("dispatch: CREATEFILE payload read: %v", err)
		return
	}
	if length < createFileFixedFields {
		d.Link.SetFileErrPath()
		return
	}

	chunkSize := binary.LittleEndian.Uint32(buf[0:4])
	nameField := buf[4 : length-32]
	var sum [32]byte
	copy(sum[:], buf[length-32:])

	d.Link.CreateFile(d.FileRoot, chunkSize, cString(nameField), sum)
}

func (d *Dispatcher) handleWriteFile(length uint32, pr *frame.PayloadReader) {
	buf := make([]byte, length)
	if err := pr.ReadExact(buf); err != nil {
		log.Printf("dispatch: WRITEFILE payload read: %v", err)
		return
	}
	// ReadExact above always drains the declared payload before WriteFile runs any
	// precondition check, keeping framing aligned even on a rejected write (spec.md
	// §4.3, §7, §9).
	d.Link.WriteFile(buf)
}

func (d *Dispatcher) handleFrameSize() {
	w, h, size := d.Link.FrameSize(d.WBC, d.Encoder, d.Rotator)
	d.respond(append(append(u32le(w), u32le(h)...), u32le(size)...))
}

func (d *Dispatcher) handleFBEnable(length uint32, pr *frame.PayloadReader) {
	buf := make([]byte, length)
	if err := pr.ReadExact(buf); err != nil {
		log.Printf("dispatch: FB_ENABLE payload read: %v", err)
		return
	}
	if len(buf) == 0 {
		return
	}
	d.Link.SetEnabled(buf[0] != 0)
}

func (d *Dispatcher) firmwareVersion() []byte {
	return append(append(u32le(d.Version.Major), u32le(d.Version.Minor)...), u32le(d.Version.Micro)...)
}

func (d *Dispatcher) archString() []byte {
	s := fmt.Sprintf("%s [%s:%s]", d.Arch, d.Board, d.UID)
	out := make([]byte, archStringWidth)
	n := copy(out, s)
	_ = n // remainder stays zero, matching the zero-padded wire format
	return out
}

// respond writes data to the transport, logging (not surfacing) any write failure —
// spec.md §7: "write failures are not surfaced (best-effort)".
func (d *Dispatcher) respond(data []byte) {
	if d.Out == nil {
		return
	}
	if err := d.Out.Write(data); err != nil {
		log.Printf("dispatch: response write: %v", err)
	}
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func boolU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// cString trims a fixed-width NUL-terminated C string field down to its content.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func commandName(cmd byte) string {
	switch cmd {
	case CmdQueryStatus:
		return "QUERY_STATUS"
	case CmdFwVersion:
		return "FW_VERSION"
	case CmdArchStr:
		return "ARCH_STR"
	case CmdScriptExec:
		return "SCRIPT_EXEC"
	case CmdScriptStop:
		return "SCRIPT_STOP"
	case CmdScriptSave:
		return "SCRIPT_SAVE"
	case CmdScriptRunning:
		return "SCRIPT_RUNNING"
	case CmdTxBufLen:
		return "TX_BUF_LEN"
	case CmdTxBuf:
		return "TX_BUF"
	case CmdQueryFileStat:
		return "QUERY_FILE_STAT"
	case CmdCreateFile:
		return "CREATEFILE"
	case CmdWriteFile:
		return "WRITEFILE"
	case CmdVerifyFile:
		return "VERIFYFILE"
	case CmdFrameSize:
		return "FRAME_SIZE"
	case CmdFrameDump:
		return "FRAME_DUMP"
	case CmdSysReset:
		return "SYS_RESET"
	case CmdFBEnable:
		return "FB_ENABLE"
	default:
		return "UNKNOWN"
	}
}
