// Package hwsink names the external collaborators the debug link depends on but does
// not implement: the scripting runtime, the write-back video source, and the JPEG
// encoder. spec.md §1 lists these explicitly as out of scope; this package is their
// Go-shaped contract, consumed by internal/link and implemented elsewhere (or, for
// JPEGEncoder, given a stdlib-backed default for tests and software-only runs).
package hwsink

import "time"

// ScriptRuntime is the scripting runtime's side of the script hand-off and
// interrupt bridge (spec.md §1, §4.5, §4.8). The debug link calls StartScript and the
// two Raise methods and never observes their outcome; it tracks the script-running
// state itself (link.Link.ScriptRunning) and does not call ScriptRunning here.
type ScriptRuntime interface {
	// StartScript hands the given source to the runtime. Called once per accepted
	// SCRIPT_EXEC.
	StartScript(source []byte)

	// RaiseIDEInterrupt injects the distinguished "IDE interrupt" exception into the
	// runtime's main task (spec.md §4.8).
	RaiseIDEInterrupt()

	// RaiseKeyboardInterrupt injects a keyboard interrupt (Ctrl-C) into the runtime's
	// main task (spec.md §4.5, §4.8).
	RaiseKeyboardInterrupt()

	// ScriptRunning reports whether a script is currently executing.
	ScriptRunning() bool
}

// VideoFrame is the minimal frame metadata the framebuffer pipeline needs from a
// write-back dump: plane bytes plus width/height for JPEG encoding and rotation.
// spec.md §6 lists the abstracted hardware calls this models.
type VideoFrame struct {
	Width, Height int
	// Y and UV are the semi-planar YUV420 plane buffers (spec.md §4.4: "allocated at
	// init time to an aligned size covering YUV-420 semi-planar").
	Y, UV []byte
}

// WriteBackSource models the hardware write-back (WBC) channel: a snapshot of what
// the display controller is composing (spec.md "Write-back (WBC)" glossary entry).
type WriteBackSource interface {
	// DumpFrame captures one frame, waiting up to timeout. ok is false on timeout or
	// hardware error (spec.md §4.4: "with a 50 ms timeout").
	DumpFrame(timeout time.Duration) (frame VideoFrame, ok bool)

	// ReleaseFrame returns the frame's buffer to the hardware pool.
	ReleaseFrame(frame VideoFrame)
}

// JPEGEncoder models the hardware JPEG encoder (spec.md §6: "jpeg_encode(frame, &buf,
// cap, 1000ms, quality, realloc) -> size"). Encode returns the encoded bytes in a
// buffer of its own; growing the cached JPEG buffer (spec.md §4.4: "grow jpeg_cap
// monotonically, never shrink") is the caller's (internal/link's) responsibility, not
// the encoder's.
type JPEGEncoder interface {
	Encode(frame VideoFrame, quality int, timeout time.Duration) ([]byte, error)
}

// Rotator models the DMA rotation channel (spec.md §6: "dma_rotate(flags, in_frame,
// out_frame) -> status"). Implemented in internal/rotate for the software path; a
// hardware-backed Rotator can satisfy the same interface.
type Rotator interface {
	Rotate(frame VideoFrame, angle int) (VideoFrame, error)
}
