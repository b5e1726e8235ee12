// Package link implements the DebugLink aggregate: the process-wide state spec.md §3
// describes (attach flags, the script hand-off slot, framebuffer staging, the
// file-upload context) plus the stdout/stdin rings that connect it to the scripting
// runtime. It is "owned by the I/O loop" (spec.md §9 design note): the attach flags
// are atomics, and the locks taken guard the shared rings, the script slot, the
// framebuffer staging and the file-upload context.
package link

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/usbdbg/dbglinkd/internal/hwsink"
	"github.com/usbdbg/dbglinkd/internal/ring"
)

// FileRoot is where uploaded files are resolved (spec.md §6: "a fixed root").
const FileRoot = "/sdcard/"

// Link is the single process-wide debug-link value (spec.md §9 design note).
type Link struct {
	Stdout *ring.Stdout
	Stdin  *ring.Stdin

	Runtime hwsink.ScriptRuntime

	// OnAttachChange, if set, is called after every attach/detach transition (the Link
	// Monitor's only window into this state; it never drives it).
	OnAttachChange func(attached bool)

	attached          atomic.Bool
	disconnectPending atomic.Bool
	scriptRunning     atomic.Bool

	scriptMu     sync.Mutex
	scriptSource []byte
	scriptSem    chan struct{}

	fb   framebufferState
	file fileUpload
}

// New returns an un-attached Link with empty rings and no staged script or frame.
func New(runtime hwsink.ScriptRuntime) *Link {
	l := &Link{
		Stdout:    &ring.Stdout{},
		Stdin:     ring.NewStdin(),
		Runtime:   runtime,
		scriptSem: make(chan struct{}, 1),
	}
	l.fb.source = fbSourceNone
	return l
}

// Attached reports whether the host has completed the handshake.
func (l *Link) Attached() bool { return l.attached.Load() }

// ScriptRunning reports whether a script is currently executing, the value reported
// by the SCRIPT_RUNNING command.
func (l *Link) ScriptRunning() bool { return l.scriptRunning.Load() }

// Attach marks the link attached — called by the I/O loop on a recognized handshake
// token (spec.md §4.6, §6).
func (l *Link) Attach() {
	wasRunning := l.scriptRunning.Load()
	if !l.attached.Load() {
		// Interrupting the REPL on first attach is the runtime's own concern
		// (spec.md §4.6's interrupt_repl call); the link only tracks attach state.
	}
	l.attached.Store(true)
	if wasRunning && l.Runtime != nil {
		l.Runtime.RaiseIDEInterrupt()
	}
	if l.OnAttachChange != nil {
		l.OnAttachChange(true)
	}
}

// Detach clears attach state immediately, the direct equivalent of interrupt_ide().
func (l *Link) Detach() {
	l.attached.Store(false)
	l.postScriptSignal()
	if l.OnAttachChange != nil {
		l.OnAttachChange(false)
	}
}

// RequestReset implements SYS_RESET (spec.md §4.2, §4.5): if a script is running, it
// schedules a deferred disconnect for OnScriptEnd to carry out once the script
// observes the IDE interrupt; otherwise it detaches immediately after draining
// stdout — spec.md §9 flags the original's idle-path skip of that drain as a bug to
// not reproduce ("An implementation should drain to match the script-end path").
func (l *Link) RequestReset() {
	if l.scriptRunning.Load() {
		l.disconnectPending.Store(true)
		if l.Runtime != nil {
			l.Runtime.RaiseIDEInterrupt()
		}
		return
	}
	l.drainStdout(time.Second)
	l.Detach()
}

// GetScript is called by the scripting runtime; it blocks on the script semaphore and
// returns the pending source, or nil if the link is no longer attached by the time a
// script becomes available (spec.md §4.5).
func (l *Link) GetScript(wait func()) []byte {
	if wait != nil {
		wait()
	} else {
		<-l.scriptSem
	}
	if !l.attached.Load() {
		return nil
	}
	l.scriptMu.Lock()
	defer l.scriptMu.Unlock()
	return l.scriptSource
}

// postScriptSignal posts one permit to the script semaphore without blocking,
// mirroring sem_post's non-blocking semantics (count has an implicit ceiling of 1
// here since only one script can ever be pending at a time).
func (l *Link) postScriptSignal() {
	select {
	case l.scriptSem <- struct{}{}:
	default:
	}
}

// OnScriptStart marks a script running, called by the runtime once it has taken the
// script off the slot (spec.md §4.5).
func (l *Link) OnScriptStart() {
	l.scriptRunning.Store(true)
}

// StageScript implements SCRIPT_EXEC's accept path (spec.md §4.2): store the source
// in the script slot, mark it running, post the slot semaphore for any pull-style
// consumer, and push the source directly into the wired runtime.
func (l *Link) StageScript(source []byte) {
	l.scriptMu.Lock()
	l.scriptSource = source
	l.scriptMu.Unlock()

	l.scriptRunning.Store(true)
	l.postScriptSignal()
	if l.Runtime != nil {
		l.Runtime.StartScript(source)
	}
}

// OnScriptEnd frees the script slot, waits (bounded) for stdout to drain, clears
// scriptRunning, and — if a reset was requested mid-script — completes the deferred
// disconnect and resets the framebuffer source to NONE (spec.md §4.5, §3 invariant:
// "script_slot.source is non-empty only between SCRIPT_EXEC accept and
// on_script_end").
func (l *Link) OnScriptEnd() {
	l.scriptMu.Lock()
	l.scriptSource = nil
	l.scriptMu.Unlock()

	l.drainStdout(time.Second)

	l.scriptRunning.Store(false)
	if l.disconnectPending.Swap(false) {
		l.attached.Store(false)
		if l.OnAttachChange != nil {
			l.OnAttachChange(false)
		}
		l.fb.mu.Lock()
		l.fb.source = fbSourceNone
		l.fb.mu.Unlock()
	}
}

// drainStdout waits up to budget (in 10ms steps, ~100 iterations for a 1s budget —
// spec.md §5: "Stdout-drain waits at most ~1s (100 x 10ms) then proceeds regardless")
// for the stdout ring to empty.
func (l *Link) drainStdout(budget time.Duration) {
	const step = 10 * time.Millisecond
	deadline := time.Now().Add(budget)
	for l.Stdout.Readable() > 0 && time.Now().Before(deadline) {
		time.Sleep(step)
	}
}

// StdoutTx is the sink the scripting runtime's print path writes through (spec.md
// §5: "mpy_stdout_tx blocks (sleeps 2ms in a loop) when the stdout ring cannot accept
// the whole write. Writers thus never drop output"). sleep lets tests substitute a
// fake clock; pass time.Sleep in production.
func (l *Link) StdoutTx(data []byte, sleep func(time.Duration)) {
	for len(data) > 0 {
		n := l.Stdout.Write(data)
		data = data[n:]
		if len(data) > 0 {
			sleep(2 * time.Millisecond)
		}
	}
}
