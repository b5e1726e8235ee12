package link

import (
	"sync"
	"time"

	"github.com/usbdbg/dbglinkd/internal/hwsink"
	"github.com/usbdbg/dbglinkd/internal/rotate"
)

// fbSource identifies which of the two framebuffer sources is active (spec.md §3
// "Framebuffer staging").
type fbSource int

const (
	fbSourceNone fbSource = iota
	fbSourceUser
	fbSourceWBC
)

const (
	wbcDumpTimeout   = 50 * time.Millisecond
	jpegEncodeBudget = time.Second
)

// framebufferState holds both framebuffer sources plus the two-phase fetch latch
// (spec.md §3, §4.4). Guarded by mu; producers may be any goroutine (set_fb-style
// sinks), the consumer is always the dispatcher handling FRAME_SIZE/FRAME_DUMP.
type framebufferState struct {
	mu      sync.Mutex
	enabled bool
	source  fbSource

	user struct {
		data    []byte
		w, h    int
		pending bool
	}

	wbc struct {
		jpegBuf       []byte
		jpegLen       int
		quality       int
		width, height int
		rotationFlags int
	}

	// fbFromCurrent is the source latched by the most recent FRAME_SIZE, consumed by
	// the paired FRAME_DUMP (spec.md §3 invariant).
	fbFromCurrent fbSource
}

// SetEnabled implements FB_ENABLE.
func (l *Link) SetEnabled(enabled bool) {
	l.fb.mu.Lock()
	defer l.fb.mu.Unlock()
	l.fb.enabled = enabled
}

// SetRotationFlags configures the rotation bitmask applied to WBC frames before JPEG
// encoding (spec.md §4.4 "if a rotation flag is configured and enabled").
func (l *Link) SetRotationFlags(flags int) {
	l.fb.mu.Lock()
	defer l.fb.mu.Unlock()
	l.fb.wbc.rotationFlags = flags
}

// SetUserFrame is the set_fb sink (spec.md §4.4): if a previously staged user frame
// hasn't been consumed yet, the call is dropped — oldest-wins once queued, not
// most-recent-wins.
func (l *Link) SetUserFrame(data []byte, w, h int) {
	l.fb.mu.Lock()
	defer l.fb.mu.Unlock()
	if l.fb.user.pending {
		return
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	l.fb.user.data = owned
	l.fb.user.w, l.fb.user.h = w, h
	l.fb.user.pending = true
	l.fb.source = fbSourceUser
}

// SetWriteBack is the set_vo_wbc sink (spec.md §4.4). A zero quality disables the
// write-back source; a nonzero quality selects it.
func (l *Link) SetWriteBack(quality, w, h int) {
	l.fb.mu.Lock()
	defer l.fb.mu.Unlock()
	if quality == 0 {
		l.fb.source = fbSourceNone
		return
	}
	l.fb.source = fbSourceWBC
	l.fb.wbc.quality = quality
	l.fb.wbc.width, l.fb.wbc.height = w, h
}

// FrameSize implements FRAME_SIZE (spec.md §4.2, §4.4): it latches the active source,
// refreshes a stale WBC JPEG encode if needed, and reports {width, height, size}.
func (l *Link) FrameSize(wbc hwsink.WriteBackSource, enc hwsink.JPEGEncoder, rot hwsink.Rotator) (width, height, size uint32) {
	l.fb.mu.Lock()
	defer l.fb.mu.Unlock()

	l.fb.fbFromCurrent = l.fb.source

	if !l.fb.enabled || l.fb.source == fbSourceNone {
		return 0, 0, 0
	}

	if l.fb.source == fbSourceUser {
		if !l.fb.user.pending {
			return 0, 0, 0
		}
		return uint32(l.fb.user.w), uint32(l.fb.user.h), uint32(len(l.fb.user.data))
	}

	// WBC path.
	if l.fb.wbc.jpegLen != 0 {
		return uint32(l.fb.wbc.width), uint32(l.fb.wbc.height), uint32(l.fb.wbc.jpegLen)
	}
	if wbc == nil || enc == nil {
		return 0, 0, 0
	}

	frame, ok := wbc.DumpFrame(wbcDumpTimeout)
	if !ok {
		// Write-back loss-of-connection raises the IDE interrupt (spec.md §4.5).
		if l.Runtime != nil {
			l.Runtime.RaiseIDEInterrupt()
		}
		return 0, 0, 0
	}
	defer wbc.ReleaseFrame(frame)

	encodeFrame := frame
	if angle, rotated := rotate.Angle(l.fb.wbc.rotationFlags); rotated && rot != nil {
		out, err := rot.Rotate(frame, angle)
		if err == nil {
			encodeFrame = out
		}
	}

	data, err := enc.Encode(encodeFrame, l.fb.wbc.quality, jpegEncodeBudget)
	if err != nil {
		return 0, 0, 0
	}
	// Grow the backing buffer monotonically, never shrink (spec.md §4.4).
	if cap(l.fb.wbc.jpegBuf) < len(data) {
		l.fb.wbc.jpegBuf = make([]byte, len(data))
	}
	l.fb.wbc.jpegBuf = l.fb.wbc.jpegBuf[:len(data)]
	copy(l.fb.wbc.jpegBuf, data)
	l.fb.wbc.jpegLen = len(data)
	l.fb.wbc.width, l.fb.wbc.height = frame.Width, frame.Height

	return uint32(frame.Width), uint32(frame.Height), uint32(l.fb.wbc.jpegLen)
}

// FrameDump implements FRAME_DUMP: transmits the bytes staged by the preceding
// FRAME_SIZE and releases/resets that staging (spec.md §4.4, §8 invariant: jpeg_len
// == 0 after every FRAME_DUMP of a WBC frame).
func (l *Link) FrameDump() []byte {
	l.fb.mu.Lock()
	defer l.fb.mu.Unlock()

	switch l.fb.fbFromCurrent {
	case fbSourceUser:
		if !l.fb.user.pending {
			return nil
		}
		data := l.fb.user.data
		l.fb.user.data = nil
		l.fb.user.pending = false
		return data
	case fbSourceWBC:
		data := make([]byte, l.fb.wbc.jpegLen)
		copy(data, l.fb.wbc.jpegBuf[:l.fb.wbc.jpegLen])
		l.fb.wbc.jpegLen = 0
		return data
	default:
		return nil
	}
}
