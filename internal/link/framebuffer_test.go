package link

import (
	"errors"
	"testing"
	"time"

	"github.com/usbdbg/dbglinkd/internal/hwsink"
)

type fakeWBC struct {
	frame hwsink.VideoFrame
	ok    bool
	dumps int
}

func (f *fakeWBC) DumpFrame(time.Duration) (hwsink.VideoFrame, bool) {
	f.dumps++
	return f.frame, f.ok
}
func (f *fakeWBC) ReleaseFrame(hwsink.VideoFrame) {}

type fakeEncoder struct {
	out []byte
	err error
}

func (f *fakeEncoder) Encode(hwsink.VideoFrame, int, time.Duration) ([]byte, error) {
	return f.out, f.err
}

func TestFrameSizeDisabledReturnsZero(t *testing.T) {
	l := New(&fakeRuntime{})
	w, h, size := l.FrameSize(nil, nil, nil)
	if w != 0 || h != 0 || size != 0 {
		t.Fatalf("FrameSize on disabled/NONE source = (%d,%d,%d), want zeros", w, h, size)
	}
}

func TestUserFrameTwoPhaseFetch(t *testing.T) {
	l := New(&fakeRuntime{})
	l.SetEnabled(true)
	staged := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	l.SetUserFrame(staged, 2, 2)

	w, h, size := l.FrameSize(nil, nil, nil)
	if w != 2 || h != 2 || size != 12 {
		t.Fatalf("FrameSize() = (%d,%d,%d), want (2,2,12)", w, h, size)
	}

	dump := l.FrameDump()
	if string(dump) != string(staged) {
		t.Fatalf("FrameDump() = %v, want %v", dump, staged)
	}

	w, h, size = l.FrameSize(nil, nil, nil)
	if w != 0 || h != 0 || size != 0 {
		t.Fatalf("FrameSize() after consuming the staged frame = (%d,%d,%d), want zeros", w, h, size)
	}
}

func TestUserFrameDropsSecondStageWhileSlotFull(t *testing.T) {
	l := New(&fakeRuntime{})
	l.SetUserFrame([]byte{1, 2, 3}, 1, 3)
	l.SetUserFrame([]byte{9, 9, 9, 9}, 2, 2)

	l.fb.mu.Lock()
	w, h := l.fb.user.w, l.fb.user.h
	l.fb.mu.Unlock()
	if w != 1 || h != 3 {
		t.Fatalf("second SetUserFrame should have been dropped, staged dims = (%d,%d)", w, h)
	}
}

func TestWBCFrameEncodesOnceThenResetsAfterDump(t *testing.T) {
	l := New(&fakeRuntime{})
	l.SetEnabled(true)
	l.SetWriteBack(80, 0, 0)

	wbc := &fakeWBC{frame: hwsink.VideoFrame{Width: 4, Height: 4}, ok: true}
	enc := &fakeEncoder{out: []byte{0xFF, 0xD8, 0xFF, 0xD9}}

	w, h, size := l.FrameSize(wbc, enc, nil)
	if w != 4 || h != 4 || size != 4 {
		t.Fatalf("FrameSize() = (%d,%d,%d), want (4,4,4)", w, h, size)
	}
	if wbc.dumps != 1 {
		t.Fatalf("expected exactly one write-back dump, got %d", wbc.dumps)
	}

	dump := l.FrameDump()
	if string(dump) != string(enc.out) {
		t.Fatalf("FrameDump() = %v, want %v", dump, enc.out)
	}

	l.fb.mu.Lock()
	jl := l.fb.wbc.jpegLen
	l.fb.mu.Unlock()
	if jl != 0 {
		t.Fatalf("jpegLen after FRAME_DUMP = %d, want 0 (spec invariant)", jl)
	}
}

func TestWBCFrameCachedWhileJPEGStillFresh(t *testing.T) {
	l := New(&fakeRuntime{})
	l.SetEnabled(true)
	l.SetWriteBack(80, 0, 0)

	wbc := &fakeWBC{frame: hwsink.VideoFrame{Width: 4, Height: 4}, ok: true}
	enc := &fakeEncoder{out: []byte{1, 2, 3}}

	l.FrameSize(wbc, enc, nil)
	l.FrameSize(wbc, enc, nil) // FRAME_DUMP not yet called: jpeg_len != 0, must not re-encode.

	if wbc.dumps != 1 {
		t.Fatalf("FrameSize should not re-dump while jpeg_len is still nonzero, got %d dumps", wbc.dumps)
	}
}

func TestWBCDumpFailureRaisesIDEInterrupt(t *testing.T) {
	rt := &fakeRuntime{}
	l := New(rt)
	l.SetEnabled(true)
	l.SetWriteBack(80, 0, 0)

	wbc := &fakeWBC{ok: false}
	enc := &fakeEncoder{err: errors.New("unused")}

	w, h, size := l.FrameSize(wbc, enc, nil)
	if w != 0 || h != 0 || size != 0 {
		t.Fatalf("FrameSize() on dump failure = (%d,%d,%d), want zeros", w, h, size)
	}
	if rt.ideInterrupts != 1 {
		t.Fatalf("write-back loss-of-connection should raise one IDE interrupt, got %d", rt.ideInterrupts)
	}
}
