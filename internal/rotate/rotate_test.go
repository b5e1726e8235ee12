package rotate

import (
	"reflect"
	"testing"

	"github.com/usbdbg/dbglinkd/internal/hwsink"
)

func TestAngleSelection(t *testing.T) {
	tests := []struct {
		flags    int
		angle    int
		rotated  bool
		testName string
	}{
		{0, 0, false, "no flags"},
		{Rot0, 0, true, "explicit zero"},
		{Rot90, 90, true, "ninety"},
		{Rot180, 180, true, "one-eighty"},
		{Rot270, 270, true, "two-seventy"},
		{Rot90 | MirrorH, 90, true, "rotation with mirror still selects rotation"},
	}
	for _, tt := range tests {
		t.Run(tt.testName, func(t *testing.T) {
			angle, rotated := Angle(tt.flags)
			if angle != tt.angle || rotated != tt.rotated {
				t.Fatalf("Angle(%#x) = (%d, %v), want (%d, %v)", tt.flags, angle, rotated, tt.angle, tt.rotated)
			}
		})
	}
}

func TestMirrorMaskBugForBug(t *testing.T) {
	BugForBugMirrorMask = true
	defer func() { BugForBugMirrorMask = true }()

	if got := MirrorMask(); got != 1 {
		t.Fatalf("MirrorMask() (bug mode) = %#x, want 1", got)
	}

	BugForBugMirrorMask = false
	if got := MirrorMask(); got != MirrorH|MirrorB {
		t.Fatalf("MirrorMask() (fixed mode) = %#x, want %#x", got, MirrorH|MirrorB)
	}
}

func TestRotate90U8(t *testing.T) {
	// 2x3 (w=2,h=3) -> rotated 90 is 3x2 (nw=h=3, nh=w=2).
	src := []byte{
		1, 2,
		3, 4,
		5, 6,
	}
	dst := make([]byte, 6)
	Rotate90U8(dst, src, 2, 3)
	want := []byte{5, 3, 1, 6, 4, 2}
	if !reflect.DeepEqual(dst, want) {
		t.Fatalf("Rotate90U8 = %v, want %v", dst, want)
	}
}

func TestRotate270U8(t *testing.T) {
	src := []byte{
		1, 2,
		3, 4,
		5, 6,
	}
	dst := make([]byte, 6)
	Rotate270U8(dst, src, 2, 3)
	want := []byte{2, 4, 6, 1, 3, 5}
	if !reflect.DeepEqual(dst, want) {
		t.Fatalf("Rotate270U8 = %v, want %v", dst, want)
	}
}

func TestRotate90Then270IsIdentityOnSquare(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	tmp := make([]byte, 4)
	back := make([]byte, 4)
	Rotate90U8(tmp, src, 2, 2)
	Rotate270U8(back, tmp, 2, 2)
	if !reflect.DeepEqual(back, src) {
		t.Fatalf("rotate 90 then 270 = %v, want identity %v", back, src)
	}
}

func TestSoftwareRotatorSwapsDimensions(t *testing.T) {
	frame := hwsink.VideoFrame{
		Width: 4, Height: 2,
		Y:  make([]byte, 8),
		UV: make([]byte, 4), // 2x1 chroma plane, two u16 words
	}
	var r SoftwareRotator
	out, err := r.Rotate(frame, 90)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if out.Width != 2 || out.Height != 4 {
		t.Fatalf("rotated dims = (%d,%d), want (2,4)", out.Width, out.Height)
	}
}

func TestSoftwareRotatorPassesThroughUnsupportedAngle(t *testing.T) {
	frame := hwsink.VideoFrame{Width: 2, Height: 2, Y: []byte{1, 2, 3, 4}}
	var r SoftwareRotator
	out, err := r.Rotate(frame, 180)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if out.Width != 2 || out.Height != 2 {
		t.Fatalf("unsupported angle should pass the frame through unchanged, got (%d,%d)", out.Width, out.Height)
	}
}
