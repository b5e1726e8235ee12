package rotate

import (
	"fmt"

	"github.com/usbdbg/dbglinkd/internal/hwsink"
)

// SoftwareRotator implements hwsink.Rotator on top of this package's byte-for-byte
// pixel loops: the Y plane rotates as 8-bit samples, the interleaved semi-planar UV
// plane rotates as 16-bit words so each U,V pair moves as one unit (spec.md §4.4:
// "rotate Y and UV planes"). Only 90 and 270 are rotated; any other angle (including
// the ROT_0/ROT_180 flag bits) passes the frame through unchanged, matching the
// original's own rotation support.
type SoftwareRotator struct{}

// Rotate implements hwsink.Rotator.
func (SoftwareRotator) Rotate(frame hwsink.VideoFrame, angle int) (hwsink.VideoFrame, error) {
	if angle != 90 && angle != 270 {
		return frame, nil
	}

	w, h := frame.Width, frame.Height
	if len(frame.Y) < w*h {
		return frame, fmt.Errorf("rotate: Y plane too small for %dx%d", w, h)
	}

	out := hwsink.VideoFrame{Width: h, Height: w, Y: make([]byte, w*h)}

	uvWords := bytesToUint16(frame.UV)
	cw, ch := w/2, h/2
	outUV := make([]uint16, len(uvWords))

	if angle == 90 {
		Rotate90U8(out.Y, frame.Y, w, h)
		if len(uvWords) >= cw*ch {
			Rotate90U16(outUV, uvWords, cw, ch)
		}
	} else {
		Rotate270U8(out.Y, frame.Y, w, h)
		if len(uvWords) >= cw*ch {
			Rotate270U16(outUV, uvWords, cw, ch)
		}
	}

	out.UV = uint16ToBytes(outUV)
	return out, nil
}

func bytesToUint16(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return out
}

func uint16ToBytes(words []uint16) []byte {
	out := make([]byte, len(words)*2)
	for i, v := range words {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
