// Package rotate ports the original write-back rotation pixel loops byte-for-byte
// (ide_dbg.c: rotation90_u8/rotation270_u8/rotation90_u16/rotation270_u16), and
// implements the rotation-flag-to-angle selection described in spec.md §4.4.
package rotate

// Flag bits, matching the DMA channel's rotation constants (spec.md §4.4).
const (
	Rot0    = 1 << 0
	Rot90   = 1 << 1
	Rot180  = 1 << 2
	Rot270  = 1 << 3
	MirrorH = 1 << 4
	MirrorV = 1 << 5
	MirrorB = 1 << 6
)

// BugForBugMirrorMask reproduces spec.md §9's documented discrepancy: the original C
// tests mirror bits with logical-OR instead of bitwise-OR ("flag & (K_VO_MIRROR_HOR ||
// K_VO_MIRROR_BOTH)"), which collapses the right-hand side to 0 or 1 instead of a
// proper bit combination. Left true to match the original device's observed behavior;
// set false to use the intended bitwise semantics instead (see DESIGN.md).
var BugForBugMirrorMask = true

// MirrorMask returns the mask used to test the mirror bits in flags, reproducing the
// logical-OR bug when BugForBugMirrorMask is set.
func MirrorMask() int {
	if BugForBugMirrorMask {
		// (MirrorH || MirrorB) in C: both operands are non-zero ints, so the
		// expression evaluates to 1, not MirrorH|MirrorB.
		return 1
	}
	return MirrorH | MirrorB
}

// Angle maps a rotation-flag bitmask to a rotation angle in {0, 90, 180, 270}.
// Returns (angle, true) on a match, (0, false) when no rotation flag is set — the
// "fall through to plain JPEG encode" case in spec.md §4.4.
func Angle(flags int) (angle int, rotated bool) {
	switch {
	case flags&Rot90 != 0:
		return 90, true
	case flags&Rot180 != 0:
		return 180, true
	case flags&Rot270 != 0:
		return 270, true
	case flags&Rot0 != 0:
		return 0, true
	default:
		return 0, false
	}
}

// Rotate90U8 rotates an 8-bit single-channel plane 90 degrees, byte-for-byte
// equivalent to ide_dbg.c's rotation90_u8.
func Rotate90U8(dst, src []byte, w, h int) {
	nw := h
	for i := 0; i < w; i++ {
		for j := 0; j < nw; j++ {
			dst[i*nw+j] = src[(h-j-1)*w+i]
		}
	}
}

// Rotate270U8 rotates an 8-bit single-channel plane 270 degrees, byte-for-byte
// equivalent to ide_dbg.c's rotation270_u8.
func Rotate270U8(dst, src []byte, w, h int) {
	nw := h
	nh := w
	for i := 0; i < nh; i++ {
		for j := 0; j < nw; j++ {
			dst[i*nw+j] = src[j*w+(w-i-1)]
		}
	}
}

// Rotate90U16 rotates a 16-bit-per-sample plane (interleaved UV) 90 degrees,
// byte-for-byte equivalent to ide_dbg.c's rotation90_u16.
func Rotate90U16(dst, src []uint16, w, h int) {
	nw := h
	for i := 0; i < w; i++ {
		for j := 0; j < nw; j++ {
			dst[i*nw+j] = src[(h-j-1)*w+i]
		}
	}
}

// Rotate270U16 rotates a 16-bit-per-sample plane 270 degrees, byte-for-byte
// equivalent to ide_dbg.c's rotation270_u16.
func Rotate270U16(dst, src []uint16, w, h int) {
	nw := h
	nh := w
	for i := 0; i < nh; i++ {
		for j := 0; j < nw; j++ {
			dst[i*nw+j] = src[j*w+(w-i-1)]
		}
	}
}
