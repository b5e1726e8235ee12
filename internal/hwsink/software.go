package hwsink

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// SoftwareJPEGEncoder is the default JPEGEncoder used when no hardware encoder is
// wired (SPEC_FULL.md §4, §7: local/dev runs and tests). It treats the frame's Y/UV
// planes as 4:2:0 semi-planar and encodes via the standard library, which plays the
// role of the external "jpeg_encode" collaborator spec.md §1 and §6 name.
type SoftwareJPEGEncoder struct {
	// Deadline, if set, bounds Encode the same way the hardware encoder's ms timeout
	// does (spec.md §4.4: "timeout_ms=1000"); image/jpeg itself has no built-in
	// timeout, so Deadline is applied as a best-effort context via a goroutine.
	Deadline time.Duration
}

// Encode implements JPEGEncoder.
func (e *SoftwareJPEGEncoder) Encode(frame VideoFrame, quality int, timeout time.Duration) ([]byte, error) {
	if e.Deadline > 0 {
		timeout = e.Deadline
	}
	img := toYCbCr(frame)

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var buf bytes.Buffer
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)})
		done <- result{data: buf.Bytes(), err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("hwsink: jpeg encode: %w", r.err)
		}
		return r.data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("hwsink: jpeg encode: timed out after %s", timeout)
	}
}

func toYCbCr(frame VideoFrame) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, frame.Width, frame.Height), image.YCbCrSubsampleRatio420)
	copy(img.Y, frame.Y)

	// frame.UV is interleaved U,V,U,V...; image.YCbCr wants separate planes.
	cw, ch := img.CStride, (frame.Height+1)/2
	for row := 0; row < ch; row++ {
		for col := 0; col < cw && col < (frame.Width+1)/2; col++ {
			i := row*frame.Width + col*2
			if i+1 >= len(frame.UV) {
				break
			}
			cIdx := row*img.CStride + col
			if cIdx < len(img.Cb) {
				img.Cb[cIdx] = frame.UV[i]
			}
			if cIdx < len(img.Cr) {
				img.Cr[cIdx] = frame.UV[i+1]
			}
		}
	}
	return img
}

func clampQuality(q int) int {
	if q <= 0 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
