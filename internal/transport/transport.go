// Package transport provides blocking read/write access to the single USB CDC
// character device the debug link rides on (spec.md §4.7, §6 "Transport device").
package transport

import (
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// WriteChunk bounds each write syscall (spec.md §4.7: "chunked at <=1024 bytes per
// syscall to bound syscall latency and avoid partial-write loops on certain CDC
// drivers").
const WriteChunk = 1024

// Device is a single read-write character device file descriptor.
type Device struct {
	path string
	fd   int
}

// Open opens path read-write, following go4vl's OpenDevice/openDev: validate the path
// is a character device first, then open via a direct Openat syscall (retrying on
// EINTR) rather than os.OpenFile, since some CDC ACM drivers return EBUSY against the
// extra bookkeeping os.OpenFile does.
func Open(path string) (*Device, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("transport: stat %s: %w", path, err)
	}
	if info.Mode()&fs.ModeCharDevice == 0 {
		return nil, fmt.Errorf("transport: %s is not a character device", path)
	}

	var fd int
	for {
		fd, err = unix.Openat(unix.AT_FDCWD, path, unix.O_RDWR, 0)
		if err == nil {
			break
		}
		if err == unix.EINTR {
			continue
		}
		return nil, fmt.Errorf("transport: open %s: %w", path, err)
	}

	return &Device{path: path, fd: fd}, nil
}

// Fd returns the underlying file descriptor, for use by the I/O loop's select set.
func (d *Device) Fd() int { return d.fd }

// Close closes the device.
func (d *Device) Close() error {
	return unix.Close(d.fd)
}

// Read performs one read syscall, retrying on EINTR. It returns 0 bytes on a read
// timeout surfaced by the caller's select loop — Read itself does not time out.
func (d *Device) Read(buf []byte) (int, error) {
	for {
		n, err := unix.Read(d.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("transport: read: %w", err)
		}
		return n, nil
	}
}

// ReadFull blocks until buf is completely filled, the inline-read primitive handlers
// use to pull a frame's payload directly from the transport (spec.md §4.1, §4.2).
func (d *Device) ReadFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := d.Read(buf[total:])
		if err != nil {
			return err
		}
		total += n
	}
	return nil
}

// Write sends data in chunks of at most WriteChunk bytes per syscall. Unlike the
// original C's usb_tx (which ignores short writes), a partial write is retried from
// the unwritten remainder — dropping the tail of a frame on a short write would
// desync the host's framing for no benefit, and nothing in spec.md calls for
// reproducing that failure mode (spec.md §7: "write failures are not surfaced", which
// is about the write erroring out entirely, not about silently truncating payload).
func (d *Device) Write(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > WriteChunk {
			n = WriteChunk
		}
		chunk := data[:n]
		for len(chunk) > 0 {
			written, err := unix.Write(d.fd, chunk)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				return fmt.Errorf("transport: write: %w", err)
			}
			chunk = chunk[written:]
		}
		data = data[n:]
	}
	return nil
}
