package link

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// File errcodes (spec.md §6, "stable u32 values inherited from the host tool").
const (
	FileErrNone = uint32(iota)
	FileErrOpen
	FileErrPath
	FileErrWrite
)

// Verify result codes (spec.md §4.3, §6).
const (
	VerifyNone = uint32(iota)
	VerifyNotOpen
	VerifySHA2Err
)

// fileUpload is the CREATEFILE/WRITEFILE/VERIFYFILE state machine (spec.md §3, §4.3).
// Owned exclusively by the I/O loop in the original; here it is additionally guarded
// by a mutex since handlers may be invoked from a dispatcher goroutine distinct from
// whichever goroutine owns the Link value.
type fileUpload struct {
	mu sync.Mutex

	file      *os.File
	path      string
	chunkSize uint32
	name      string
	sha256    [32]byte
	errcode   uint32
}

// CreateFile implements CREATEFILE (spec.md §4.2, §4.3): closes/frees any prior
// context, then opens "{root}/{name}" for truncating write.
func (l *Link) CreateFile(root string, chunkSize uint32, name string, sum [32]byte) {
	l.file.mu.Lock()
	defer l.file.mu.Unlock()

	if l.file.file != nil {
		l.file.file.Close()
		l.file.file = nil
	}

	path := filepath.Join(root, name)
	f, err := os.Create(path)
	if err != nil {
		l.file.errcode = FileErrPath
		return
	}
	l.file.file = f
	l.file.path = path
	l.file.chunkSize = chunkSize
	l.file.name = name
	l.file.sha256 = sum
	l.file.errcode = FileErrNone
}

// WriteFile implements WRITEFILE (spec.md §4.2, §4.3). Precondition failures set
// errcode but the caller is still responsible for draining N bytes from the
// transport regardless — see spec.md §7's "keep framing" policy and §9's documented
// discrepancy (this implementation always drains, unlike the original on some
// error paths).
func (l *Link) WriteFile(data []byte) {
	l.file.mu.Lock()
	defer l.file.mu.Unlock()

	if l.file.file == nil || uint32(len(data)) > l.file.chunkSize {
		l.file.errcode = FileErrWrite
		return
	}
	if _, err := l.file.file.Write(data); err != nil {
		l.file.errcode = FileErrWrite
		return
	}
	l.file.errcode = FileErrNone
}

// VerifyFile implements VERIFYFILE (spec.md §4.2, §4.3): closes the file, reopens it
// read-only, streams a SHA-256 over the full contents, and compares to the stored
// digest. The context returns to IDLE (file handle cleared) regardless of outcome.
func (l *Link) VerifyFile() uint32 {
	l.file.mu.Lock()
	defer l.file.mu.Unlock()

	if l.file.file == nil {
		return VerifyNotOpen
	}
	path := l.file.path
	want := l.file.sha256
	l.file.file.Close()
	l.file.file = nil

	got, err := hashFile(path)
	if err != nil {
		return VerifyNotOpen
	}
	if got != want {
		return VerifySHA2Err
	}
	return VerifyNone
}

// FileErrcode implements QUERY_FILE_STAT.
func (l *Link) FileErrcode() uint32 {
	l.file.mu.Lock()
	defer l.file.mu.Unlock()
	return l.file.errcode
}

// SetFileErrPath records a PATH_ERR without touching any open file, for CREATEFILE
// frames whose declared_length can't even hold the fixed {chunk_size, sha256} fields
// (spec.md §6: "rejects mismatches with PATH_ERR").
func (l *Link) SetFileErrPath() {
	l.file.mu.Lock()
	defer l.file.mu.Unlock()
	l.file.errcode = FileErrPath
}

func hashFile(path string) ([32]byte, error) {
	var out [32]byte
	f, err := os.Open(path)
	if err != nil {
		return out, fmt.Errorf("link: reopen %s for verify: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return out, fmt.Errorf("link: hash %s: %w", path, err)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}
