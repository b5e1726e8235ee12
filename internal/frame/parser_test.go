package frame

import (
	"reflect"
	"testing"
)

type call struct {
	cmd     byte
	length  uint32
	payload []byte
}

type recordingDispatcher struct {
	calls []call
	// pull, if non-zero, is the payload length ReadExact should fetch for a frame
	// whose declared length is non-zero.
	pull uint32
}

func (d *recordingDispatcher) Dispatch(cmd byte, length uint32, pr *PayloadReader) {
	c := call{cmd: cmd, length: length}
	if d.pull > 0 && length > 0 {
		buf := make([]byte, d.pull)
		_ = pr.ReadExact(buf)
		c.payload = buf
	}
	d.calls = append(d.calls, c)
}

func TestParserPingFrame(t *testing.T) {
	d := &recordingDispatcher{}
	p := New(d, nil)

	// QUERY_STATUS (0x80), N=0.
	p.Feed([]byte{0x30, 0x80, 0x00, 0x00, 0x00, 0x00})

	want := []call{{cmd: 0x80, length: 0}}
	if !reflect.DeepEqual(d.calls, want) {
		t.Fatalf("calls = %+v, want %+v", d.calls, want)
	}
	if p.Phase() != PhaseHead {
		t.Fatalf("Phase() = %v, want HEAD", p.Phase())
	}
}

func TestParserSkipsGarbageBeforeSync(t *testing.T) {
	d := &recordingDispatcher{}
	p := New(d, nil)

	p.Feed([]byte{0xFF, 0xFF, 0x00, 0x30, 0x80, 0x00, 0x00, 0x00, 0x00})

	want := []call{{cmd: 0x80, length: 0}}
	if !reflect.DeepEqual(d.calls, want) {
		t.Fatalf("calls = %+v, want %+v", d.calls, want)
	}
}

func TestParserUnknownCommandReturnsToHead(t *testing.T) {
	d := &recordingDispatcher{}
	p := New(d, nil)

	p.Feed([]byte{0x30, 0xEE, 0x00, 0x00, 0x00, 0x00})
	if p.Phase() != PhaseHead {
		t.Fatalf("Phase() = %v, want HEAD", p.Phase())
	}
	if len(d.calls) != 1 || d.calls[0].cmd != 0xEE {
		t.Fatalf("calls = %+v", d.calls)
	}
}

func TestParserByteAtATime(t *testing.T) {
	d := &recordingDispatcher{}
	p := New(d, nil)

	frame := []byte{0x30, 0x80, 0x00, 0x00, 0x00, 0x00}
	for _, b := range frame {
		p.Feed([]byte{b})
	}

	want := []call{{cmd: 0x80, length: 0}}
	if !reflect.DeepEqual(d.calls, want) {
		t.Fatalf("calls = %+v, want %+v", d.calls, want)
	}
}

func TestParserTruncatedLengthAcrossChunks(t *testing.T) {
	d := &recordingDispatcher{}
	p := New(d, nil)

	p.Feed([]byte{0x30, 0x05, 0x04, 0x00})
	if p.Phase() != PhaseRecv {
		t.Fatalf("Phase() = %v, want RECV mid-length", p.Phase())
	}
	p.Feed([]byte{0x00, 0x00})

	want := []call{{cmd: 0x05, length: 4}}
	if !reflect.DeepEqual(d.calls, want) {
		t.Fatalf("calls = %+v, want %+v", d.calls, want)
	}
}

func TestParserInlinePayloadFromSameChunk(t *testing.T) {
	d := &recordingDispatcher{pull: 4}
	p := New(d, nil)

	// SCRIPT_EXEC (0x05), N=4, payload "pass" — spec.md §8 scenario 3.
	p.Feed([]byte{0x30, 0x05, 0x04, 0x00, 0x00, 0x00, 'p', 'a', 's', 's'})

	if len(d.calls) != 1 {
		t.Fatalf("calls = %+v, want 1 call", d.calls)
	}
	got := d.calls[0]
	if got.cmd != 0x05 || got.length != 4 || string(got.payload) != "pass" {
		t.Fatalf("call = %+v, want cmd=0x05 length=4 payload=pass", got)
	}
	if p.Phase() != PhaseHead {
		t.Fatalf("Phase() = %v, want HEAD", p.Phase())
	}
}

func TestParserInlinePayloadFallsBackToTransport(t *testing.T) {
	var readCalls [][]byte
	readFull := func(buf []byte) error {
		for i := range buf {
			buf[i] = 'Z'
		}
		readCalls = append(readCalls, append([]byte(nil), buf...))
		return nil
	}

	d := &recordingDispatcher{pull: 4}
	p := New(d, readFull)

	// Only 2 of the 4 payload bytes arrive in this chunk; the handler must pull the
	// rest directly from the transport.
	p.Feed([]byte{0x30, 0x05, 0x04, 0x00, 0x00, 0x00, 'p', 'a'})

	got := d.calls[0]
	if string(got.payload) != "paZZ" {
		t.Fatalf("payload = %q, want %q", got.payload, "paZZ")
	}
	if len(readCalls) != 1 || len(readCalls[0]) != 2 {
		t.Fatalf("readCalls = %+v, want one 2-byte call", readCalls)
	}
}

func TestParserConsumesExactlyFramePlusPayload(t *testing.T) {
	d := &recordingDispatcher{pull: 4}
	p := New(d, nil)

	frame := []byte{0x30, 0x05, 0x04, 0x00, 0x00, 0x00, 'p', 'a', 's', 's'}
	trailing := []byte{0x30, 0x80, 0x00, 0x00, 0x00, 0x00}
	p.Feed(append(append([]byte{}, frame...), trailing...))

	want := []call{
		{cmd: 0x05, length: 4, payload: []byte("pass")},
		{cmd: 0x80, length: 0},
	}
	if !reflect.DeepEqual(d.calls, want) {
		t.Fatalf("calls = %+v, want %+v", d.calls, want)
	}
}
