package ringbuffer

import (
	"bytes"
	"testing"
)

func totalLen(views [][]byte) int {
	n := 0
	for _, v := range views {
		n += len(v)
	}
	return n
}

func TestNewNoPreload(t *testing.T) {
	r := New(16, nil, 0)
	if r.Cap() != 16 {
		t.Fatalf("cap = %d, want 16", r.Cap())
	}
	if r.CanRead() {
		t.Fatal("fresh buffer must not be readable")
	}
	if !r.CanWrite() || r.WriteAvail() != 16 {
		t.Fatalf("wr_avail = %d, want 16", r.WriteAvail())
	}
}

func TestNewWithPreloadFitsWithoutExtending(t *testing.T) {
	init := []byte("ClientHello")
	r := New(16, init, len(init))
	if r.Cap() != 16 {
		t.Fatalf("cap = %d, want 16 (preload fits within requested length)", r.Cap())
	}
	if r.ReadAvail() != len(init) {
		t.Fatalf("rd_avail = %d, want %d", r.ReadAvail(), len(init))
	}
	if r.WriteAvail() != 16-len(init) {
		t.Fatalf("wr_avail = %d, want %d", r.WriteAvail(), 16-len(init))
	}
	views := r.ReadView()
	if totalLen(views) != len(init) {
		t.Fatalf("read view totals %d bytes, want %d", totalLen(views), len(init))
	}
	var got []byte
	for _, v := range views {
		got = append(got, v...)
	}
	if !bytes.Equal(got, init) {
		t.Fatalf("read view = %q, want %q", got, init)
	}
}

func TestNewWithPreloadLargerThanLengthExtends(t *testing.T) {
	init := bytes.Repeat([]byte{0xAA}, 20)
	r := New(16, init, 20)
	if r.Cap() != 36 {
		t.Fatalf("cap = %d, want 36 (initlen+length since initlen > length)", r.Cap())
	}
	if r.WriteAvail() != 16 {
		t.Fatalf("wr_avail = %d, want 16 (a full length of free room after the preload)", r.WriteAvail())
	}
}

// Wrap-with-preload: length=16, preload initlen=10, write 8, read 12.
func TestWrapWithPreload(t *testing.T) {
	init := bytes.Repeat([]byte{0x01}, 10)
	r := New(16, init, 10)

	r.AdvanceWrite(8)
	r.AdvanceRead(12)

	if r.ReadAvail() != 6 {
		t.Fatalf("rd_avail = %d, want 6", r.ReadAvail())
	}
	if r.WriteAvail() != 10 {
		t.Fatalf("wr_avail = %d, want 10", r.WriteAvail())
	}
	if r.readPos != 12 {
		t.Fatalf("read_pos = %d, want 12", r.readPos)
	}
	if r.writePos != 2 {
		t.Fatalf("write_pos = %d, want 2", r.writePos)
	}

	views := r.ReadView()
	if len(views) != 2 {
		t.Fatalf("read view has %d slices, want 2", len(views))
	}
	if len(views[0]) != 4 || len(views[1]) != 2 {
		t.Fatalf("read view slice lengths = %d, %d, want 4, 2", len(views[0]), len(views[1]))
	}
	if totalLen(views) != r.ReadAvail() {
		t.Fatalf("read view totals %d, want rd_avail %d", totalLen(views), r.ReadAvail())
	}
}

func TestConservationInvariant(t *testing.T) {
	r := New(32, nil, 0)
	steps := []struct {
		write, read int
	}{
		{20, 0}, {0, 5}, {10, 0}, {0, 15}, {17, 0}, {0, 10}, {0, 17},
	}
	for _, s := range steps {
		if s.write > 0 {
			if r.WriteAvail() < s.write {
				t.Fatalf("test setup error: wr_avail %d < write %d", r.WriteAvail(), s.write)
			}
			r.AdvanceWrite(s.write)
		}
		if s.read > 0 {
			if r.ReadAvail() < s.read {
				t.Fatalf("test setup error: rd_avail %d < read %d", r.ReadAvail(), s.read)
			}
			r.AdvanceRead(s.read)
		}
		if r.ReadAvail()+r.WriteAvail() != r.Cap() {
			t.Fatalf("rd_avail(%d) + wr_avail(%d) != cap(%d)", r.ReadAvail(), r.WriteAvail(), r.Cap())
		}
		if totalLen(r.ReadView()) != r.ReadAvail() {
			t.Fatalf("read view total %d != rd_avail %d", totalLen(r.ReadView()), r.ReadAvail())
		}
		if totalLen(r.WriteView()) != r.WriteAvail() {
			t.Fatalf("write view total %d != wr_avail %d", totalLen(r.WriteView()), r.WriteAvail())
		}
	}
}

func TestReadWriteViewRoundTrip(t *testing.T) {
	r := New(8, nil, 0)
	payload := []byte("abcdefgh")

	wv := r.WriteView()
	n := copy(wv[0], payload)
	r.AdvanceWrite(n)
	if n != 8 {
		t.Fatalf("expected single contiguous write view of 8 bytes, copied %d", n)
	}

	r.AdvanceRead(5)
	r.AdvanceWrite(0)

	wv = r.WriteView()
	if totalLen(wv) != r.WriteAvail() {
		t.Fatalf("write view total %d != wr_avail %d", totalLen(wv), r.WriteAvail())
	}
	more := []byte("XYZ")
	written := 0
	for _, seg := range wv {
		written += copy(seg, more[written:])
		if written >= len(more) {
			break
		}
	}
	r.AdvanceWrite(len(more))

	rv := r.ReadView()
	var got []byte
	for _, seg := range rv {
		got = append(got, seg...)
	}
	want := append([]byte("fgh"), more...)
	if !bytes.Equal(got, want) {
		t.Fatalf("read view = %q, want %q", got, want)
	}
}
