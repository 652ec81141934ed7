package blockio

import (
	"bytes"
	"testing"
)

// fakeDevice is an in-memory BlockDevice for exercising Stream's
// split/merge logic in isolation from any encryption.
type fakeDevice struct {
	bs     uint64
	blocks map[uint64][]byte
	size   uint64
}

func newFakeDevice(bs uint64) *fakeDevice {
	return &fakeDevice{bs: bs, blocks: make(map[uint64][]byte)}
}

func (d *fakeDevice) BlockSize() uint64 { return d.bs }

func (d *fakeDevice) ReadBlock(n uint64, out []byte) (int, error) {
	b, ok := d.blocks[n]
	if !ok {
		return 0, nil
	}
	copy(out, b)
	return len(b), nil
}

func (d *fakeDevice) WriteBlock(n uint64, data []byte) error {
	cp := append([]byte{}, data...)
	d.blocks[n] = cp
	end := n*d.bs + uint64(len(data))
	if end > d.size {
		d.size = end
	}
	return nil
}

func (d *fakeDevice) Truncate(newSize uint64) error {
	d.size = newSize
	last := newSize / d.bs
	for n := range d.blocks {
		if n > last {
			delete(d.blocks, n)
		}
	}
	return nil
}

func (d *fakeDevice) Size() uint64 { return d.size }

// Property 1 (round-trip): writing P in arbitrary chunks and reading
// the whole range back yields P.
func TestRoundTripArbitrarySplits(t *testing.T) {
	dev := newFakeDevice(16)
	s := New(dev)
	want := []byte("the quick brown fox jumps over the lazy dog 0123456789")

	// Write in uneven, overlapping-adjacent chunks crossing block
	// boundaries in both directions.
	chunks := []struct{ off, n int }{
		{0, 7}, {7, 3}, {10, 20}, {30, 1}, {31, len(want) - 31},
	}
	for _, c := range chunks {
		if _, err := s.WriteAt(want[c.off:c.off+c.n], uint64(c.off)); err != nil {
			t.Fatal(err)
		}
	}
	got := make([]byte, len(want))
	n, err := s.ReadAt(got, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(want) || !bytes.Equal(got, want) {
		t.Errorf("got %q (n=%d), want %q", got[:n], n, want)
	}
}

// Interior whole-block writes should go straight through without a
// read-modify-write (the fake device records exactly one WriteBlock
// call's worth of data per block when block-aligned).
func TestInteriorWholeBlockWrite(t *testing.T) {
	dev := newFakeDevice(8)
	s := New(dev)
	data := bytes.Repeat([]byte{0xAA}, 24) // exactly 3 blocks
	if _, err := s.WriteAt(data, 0); err != nil {
		t.Fatal(err)
	}
	for n := uint64(0); n < 3; n++ {
		if !bytes.Equal(dev.blocks[n], bytes.Repeat([]byte{0xAA}, 8)) {
			t.Errorf("block %d = %x, want all-0xAA", n, dev.blocks[n])
		}
	}
}

// Partial edge writes must preserve neighboring bytes already in the
// block (read-modify-write).
func TestPartialEdgeWritePreservesNeighbors(t *testing.T) {
	dev := newFakeDevice(8)
	s := New(dev)
	if _, err := s.WriteAt(bytes.Repeat([]byte{0x11}, 8), 0); err != nil {
		t.Fatal(err)
	}
	// Overwrite the middle two bytes only.
	if _, err := s.WriteAt([]byte{0x22, 0x22}, 3); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x11, 0x11, 0x11, 0x22, 0x22, 0x11, 0x11, 0x11}
	if !bytes.Equal(dev.blocks[0], want) {
		t.Errorf("got %x, want %x", dev.blocks[0], want)
	}
}

// Writes past the current end extend the stream; the gap reads back
// as zero (the sparse-block convention applied to resize).
func TestWritePastEndExtendsWithZeroGap(t *testing.T) {
	dev := newFakeDevice(8)
	s := New(dev)
	if _, err := s.WriteAt([]byte{0x01}, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteAt([]byte{0x02}, 20); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 21)
	n, err := s.ReadAt(out, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 21 {
		t.Fatalf("short read: n=%d", n)
	}
	if out[0] != 0x01 || out[20] != 0x02 {
		t.Errorf("got %x", out)
	}
	for i := 1; i < 20; i++ {
		if out[i] != 0 {
			t.Errorf("gap byte %d = %#x, want 0", i, out[i])
		}
	}
}

// Truncate shrinking discards data past the new end.
func TestTruncateShrink(t *testing.T) {
	dev := newFakeDevice(8)
	s := New(dev)
	if _, err := s.WriteAt(bytes.Repeat([]byte{0x01}, 24), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Truncate(10); err != nil {
		t.Fatal(err)
	}
	if s.Size() != 10 {
		t.Errorf("size = %d, want 10", s.Size())
	}
}
