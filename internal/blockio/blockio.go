// Package blockio turns a fixed-size-block device into an arbitrary
// offset/length byte stream, performing read-modify-write for partial
// edge blocks. It knows nothing about encryption, only about splitting
// byte ranges into block-aligned pieces, modeled on gocryptfs's legacy
// cryptfs package (SplitRange/MergeBlocks) generalized behind an
// interface so that contentenc.CryptStream can be the one and only
// BlockDevice implementation this module needs.
package blockio

import "fmt"

// BlockDevice is the leaf abstraction a Stream is built on top of.
// Block numbers are zero-based logical block indices; all blocks except
// possibly the last are exactly BlockSize() plaintext bytes.
type BlockDevice interface {
	// ReadBlock reads logical block "n" into "out" (len(out) ==
	// BlockSize()) and returns how many plaintext bytes are present.
	// A return of 0 means the block does not exist (sparse tail / EOF).
	ReadBlock(n uint64, out []byte) (int, error)
	// WriteBlock writes "data" (<= BlockSize() bytes) as logical block "n".
	WriteBlock(n uint64, data []byte) error
	// Truncate adjusts the device's logical size.
	Truncate(newSize uint64) error
	// Size returns the device's current logical size in bytes.
	Size() uint64
	// BlockSize returns the plaintext block size.
	BlockSize() uint64
}

// Stream exposes arbitrary-offset read/write over a BlockDevice.
type Stream struct {
	dev BlockDevice
}

// New wraps "dev" in a Stream.
func New(dev BlockDevice) *Stream {
	return &Stream{dev: dev}
}

// Size returns the stream's current logical size.
func (s *Stream) Size() uint64 {
	return s.dev.Size()
}

// Truncate resizes the stream. Shrinking discards data past the new
// end; growing zero-fills up to the new end through WriteAt, so a
// partial old last block is rewritten at its new length and whole
// zero blocks follow the sparse convention.
func (s *Stream) Truncate(newSize uint64) error {
	if newSize > s.dev.Size() {
		_, err := s.WriteAt([]byte{0}, newSize-1)
		return err
	}
	return s.dev.Truncate(newSize)
}

// ReadAt reads up to len(buf) plaintext bytes starting at "offset" and
// returns how many bytes were actually read. A short read (including
// zero) signals that the stream ended before "offset+len(buf)".
func (s *Stream) ReadAt(buf []byte, offset uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	bs := s.dev.BlockSize()
	length := uint64(len(buf))
	firstBlock := offset / bs
	lastBlock := (offset + length - 1) / bs

	scratch := make([]byte, bs)
	var total int
	for blockNo := firstBlock; blockNo <= lastBlock; blockNo++ {
		blockStart := blockNo * bs
		// Interior, whole-block read: go straight into the caller's buffer.
		if blockNo != firstBlock && blockNo != lastBlock {
			dstOff := blockStart - offset
			n, err := s.dev.ReadBlock(blockNo, buf[dstOff:dstOff+bs])
			total += n
			if err != nil {
				return total, fmt.Errorf("blockio: read block %d: %w", blockNo, err)
			}
			if uint64(n) < bs {
				return total, nil
			}
			continue
		}
		// Edge block (first and/or last): read into scratch, copy the
		// relevant slice.
		n, err := s.dev.ReadBlock(blockNo, scratch)
		if err != nil {
			return total, fmt.Errorf("blockio: read block %d: %w", blockNo, err)
		}
		got := scratch[:n]
		skip := uint64(0)
		if blockNo == firstBlock {
			skip = offset - blockStart
		}
		if uint64(len(got)) <= skip {
			return total, nil
		}
		piece := got[skip:]
		dstOff := blockStart + skip - offset
		room := uint64(len(buf)) - dstOff
		if uint64(len(piece)) > room {
			piece = piece[:room]
		}
		copy(buf[dstOff:], piece)
		total += len(piece)
		if uint64(n) < bs {
			// Short read: this was the last physical block. Stop.
			return total, nil
		}
	}
	return total, nil
}

// WriteAt writes len(buf) plaintext bytes at "offset", performing a
// read-modify-write cycle for partial edge blocks and writing interior
// whole blocks straight through. Writes past the current end extend
// the stream (the gap reads back as zero per the sparse convention).
func (s *Stream) WriteAt(buf []byte, offset uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	bs := s.dev.BlockSize()
	length := uint64(len(buf))
	firstBlock := offset / bs
	lastBlock := (offset + length - 1) / bs

	// Past the current end: fill the gap with zeros one block piece at
	// a time, so a partial old last block is extended before the new data.
	if cur := s.dev.Size(); offset > cur {
		zeros := make([]byte, bs)
		for pos := cur; pos < offset; {
			chunk := bs - pos%bs
			if offset-pos < chunk {
				chunk = offset - pos
			}
			if _, err := s.WriteAt(zeros[:chunk], pos); err != nil {
				return 0, err
			}
			pos += chunk
		}
	}

	var written uint64
	for blockNo := firstBlock; blockNo <= lastBlock; blockNo++ {
		blockStart := blockNo * bs
		blockEnd := blockStart + bs
		// Portion of buf that falls into this block.
		loOff := offset
		if blockStart > loOff {
			loOff = blockStart
		}
		hiOff := offset + length
		if blockEnd < hiOff {
			hiOff = blockEnd
		}
		srcLo := loOff - offset
		srcHi := hiOff - offset
		data := buf[srcLo:srcHi]
		skip := loOff - blockStart

		partial := skip != 0 || uint64(len(data)) != bs
		if !partial {
			if err := s.dev.WriteBlock(blockNo, data); err != nil {
				return int(written), fmt.Errorf("blockio: write block %d: %w", blockNo, err)
			}
			written += uint64(len(data))
			continue
		}
		// Read-modify-write: fetch the existing block, overlay "data"
		// at "skip", write back.
		old := make([]byte, bs)
		n, err := s.dev.ReadBlock(blockNo, old)
		if err != nil {
			return int(written), fmt.Errorf("blockio: RMW read block %d: %w", blockNo, err)
		}
		newLen := skip + uint64(len(data))
		if uint64(n) > newLen {
			newLen = uint64(n)
		}
		merged := make([]byte, newLen)
		copy(merged, old[:n])
		copy(merged[skip:], data)
		if err := s.dev.WriteBlock(blockNo, merged); err != nil {
			return int(written), fmt.Errorf("blockio: write block %d: %w", blockNo, err)
		}
		written += uint64(len(data))
	}
	return int(written), nil
}
