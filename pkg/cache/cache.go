// Package cache implements the per-peer sliding-window block cache and the
// gap-detection logic that drives NACK-based repair.
package cache

import (
	"encoding/binary"
	"errors"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrStraddlesRing describes a write whose payload would wrap past the
	// end of the ring buffer. Write does not return it: a naive
	// single-memcpy write would corrupt an unrelated block's bytes in that
	// case, so Write splits the copy across the wrap point instead.
	ErrStraddlesRing = errors.New("cache: write would straddle the ring boundary")
)

// Cache is a ring of fixed-size blocks covering a contiguous window of the
// distributed byte stream.
type Cache struct {
	blockSize  int
	cacheSize  int
	numBlocks  int
	buf        []byte
	starts     []int64 // cache_starts[i]; -1 means empty
	logger     *log.Entry
}

// New builds a cache of cacheSize bytes divided into blockSize blocks.
// cacheSize must be a multiple of blockSize.
func New(cacheSize, blockSize int) *Cache {
	if blockSize <= 0 || cacheSize <= 0 || cacheSize%blockSize != 0 {
		panic("cache: CACHE_SIZE must be a positive multiple of BLOCK_SIZE")
	}
	numBlocks := cacheSize / blockSize
	starts := make([]int64, numBlocks)
	for i := range starts {
		starts[i] = -1
	}
	return &Cache{
		blockSize: blockSize,
		cacheSize: cacheSize,
		numBlocks: numBlocks,
		buf:       make([]byte, cacheSize),
		starts:    starts,
		logger:    log.WithField("component", "cache"),
	}
}

func (c *Cache) slotFor(byteOffset int64) int {
	return int((byteOffset % int64(c.cacheSize)) / int64(c.blockSize))
}

func (c *Cache) alignDown(offset uint32) int64 {
	return (int64(offset) / int64(c.blockSize)) * int64(c.blockSize)
}

// Write stores a DATA frame's payload (the bytes after the 4-byte
// start-offset header) into the ring. It returns the block slot the write
// landed on, and the NACK offsets (if any) that gap detection produced;
// the caller sends those to the parent. Write is idempotent: writing the
// same (startOffset, payload) twice leaves the buffer and starts[] byte-
// identical after the second call.
func (c *Cache) Write(startOffset uint32, payload []byte, isRoot bool) (slot int, nacks []uint32) {
	origStart := c.alignDown(startOffset)
	slot = c.slotFor(origStart)

	nBlocks := 1
	if len(payload) > 0 {
		nBlocks = (len(payload) + c.blockSize - 1) / c.blockSize
	}

	writeAt := int(origStart % int64(c.cacheSize))
	if writeAt+len(payload) > c.cacheSize {
		// Straddles the ring boundary: split the copy instead of corrupting
		// block 0's region
		first := c.cacheSize - writeAt
		copy(c.buf[writeAt:], payload[:first])
		copy(c.buf[0:], payload[first:])
	} else {
		copy(c.buf[writeAt:writeAt+len(payload)], payload)
	}

	for i := 0; i < nBlocks; i++ {
		c.starts[(slot+i)%c.numBlocks] = origStart + int64(i)*int64(c.blockSize)
	}

	if !isRoot {
		nacks = c.scanGaps(slot, origStart)
	}
	return slot, nacks
}

// scanGaps walks backward from slot-1 toward slot, detecting empty or
// discontinuous blocks and producing NACK offsets for the parent.
// cntr starts at 1 and increments per inspected block; once the
// walk wraps through the ring origin, empty-slot NACKs are suppressed
// (avoids NACKing prehistoric data) but discontinuity NACKs continue.
// Discontinuity is only evaluated between two resident (non-empty)
// entries: once a hole has been found, it is meaningless to compare an
// earlier block against that hole's -1 sentinel, so that comparison is
// skipped rather than flagged as a second, spurious gap.
func (c *Cache) scanGaps(slot int, origStart int64) []uint32 {
	var nacks []uint32
	i := (slot - 1 + c.numBlocks) % c.numBlocks
	cntr := int64(1)
	wrapped := false
	for i != slot {
		next := (i + 1) % c.numBlocks
		empty := c.starts[i] == -1
		discontinuous := !empty && c.starts[next] != -1 && c.starts[i] != c.starts[next]-int64(c.blockSize)

		if (empty && !wrapped) || discontinuous {
			reqOffset := origStart - cntr*int64(c.blockSize)
			if reqOffset >= 0 {
				nacks = append(nacks, uint32(reqOffset))
			} else {
				c.logger.Debug("gap-scan offset underflowed, clamped away")
			}
		}
		if i == 0 {
			wrapped = true
		}
		cntr++
		i = (i - 1 + c.numBlocks) % c.numBlocks
	}
	return nacks
}

// Lookup implements NACK service: given a requested byte offset, returns
// the cached block's bytes and its original (possibly unaligned) start
// offset if the exact aligned block is still resident. ok is false if the
// block has since been evicted by the ring, in which case the caller must
// forward the NACK upstream to its own parent.
func (c *Cache) Lookup(reqOffset uint32) (data []byte, aligned uint32, ok bool) {
	alignedOff := c.alignDown(reqOffset)
	slot := c.slotFor(alignedOff)
	if c.starts[slot] != int64(reqOffset) {
		return nil, 0, false
	}
	start := int(alignedOff % int64(c.cacheSize))
	out := make([]byte, c.blockSize)
	if start+c.blockSize > c.cacheSize {
		first := c.cacheSize - start
		copy(out, c.buf[start:])
		copy(out[first:], c.buf[:c.blockSize-first])
	} else {
		copy(out, c.buf[start:start+c.blockSize])
	}
	return out, reqOffset, true
}

// StartAt returns cache_starts[i], exposed for tests and invariant checks.
func (c *Cache) StartAt(i int) int64 { return c.starts[i] }

// NumBlocks returns CACHE_SIZE / BLOCK_SIZE.
func (c *Cache) NumBlocks() int { return c.numBlocks }

// BlockSize returns BLOCK_SIZE.
func (c *Cache) BlockSize() int { return c.blockSize }

// ParseHeader extracts the 4-byte little-endian start offset from a DATA
// frame's wire representation (header + payload).
func ParseHeader(contents []byte) (startByte uint32, payload []byte, err error) {
	if len(contents) < 4 {
		return 0, nil, errors.New("cache: frame shorter than the 4-byte offset header")
	}
	return binary.LittleEndian.Uint32(contents[:4]), contents[4:], nil
}
