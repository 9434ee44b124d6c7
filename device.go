package advfs

import "fmt"

// Device owns the single contiguous byte region backing the filesystem and
// provides raw block-granular I/O over it. It has no notion of
// superblocks, inodes or dedup — those live in the layers built on top.
//
// Modeled on squashfs's Superblock.fs io.ReaderAt field and the
// tableReader/inodeReader pattern of seeking into a flat byte source
// (tablereader.go, inodereader.go), generalized to read-write since this
// filesystem is mutable rather than a read-only image.
type Device struct {
	buf       []byte
	blockSize uint32
	blocks    uint64
}

// newDevice allocates a zeroed backing region of blocks*blockSize bytes.
// This is the module's one mandated heap allocation at mount.
func newDevice(blocks uint64, blockSize uint32) *Device {
	return &Device{
		buf:       make([]byte, blocks*uint64(blockSize)),
		blockSize: blockSize,
		blocks:    blocks,
	}
}

// BlockSize returns B, the fixed block size in bytes.
func (d *Device) BlockSize() uint32 { return d.blockSize }

// BlockCount returns the total number of blocks in the device, including
// the reserved superblock, inode table, block-management table and data
// regions.
func (d *Device) BlockCount() uint64 { return d.blocks }

// checkRange asserts phys is addressable. Out-of-range phys is a
// programming error, not a recoverable condition.
func (d *Device) checkRange(phys uint64) {
	if phys >= d.blocks {
		panic(fmt.Sprintf("advfs: device: physical block %d out of range (have %d blocks)", phys, d.blocks))
	}
}

// readBlock returns a fresh copy of the B bytes at physical block phys.
// Callers own the returned slice; mutating it never affects the device.
func (d *Device) readBlock(phys uint64) []byte {
	d.checkRange(phys)
	start := phys * uint64(d.blockSize)
	out := make([]byte, d.blockSize)
	copy(out, d.buf[start:start+uint64(d.blockSize)])
	return out
}

// readBlockInto copies block phys into dst, which must be exactly
// BlockSize() bytes. Avoids an allocation on hot read paths.
func (d *Device) readBlockInto(phys uint64, dst []byte) {
	d.checkRange(phys)
	if uint32(len(dst)) != d.blockSize {
		panic("advfs: device: readBlockInto: buffer size mismatch")
	}
	start := phys * uint64(d.blockSize)
	copy(dst, d.buf[start:start+uint64(d.blockSize)])
}

// writeBlock overwrites physical block phys with data, which must be
// exactly BlockSize() bytes.
func (d *Device) writeBlock(phys uint64, data []byte) {
	d.checkRange(phys)
	if uint32(len(data)) != d.blockSize {
		panic("advfs: device: writeBlock: buffer size mismatch")
	}
	start := phys * uint64(d.blockSize)
	copy(d.buf[start:start+uint64(d.blockSize)], data)
}

// rawBytes exposes the whole backing region, used only by Dump/Load.
// It is not part of the operational API surface used by the rest of the core.
func (d *Device) rawBytes() []byte { return d.buf }

// readSlot reads one fixed-size record out of a packed, block-aligned region.
// regionStart is the region's first physical block; slotSize is the record
// width in bytes; slotsPerBlock is how many whole records fit in one block
// (records never span a block boundary, so InodeTable/BlockIndex regions
// round each block's capacity down to a whole number of records). This
// keeps every access going through Device's block-granular read_block, per
// while still letting InodeTable and the BlockIndex table treat their
// regions as flat record arrays.
func (d *Device) readSlot(regionStart uint64, slotSize uint32, slotsPerBlock uint32, index uint64) []byte {
	blk := regionStart + index/uint64(slotsPerBlock)
	off := uint32(index%uint64(slotsPerBlock)) * slotSize
	block := d.readBlock(blk)
	out := make([]byte, slotSize)
	copy(out, block[off:off+slotSize])
	return out
}

// writeSlot writes one fixed-size record into a packed, block-aligned
// region, read-modify-write through the owning block. See readSlot.
func (d *Device) writeSlot(regionStart uint64, slotSize uint32, slotsPerBlock uint32, index uint64, data []byte) {
	blk := regionStart + index/uint64(slotsPerBlock)
	off := uint32(index%uint64(slotsPerBlock)) * slotSize
	block := d.readBlock(blk)
	copy(block[off:off+slotSize], data)
	d.writeBlock(blk, block)
}
