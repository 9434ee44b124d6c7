package advfs

import "encoding/binary"

const superblockMagic = 0x61647666 // "advf"

// Superblock lives at physical block 0. It carries every piece of
// state that must survive a mount/unmount boundary within a single process
// lifetime: region offsets, counters, and the two structural roots (the
// data-block freelist head and the BlockIndex BST root).
//
// Field layout and the reflect-driven (un)marshaling below are adapted from
// squashfs's Superblock in super.go, which does the same "fixed header at a
// known offset, decoded field-by-field via reflection" trick for its
// on-disk superblock.
type Superblock struct {
	order binary.ByteOrder // not persisted; fixed at New() time

	Magic uint32

	BlockSize   uint32
	TotalBlocks uint64

	InodeRegionStart    uint64 // block offset of the inode table region
	BlockMgtRegionStart uint64 // block offset of the block-management table region
	DataRegionStart     uint64 // block offset of the data region

	TotalInodes uint64
	UsedInodes  uint64

	UsedBlocks uint64 // data blocks not on the freelist

	FreelistHead uint64 // physical block number, 0 means empty
	BSTRoot      uint64 // physical block number, 0 means empty

	RootIno uint64 // root directory's inode number, fixed at 0
}

func (s *Superblock) bytes() []byte {
	return marshalFixed(s, s.order)
}

func (s *Superblock) unmarshal(data []byte) error {
	return unmarshalFixed(data, s, s.order)
}

// decodeSuperblock reads and validates the superblock stored in block 0 of d.
func decodeSuperblock(d *Device) (*Superblock, error) {
	sb := &Superblock{order: binary.LittleEndian}
	raw := d.readBlock(0)
	if err := sb.unmarshal(raw); err != nil {
		return nil, err
	}
	if sb.Magic != superblockMagic {
		return nil, ErrBadImage
	}
	if sb.BlockSize != d.BlockSize() || sb.TotalBlocks != d.BlockCount() {
		return nil, ErrBadImage
	}
	return sb, nil
}
