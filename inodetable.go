package advfs

import "encoding/binary"

// DirectBlockCount is K, the number of block-pointer slots carried directly
// in an inode. Slots 0..K-2 are direct; slot K-1 heads the indirect chain.
const DirectBlockCount = 16

// maxNameLen is the longest entry name an inode can carry, matching the
// host callback surface's name_max.
const maxNameLen = 255

// InodeType enumerates what an inode currently holds.
type InodeType uint16

const (
	InodeUnused InodeType = iota
	InodeFile
	InodeDir
)

// Inode is the fixed-size record shared by files and directories. Its
// exported fields are encoded in declaration order by marshalFixed/
// unmarshalFixed (codec.go), the same reflect-driven scheme squashfs
// uses for Superblock in super.go.
type Inode struct {
	Type InodeType

	Mode uint32

	Atime int64
	Mtime int64
	Ctime int64

	Size    uint64 // bytes for files, entry count for directories
	NBlocks uint32 // count of logical blocks currently mapped

	Name [maxNameLen + 1]byte // null-terminated

	Blocks [DirectBlockCount]uint64 // 0..K-2 direct, K-1 = indirect chain head
}

// name returns the inode's entry name as a Go string, trimmed at the first NUL.
func (ino *Inode) name() string {
	n := 0
	for n < len(ino.Name) && ino.Name[n] != 0 {
		n++
	}
	return string(ino.Name[:n])
}

// setName stores name as a null-terminated byte array. Caller must have
// already validated len(name) <= maxNameLen.
func (ino *Inode) setName(name string) {
	ino.Name = [maxNameLen + 1]byte{}
	copy(ino.Name[:], name)
}

func (ino *Inode) isDir() bool  { return ino.Type == InodeDir }
func (ino *Inode) isFile() bool { return ino.Type == InodeFile }
func (ino *Inode) isUnused() bool { return ino.Type == InodeUnused }

// InodeTable is a fixed array of inode records, one per logical inode
// number, stored contiguously starting at regionStart. Modeled on
// squashfs's Superblock.GetInode/GetInodeRef indexed-lookup pattern in
// inode.go, generalized from squashfs's compressed variable-offset scheme
// to a flat fixed-width array, since these inodes are fixed-width.
type InodeTable struct {
	dev   *Device
	order binary.ByteOrder

	regionStart   uint64 // first physical block of the inode region
	recordSize    uint32
	recordsPerBlk uint32
	count         uint64 // total number of inode slots
}

func newInodeTable(dev *Device, order binary.ByteOrder, regionStart uint64, count uint64) *InodeTable {
	recSize := uint32(fixedSize(&Inode{}))
	perBlk := dev.BlockSize() / recSize
	if perBlk == 0 {
		panic("advfs: inode record larger than block size")
	}
	return &InodeTable{
		dev:           dev,
		order:         order,
		regionStart:   regionStart,
		recordSize:    recSize,
		recordsPerBlk: perBlk,
		count:         count,
	}
}

// inodeTableBlocks returns how many blocks a region of count inode records needs.
func inodeTableBlocks(blockSize uint32, count uint64) uint64 {
	recSize := uint32(fixedSize(&Inode{}))
	perBlk := blockSize / recSize
	if perBlk == 0 {
		panic("advfs: inode record larger than block size")
	}
	return divCeil(count, uint64(perBlk))
}

func divCeil(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// read returns the inode stored at nr by direct index.
func (t *InodeTable) read(nr uint64) (*Inode, error) {
	if nr >= t.count {
		return nil, newInternalError("inode number out of range")
	}
	raw := t.dev.readSlot(t.regionStart, t.recordSize, t.recordsPerBlk, nr)
	ino := &Inode{}
	if err := unmarshalFixed(raw, ino, t.order); err != nil {
		return nil, err
	}
	return ino, nil
}

// write stores ino at nr by direct index.
func (t *InodeTable) write(nr uint64, ino *Inode) error {
	if nr >= t.count {
		return newInternalError("inode number out of range")
	}
	raw := marshalFixed(ino, t.order)
	t.dev.writeSlot(t.regionStart, t.recordSize, t.recordsPerBlk, nr, raw)
	return nil
}

// findFree does a linear scan for the first Unused inode.
func (t *InodeTable) findFree() (uint64, error) {
	for nr := uint64(0); nr < t.count; nr++ {
		ino, err := t.read(nr)
		if err != nil {
			return 0, err
		}
		if ino.isUnused() {
			return nr, nil
		}
	}
	return 0, ErrNoInode
}
