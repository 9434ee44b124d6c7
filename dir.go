package advfs

import "encoding/binary"

// Directory reads and writes a directory inode's contents: a packed array
// of 8-byte child inode numbers, stored through the same DedupIO/BlockMap
// machinery as file data. Entries carry no name of their own — a
// child's name lives in the child inode's own Name field, so lookups are a
// linear scan that reads each child inode in turn. Modeled on squashfs's
// directory-as-flat-list layout in dir.go, generalized from its compressed
// dirent records to a fixed-width inode-number array.
type Directory struct {
	io   *DedupIO
	dev  *Device
	itab *InodeTable

	order binary.ByteOrder
}

func newDirectory(io *DedupIO, dev *Device, itab *InodeTable, order binary.ByteOrder) *Directory {
	return &Directory{io: io, dev: dev, itab: itab, order: order}
}

func (d *Directory) entriesPerBlock() uint64 {
	return uint64(d.dev.BlockSize()) / 8
}

func (d *Directory) getEntry(dirIno *Inode, i uint64) uint64 {
	epb := d.entriesPerBlock()
	blk := i / epb
	off := (i % epb) * 8
	block := d.io.readBlock(dirIno, blk)
	return d.order.Uint64(block[off : off+8])
}

func (d *Directory) setEntry(dirIno *Inode, i uint64, childNr uint64) error {
	epb := d.entriesPerBlock()
	blk := i / epb
	off := (i % epb) * 8
	block := d.io.readBlock(dirIno, blk)
	d.order.PutUint64(block[off:off+8], childNr)
	return d.io.writeBlock(dirIno, blk, block)
}

// lookup scans dirIno's entries for name, returning the child's inode
// number and decoded inode, or ErrNotFound.
func (d *Directory) lookup(dirIno *Inode, name string) (uint64, *Inode, error) {
	count := dirIno.Size
	for i := uint64(0); i < count; i++ {
		childNr := d.getEntry(dirIno, i)
		child, err := d.itab.read(childNr)
		if err != nil {
			return 0, nil, err
		}
		if child.name() == name {
			return childNr, child, nil
		}
	}
	return 0, nil, ErrNotFound
}

// addChild appends a (name already stored on the child inode) entry
// pointing at childNr, rejecting a name collision.
func (d *Directory) addChild(dirInoNr uint64, dirIno *Inode, childNr uint64, name string) error {
	if _, _, err := d.lookup(dirIno, name); err == nil {
		return ErrExists
	} else if err != ErrNotFound {
		return err
	}

	idx := dirIno.Size
	if err := d.setEntry(dirIno, idx, childNr); err != nil {
		return err
	}
	dirIno.Size++
	return d.itab.write(dirInoNr, dirIno)
}

// removeChild deletes the entry named name from dirIno, shifting every
// following entry down by one slot to preserve insertion order (per
// spec's remove_child: readdir must still yield the survivors in the
// order they were originally added), then trims any data blocks the
// shrink left unused.
func (d *Directory) removeChild(dirInoNr uint64, dirIno *Inode, name string) error {
	count := dirIno.Size
	var foundIdx uint64
	found := false
	for i := uint64(0); i < count; i++ {
		childNr := d.getEntry(dirIno, i)
		child, err := d.itab.read(childNr)
		if err != nil {
			return err
		}
		if child.name() == name {
			foundIdx = i
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	for i := foundIdx + 1; i < count; i++ {
		next := d.getEntry(dirIno, i)
		if err := d.setEntry(dirIno, i-1, next); err != nil {
			return err
		}
	}
	dirIno.Size--

	epb := d.entriesPerBlock()
	newBlockCount := divCeil(dirIno.Size, epb)
	if newBlockCount < uint64(dirIno.NBlocks) {
		d.io.shrink(dirIno, newBlockCount)
	}

	return d.itab.write(dirInoNr, dirIno)
}

func (d *Directory) isEmpty(dirIno *Inode) bool {
	return dirIno.Size == 0
}
