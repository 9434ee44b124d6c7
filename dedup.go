package advfs

import "encoding/binary"

// DedupIO is the layer that turns a logical block write into content-
// addressed storage: every write is hashed, looked up in the BlockIndex,
// and either points the inode at an existing block (bumping its refcount)
// or lands on a fresh or in-place block. Reads are a plain
// BlockMap.resolve followed by a raw block read, with unmapped logical
// blocks read back as zero-filled holes.
type DedupIO struct {
	dev   *Device
	order binary.ByteOrder

	alloc *BlockAllocator
	index *BlockIndex
	bmap  *BlockMap
}

func newDedupIO(dev *Device, order binary.ByteOrder, alloc *BlockAllocator, index *BlockIndex, bmap *BlockMap) *DedupIO {
	return &DedupIO{dev: dev, order: order, alloc: alloc, index: index, bmap: bmap}
}

// readBlock returns the full block-sized content mapped to ino's logical
// block idx, or a zero-filled block if idx is a hole.
func (io *DedupIO) readBlock(ino *Inode, idx uint64) []byte {
	phys := io.bmap.resolve(ino, idx)
	if phys == 0 {
		return make([]byte, io.dev.BlockSize())
	}
	return io.dev.readBlock(phys)
}

// writeBlock stores data (exactly one block) as ino's logical block idx,
// deduplicating against existing content.
//
// Case A: idx already maps to a physical block that no other inode
// references (RefCount == 1) and no existing block elsewhere already holds
// this exact content — the block is rewritten in place, re-keyed in the
// BlockIndex under its new digest.
//
// Case B: idx is unmapped, or its current block is shared with other
// inodes/logical positions, or the new content already exists elsewhere —
// the logical slot is pointed at the right physical block (existing or
// freshly allocated) and the old block, if any, is unreferenced.
func (io *DedupIO) writeBlock(ino *Inode, idx uint64, data []byte) error {
	digest := hashBlock(data)
	oldPhys := io.bmap.resolve(ino, idx)

	if existing := io.index.search(digest); existing != 0 {
		if existing == oldPhys {
			return nil
		}
		e := io.index.entry(existing)
		e.RefCount++
		io.index.setEntry(existing, e)
		if err := io.bmap.setSlot(ino, idx, existing); err != nil {
			e.RefCount--
			io.index.setEntry(existing, e)
			return err
		}
		if oldPhys != 0 {
			io.unref(oldPhys)
		}
		io.syncNBlocks(ino)
		return nil
	}

	if oldPhys != 0 {
		oe := io.index.entry(oldPhys)
		if oe.RefCount == 1 {
			if err := io.index.remove(oldPhys); err != nil {
				return err
			}
			io.dev.writeBlock(oldPhys, data)
			oe.Digest = digest
			oe.RefCount = 1
			oe.Left = 0
			oe.Right = 0
			io.index.setEntry(oldPhys, oe)
			if err := io.index.insert(oldPhys); err != nil {
				return mapInsertErr(err)
			}
			io.syncNBlocks(ino)
			return nil
		}
	}

	newPhys, err := io.alloc.alloc()
	if err != nil {
		return err
	}
	io.dev.writeBlock(newPhys, data)
	io.index.setEntry(newPhys, &blockMgtEntry{Digest: digest, RefCount: 1})
	if err := io.index.insert(newPhys); err != nil {
		io.alloc.free(newPhys)
		return mapInsertErr(err)
	}
	if err := io.bmap.setSlot(ino, idx, newPhys); err != nil {
		io.unref(newPhys)
		return err
	}
	if oldPhys != 0 {
		io.unref(oldPhys)
	}
	io.syncNBlocks(ino)
	return nil
}

// mapInsertErr surfaces a BlockIndex digest collision the way §4.10/§7
// specify: write treats "two distinct contents, same digest" as allocator
// exhaustion (ErrNoSpace), not as its own distinct error kind. Unreachable
// in practice with a collision-resistant digest; every other error passes
// through unchanged.
func mapInsertErr(err error) error {
	if err == ErrDigestCollision {
		return ErrNoSpace
	}
	return err
}

// syncNBlocks recomputes ino.NBlocks as the true count of logical slots
// that resolve to a non-zero physical block, per property P4 ("i.n_blocks
// equals the number of valid logical-slot entries in its block map").
// Called after any block-map mutation (a successful slot install, or a
// shrink), so NBlocks never counts a slot that isn't really installed, and
// never over-counts a hole left behind by a write far past the file's
// previous end.
func (io *DedupIO) syncNBlocks(ino *Inode) {
	ino.NBlocks = uint32(io.bmap.countMapped(ino))
}

// shrink releases every logical block at or beyond newBlockCount: direct
// slots are unreferenced and zeroed, and any indirect-chain structure
// blocks that no longer hold live entries are freed outright (the
// immediate-free policy chosen over deferring indirect-block reclamation).
// ino.NBlocks is resynced against the block map once the shrink completes.
// Used by both directory entry removal and file truncation.
func (io *DedupIO) shrink(ino *Inode, newBlockCount uint64) {
	// NBlocks counts mapped slots, not the highest mapped index, so the scan
	// covers every slot the direct array and the indirect chain can hold.
	limit := uint64(directUsable)
	for blk := ino.Blocks[indirectSlot]; blk != 0; {
		_, link := io.bmap.readIndirect(blk)
		limit += uint64(io.bmap.d)
		blk = link
	}
	for idx := newBlockCount; idx < limit; idx++ {
		if phys := io.bmap.resolve(ino, idx); phys != 0 {
			io.unref(phys)
		}
	}
	for idx := newBlockCount; idx < directUsable; idx++ {
		ino.Blocks[idx] = 0
	}
	io.bmap.freeChainFrom(ino, newBlockCount)
	io.syncNBlocks(ino)
}

// unref drops phys's reference count by one, freeing the block and its
// BlockIndex entry once the count reaches zero.
func (io *DedupIO) unref(phys uint64) {
	e := io.index.entry(phys)
	if e.RefCount <= 1 {
		if err := io.index.remove(phys); err != nil {
			panic("advfs: dedup: unref: " + err.Error())
		}
		io.alloc.free(phys)
		return
	}
	e.RefCount--
	io.index.setEntry(phys, e)
}
