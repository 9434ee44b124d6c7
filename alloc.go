package advfs

import "encoding/binary"

// BlockAllocator hands out and reclaims physical data blocks from a
// singly-linked freelist threaded through the free blocks themselves: the
// first 8 bytes of a free block hold the physical block number of the next
// free block (0 meaning end of list). The head is tracked in the
// superblock, so no separate in-memory bitmap or stack is kept — in the
// spirit of squashfs reusing the backing storage itself as bookkeeping
// space rather than maintaining parallel auxiliary structures (super.go's
// block-run table).
type BlockAllocator struct {
	dev   *Device
	order binary.ByteOrder
	sb    *Superblock

	dataStart uint64
	dataCount uint64
}

func newBlockAllocator(dev *Device, order binary.ByteOrder, sb *Superblock, dataStart, dataCount uint64) *BlockAllocator {
	return &BlockAllocator{
		dev:       dev,
		order:     order,
		sb:        sb,
		dataStart: dataStart,
		dataCount: dataCount,
	}
}

// formatFreelist initializes the freelist across the whole data region,
// threading block n to block n+1, with the superblock's FreelistHead
// pointed at the first data block. Called once, at image creation time.
func (a *BlockAllocator) formatFreelist() {
	if a.dataCount == 0 {
		a.sb.FreelistHead = 0
		return
	}
	for i := uint64(0); i < a.dataCount; i++ {
		phys := a.dataStart + i
		var next uint64
		if i+1 < a.dataCount {
			next = a.dataStart + i + 1
		}
		a.writeNext(phys, next)
	}
	a.sb.FreelistHead = a.dataStart
	a.sb.UsedBlocks = 0
}

func (a *BlockAllocator) readNext(phys uint64) uint64 {
	block := a.dev.readBlock(phys)
	return a.order.Uint64(block[:8])
}

func (a *BlockAllocator) writeNext(phys uint64, next uint64) {
	block := a.dev.readBlock(phys)
	a.order.PutUint64(block[:8], next)
	a.dev.writeBlock(phys, block)
}

// alloc pops the head of the freelist and returns its physical block
// number, or ErrNoSpace if the freelist is empty.
func (a *BlockAllocator) alloc() (uint64, error) {
	head := a.sb.FreelistHead
	if head == 0 {
		return 0, ErrNoSpace
	}
	next := a.readNext(head)
	a.sb.FreelistHead = next
	a.sb.UsedBlocks++
	return head, nil
}

// free pushes phys back onto the head of the freelist. Callers must ensure
// phys is not referenced anywhere else (the BlockIndex entry's RefCount has
// already dropped to zero) before calling free.
func (a *BlockAllocator) free(phys uint64) {
	a.writeNext(phys, a.sb.FreelistHead)
	a.sb.FreelistHead = phys
	if a.sb.UsedBlocks > 0 {
		a.sb.UsedBlocks--
	}
}
