package advfs

import "encoding/binary"

// blockMgtEntry is the per-physical-data-block metadata record: its content
// digest, reference count, and BST child links. The BST lives entirely
// inside this parallel table — no pointers, just physical block numbers
// used as array indices.
type blockMgtEntry struct {
	Digest   Digest
	RefCount uint64
	Left     uint64 // physical block number of left child, 0 = none
	Right    uint64 // physical block number of right child, 0 = none
}

// BlockIndex is a binary search tree over block-management entries, keyed
// by content digest, stored in the parallel blockMgtEntry table indexed by
// physical data-block number. No rebalancing is attempted — the contract
// only requires correctness.
type BlockIndex struct {
	dev   *Device
	order binary.ByteOrder

	regionStart   uint64 // first physical block of the block-mgt region
	entrySize     uint32
	entriesPerBlk uint32

	dataStart uint64 // first physical block number of the data region
	dataCount uint64 // number of data blocks (== number of blockMgtEntry slots)

	root *uint64 // points at Superblock.BSTRoot so insert/remove can update it in place
}

func newBlockIndex(dev *Device, order binary.ByteOrder, regionStart uint64, dataStart, dataCount uint64, root *uint64) *BlockIndex {
	entSize := uint32(fixedSize(&blockMgtEntry{}))
	perBlk := dev.BlockSize() / entSize
	if perBlk == 0 {
		panic("advfs: block-mgt entry larger than block size")
	}
	return &BlockIndex{
		dev:           dev,
		order:         order,
		regionStart:   regionStart,
		entrySize:     entSize,
		entriesPerBlk: perBlk,
		dataStart:     dataStart,
		dataCount:     dataCount,
		root:          root,
	}
}

// blockMgtTableBlocks returns how many blocks a region of count entries needs.
func blockMgtTableBlocks(blockSize uint32, count uint64) uint64 {
	entSize := uint32(fixedSize(&blockMgtEntry{}))
	perBlk := blockSize / entSize
	if perBlk == 0 {
		panic("advfs: block-mgt entry larger than block size")
	}
	return divCeil(count, uint64(perBlk))
}

func (bi *BlockIndex) slot(phys uint64) uint64 {
	return phys - bi.dataStart
}

// entry returns the blockMgtEntry for physical data block phys.
func (bi *BlockIndex) entry(phys uint64) *blockMgtEntry {
	raw := bi.dev.readSlot(bi.regionStart, bi.entrySize, bi.entriesPerBlk, bi.slot(phys))
	e := &blockMgtEntry{}
	if err := unmarshalFixed(raw, e, bi.order); err != nil {
		panic("advfs: blockindex: corrupt entry: " + err.Error())
	}
	return e
}

// setEntry stores e as the blockMgtEntry for physical data block phys.
func (bi *BlockIndex) setEntry(phys uint64, e *blockMgtEntry) {
	raw := marshalFixed(e, bi.order)
	bi.dev.writeSlot(bi.regionStart, bi.entrySize, bi.entriesPerBlk, bi.slot(phys), raw)
}

// search descends from the root comparing digest against each node's stored
// digest, returning the physical block holding that content or 0 if absent.
func (bi *BlockIndex) search(digest Digest) uint64 {
	cur := *bi.root
	for cur != 0 {
		e := bi.entry(cur)
		switch digest.compare(e.Digest) {
		case 0:
			return cur
		case -1:
			cur = e.Left
		default:
			cur = e.Right
		}
	}
	return 0
}

// insert adds phys into the BST, keyed by the digest already stored in
// phys's blockMgtEntry. Returns ErrDigestCollision if a distinct node with
// the same digest already exists.
func (bi *BlockIndex) insert(phys uint64) error {
	target := bi.entry(phys)

	if *bi.root == 0 {
		*bi.root = phys
		return nil
	}

	cur := *bi.root
	for {
		e := bi.entry(cur)
		switch target.Digest.compare(e.Digest) {
		case 0:
			return ErrDigestCollision
		case -1:
			if e.Left == 0 {
				e.Left = phys
				bi.setEntry(cur, e)
				return nil
			}
			cur = e.Left
		default:
			if e.Right == 0 {
				e.Right = phys
				bi.setEntry(cur, e)
				return nil
			}
			cur = e.Right
		}
	}
}

// remove deletes phys from the BST, keyed by its stored digest. The
// two-children case is replaced by the maximum of the left subtree (the
// in-order predecessor), carrying over that predecessor's child pointers.
// The one-child case prefers the left child when present, else the right.
func (bi *BlockIndex) remove(phys uint64) error {
	return bi.removeFrom(bi.root, phys)
}

// removeFrom removes phys from the subtree rooted at *link, rewriting *link
// and any parent pointers it passes through.
func (bi *BlockIndex) removeFrom(link *uint64, phys uint64) error {
	cur := *link
	if cur == 0 {
		return newInternalError("blockindex: remove: node not found")
	}

	target := bi.entry(phys)

	if cur != phys {
		e := bi.entry(cur)
		switch target.Digest.compare(e.Digest) {
		case -1:
			left := e.Left
			if err := bi.removeLinked(cur, true, left, phys); err != nil {
				return err
			}
			return nil
		case 0:
			// Same digest but different node: should never happen.
			return newInternalError("blockindex: remove: digest collision during descent")
		default:
			right := e.Right
			if err := bi.removeLinked(cur, false, right, phys); err != nil {
				return err
			}
			return nil
		}
	}

	// cur == phys: remove this node, rewriting *link.
	e := bi.entry(cur)
	switch {
	case e.Left == 0 && e.Right == 0:
		*link = 0
	case e.Left != 0 && e.Right == 0:
		*link = e.Left
	case e.Left == 0 && e.Right != 0:
		*link = e.Right
	default:
		// Two children: find max of left subtree (predecessor), detach it,
		// and splice it in with phys's children.
		predParent := cur
		predIsLeftChildOfParent := true
		pred := e.Left
		predEntry := bi.entry(pred)
		for predEntry.Right != 0 {
			predParent = pred
			predIsLeftChildOfParent = false
			pred = predEntry.Right
			predEntry = bi.entry(pred)
		}

		// Detach pred from its parent, promoting pred's left child (it can't
		// have a right child by construction).
		if predParent == cur {
			e.Left = predEntry.Left
			bi.setEntry(cur, e)
		} else {
			pe := bi.entry(predParent)
			if predIsLeftChildOfParent {
				pe.Left = predEntry.Left
			} else {
				pe.Right = predEntry.Left
			}
			bi.setEntry(predParent, pe)
		}

		// pred takes over phys's position with phys's children (re-read e in
		// case predParent == cur mutated it above).
		e = bi.entry(cur)
		predEntry.Left = e.Left
		predEntry.Right = e.Right
		if predParent == cur {
			// e.Left was just updated to predEntry's old left; override
			// consistently since pred now owns this subtree.
			predEntry.Left = e.Left
		}
		bi.setEntry(pred, predEntry)
		*link = pred
	}

	return nil
}

// removeLinked is a small helper so removeFrom can recurse through a
// parent's Left/Right field, persisting the rewritten child pointer back
// into the parent's entry once the recursive removal completes.
func (bi *BlockIndex) removeLinked(parent uint64, isLeft bool, child uint64, phys uint64) error {
	link := child
	if err := bi.removeFrom(&link, phys); err != nil {
		return err
	}
	pe := bi.entry(parent)
	if isLeft {
		pe.Left = link
	} else {
		pe.Right = link
	}
	bi.setEntry(parent, pe)
	return nil
}
