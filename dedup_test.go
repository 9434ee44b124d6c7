package advfs

import (
	"bytes"
	"testing"
)

func newTestDedupIO(t *testing.T, dataCount uint64) *DedupIO {
	t.Helper()
	blockSize := uint32(128) // must exceed blockMgtEntry's encoded size (72 bytes)
	bmgtBlocks := blockMgtTableBlocks(blockSize, dataCount)
	dataStart := bmgtBlocks
	dev := newDevice(dataStart+dataCount, blockSize)
	sb := &Superblock{order: binaryOrder()}
	alloc := newBlockAllocator(dev, binaryOrder(), sb, dataStart, dataCount)
	alloc.formatFreelist()
	var root uint64
	index := newBlockIndex(dev, binaryOrder(), 0, dataStart, dataCount, &root)
	bmap := newBlockMap(dev, binaryOrder(), alloc)
	return newDedupIO(dev, binaryOrder(), alloc, index, bmap)
}

func block(b byte, size int) []byte {
	return bytes.Repeat([]byte{b}, size)
}

func TestDedupIOWriteReadHole(t *testing.T) {
	io := newTestDedupIO(t, 16)
	ino := &Inode{}

	got := io.readBlock(ino, 3)
	if !bytes.Equal(got, make([]byte, 128)) {
		t.Fatalf("readBlock on a hole should be zero-filled, got %v", got)
	}

	data := block(0x11, 128)
	if err := io.writeBlock(ino, 0, data); err != nil {
		t.Fatalf("writeBlock: %s", err)
	}
	if ino.NBlocks != 1 {
		t.Fatalf("NBlocks after first write = %d, want 1", ino.NBlocks)
	}
	got = io.readBlock(ino, 0)
	if !bytes.Equal(got, data) {
		t.Fatalf("readBlock after write = %v, want %v", got, data)
	}
}

func TestDedupIOIdenticalContentSharesBlock(t *testing.T) {
	io := newTestDedupIO(t, 16)
	a := &Inode{}
	b := &Inode{}

	data := block(0x22, 128)
	if err := io.writeBlock(a, 0, data); err != nil {
		t.Fatalf("writeBlock a: %s", err)
	}
	if err := io.writeBlock(b, 0, data); err != nil {
		t.Fatalf("writeBlock b: %s", err)
	}

	physA := io.bmap.resolve(a, 0)
	physB := io.bmap.resolve(b, 0)
	if physA != physB {
		t.Fatalf("identical writes landed on different physical blocks: %d vs %d", physA, physB)
	}

	e := io.index.entry(physA)
	if e.RefCount != 2 {
		t.Fatalf("RefCount = %d, want 2", e.RefCount)
	}

	// Diverging b must copy rather than mutate the shared block.
	if err := io.writeBlock(b, 0, block(0x33, 128)); err != nil {
		t.Fatalf("writeBlock diverge: %s", err)
	}
	if got := io.readBlock(a, 0); !bytes.Equal(got, data) {
		t.Fatalf("a's block changed after b diverged: got %v", got)
	}
	e = io.index.entry(physA)
	if e.RefCount != 1 {
		t.Fatalf("RefCount after divergence = %d, want 1", e.RefCount)
	}
}

func TestDedupIOShrinkUnrefsBlocks(t *testing.T) {
	io := newTestDedupIO(t, 16)
	ino := &Inode{}

	for i := uint64(0); i < 4; i++ {
		if err := io.writeBlock(ino, i, block(byte(i), 128)); err != nil {
			t.Fatalf("writeBlock(%d): %s", i, err)
		}
	}
	if ino.NBlocks != 4 {
		t.Fatalf("NBlocks = %d, want 4", ino.NBlocks)
	}

	io.shrink(ino, 2)
	if ino.NBlocks != 2 {
		t.Fatalf("NBlocks after shrink = %d, want 2", ino.NBlocks)
	}
	if got := io.bmap.resolve(ino, 2); got != 0 {
		t.Errorf("resolve(2) after shrink = %d, want 0 (freed)", got)
	}
	if got := io.bmap.resolve(ino, 3); got != 0 {
		t.Errorf("resolve(3) after shrink = %d, want 0 (freed)", got)
	}
	if got := io.readBlock(ino, 0); !bytes.Equal(got, block(0, 128)) {
		t.Errorf("resolve(0) after shrink should be unaffected")
	}
}
