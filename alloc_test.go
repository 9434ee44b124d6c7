package advfs

import "testing"

func newTestAllocator(t *testing.T, dataCount uint64) (*Device, *Superblock, *BlockAllocator) {
	t.Helper()
	blockSize := uint32(64)
	dataStart := uint64(1)
	dev := newDevice(dataStart+dataCount, blockSize)
	sb := &Superblock{order: binaryOrder()}
	alloc := newBlockAllocator(dev, binaryOrder(), sb, dataStart, dataCount)
	alloc.formatFreelist()
	return dev, sb, alloc
}

func TestBlockAllocatorAllocFree(t *testing.T) {
	_, sb, alloc := newTestAllocator(t, 4)

	if sb.UsedBlocks != 0 {
		t.Fatalf("UsedBlocks after format = %d, want 0", sb.UsedBlocks)
	}

	var got []uint64
	for i := 0; i < 4; i++ {
		phys, err := alloc.alloc()
		if err != nil {
			t.Fatalf("alloc #%d: %s", i, err)
		}
		got = append(got, phys)
	}
	if sb.UsedBlocks != 4 {
		t.Fatalf("UsedBlocks after 4 allocs = %d, want 4", sb.UsedBlocks)
	}

	seen := map[uint64]bool{}
	for _, phys := range got {
		if seen[phys] {
			t.Fatalf("allocator returned physical block %d twice", phys)
		}
		seen[phys] = true
	}

	if _, err := alloc.alloc(); err != ErrNoSpace {
		t.Fatalf("alloc on exhausted freelist: got %v, want ErrNoSpace", err)
	}

	alloc.free(got[0])
	if sb.UsedBlocks != 3 {
		t.Fatalf("UsedBlocks after free = %d, want 3", sb.UsedBlocks)
	}

	reused, err := alloc.alloc()
	if err != nil {
		t.Fatalf("alloc after free: %s", err)
	}
	if reused != got[0] {
		t.Fatalf("alloc after free returned %d, want freed block %d", reused, got[0])
	}
}
