package advfs

import "testing"

func digestOf(b byte) Digest {
	var d Digest
	d[0] = b
	return d
}

func newTestBlockIndex(t *testing.T, dataCount uint64) (*BlockIndex, *uint64) {
	t.Helper()
	blockSize := uint32(128) // must exceed blockMgtEntry's encoded size (72 bytes)
	bmgtBlocks := blockMgtTableBlocks(blockSize, dataCount)
	dataStart := bmgtBlocks
	dev := newDevice(dataStart+dataCount, blockSize)
	var root uint64
	return newBlockIndex(dev, binaryOrder(), 0, dataStart, dataCount, &root), &root
}

func TestBlockIndexInsertSearch(t *testing.T) {
	bi, _ := newTestBlockIndex(t, 8)

	digests := []byte{50, 20, 80, 10, 30, 70, 90}
	phys := make([]uint64, len(digests))
	for i, b := range digests {
		p := bi.dataStart + uint64(i)
		bi.setEntry(p, &blockMgtEntry{Digest: digestOf(b)})
		if err := bi.insert(p); err != nil {
			t.Fatalf("insert #%d (digest %d): %s", i, b, err)
		}
		phys[i] = p
	}

	for i, b := range digests {
		got := bi.search(digestOf(b))
		if got != phys[i] {
			t.Errorf("search(%d) = %d, want %d", b, got, phys[i])
		}
	}

	if got := bi.search(digestOf(255)); got != 0 {
		t.Errorf("search for absent digest = %d, want 0", got)
	}
}

func TestBlockIndexInsertDuplicateDigestFails(t *testing.T) {
	bi, _ := newTestBlockIndex(t, 4)

	p0 := bi.dataStart
	p1 := bi.dataStart + 1
	bi.setEntry(p0, &blockMgtEntry{Digest: digestOf(42)})
	if err := bi.insert(p0); err != nil {
		t.Fatalf("insert p0: %s", err)
	}

	bi.setEntry(p1, &blockMgtEntry{Digest: digestOf(42)})
	if err := bi.insert(p1); err != ErrDigestCollision {
		t.Fatalf("insert duplicate digest: got %v, want ErrDigestCollision", err)
	}
}

func TestBlockIndexRemove(t *testing.T) {
	bi, _ := newTestBlockIndex(t, 8)

	digests := []byte{50, 20, 80, 10, 30, 70, 90}
	phys := map[byte]uint64{}
	for i, b := range digests {
		p := bi.dataStart + uint64(i)
		bi.setEntry(p, &blockMgtEntry{Digest: digestOf(b)})
		if err := bi.insert(p); err != nil {
			t.Fatalf("insert digest %d: %s", b, err)
		}
		phys[b] = p
	}

	// Remove the root (two children) and a leaf, then verify every
	// surviving digest is still reachable.
	if err := bi.remove(phys[50]); err != nil {
		t.Fatalf("remove root: %s", err)
	}
	if err := bi.remove(phys[10]); err != nil {
		t.Fatalf("remove leaf: %s", err)
	}

	remaining := []byte{20, 80, 30, 70, 90}
	for _, b := range remaining {
		if got := bi.search(digestOf(b)); got != phys[b] {
			t.Errorf("after removal, search(%d) = %d, want %d", b, got, phys[b])
		}
	}
	if got := bi.search(digestOf(50)); got != 0 {
		t.Errorf("search(50) after its removal = %d, want 0", got)
	}
	if got := bi.search(digestOf(10)); got != 0 {
		t.Errorf("search(10) after its removal = %d, want 0", got)
	}
}

func TestDigestCompare(t *testing.T) {
	a := digestOf(1)
	b := digestOf(2)
	if a.compare(b) != -1 {
		t.Errorf("compare(1, 2) = %d, want -1", a.compare(b))
	}
	if b.compare(a) != 1 {
		t.Errorf("compare(2, 1) = %d, want 1", b.compare(a))
	}
	if a.compare(a) != 0 {
		t.Errorf("compare(1, 1) = %d, want 0", a.compare(a))
	}
}
