package advfs_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/drpnd/advfs"
)

func newTestFS(t *testing.T) *advfs.FS {
	t.Helper()
	fsys, err := advfs.New(advfs.WithBlockSize(512), advfs.WithCapacity(512), advfs.WithInodeCount(64))
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	return fsys
}

func TestRootDirectory(t *testing.T) {
	fsys := newTestFS(t)

	info, err := fsys.Getattr("/")
	if err != nil {
		t.Fatalf("Getattr(/): %s", err)
	}
	if !info.IsDir() {
		t.Errorf("expected / to be a directory")
	}

	entries, err := fsys.Readdir("/")
	if err != nil {
		t.Fatalf("Readdir(/): %s", err)
	}
	if len(entries) != 2 || entries[0].Name() != "." || entries[1].Name() != ".." {
		t.Errorf("expected empty root to list only . and .., got %d entries", len(entries))
	}
}

func TestCreateWriteReadFile(t *testing.T) {
	fsys := newTestFS(t)

	ino, err := fsys.Create("/hello.txt", 0o644)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}

	data := []byte("hello, world")
	n, err := fsys.Write(ino, 0, data)
	if err != nil {
		t.Fatalf("Write: %s", err)
	}
	if n != len(data) {
		t.Fatalf("Write: wrote %d bytes, want %d", n, len(data))
	}

	buf := make([]byte, len(data))
	n, err = fsys.Read(ino, 0, buf)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != len(data) || !bytes.Equal(buf[:n], data) {
		t.Fatalf("Read: got %q, want %q", buf[:n], data)
	}

	info, err := fsys.Getattr("/hello.txt")
	if err != nil {
		t.Fatalf("Getattr: %s", err)
	}
	if info.Size() != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", info.Size(), len(data))
	}
}

func TestWriteSpanningMultipleBlocks(t *testing.T) {
	fsys := newTestFS(t)
	ino, err := fsys.Create("/big.bin", 0o644)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}

	data := bytes.Repeat([]byte{0xAB}, 512*5+17)
	if _, err := fsys.Write(ino, 0, data); err != nil {
		t.Fatalf("Write: %s", err)
	}

	buf := make([]byte, len(data))
	n, err := fsys.Read(ino, 0, buf)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != len(data) || !bytes.Equal(buf, data) {
		t.Fatalf("read back mismatch: got %d bytes", n)
	}
}

func TestWritePastEndOfFileLeavesHole(t *testing.T) {
	fsys := newTestFS(t)
	ino, err := fsys.Create("/hole.bin", 0o644)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}

	if _, err := fsys.Write(ino, 1024, []byte("tail")); err != nil {
		t.Fatalf("Write: %s", err)
	}

	buf := make([]byte, 1028)
	n, err := fsys.Read(ino, 0, buf)
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	if n != 1028 {
		t.Fatalf("Read: got %d bytes, want 1028", n)
	}
	for i := 0; i < 1024; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zero hole at byte %d, got %d", i, buf[i])
		}
	}
	if string(buf[1024:]) != "tail" {
		t.Fatalf("tail mismatch: got %q", buf[1024:])
	}

	info, err := fsys.Getattr("/hole.bin")
	if err != nil {
		t.Fatalf("Getattr: %s", err)
	}
	if info.NBlocks() != 1 {
		t.Fatalf("NBlocks() = %d, want 1 (only the tail's block is actually mapped, not the hole blocks)", info.NBlocks())
	}
}

func TestDeduplicationSharesBlocks(t *testing.T) {
	fsys := newTestFS(t)

	content := bytes.Repeat([]byte{0x42}, 512)

	inoA, err := fsys.Create("/a.bin", 0o644)
	if err != nil {
		t.Fatalf("Create a: %s", err)
	}
	if _, err := fsys.Write(inoA, 0, content); err != nil {
		t.Fatalf("Write a: %s", err)
	}

	before := fsys.Statfs().FreeBlocks

	inoB, err := fsys.Create("/b.bin", 0o644)
	if err != nil {
		t.Fatalf("Create b: %s", err)
	}
	if _, err := fsys.Write(inoB, 0, content); err != nil {
		t.Fatalf("Write b: %s", err)
	}

	after := fsys.Statfs().FreeBlocks
	if after != before {
		t.Errorf("expected identical content to dedup (free blocks unchanged): before=%d after=%d", before, after)
	}

	buf := make([]byte, len(content))
	if _, err := fsys.Read(inoB, 0, buf); err != nil {
		t.Fatalf("Read b: %s", err)
	}
	if !bytes.Equal(buf, content) {
		t.Fatalf("b.bin content mismatch after dedup")
	}

	// Diverging one of the two copies must not affect the other.
	if _, err := fsys.Write(inoB, 0, []byte("diverge!")); err != nil {
		t.Fatalf("Write divergence: %s", err)
	}
	if _, err := fsys.Read(inoA, 0, buf); err != nil {
		t.Fatalf("Read a after divergence: %s", err)
	}
	if !bytes.Equal(buf, content) {
		t.Fatalf("a.bin content changed after b.bin diverged: got %q", buf)
	}
}

func TestTruncateShrinkAndGrow(t *testing.T) {
	fsys := newTestFS(t)
	ino, err := fsys.Create("/trunc.bin", 0o644)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}

	data := bytes.Repeat([]byte{0x7F}, 2000)
	if _, err := fsys.Write(ino, 0, data); err != nil {
		t.Fatalf("Write: %s", err)
	}

	if err := fsys.Truncate(ino, 100); err != nil {
		t.Fatalf("Truncate shrink: %s", err)
	}
	info, err := fsys.Getattr("/trunc.bin")
	if err != nil {
		t.Fatalf("Getattr: %s", err)
	}
	if info.Size() != 100 {
		t.Errorf("Size() after shrink = %d, want 100", info.Size())
	}

	if err := fsys.Truncate(ino, 300); err != nil {
		t.Fatalf("Truncate grow: %s", err)
	}
	buf := make([]byte, 300)
	n, err := fsys.Read(ino, 0, buf)
	if err != nil {
		t.Fatalf("Read after grow: %s", err)
	}
	if n != 300 {
		t.Fatalf("Read after grow: got %d bytes, want 300", n)
	}
	for i := 100; i < 300; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zero at byte %d after grow, got %d", i, buf[i])
		}
	}
}

func TestMkdirNestedAndUnlink(t *testing.T) {
	fsys := newTestFS(t)

	if err := fsys.Mkdir("/a", 0o755); err != nil {
		t.Fatalf("Mkdir /a: %s", err)
	}
	if err := fsys.Mkdir("/a/b", 0o755); err != nil {
		t.Fatalf("Mkdir /a/b: %s", err)
	}
	if _, err := fsys.Create("/a/b/file.txt", 0o644); err != nil {
		t.Fatalf("Create /a/b/file.txt: %s", err)
	}

	entries, err := fsys.Readdir("/a/b")
	if err != nil {
		t.Fatalf("Readdir /a/b: %s", err)
	}
	if len(entries) != 3 || entries[2].Name() != "file.txt" {
		t.Fatalf("unexpected entries in /a/b: %+v", entries)
	}

	if err := fsys.Rmdir("/a/b"); err == nil {
		t.Fatalf("expected Rmdir on non-empty directory to fail")
	}

	if err := fsys.Unlink("/a/b/file.txt"); err != nil {
		t.Fatalf("Unlink: %s", err)
	}
	if err := fsys.Rmdir("/a/b"); err != nil {
		t.Fatalf("Rmdir /a/b: %s", err)
	}
	if err := fsys.Rmdir("/a"); err != nil {
		t.Fatalf("Rmdir /a: %s", err)
	}

	if _, err := fsys.Getattr("/a"); err == nil {
		t.Fatalf("expected /a to be gone")
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fsys := newTestFS(t)
	if _, err := fsys.Create("/dup.txt", 0o644); err != nil {
		t.Fatalf("Create: %s", err)
	}
	if _, err := fsys.Create("/dup.txt", 0o644); err != advfs.ErrExists {
		t.Fatalf("second Create: got %v, want ErrExists", err)
	}
}

func TestOpenDirectoryForWriteFails(t *testing.T) {
	fsys := newTestFS(t)
	if err := fsys.Mkdir("/d", 0o755); err != nil {
		t.Fatalf("Mkdir: %s", err)
	}
	if _, err := fsys.Open("/d", os.O_RDWR); err != advfs.ErrIsADirectory {
		t.Fatalf("Open dir for write: got %v, want ErrIsADirectory", err)
	}
}

func TestStatfsAccounting(t *testing.T) {
	fsys := newTestFS(t)
	st := fsys.Statfs()
	if st.FreeInodes != st.TotalInodes-1 {
		t.Errorf("FreeInodes = %d, want %d (root consumes one)", st.FreeInodes, st.TotalInodes-1)
	}

	if _, err := fsys.Create("/x.txt", 0o644); err != nil {
		t.Fatalf("Create: %s", err)
	}
	st2 := fsys.Statfs()
	if st2.FreeInodes != st.FreeInodes-1 {
		t.Errorf("FreeInodes after create = %d, want %d", st2.FreeInodes, st.FreeInodes-1)
	}
}
