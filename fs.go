package advfs

import (
	"encoding/binary"
	"io/fs"
	"os"
	"time"
)

const (
	defaultBlockSize   uint32 = 4096
	defaultTotalBlocks uint64 = 16384 // 64MiB at the default block size
	defaultTotalInodes uint64 = 4096
)

// Option configures a filesystem at New() time, following the same
// functional-options shape squashfs uses for its Superblock/Writer
// configuration in options.go/writer.go.
type Option func(*buildConfig) error

type buildConfig struct {
	blockSize   uint32
	totalBlocks uint64
	totalInodes uint64
}

// WithBlockSize sets the device's fixed block size in bytes (default 4096).
func WithBlockSize(size uint32) Option {
	return func(c *buildConfig) error {
		if size == 0 || size%8 != 0 {
			return ErrDeviceTooSmall
		}
		c.blockSize = size
		return nil
	}
}

// WithCapacity sets the total number of blocks backing the filesystem,
// including the superblock, inode table and block-management regions
// (default 16384).
func WithCapacity(totalBlocks uint64) Option {
	return func(c *buildConfig) error {
		c.totalBlocks = totalBlocks
		return nil
	}
}

// WithInodeCount sets the fixed number of inode slots available (default
// 4096).
func WithInodeCount(n uint64) Option {
	return func(c *buildConfig) error {
		c.totalInodes = n
		return nil
	}
}

// FS is the in-memory, content-addressed, deduplicating filesystem. It owns
// the backing Device and every structural layer built on top of it, and
// exposes the host-facing operations a FUSE-like binding drives directly —
// no FUSE library type appears in this file; hostfuse.go adapts this
// surface to go-fuse separately, behind a build tag.
type FS struct {
	dev   *Device
	order binary.ByteOrder

	sb *Superblock

	itab  *InodeTable
	alloc *BlockAllocator
	index *BlockIndex
	bmap  *BlockMap
	io    *DedupIO
	dir   *Directory
	path  *PathResolver

	dataCount uint64
}

// New builds a fresh, empty filesystem image in memory and formats it: a
// zeroed superblock, an empty inode table besides a freshly created root
// directory at inode 0, a fully threaded data-block freelist, and an empty
// BlockIndex.
func New(opts ...Option) (*FS, error) {
	cfg := &buildConfig{
		blockSize:   defaultBlockSize,
		totalBlocks: defaultTotalBlocks,
		totalInodes: defaultTotalInodes,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	order := binary.LittleEndian

	// Every fixed-width on-device record (Inode, blockMgtEntry) must fit in
	// one block — inodeTableBlocks/blockMgtTableBlocks assume at least one
	// record per block and panic otherwise. Reject an undersized block size
	// here, at the caller-facing boundary, instead of letting that panic
	// surface from deep inside newInodeTable/newBlockIndex.
	if cfg.blockSize < uint32(fixedSize(&Inode{})) || cfg.blockSize < uint32(fixedSize(&blockMgtEntry{})) {
		return nil, ErrDeviceTooSmall
	}

	inodeBlocks := inodeTableBlocks(cfg.blockSize, cfg.totalInodes)
	reserved := uint64(1) + inodeBlocks
	if reserved >= cfg.totalBlocks {
		return nil, ErrDeviceTooSmall
	}
	remaining := cfg.totalBlocks - reserved

	// The block-management table's own size depends on how many data blocks
	// it has to describe, which in turn depends on how many blocks it takes
	// up — solved by iterating to a fixed point, which converges in a
	// handful of steps since each block-mgt entry covers many data blocks.
	var bmgtBlocks uint64
	for i := 0; i < 64; i++ {
		if bmgtBlocks > remaining {
			return nil, ErrDeviceTooSmall
		}
		dataCount := remaining - bmgtBlocks
		next := blockMgtTableBlocks(cfg.blockSize, dataCount)
		if next == bmgtBlocks {
			break
		}
		bmgtBlocks = next
	}
	if bmgtBlocks >= remaining {
		return nil, ErrDeviceTooSmall
	}
	dataCount := remaining - bmgtBlocks
	if dataCount == 0 {
		return nil, ErrDeviceTooSmall
	}

	dev := newDevice(cfg.totalBlocks, cfg.blockSize)

	sb := &Superblock{
		order:               order,
		Magic:               superblockMagic,
		BlockSize:           cfg.blockSize,
		TotalBlocks:         cfg.totalBlocks,
		InodeRegionStart:    1,
		BlockMgtRegionStart: 1 + inodeBlocks,
		DataRegionStart:     1 + inodeBlocks + bmgtBlocks,
		TotalInodes:         cfg.totalInodes,
		RootIno:             0,
	}

	itab := newInodeTable(dev, order, sb.InodeRegionStart, cfg.totalInodes)
	alloc := newBlockAllocator(dev, order, sb, sb.DataRegionStart, dataCount)
	alloc.formatFreelist()
	index := newBlockIndex(dev, order, sb.BlockMgtRegionStart, sb.DataRegionStart, dataCount, &sb.BSTRoot)
	bmap := newBlockMap(dev, order, alloc)
	dio := newDedupIO(dev, order, alloc, index, bmap)
	dir := newDirectory(dio, dev, itab, order)
	pr := newPathResolver(itab, dir, sb, dio)

	fsys := &FS{
		dev:       dev,
		order:     order,
		sb:        sb,
		itab:      itab,
		alloc:     alloc,
		index:     index,
		bmap:      bmap,
		io:        dio,
		dir:       dir,
		path:      pr,
		dataCount: dataCount,
	}

	now := time.Now().Unix()
	root := &Inode{Type: InodeDir, Mode: 0o755, Atime: now, Mtime: now, Ctime: now}
	if err := itab.write(0, root); err != nil {
		return nil, err
	}
	sb.UsedInodes = 1

	fsys.syncSuperblock()
	return fsys, nil
}

func (f *FS) syncSuperblock() {
	f.dev.writeBlock(0, padToBlock(f.sb.bytes(), f.dev.BlockSize()))
}

func padToBlock(data []byte, blockSize uint32) []byte {
	out := make([]byte, blockSize)
	copy(out, data)
	return out
}

// FileInfo is a small io/fs.FileInfo-shaped snapshot of an inode's
// metadata, returned by Getattr/Readdir/Create/Mkdir. NBlocks and Nlink
// round out the §6.1 getattr() result beyond plain io/fs.FileInfo:
// NBlocks is the inode's mapped logical-block count, and Nlink is 1 for a
// file or 2+child_count for a directory, where child_count counts every
// entry, files and subdirectories alike.
type FileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
	nBlocks uint32
	nlink   uint32
}

func (fi FileInfo) Name() string       { return fi.name }
func (fi FileInfo) Size() int64        { return fi.size }
func (fi FileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi FileInfo) ModTime() time.Time { return fi.modTime }
func (fi FileInfo) IsDir() bool        { return fi.isDir }
func (fi FileInfo) Sys() interface{}   { return nil }
func (fi FileInfo) NBlocks() uint32    { return fi.nBlocks }
func (fi FileInfo) Nlink() uint32      { return fi.nlink }

func (f *FS) toFileInfo(node *Inode) FileInfo {
	nlink := uint32(1)
	if node.isDir() {
		nlink = 2 + uint32(node.Size)
	}
	return FileInfo{
		name:    node.name(),
		size:    int64(node.Size),
		mode:    toFileMode(node),
		modTime: time.Unix(node.Mtime, 0),
		isDir:   node.isDir(),
		nBlocks: node.NBlocks,
		nlink:   nlink,
	}
}

// namedFileInfo is toFileInfo with the name overridden, used for the
// synthetic "." and ".." entries Readdir yields.
func (f *FS) namedFileInfo(name string, node *Inode) FileInfo {
	fi := f.toFileInfo(node)
	fi.name = name
	return fi
}

// StatfsResult reports capacity/usage counters, mirroring the fields a host
// callback's statfs() needs to populate.
type StatfsResult struct {
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint64
	FreeInodes  uint64
	NameMax     uint32
}

// Statfs reports the filesystem's capacity and current usage.
func (f *FS) Statfs() StatfsResult {
	return StatfsResult{
		BlockSize:   f.sb.BlockSize,
		TotalBlocks: f.sb.TotalBlocks,
		FreeBlocks:  f.dataCount - f.sb.UsedBlocks,
		TotalInodes: f.sb.TotalInodes,
		FreeInodes:  f.sb.TotalInodes - f.sb.UsedInodes,
		NameMax:     maxNameLen,
	}
}

// Getattr resolves path and returns its metadata.
func (f *FS) Getattr(path string) (FileInfo, error) {
	_, node, err := f.path.Resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	return f.toFileInfo(node), nil
}

// Readdir resolves path, which must name a directory, and returns "." and
// ".." followed by the metadata of each of its children, in the order they
// were added (§6.1's readdir() iteration order).
func (f *FS) Readdir(path string) ([]FileInfo, error) {
	parentNr, _, node, err := f.path.ResolveWithParent(path)
	if err != nil {
		return nil, err
	}
	if !node.isDir() {
		return nil, ErrNotADirectory
	}
	parent, err := f.itab.read(parentNr)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, node.Size+2)
	out = append(out, f.namedFileInfo(".", node))
	out = append(out, f.namedFileInfo("..", parent))
	for i := uint64(0); i < node.Size; i++ {
		childNr := f.dir.getEntry(node, i)
		child, err := f.itab.read(childNr)
		if err != nil {
			return nil, err
		}
		out = append(out, f.toFileInfo(child))
	}
	return out, nil
}

// accessMode extracts the O_RDONLY/O_WRONLY/O_RDWR access mode from flags,
// masking off the non-access bits (O_CREAT, O_TRUNC, O_APPEND, ...) the way
// POSIX's O_ACCMODE does.
const accessModeMask = os.O_RDONLY | os.O_WRONLY | os.O_RDWR

// Open resolves path and validates flags against both the node's type and
// its permission bits, returning the inode number the caller should present
// to Read/Write/Truncate. This filesystem keeps no open-file state of its
// own; a host binding that needs per-handle state (an offset, O_APPEND
// behavior) keeps it on its own side, but the access check itself is the
// core's to make: flags are known in full at Open time, so the
// read-requires-{RDONLY,RDWR}/write-requires-{WRONLY,RDWR} check from the
// host callback contract is enforced here against node's mode bits, eagerly,
// rather than deferred to Read/Write calls that only carry a bare inode
// number and have nothing left to check it against.
func (f *FS) Open(path string, flags int) (uint64, error) {
	nr, node, err := f.path.Resolve(path)
	if err != nil {
		return 0, err
	}
	if node.isDir() && flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		return 0, ErrIsADirectory
	}
	mode := flags & accessModeMask
	wantRead := mode == os.O_RDONLY || mode == os.O_RDWR
	wantWrite := mode == os.O_WRONLY || mode == os.O_RDWR
	if wantRead && node.Mode&0o444 == 0 {
		return 0, ErrPermissionDenied
	}
	if wantWrite && node.Mode&0o222 == 0 {
		return 0, ErrPermissionDenied
	}
	return nr, nil
}

// Read copies up to len(buf) bytes of ino's content starting at offset into
// buf, returning how many bytes were copied. Reading at or past the
// current size returns (0, nil).
func (f *FS) Read(ino uint64, offset int64, buf []byte) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidPath
	}
	node, err := f.itab.read(ino)
	if err != nil {
		return 0, err
	}
	if !node.isFile() {
		return 0, ErrIsADirectory
	}

	size := int64(node.Size)
	if offset >= size {
		return 0, nil
	}

	blockSize := int64(f.dev.BlockSize())
	pos := offset
	remaining := buf
	n := 0
	for len(remaining) > 0 && pos < size {
		idx := uint64(pos / blockSize)
		sub := pos % blockSize
		block := f.io.readBlock(node, idx)

		avail := blockSize - sub
		if int64(len(remaining)) < avail {
			avail = int64(len(remaining))
		}
		if pos+avail > size {
			avail = size - pos
		}

		copy(remaining[:avail], block[sub:sub+avail])
		remaining = remaining[avail:]
		pos += avail
		n += int(avail)
	}
	return n, nil
}

// Write stores data at offset in ino's content, growing the file and
// punching a hole over any gap if offset is past the current size.
func (f *FS) Write(ino uint64, offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidPath
	}
	node, err := f.itab.read(ino)
	if err != nil {
		return 0, err
	}
	if !node.isFile() {
		return 0, ErrIsADirectory
	}

	blockSize := int64(f.dev.BlockSize())
	pos := offset
	remaining := data
	written := 0
	for len(remaining) > 0 {
		idx := uint64(pos / blockSize)
		sub := pos % blockSize

		avail := blockSize - sub
		if int64(len(remaining)) < avail {
			avail = int64(len(remaining))
		}

		var block []byte
		if sub != 0 || avail != blockSize {
			block = f.io.readBlock(node, idx)
		} else {
			block = make([]byte, blockSize)
		}
		copy(block[sub:sub+avail], remaining[:avail])
		if err := f.io.writeBlock(node, idx, block); err != nil {
			return written, err
		}

		remaining = remaining[avail:]
		pos += avail
		written += int(avail)
	}

	if uint64(pos) > node.Size {
		node.Size = uint64(pos)
	}
	node.Mtime = time.Now().Unix()
	if err := f.itab.write(ino, node); err != nil {
		return written, err
	}
	f.syncSuperblock()
	return written, nil
}

// Truncate changes ino's size to size, freeing any data blocks that fall
// entirely beyond the new size. Growing never allocates blocks; the
// extended range reads back as zeros until actually written.
func (f *FS) Truncate(ino uint64, size int64) error {
	if size < 0 {
		return ErrInvalidPath
	}
	node, err := f.itab.read(ino)
	if err != nil {
		return err
	}
	if !node.isFile() {
		return ErrIsADirectory
	}

	blockSize := uint64(f.dev.BlockSize())
	newBlockCount := divCeil(uint64(size), blockSize)
	f.io.shrink(node, newBlockCount)

	// Zero the bytes past the new end in the last kept block, so a later
	// grow reads them back as zeros.
	if tail := uint64(size) % blockSize; tail != 0 && uint64(size) < node.Size {
		idx := newBlockCount - 1
		if f.bmap.resolve(node, idx) != 0 {
			block := f.io.readBlock(node, idx)
			for i := tail; i < blockSize; i++ {
				block[i] = 0
			}
			if err := f.io.writeBlock(node, idx, block); err != nil {
				return err
			}
		}
	}

	node.Size = uint64(size)
	node.Mtime = time.Now().Unix()
	if err := f.itab.write(ino, node); err != nil {
		return err
	}
	f.syncSuperblock()
	return nil
}

// Create makes a new regular file at path with the given permission bits.
func (f *FS) Create(path string, mode fs.FileMode) (uint64, error) {
	nr, node, err := f.path.Create(path, InodeFile)
	if err != nil {
		return 0, err
	}
	node.Mode = fromFileMode(mode)
	if err := f.itab.write(nr, node); err != nil {
		return 0, err
	}
	f.syncSuperblock()
	return nr, nil
}

// Mkdir makes a new empty directory at path with the given permission bits.
func (f *FS) Mkdir(path string, mode fs.FileMode) error {
	nr, node, err := f.path.Create(path, InodeDir)
	if err != nil {
		return err
	}
	node.Mode = fromFileMode(mode)
	if err := f.itab.write(nr, node); err != nil {
		return err
	}
	f.syncSuperblock()
	return nil
}

// Rmdir removes the empty directory at path.
func (f *FS) Rmdir(path string) error {
	_, node, err := f.path.Resolve(path)
	if err != nil {
		return err
	}
	if !node.isDir() {
		return ErrNotADirectory
	}
	if err := f.path.Remove(path); err != nil {
		return err
	}
	f.syncSuperblock()
	return nil
}

// Unlink removes the file at path.
func (f *FS) Unlink(path string) error {
	_, node, err := f.path.Resolve(path)
	if err != nil {
		return err
	}
	if node.isDir() {
		return ErrIsADirectory
	}
	if err := f.path.Remove(path); err != nil {
		return err
	}
	f.syncSuperblock()
	return nil
}

// TruncatePath is a path-based convenience wrapper around Truncate, used by
// callers (such as a host binding's setattr handler) that may not already
// hold an open file handle for path.
func (f *FS) TruncatePath(path string, size int64) error {
	nr, _, err := f.path.Resolve(path)
	if err != nil {
		return err
	}
	return f.Truncate(nr, size)
}

// Chmod updates path's permission bits.
func (f *FS) Chmod(path string, mode fs.FileMode) error {
	nr, node, err := f.path.Resolve(path)
	if err != nil {
		return err
	}
	node.Mode = fromFileMode(mode)
	node.Ctime = time.Now().Unix()
	return f.itab.write(nr, node)
}

// Utimens sets path's access and modification times.
func (f *FS) Utimens(path string, atime, mtime time.Time) error {
	nr, node, err := f.path.Resolve(path)
	if err != nil {
		return err
	}
	node.Atime = atime.Unix()
	node.Mtime = mtime.Unix()
	return f.itab.write(nr, node)
}
