//go:build fuse

package advfs

import (
	"context"
	"errors"
	iofs "io/fs"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fsNode adapts FS's path-based host callback surface to go-fuse v2's
// InodeEmbedder tree, the way squashfs's inode_fuse.go adapts its own
// Inode to the older go-fuse nodefs API (Lookup/Open/OpenDir/ReadDir). Each
// fsNode carries its own absolute path rather than walking go-fuse's own
// parent links, since FS's operations are already path-shaped.
type fsNode struct {
	fs.Inode

	owner *FS
	path  string
}

var (
	_ fs.InodeEmbedder = (*fsNode)(nil)
	_ fs.NodeLookuper   = (*fsNode)(nil)
	_ fs.NodeGetattrer  = (*fsNode)(nil)
	_ fs.NodeSetattrer  = (*fsNode)(nil)
	_ fs.NodeReaddirer  = (*fsNode)(nil)
	_ fs.NodeCreater    = (*fsNode)(nil)
	_ fs.NodeMkdirer    = (*fsNode)(nil)
	_ fs.NodeUnlinker   = (*fsNode)(nil)
	_ fs.NodeRmdirer    = (*fsNode)(nil)
	_ fs.NodeOpener     = (*fsNode)(nil)
	_ fs.NodeReader     = (*fsNode)(nil)
	_ fs.NodeWriter     = (*fsNode)(nil)
	_ fs.NodeStatfser   = (*fsNode)(nil)
)

// fileHandle is the FUSE file handle for an open node: just the inode
// number FS.Open already resolved, since FS keeps no other per-handle
// state of its own.
type fileHandle uint64

// Mount starts serving filesystem at mountpoint using go-fuse, blocking
// background goroutines managed by the returned *fuse.Server.
func Mount(mountpoint string, filesystem *FS, opts *fs.Options) (*fuse.Server, error) {
	root := &fsNode{owner: filesystem, path: "/"}
	return fs.Mount(mountpoint, root, opts)
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// errnoFor maps a core error to the syscall.Errno go-fuse expects.
func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrExists):
		return syscall.EEXIST
	case errors.Is(err, ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsADirectory):
		return syscall.EISDIR
	case errors.Is(err, ErrNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ErrPermissionDenied):
		return syscall.EACCES
	case errors.Is(err, ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, ErrNoInode):
		return syscall.ENOSPC
	case errors.Is(err, ErrInvalidPath):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

// fillAttr populates a fuse.Attr from a FileInfo snapshot, the way
// squashfs's FillAttr (inode_linux.go/inode_darwin.go) turns its Inode's
// stored fields into the same structure.
func fillAttr(info FileInfo, out *fuse.Attr) {
	out.Mode = uint32(info.Mode().Perm())
	if info.IsDir() {
		out.Mode |= syscall.S_IFDIR
	} else {
		out.Mode |= syscall.S_IFREG
	}
	out.Size = uint64(info.Size())
	out.Blocks = uint64(info.NBlocks())
	out.Nlink = info.Nlink()
	mt := uint64(info.ModTime().Unix())
	out.Atime = mt
	out.Mtime = mt
	out.Ctime = mt
}

func (n *fsNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := joinPath(n.path, name)
	info, err := n.owner.Getattr(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	mode := uint32(syscall.S_IFREG)
	if info.IsDir() {
		mode = syscall.S_IFDIR
	}
	fillAttr(info, &out.Attr)
	child := &fsNode{owner: n.owner, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode}), 0
}

func (n *fsNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, err := n.owner.Getattr(n.path)
	if err != nil {
		return errnoFor(err)
	}
	fillAttr(info, &out.Attr)
	return 0
}

func (n *fsNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if sz, ok := in.GetSize(); ok {
		if err := n.owner.TruncatePath(n.path, int64(sz)); err != nil {
			return errnoFor(err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.owner.Chmod(n.path, fsFileMode(mode)); err != nil {
			return errnoFor(err)
		}
	}
	if mtime, ok := in.GetMTime(); ok {
		atime := mtime
		if a, ok := in.GetATime(); ok {
			atime = a
		}
		if err := n.owner.Utimens(n.path, atime, mtime); err != nil {
			return errnoFor(err)
		}
	}
	info, err := n.owner.Getattr(n.path)
	if err != nil {
		return errnoFor(err)
	}
	fillAttr(info, &out.Attr)
	return 0
}

type dirStream struct {
	entries []FileInfo
	idx     int
}

func (d *dirStream) HasNext() bool { return d.idx < len(d.entries) }

func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := d.entries[d.idx]
	d.idx++
	mode := uint32(syscall.S_IFREG)
	if e.IsDir() {
		mode = syscall.S_IFDIR
	}
	return fuse.DirEntry{Mode: mode, Name: e.Name()}, 0
}

func (d *dirStream) Close() {}

func (n *fsNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.owner.Readdir(n.path)
	if err != nil {
		return nil, errnoFor(err)
	}
	// go-fuse's own Inode tree already synthesizes "." and ".." for the
	// kernel; FS.Readdir supplies them per §6.1 for callers driving the
	// core directly, so they're filtered back out here to avoid duplicates
	// in an actual mount.
	filtered := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		filtered = append(filtered, e)
	}
	return &dirStream{entries: filtered}, 0
}

func (n *fsNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := joinPath(n.path, name)
	ino, err := n.owner.Create(childPath, fsFileMode(mode))
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	info, err := n.owner.Getattr(childPath)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	fillAttr(info, &out.Attr)
	child := &fsNode{owner: n.owner, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG})
	return inode, fileHandle(ino), 0, 0
}

func (n *fsNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := joinPath(n.path, name)
	if err := n.owner.Mkdir(childPath, fsFileMode(mode)); err != nil {
		return nil, errnoFor(err)
	}
	info, err := n.owner.Getattr(childPath)
	if err != nil {
		return nil, errnoFor(err)
	}
	fillAttr(info, &out.Attr)
	child := &fsNode{owner: n.owner, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR}), 0
}

func (n *fsNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.owner.Unlink(joinPath(n.path, name)))
}

func (n *fsNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.owner.Rmdir(joinPath(n.path, name)))
}

func (n *fsNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	ino, err := n.owner.Open(n.path, int(flags))
	if err != nil {
		return nil, 0, errnoFor(err)
	}
	return fileHandle(ino), 0, 0
}

func (n *fsNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh, ok := f.(fileHandle)
	if !ok {
		return nil, syscall.EBADF
	}
	got, err := n.owner.Read(uint64(fh), off, dest)
	if err != nil {
		return nil, errnoFor(err)
	}
	return fuse.ReadResultData(dest[:got]), 0
}

func (n *fsNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	fh, ok := f.(fileHandle)
	if !ok {
		return 0, syscall.EBADF
	}
	written, err := n.owner.Write(uint64(fh), off, data)
	if err != nil {
		return 0, errnoFor(err)
	}
	return uint32(written), 0
}

func (n *fsNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st := n.owner.Statfs()
	out.Bsize = st.BlockSize
	out.Blocks = st.TotalBlocks
	out.Bfree = st.FreeBlocks
	out.Bavail = st.FreeBlocks
	out.Files = st.TotalInodes
	out.Ffree = st.FreeInodes
	return 0
}

// fsFileMode extracts the io/fs.FileMode permission bits from a raw FUSE
// mode word.
func fsFileMode(raw uint32) iofs.FileMode {
	return iofs.FileMode(raw & 0o777)
}
