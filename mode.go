package advfs

import "io/fs"

// toFileMode converts an inode's stored permission bits and type into the
// standard library's io/fs.FileMode, the way squashfs's mode.go turns its
// packed mode word into os.FileMode for its FileInfo implementation.
func toFileMode(ino *Inode) fs.FileMode {
	m := fs.FileMode(ino.Mode & 0o777)
	if ino.isDir() {
		m |= fs.ModeDir
	}
	return m
}

// fromFileMode extracts the permission bits to store on an inode from a
// caller-supplied fs.FileMode, discarding any type bits (the inode's Type
// field is the single source of truth for file-vs-directory).
func fromFileMode(m fs.FileMode) uint32 {
	return uint32(m.Perm())
}
