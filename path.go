package advfs

import (
	"strings"
	"time"
)

// PathResolver walks a slash-separated path from the root directory,
// component by component, through Directory lookups. It is the only
// piece of the core that knows about path syntax; everything below it
// (Directory, BlockMap, DedupIO) works purely in terms of inode numbers.
//
// Modeled on squashfs.go's Open/Stat path-walking helpers (split on "/",
// descend one directory entry at a time), generalized here to also create
// the final component on demand and to support removal.
type PathResolver struct {
	itab *InodeTable
	dir  *Directory
	sb   *Superblock
	io   *DedupIO
}

func newPathResolver(itab *InodeTable, dir *Directory, sb *Superblock, io *DedupIO) *PathResolver {
	return &PathResolver{itab: itab, dir: dir, sb: sb, io: io}
}

// splitPath validates and splits an absolute path into its non-empty
// components, rejecting anything too long or structurally invalid. Leading
// slashes are consumed; an empty component anywhere after them is rejected.
func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, ErrInvalidPath
	}
	rest := strings.TrimLeft(path, "/")
	if rest == "" {
		return []string{}, nil
	}
	raw := strings.Split(rest, "/")
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c == "" || c == "." || c == ".." {
			return nil, ErrInvalidPath
		}
		if len(c) > maxNameLen {
			return nil, ErrNameTooLong
		}
		out = append(out, c)
	}
	return out, nil
}

func defaultMode(t InodeType) uint32 {
	if t == InodeDir {
		return 0o755
	}
	return 0o644
}

// walk descends from the root through components, reading each one via
// Directory.lookup. It returns the resolved inode number/inode of the
// final component, along with the inode number/inode of its parent
// directory (needed by callers that must rewrite the parent, e.g. create
// or remove).
func (pr *PathResolver) walk(components []string) (parentNr uint64, parent *Inode, nr uint64, node *Inode, err error) {
	nr = pr.sb.RootIno
	node, err = pr.itab.read(nr)
	if err != nil {
		return 0, nil, 0, nil, err
	}
	if len(components) == 0 {
		return 0, nil, nr, node, nil
	}
	for _, name := range components {
		if !node.isDir() {
			return 0, nil, 0, nil, ErrNotADirectory
		}
		parentNr, parent = nr, node
		childNr, child, lookErr := pr.dir.lookup(node, name)
		if lookErr != nil {
			return 0, nil, 0, nil, lookErr
		}
		nr, node = childNr, child
	}
	return parentNr, parent, nr, node, nil
}

// Resolve looks up path, returning ErrNotFound if any component is
// missing.
func (pr *PathResolver) Resolve(path string) (uint64, *Inode, error) {
	components, err := splitPath(path)
	if err != nil {
		return 0, nil, err
	}
	_, _, nr, node, err := pr.walk(components)
	return nr, node, err
}

// ResolveWithParent looks up path like Resolve, additionally returning the
// inode number of its parent directory (the root's parent is itself), for
// callers that need to synthesize a ".." entry.
func (pr *PathResolver) ResolveWithParent(path string) (parentNr uint64, nr uint64, node *Inode, err error) {
	components, err := splitPath(path)
	if err != nil {
		return 0, 0, nil, err
	}
	parentNr, _, nr, node, err = pr.walk(components)
	if err != nil {
		return 0, 0, nil, err
	}
	if len(components) == 0 {
		parentNr = nr
	}
	return parentNr, nr, node, nil
}

// Create resolves path, creating the final component as a fresh inode of
// kind typ if it does not already exist. Every component before the last
// must already exist and be a directory; only the last component is
// created on demand.
func (pr *PathResolver) Create(path string, typ InodeType) (uint64, *Inode, error) {
	components, err := splitPath(path)
	if err != nil {
		return 0, nil, err
	}
	if len(components) == 0 {
		return 0, nil, ErrExists
	}

	parentComponents := components[:len(components)-1]
	name := components[len(components)-1]

	_, _, parentNr, parentNode, err := pr.walk(parentComponents)
	if err != nil {
		return 0, nil, err
	}
	if !parentNode.isDir() {
		return 0, nil, ErrNotADirectory
	}

	if _, _, err := pr.dir.lookup(parentNode, name); err == nil {
		return 0, nil, ErrExists
	} else if err != ErrNotFound {
		return 0, nil, err
	}

	childNr, err := pr.itab.findFree()
	if err != nil {
		return 0, nil, err
	}

	now := time.Now().Unix()
	child := &Inode{
		Type:  typ,
		Mode:  defaultMode(typ),
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	child.setName(name)
	if err := pr.itab.write(childNr, child); err != nil {
		return 0, nil, err
	}
	if err := pr.dir.addChild(parentNr, parentNode, childNr, name); err != nil {
		return 0, nil, err
	}
	pr.sb.UsedInodes++
	return childNr, child, nil
}

// Remove deletes the inode at path: a directory must be empty, a file has
// every data block it owns unreferenced before its inode slot is freed.
func (pr *PathResolver) Remove(path string) error {
	components, err := splitPath(path)
	if err != nil {
		return err
	}
	if len(components) == 0 {
		return ErrInvalidPath
	}

	parentComponents := components[:len(components)-1]
	name := components[len(components)-1]

	_, _, parentNr, parentNode, err := pr.walk(parentComponents)
	if err != nil {
		return err
	}
	if !parentNode.isDir() {
		return ErrNotADirectory
	}

	childNr, child, err := pr.dir.lookup(parentNode, name)
	if err != nil {
		return err
	}

	if child.isDir() {
		if !pr.dir.isEmpty(child) {
			return ErrNotEmpty
		}
	} else {
		pr.io.shrink(child, 0)
	}

	if err := pr.dir.removeChild(parentNr, parentNode, name); err != nil {
		return err
	}

	*child = Inode{}
	if err := pr.itab.write(childNr, child); err != nil {
		return err
	}
	if pr.sb.UsedInodes > 0 {
		pr.sb.UsedInodes--
	}
	return nil
}
