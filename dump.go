package advfs

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// DumpCodec identifies the compression applied to a dumped image, mirroring
// squashfs's SquashComp enum in comp.go.
type DumpCodec uint16

const (
	CodecGzip DumpCodec = 1
	CodecXZ   DumpCodec = 2
	CodecZstd DumpCodec = 3
)

func (c DumpCodec) String() string {
	switch c {
	case CodecGzip:
		return "gzip"
	case CodecXZ:
		return "xz"
	case CodecZstd:
		return "zstd"
	}
	return fmt.Sprintf("DumpCodec(%d)", c)
}

// dumpHandler pairs a codec's compress and decompress functions, the same
// shape as squashfs's CompHandler in comp.go.
type dumpHandler struct {
	Compress   func(io.Writer) (io.WriteCloser, error)
	Decompress func(io.Reader) (io.ReadCloser, error)
}

var dumpRegistry = map[DumpCodec]*dumpHandler{}

// RegisterDumpCodec installs a codec, called from each codec's init()
// (dump.go for gzip, dump_zstd.go/dump_xz.go behind their build tags for
// the rest), the same registration pattern squashfs uses for its
// compressors in comp_zstd.go/comp_xz.go.
func RegisterDumpCodec(c DumpCodec, h *dumpHandler) {
	dumpRegistry[c] = h
}

func init() {
	RegisterDumpCodec(CodecGzip, &dumpHandler{
		Compress: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
		Decompress: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	})
}

const dumpMagic = 0x61647664 // "advd"

// Dump serializes the filesystem's entire backing region to w, compressed
// with codec, prefixed by a small header identifying the magic and codec so
// Load can pick the matching decompressor back up without the caller having
// to remember which one was used.
func Dump(f *FS, w io.Writer, codec DumpCodec) error {
	handler, ok := dumpRegistry[codec]
	if !ok {
		return fmt.Errorf("advfs: dump: unregistered codec %s (missing build tag?)", codec)
	}

	var header [8]byte
	binary.LittleEndian.PutUint32(header[0:4], dumpMagic)
	binary.LittleEndian.PutUint16(header[4:6], uint16(codec))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	cw, err := handler.Compress(w)
	if err != nil {
		return err
	}
	if _, err := cw.Write(f.dev.rawBytes()); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

// Load reconstructs a filesystem previously written by Dump.
func Load(r io.Reader) (*FS, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, ErrBadImage
	}
	if binary.LittleEndian.Uint32(header[0:4]) != dumpMagic {
		return nil, ErrBadImage
	}
	codec := DumpCodec(binary.LittleEndian.Uint16(header[4:6]))

	handler, ok := dumpRegistry[codec]
	if !ok {
		return nil, fmt.Errorf("advfs: load: unregistered codec %s (missing build tag?)", codec)
	}

	cr, err := handler.Decompress(r)
	if err != nil {
		return nil, ErrBadImage
	}
	defer cr.Close()

	raw, err := io.ReadAll(cr)
	if err != nil {
		return nil, ErrBadImage
	}

	return loadFromRaw(raw)
}

// loadFromRaw reconstructs every in-memory layer (Device, tables, allocator,
// BlockIndex, path resolver) from a raw backing-region byte slice, reading
// the superblock's own field widths first since it alone is independent of
// the block size it describes.
func loadFromRaw(raw []byte) (*FS, error) {
	order := binaryOrder()

	sb := &Superblock{order: order}
	probeSize := fixedSize(sb)
	if len(raw) < probeSize {
		return nil, ErrBadImage
	}
	if err := sb.unmarshal(raw[:probeSize]); err != nil {
		return nil, err
	}
	if sb.Magic != superblockMagic {
		return nil, ErrBadImage
	}
	if sb.BlockSize == 0 || uint64(len(raw)) != sb.TotalBlocks*uint64(sb.BlockSize) {
		return nil, ErrBadImage
	}

	dev := &Device{buf: raw, blockSize: sb.BlockSize, blocks: sb.TotalBlocks}

	dataCount := sb.TotalBlocks - sb.DataRegionStart
	itab := newInodeTable(dev, order, sb.InodeRegionStart, sb.TotalInodes)
	alloc := newBlockAllocator(dev, order, sb, sb.DataRegionStart, dataCount)
	index := newBlockIndex(dev, order, sb.BlockMgtRegionStart, sb.DataRegionStart, dataCount, &sb.BSTRoot)
	bmap := newBlockMap(dev, order, alloc)
	dio := newDedupIO(dev, order, alloc, index, bmap)
	dir := newDirectory(dio, dev, itab, order)
	pr := newPathResolver(itab, dir, sb, dio)

	return &FS{
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
	}, nil
}

func binaryOrder() binary.ByteOrder { return binary.LittleEndian }
