//go:build zstd

package advfs

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

type zstdWriteCloser struct {
	*zstd.Encoder
}

func init() {
	RegisterDumpCodec(CodecZstd, &dumpHandler{
		Compress: func(w io.Writer) (io.WriteCloser, error) {
			enc, err := zstd.NewWriter(w)
			if err != nil {
				return nil, err
			}
			return &zstdWriteCloser{enc}, nil
		},
		Decompress: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	})
}
