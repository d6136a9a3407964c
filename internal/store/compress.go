package store

import (
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v3"
)

// Compressor is the narrow interface the store calls into for
// compress-on-write and decompress-on-read. spec.md §1 treats the LZF
// codec as an out-of-scope named collaborator; this interface is that
// collaborator's contract, and LZ4Compressor is its one implementation.
type Compressor interface {
	// Compress returns the compressed form of src and true if it is
	// strictly smaller than src; otherwise ok is false and dst is nil.
	Compress(src []byte) (dst []byte, ok bool)
	// Decompress expands src (produced by Compress) back to a buffer of
	// exactly plainSize bytes.
	Decompress(src []byte, plainSize int) ([]byte, error)
}

// LZ4Compressor implements Compressor with the LZ4 block format. It keeps
// a reusable hash-table scratch space (lz4.CompressBlock's third
// argument) so repeated compressions don't reallocate it, the same way
// spec.md §5 describes the server's single-owner lzf_buffer scratch.
type LZ4Compressor struct {
	mu    sync.Mutex
	table []int
}

// NewLZ4Compressor builds a ready-to-use LZ4-backed Compressor.
func NewLZ4Compressor() *LZ4Compressor {
	return &LZ4Compressor{table: make([]int, 1<<16)}
}

func (c *LZ4Compressor) Compress(src []byte) ([]byte, bool) {
	if len(src) == 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	dst := make([]byte, len(src))
	n, err := lz4.CompressBlock(src, dst, c.table)
	if err != nil || n <= 0 || n >= len(src) {
		return nil, false
	}
	return dst[:n], true
}

func (c *LZ4Compressor) Decompress(src []byte, plainSize int) ([]byte, error) {
	if plainSize == 0 {
		return nil, nil
	}
	dst := make([]byte, plainSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != plainSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", n, plainSize)
	}
	return dst, nil
}
