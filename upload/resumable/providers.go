package resumable

import (
	"errors"
	"fmt"
	"io"
)

// BlockProvider provides the blocks of one upload.
type BlockProvider interface {
	// NumBlocks returns the total number of blocks.
	NumBlocks() int

	// BlockSize returns the size of the block at the given index.
	BlockSize(index int) int64

	// Block returns the data of the block at the given index.
	// Block may be called concurrently and more than once for the same index.
	Block(index int) ([]byte, error)
}

// ReaderAtProvider reads blocks from random access storage, typically an *os.File.
// Only the blocks being uploaded are held in memory.
type ReaderAtProvider struct {
	r         io.ReaderAt
	size      int64
	blockSize int64
}

// NewReaderAtProvider ...
func NewReaderAtProvider(r io.ReaderAt, size, blockSize int64) *ReaderAtProvider {
	return &ReaderAtProvider{r: r, size: size, blockSize: blockSize}
}

// NumBlocks ...
func (p *ReaderAtProvider) NumBlocks() int {
	return int((p.size + p.blockSize - 1) / p.blockSize)
}

// BlockSize ...
func (p *ReaderAtProvider) BlockSize(index int) int64 {
	if index < 0 || index >= p.NumBlocks() {
		return 0
	}
	if index == p.NumBlocks()-1 {
		return p.size - int64(index)*p.blockSize
	}
	return p.blockSize
}

// Block ...
func (p *ReaderAtProvider) Block(index int) ([]byte, error) {
	if index < 0 || index >= p.NumBlocks() {
		return nil, fmt.Errorf("block index %d out of range [0, %d)", index, p.NumBlocks())
	}

	block := make([]byte, p.BlockSize(index))
	n, err := p.r.ReadAt(block, int64(index)*p.blockSize)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(block)) {
		return nil, fmt.Errorf("read block %d: %w", index+1, err)
	}
	return block, nil
}

// BytesProvider provides blocks of an in-memory buffer.
type BytesProvider struct {
	data      []byte
	blockSize int64
}

// NewBytesProvider ...
func NewBytesProvider(data []byte, blockSize int64) *BytesProvider {
	return &BytesProvider{data: data, blockSize: blockSize}
}

// NumBlocks ...
func (p *BytesProvider) NumBlocks() int {
	return int((int64(len(p.data)) + p.blockSize - 1) / p.blockSize)
}

// BlockSize ...
func (p *BytesProvider) BlockSize(index int) int64 {
	block, err := p.Block(index)
	if err != nil {
		return 0
	}
	return int64(len(block))
}

// Block ...
func (p *BytesProvider) Block(index int) ([]byte, error) {
	if index < 0 || index >= p.NumBlocks() {
		return nil, fmt.Errorf("block index %d out of range [0, %d)", index, p.NumBlocks())
	}
	start := int64(index) * p.blockSize
	end := start + p.blockSize
	if end > int64(len(p.data)) {
		end = int64(len(p.data))
	}
	return p.data[start:end], nil
}
