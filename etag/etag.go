// Package etag computes the content hash the storage service reports as "hash".
//
// Data is split into 4 MiB blocks. Data of at most one block hashes to
// 0x16 followed by the SHA-1 of the data; longer data hashes to 0x96 followed by
// the SHA-1 of the concatenated block SHA-1 digests. The result is URL-safe base64.
package etag

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/bitrise-io/go-kodo/kodoerr"
)

const (
	// Size is the length of an encoded etag.
	Size = 28
	// BlockSize ...
	BlockSize = 1 << 22

	singleBlockPrefix = 0x16
	multiBlockPrefix  = 0x96
)

type digest struct {
	block       hash.Hash
	blockLen    int
	blockHashes []byte
}

// New returns a streaming etag hasher. Only one SHA-1 digest per completed block
// is kept in memory. Sum returns the raw 21-byte etag.
func New() hash.Hash {
	d := &digest{block: sha1.New()}
	return d
}

func (d *digest) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if d.blockLen == BlockSize {
			d.blockHashes = d.block.Sum(d.blockHashes)
			d.block.Reset()
			d.blockLen = 0
		}

		n := BlockSize - d.blockLen
		if n > len(p) {
			n = len(p)
		}
		d.block.Write(p[:n])
		d.blockLen += n
		written += n
		p = p[n:]
	}
	return written, nil
}

func (d *digest) Sum(b []byte) []byte {
	if len(d.blockHashes) == 0 {
		b = append(b, singleBlockPrefix)
		return d.block.Sum(b)
	}

	all := sha1.New()
	all.Write(d.blockHashes)
	all.Write(d.block.Sum(nil))
	b = append(b, multiBlockPrefix)
	return all.Sum(b)
}

func (d *digest) Reset() {
	d.block.Reset()
	d.blockLen = 0
	d.blockHashes = d.blockHashes[:0]
}

func (d *digest) Size() int {
	return sha1.Size + 1
}

func (d *digest) BlockSize() int {
	return BlockSize
}

// Encode returns the textual form of a raw etag.
func Encode(sum []byte) string {
	return base64.URLEncoding.EncodeToString(sum)
}

// FromBuffer ...
func FromBuffer(buf []byte) string {
	h := New()
	h.Write(buf)
	return Encode(h.Sum(nil))
}

// FromReader hashes r until EOF. Read failures are reported as kodoerr IO errors.
func FromReader(r io.Reader) (string, error) {
	h := New()
	if _, err := io.Copy(h, r); err != nil {
		return "", kodoerr.NewIOError(fmt.Errorf("read data: %w", err))
	}
	return Encode(h.Sum(nil)), nil
}

// FromFile hashes the file at path. A path that cannot be opened yields a
// kodoerr OS error, a failing read a kodoerr IO error.
func FromFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", kodoerr.NewOSError(err)
	}
	defer file.Close() //nolint:errcheck

	return FromReader(file)
}
