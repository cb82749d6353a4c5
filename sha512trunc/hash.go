// Package sha512trunc implements the Roughtime hash function: SHA-512
// truncated to its first 32 bytes.
package sha512trunc

import (
	"crypto/sha512"
	"hash"
)

// Size is the number of bytes in a truncated digest.
const Size = 32

type shatrunc struct {
	inner hash.Hash
}

func (h *shatrunc) Write(p []byte) (n int, err error) {
	return h.inner.Write(p)
}

func (h *shatrunc) Reset() {
	h.inner.Reset()
}

func (h *shatrunc) Size() int {
	return Size
}

func (h *shatrunc) BlockSize() int {
	return h.inner.BlockSize()
}

func (h *shatrunc) Sum(b []byte) []byte {
	tmp := h.inner.Sum(nil)
	return append(b, tmp[:Size]...)
}

func New() hash.Hash {
	ret := new(shatrunc)
	ret.inner = sha512.New()
	return ret
}

// Sum hashes the concatenation of chunks and returns the truncated digest.
func Sum(chunks ...[]byte) (out [Size]byte) {
	h := New()
	for _, c := range chunks {
		h.Write(c)
	}
	h.Sum(out[:0])
	return out
}
