package sha512trunc

import (
	"bytes"
	"crypto/sha512"
	"testing"
)

func TestSha512Trunc(t *testing.T) {
	hash := New()
	hash.Write([]byte("Hello"))
	res := hash.Sum(nil)
	sha := sha512.New()
	sha.Write([]byte("Hello"))
	shahash := sha.Sum(nil)
	if len(res) != Size {
		t.Errorf("output too long")
	}
	for i := 0; i < Size; i++ {
		if shahash[i] != res[i] {
			t.Errorf("output mismatch")
		}
	}
}

func TestSum(t *testing.T) {
	full := sha512.Sum512([]byte("Hello, world"))
	sum := Sum([]byte("Hello, "), []byte("world"))
	if !bytes.Equal(sum[:], full[:Size]) {
		t.Errorf("Sum does not match truncated SHA-512 of the concatenation")
	}
}
