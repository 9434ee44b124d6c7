package advfs

import "golang.org/x/crypto/blake2b"

// DigestSize is the fixed width, in bytes, of the content digest used to key
// the BlockIndex BST. The digest function itself is treated as an injected
// external primitive; blake2b is the concrete choice for this module.
const DigestSize = 48

// Digest is a fixed-width content digest. The BlockIndex BST orders nodes by
// byte-lexicographic comparison of Digests.
type Digest [DigestSize]byte

// compare returns -1, 0 or 1 as d is less than, equal to, or greater than o,
// comparing bytes lexicographically.
func (d Digest) compare(o Digest) int {
	for i := range d {
		if d[i] != o[i] {
			if d[i] < o[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// hashBlock computes the content digest of a single data block. Panics only
// on a misconfigured build (blake2b.New with a bad size), never on input.
func hashBlock(data []byte) Digest {
	h, err := blake2b.New(DigestSize, nil)
	if err != nil {
		// Only fails for an invalid size/key, which are both compile-time
		// constants here; a failure means the binary itself is broken.
		panic("advfs: blake2b init: " + err.Error())
	}
	h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}
