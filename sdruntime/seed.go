package sdruntime

import (
	"crypto/rand"
	"encoding/binary"
	"math"
)

// RandomSeed returns a non-negative seed drawn from crypto/rand.
func RandomSeed() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		return 42
	}
	return int64(binary.LittleEndian.Uint64(buf[:]) & math.MaxInt64)
}

// ResolveSeed returns seed when it is non-negative and a fresh random seed
// otherwise. The second result reports whether the seed was drawn.
func ResolveSeed(seed int64) (int64, bool) {
	if seed >= 0 {
		return seed, false
	}
	return RandomSeed(), true
}
