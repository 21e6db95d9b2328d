// Package ident generates message identifiers with the time+random scheme the
// chat protocol has always used: millisecond timestamp followed by a random
// base-36 suffix.
package ident

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"time"
)

const (
	suffixLen      = 9
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// New returns a practically unique message id. Two messages created in the
// same millisecond collide only if they also draw the same 9-character
// base-36 suffix, roughly 1 in 36^9 per pair. The message store's primary
// key absorbs a collision as a dropped duplicate.
func New() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + randomSuffix(suffixLen)
}

func randomSuffix(n int) string {
	max := big.NewInt(int64(len(base36Alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken;
			// fall back to a time-derived digit rather than panicking.
			buf[i] = base36Alphabet[time.Now().UnixNano()%int64(len(base36Alphabet))]
			continue
		}
		buf[i] = base36Alphabet[v.Int64()]
	}
	return string(buf)
}
