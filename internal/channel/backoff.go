package channel

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// cryptoInt64n returns a random int64 in [0, n) using crypto/rand.
func cryptoInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:]) >> 1 // ensure fits in int64
	return int64(v % uint64(n))
}

// backoffDelay computes the full-jitter reconnect delay for an attempt:
// delay = random(0, min(cap, base * 2^attempt)).
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	ceiling := base
	for i := 0; i < attempt; i++ {
		ceiling *= 2
		if ceiling >= cap {
			ceiling = cap
			break
		}
	}
	if ceiling > cap {
		ceiling = cap
	}
	return time.Duration(cryptoInt64n(int64(ceiling) + 1))
}
