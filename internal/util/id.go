package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns 24 random hex characters, as prefix_<hex> when prefix is set.
func NewID(prefix string) string {
	var buf [12]byte
	_, _ = rand.Read(buf[:])
	id := hex.EncodeToString(buf[:])
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
