package cmap

import "github.com/cespare/xxhash/v2"

// XXHash returns a 64-bit hash of a string, suitable for use as a Map hasher.
func XXHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// XXHashes returns a 64-bit hash of a series of strings, as if they were concatenated.
func XXHashes(ss ...string) uint64 {
	d := xxhash.New()
	for _, s := range ss {
		d.WriteString(s)
	}
	return d.Sum64()
}
