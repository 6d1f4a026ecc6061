package util

import (
	"encoding/binary"
	"hash/fnv"
)

// HashId is the FNV-1a hash of the little-endian bytes of a vertex id. It
// decides vertex ownership everywhere, so it must never change between
// versions that share a stored graph.
func HashId(vertexId uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], vertexId)

	h := fnv.New64a()
	h.Write(buf[:])
	return h.Sum64()
}

// Bucket maps vertexId to one of n buckets by HashId.
func Bucket(vertexId uint64, n int) int {
	return int(HashId(vertexId) % uint64(n))
}
