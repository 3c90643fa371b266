package memo

import "github.com/cespare/xxhash/v2"

// StringHash shards string keys.
func StringHash(s string) uint32 {
	return uint32(xxhash.Sum64String(s))
}
