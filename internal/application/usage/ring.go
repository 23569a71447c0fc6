package usage

import (
	"fmt"
	"hash/crc32"
	"sort"
)

// hashRing maps counter keys to shard indexes. Each shard owns replicas
// virtual points so keys spread evenly; the mapping is fixed for the life of
// the limiter, which is what keeps every write for a key on one shard.
type hashRing struct {
	points []uint32
	owners map[uint32]int
}

func newHashRing(shards, replicas int) *hashRing {
	if replicas <= 0 {
		replicas = 100
	}
	r := &hashRing{owners: make(map[uint32]int, shards*replicas)}
	for s := 0; s < shards; s++ {
		for i := 0; i < replicas; i++ {
			h := crc32.ChecksumIEEE([]byte(fmt.Sprintf("shard-%d-%d", s, i)))
			if _, taken := r.owners[h]; taken {
				continue
			}
			r.owners[h] = s
			r.points = append(r.points, h)
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
	return r
}

// shardFor returns the shard owning key
func (r *hashRing) shardFor(key string) int {
	if len(r.points) == 0 {
		return 0
	}
	h := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) {
		idx = 0
	}
	return r.owners[r.points[idx]]
}
