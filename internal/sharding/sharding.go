package sharding

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// ShardFor maps a correlation id onto one of n consumer shards. Events for
// the same correlation id always land on the same shard, which serializes
// read-modify-write cycles on a single saga instance.
func ShardFor(correlationID uuid.UUID, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write(correlationID[:])
	return int(h.Sum32() % uint32(n))
}
