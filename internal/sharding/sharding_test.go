package sharding

import (
	"testing"

	"github.com/google/uuid"
)

func TestShardForIsStable(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	first := ShardFor(id, 8)
	for i := 0; i < 100; i++ {
		if got := ShardFor(id, 8); got != first {
			t.Fatalf("shard changed between calls: %d vs %d", first, got)
		}
	}
}

func TestShardForStaysInRange(t *testing.T) {
	t.Parallel()

	for i := 0; i < 1000; i++ {
		got := ShardFor(uuid.New(), 4)
		if got < 0 || got >= 4 {
			t.Fatalf("shard %d out of range", got)
		}
	}
}

func TestShardForSingleShard(t *testing.T) {
	t.Parallel()

	if got := ShardFor(uuid.New(), 1); got != 0 {
		t.Fatalf("expected shard 0, got %d", got)
	}
	if got := ShardFor(uuid.New(), 0); got != 0 {
		t.Fatalf("expected shard 0 for n=0, got %d", got)
	}
}
