package workflow

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/Saahi30/OJT-INVENTORY-MANGEMENT/utils"
	"github.com/google/uuid"
)

// LockTable provides per-SKU mutual exclusion with bounded memory. SKU ids
// hash onto a fixed number of shards, so the table never grows with SKU
// cardinality. Two SKUs on the same shard serialize against each other; with
// the default 256 shards that false sharing is negligible for the write rates
// this service sees.
type LockTable struct {
	shards []chan struct{}
}

func NewLockTable(shardCount int) *LockTable {
	if shardCount <= 0 {
		shardCount = 256
	}
	t := &LockTable{shards: make([]chan struct{}, shardCount)}
	for i := range t.shards {
		t.shards[i] = make(chan struct{}, 1)
	}
	return t
}

func (t *LockTable) shard(skuId uuid.UUID) chan struct{} {
	h := fnv.New32a()
	h.Write(skuId[:])
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// Acquire obtains the shard lock for skuId, waiting at most timeout. It never
// blocks indefinitely: expiry of the timeout or cancellation of ctx yields
// utils.ErrorLockTimeout / ctx.Err(). The returned release func must be
// called on every exit path.
func (t *LockTable) Acquire(ctx context.Context, skuId uuid.UUID, timeout time.Duration) (release func(), err error) {
	ch := t.shard(skuId)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, utils.ErrorLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
