package service_test

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadhash/dht/internal/idkey"
	"github.com/kadhash/dht/internal/rpcmsg"
	"github.com/kadhash/dht/internal/service"
	"github.com/kadhash/dht/internal/storage"
	"github.com/kadhash/dht/internal/validate"
)

func newTestNode(t *testing.T, sw *memSwitch, seed string, port uint32, cfg func(*service.Config)) *service.Node {
	t.Helper()
	tr := sw.register("127.0.0.1:" + strconv.FormatUint(uint64(port), 10))
	c := service.Config{
		Self:      idkey.FromSeed([]byte(seed)),
		Address:   "127.0.0.1",
		Port:      port,
		Transport: tr,
		Storage:   storage.NewMemStore(),
	}
	if cfg != nil {
		cfg(&c)
	}
	node, err := service.New(c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func TestPutGetRoundTripAcrossTwoNodes(t *testing.T) {
	sw := newMemSwitch()
	a := newTestNode(t, sw, "node-a", 9101, nil)
	b := newTestNode(t, sw, "node-b", 9102, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, b.Join(ctx, a.Self()))
	require.NoError(t, a.Put(ctx, []byte("key1"), "hello"))

	value, err := b.Get(ctx, []byte("key1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	value, err = a.Get(ctx, []byte("key1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", value)
}

func TestGetNotFoundWhenNoPeerHoldsKey(t *testing.T) {
	sw := newMemSwitch()
	a := newTestNode(t, sw, "node-a", 9103, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.Get(ctx, []byte("missing-key"))
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestPutRejectedByLocalValidator(t *testing.T) {
	sw := newMemSwitch()
	reject := validate.Func(func(ctx context.Context, key idkey.ID, value string) (bool, error) {
		return false, nil
	})
	a := newTestNode(t, sw, "node-a", 9104, func(c *service.Config) { c.Validator = reject })

	err := a.Put(context.Background(), []byte("key"), "value")
	assert.ErrorIs(t, err, service.ErrValueRejected)
}

func TestRemoteStoreRejectedByPeerValidator(t *testing.T) {
	sw := newMemSwitch()
	reject := validate.Func(func(ctx context.Context, key idkey.ID, value string) (bool, error) {
		return false, nil
	})
	a := newTestNode(t, sw, "node-a", 9105, nil)
	b := newTestNode(t, sw, "node-b", 9106, func(c *service.Config) { c.Validator = reject })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Join(ctx, a.Self()))

	err := a.Put(ctx, []byte("key"), "value")
	assert.Error(t, err)
}

func TestPutWithNoKnownPeersStoresLocally(t *testing.T) {
	sw := newMemSwitch()
	a := newTestNode(t, sw, "node-a", 9107, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, a.Put(ctx, []byte("key"), "value"))
	value, err := a.Get(ctx, []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

// findNodeRecordingTransport wraps a memTransport and records the target key
// of every outbound FIND_NODE request, so a test can tell exactly which
// bucket a lookup was searching for.
type findNodeRecordingTransport struct {
	inner rpcmsg.Transport

	mu      sync.Mutex
	targets []idkey.ID
}

func (r *findNodeRecordingTransport) Send(ctx context.Context, addr string, msg rpcmsg.Message) error {
	if msg.Method == rpcmsg.MethodFindNode {
		var p rpcmsg.FindNodeParams
		if err := json.Unmarshal(msg.Params, &p); err == nil {
			if id, err := idkey.FromHex(p.Key); err == nil {
				r.mu.Lock()
				r.targets = append(r.targets, id)
				r.mu.Unlock()
			}
		}
	}
	return r.inner.Send(ctx, addr, msg)
}

func (r *findNodeRecordingTransport) Events() <-chan rpcmsg.Message { return r.inner.Events() }
func (r *findNodeRecordingTransport) Close() error                  { return r.inner.Close() }

func (r *findNodeRecordingTransport) snapshot() []idkey.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]idkey.ID, len(r.targets))
	copy(out, r.targets)
	return out
}

// refreshedBuckets reduces a list of FIND_NODE targets down to the set of
// bucket indices (relative to self) they fall into, dropping the one target
// with no bucket index: self's own ID, which only the self-lookup queries.
func refreshedBuckets(self idkey.ID, targets []idkey.ID) map[int]bool {
	out := make(map[int]bool)
	for _, target := range targets {
		if idx, ok := idkey.BucketIndex(self, target); ok {
			out[idx] = true
		}
	}
	return out
}

// TestJoinRefreshesBucketsFartherThanClosestNeighborOnly builds a 3-node
// topology where the joining node's self-lookup discovers two contacts at
// very different bucket indices, then asserts that Join's bucket-refresh
// queries the farther one's bucket and leaves the closer one's alone --
// the two-node topology used by the other Join tests in this file can't
// distinguish this from refreshing the wrong side, since with only one
// discovered contact the closest and farthest neighbor are the same bucket.
func TestJoinRefreshesBucketsFartherThanClosestNeighborOnly(t *testing.T) {
	sw := newMemSwitch()

	joinerID := idkey.FromSeed([]byte("joiner"))
	bootID := idkey.RandomInBucket(joinerID, 80)
	midID := idkey.RandomInBucket(joinerID, 150)

	boot, err := service.New(service.Config{
		Self:      bootID,
		Address:   "127.0.0.1",
		Port:      9201,
		Transport: sw.register("127.0.0.1:9201"),
		Storage:   storage.NewMemStore(),
		K:         2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = boot.Close() })

	mid, err := service.New(service.Config{
		Self:      midID,
		Address:   "127.0.0.1",
		Port:      9202,
		Transport: sw.register("127.0.0.1:9202"),
		Storage:   storage.NewMemStore(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mid.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// boot knows only mid. Handling the joiner's FIND_NODE adds the joiner to
	// boot's table first, so with K=2 boot's response during the self-lookup
	// is exactly {joiner, mid}; the joiner skips itself and learns mid.
	require.NoError(t, boot.RoutingTable().Update(ctx, mid.Self()))

	rec := &findNodeRecordingTransport{inner: sw.register("127.0.0.1:9203")}
	joiner, err := service.New(service.Config{
		Self:      joinerID,
		Address:   "127.0.0.1",
		Port:      9203,
		Transport: rec,
		Storage:   storage.NewMemStore(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = joiner.Close() })

	require.NoError(t, joiner.Join(ctx, boot.Self()))
	require.Equal(t, 2, joiner.RoutingTable().Size(), "self-lookup should have discovered both boot and mid")

	bootIdx, ok := idkey.BucketIndex(joinerID, bootID)
	require.True(t, ok)
	midIdx, ok := idkey.BucketIndex(joinerID, midID)
	require.True(t, ok)
	require.Less(t, bootIdx, midIdx, "test fixture requires boot to be farther from the joiner than mid")

	refreshed := refreshedBuckets(joinerID, rec.snapshot())
	assert.True(t, refreshed[bootIdx], "bucket farther than the closest discovered neighbor must be refreshed")
	assert.False(t, refreshed[midIdx], "bucket of the closest discovered neighbor itself must not be refreshed")
}
