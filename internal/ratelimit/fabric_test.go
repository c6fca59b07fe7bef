package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yooprep/internal/utils"
)

func testFabric(caps map[string]int, budget time.Duration) *Fabric {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(caps, budget, log)
}

func TestAcquireRelease(t *testing.T) {
	f := testFabric(map[string]int{ProviderLLM: 2}, 50*time.Millisecond)

	r1, err := f.Acquire(context.Background(), ProviderLLM)
	require.NoError(t, err)
	r2, err := f.Acquire(context.Background(), ProviderLLM)
	require.NoError(t, err)

	// cap reached: third acquire times out with capacity-exhausted
	_, err = f.Acquire(context.Background(), ProviderLLM)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeCapacityExhausted))

	// freeing one slot lets a new acquire through
	r1()
	r3, err := f.Acquire(context.Background(), ProviderLLM)
	require.NoError(t, err)

	r2()
	r3()
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := testFabric(map[string]int{ProviderStreaming: 1}, 50*time.Millisecond)

	release, err := f.Acquire(context.Background(), ProviderStreaming)
	require.NoError(t, err)

	release()
	release()
	release()

	usage := f.Usage()[ProviderStreaming]
	assert.Equal(t, 0, usage.Active)

	// the slot is free exactly once, not negative
	r2, err := f.Acquire(context.Background(), ProviderStreaming)
	require.NoError(t, err)
	r2()
}

func TestCapNeverExceeded(t *testing.T) {
	const capacity = 5
	f := testFabric(map[string]int{ProviderBatchTranscription: capacity}, time.Second)

	var active atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := f.Acquire(context.Background(), ProviderBatchTranscription)
			if err != nil {
				return
			}
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(capacity))
}

func TestUnknownProvider(t *testing.T) {
	f := testFabric(map[string]int{ProviderLLM: 1}, 50*time.Millisecond)

	_, err := f.Acquire(context.Background(), "nope")
	require.Error(t, err)
	assert.False(t, f.Available("nope"))
}

func TestAcquireHonorsContext(t *testing.T) {
	f := testFabric(map[string]int{ProviderLLM: 1}, time.Minute)

	release, err := f.Acquire(context.Background(), ProviderLLM)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = f.Acquire(ctx, ProviderLLM)
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeCapacityExhausted))
}

func TestUsageCounters(t *testing.T) {
	f := testFabric(map[string]int{ProviderSynthesis: 2}, 50*time.Millisecond)

	release, err := f.Acquire(context.Background(), ProviderSynthesis)
	require.NoError(t, err)

	usage := f.Usage()[ProviderSynthesis]
	assert.Equal(t, 2, usage.Capacity)
	assert.Equal(t, 1, usage.Active)
	assert.Equal(t, 1, usage.Available)
	assert.Equal(t, int64(1), usage.TotalRequests)

	release()
	usage = f.Usage()[ProviderSynthesis]
	assert.Equal(t, 0, usage.Active)
	assert.Equal(t, 2, usage.Available)
}
