package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallConfig() TunableConfig {
	return TunableConfig{
		InitialSize:  2,
		MinSize:      1,
		MaxSize:      8,
		GrowFactor:   2,
		ShrinkFactor: 0.5,
		SampleWindow: time.Second,
	}
}

func TestTunable_TrySendDropsWhenFull(t *testing.T) {
	q := NewTunable[int](smallConfig())

	assert.True(t, q.TrySend(1))
	assert.True(t, q.TrySend(2))
	assert.False(t, q.TrySend(3))

	stats := q.Stats()
	assert.Equal(t, int64(3), stats.Sends)
	assert.Equal(t, int64(1), stats.Drops)
	assert.Equal(t, 2, stats.Length)
	assert.InDelta(t, 1.0, stats.Utilization, 0.001)
}

func TestTunable_GrowPreservesOrder(t *testing.T) {
	q := NewTunable[int](smallConfig())
	_, resized := q.Chan()

	q.TrySend(1)
	q.TrySend(2)
	q.TrySend(3) // dropped

	// 窗口未结束不调整
	assert.Equal(t, 2, q.Tune(time.Now()))

	size := q.Tune(time.Now().Add(2 * time.Second))
	assert.Equal(t, 4, size)
	assert.Equal(t, 4, q.Cap())

	select {
	case <-resized:
	default:
		t.Fatal("resize notification not delivered")
	}

	require.True(t, q.TrySend(3))
	for want := 1; want <= 3; want++ {
		v, ok := q.TryReceive()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := q.TryReceive()
	assert.False(t, ok)
}

func TestTunable_GrowCappedAtMax(t *testing.T) {
	cfg := smallConfig()
	cfg.MaxSize = 3
	q := NewTunable[int](cfg)

	q.TrySend(1)
	q.TrySend(2)
	q.TrySend(3)
	assert.Equal(t, 3, q.Tune(time.Now().Add(2*time.Second)))
}

func TestTunable_ShrinkWhenIdle(t *testing.T) {
	cfg := smallConfig()
	cfg.InitialSize = 8
	q := NewTunable[int](cfg)

	now := time.Now()
	assert.Equal(t, 4, q.Tune(now.Add(2*time.Second)))
	assert.Equal(t, 2, q.Tune(now.Add(4*time.Second)))
	assert.Equal(t, 1, q.Tune(now.Add(6*time.Second)))
	assert.Equal(t, 1, q.Tune(now.Add(8*time.Second)))
}

func TestTunable_NeverShrinksBelowLength(t *testing.T) {
	cfg := smallConfig()
	cfg.InitialSize = 8
	q := NewTunable[int](cfg)
	q.TrySend(1)

	// 占用 1/8 触发缩容，但容量不会低于已排队数量
	assert.Equal(t, 4, q.Tune(time.Now().Add(2*time.Second)))
	assert.Equal(t, 1, q.Len())
}

func TestTunable_Close(t *testing.T) {
	q := NewTunable[string](smallConfig())
	require.True(t, q.TrySend("a"))
	q.Close()

	assert.False(t, q.TrySend("b"))
	v, ok := q.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestTunable_ConsumerFollowsResize(t *testing.T) {
	q := NewTunable[int](smallConfig())
	got := make(chan int, 16)
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			ch, resized := q.Chan()
			select {
			case v := <-ch:
				got <- v
			case <-resized:
			case <-stop:
				return
			}
		}
	}()

	q.Tune(time.Now().Add(2 * time.Second)) // shrink to 1
	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return q.TrySend(i) }, time.Second, time.Millisecond)
	}

	for want := 1; want <= 3; want++ {
		select {
		case v := <-got:
			assert.Equal(t, want, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("value %d not received", want)
		}
	}
	close(stop)
	<-done
}

func TestNormalizedConfig(t *testing.T) {
	cfg := TunableConfig{InitialSize: 10, MaxSize: 5, MinSize: 20}.normalized()
	assert.Equal(t, 10, cfg.MaxSize)
	assert.Equal(t, 10, cfg.MinSize)
	assert.Equal(t, 2.0, cfg.GrowFactor)
	assert.Equal(t, 0.5, cfg.ShrinkFactor)
	assert.Equal(t, 10*time.Second, cfg.SampleWindow)
}
