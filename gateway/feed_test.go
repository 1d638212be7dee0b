package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanmahe/chords-demo/errors"
	"github.com/Amanmahe/chords-demo/metric"
)

func payload(s string) Event {
	return PayloadEvent("test", []byte(s), time.Now())
}

func TestFeed_PreservesOrder(t *testing.T) {
	f := NewFeed(10, nil)
	require.True(t, f.Publish(StatusEvent("test", StatusConnecting, nil)))
	require.True(t, f.Publish(StatusEvent("test", StatusConnected, nil)))
	require.True(t, f.Publish(payload("1")))
	require.True(t, f.Publish(payload("2")))

	ctx := context.Background()
	var got []string
	for i := 0; i < 4; i++ {
		ev, err := f.Next(ctx)
		require.NoError(t, err)
		if ev.Kind == EventStatus {
			got = append(got, ev.Status.String())
		} else {
			got = append(got, string(ev.Payload.Data))
		}
	}
	assert.Equal(t, []string{"connecting", "connected", "1", "2"}, got)
	assert.Equal(t, 0, f.Pending())
}

func TestFeed_DropsPayloadsPastLimitButNotStatus(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	f := NewFeed(2, reg)

	assert.True(t, f.Publish(payload("a")))
	assert.True(t, f.Publish(payload("b")))
	assert.False(t, f.Publish(payload("c")))
	assert.True(t, f.Publish(StatusEvent("test", StatusDisconnected, nil)))

	assert.Equal(t, int64(1), f.Dropped())
	assert.Equal(t, int64(3), f.Published())
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.CoreMetrics().FeedOverflows))

	// draining frees room again
	_, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, f.Publish(payload("d")))
}

func TestFeed_NextBlocksUntilPublish(t *testing.T) {
	f := NewFeed(0, nil)
	done := make(chan Event)
	go func() {
		ev, _ := f.Next(context.Background())
		done <- ev
	}()

	select {
	case <-done:
		t.Fatal("Next returned before publish")
	case <-time.After(20 * time.Millisecond):
	}

	f.Publish(payload("x"))
	select {
	case ev := <-done:
		assert.Equal(t, "x", string(ev.Payload.Data))
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestFeed_NextHonorsContext(t *testing.T) {
	f := NewFeed(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeed_CloseDrainsThenStops(t *testing.T) {
	f := NewFeed(0, nil)
	f.Publish(payload("last"))
	f.Close()

	assert.False(t, f.Publish(payload("late")))

	ev, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "last", string(ev.Payload.Data))

	_, err = f.Next(context.Background())
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestFeed_ConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const producers, each = 4, 2000
	f := NewFeed(producers*each, nil)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				f.Publish(PayloadEvent(fmt.Sprint(p), []byte(fmt.Sprint(i)), time.Time{}))
			}
		}(p)
	}

	last := map[string]int{}
	ctx := context.Background()
	for n := 0; n < producers*each; n++ {
		ev, err := f.Next(ctx)
		require.NoError(t, err)
		var i int
		_, _ = fmt.Sscan(string(ev.Payload.Data), &i)
		if prev, ok := last[ev.Source]; ok {
			require.Greater(t, i, prev)
		}
		last[ev.Source] = i
	}
	wg.Wait()
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "Status(7)", Status(7).String())
}

func TestPublisherFunc(t *testing.T) {
	var got []Event
	var p Publisher = PublisherFunc(func(ev Event) bool { got = append(got, ev); return true })
	assert.True(t, p.Publish(payload("x")))
	assert.Len(t, got, 1)
}
