package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
	"github.com/stretchr/testify/require"
)

func TestTopicPublishSubscribe(t *testing.T) {
	topic := NewTopic[int](0)

	var got []int
	unsubscribe, err := topic.Subscribe(func(v int) { got = append(got, v) })
	require.NoError(t, err)
	require.Equal(t, 1, topic.Len())

	topic.Publish(1)
	topic.Publish(2)
	require.Equal(t, []int{1, 2}, got)

	unsubscribe()
	unsubscribe()
	require.Equal(t, 0, topic.Len())

	topic.Publish(3)
	require.Equal(t, []int{1, 2}, got)
}

func TestTopicOrderAndBound(t *testing.T) {
	topic := NewTopic[string](2)

	var order []string
	_, err := topic.Subscribe(func(v string) { order = append(order, "a:"+v) })
	require.NoError(t, err)
	_, err = topic.Subscribe(func(v string) { order = append(order, "b:"+v) })
	require.NoError(t, err)

	_, err = topic.Subscribe(func(string) {})
	require.ErrorIs(t, err, errors.ErrTooManyListeners)

	topic.Publish("x")
	require.Equal(t, []string{"a:x", "b:x"}, order)

	topic.Close()
	require.Equal(t, 0, topic.Len())
}

func TestTopicRecoversPanickingSubscriber(t *testing.T) {
	topic := NewTopic[int](0)

	_, err := topic.Subscribe(func(int) { panic("boom") })
	require.NoError(t, err)

	delivered := false
	_, err = topic.Subscribe(func(int) { delivered = true })
	require.NoError(t, err)

	require.NotPanics(t, func() { topic.Publish(1) })
	require.True(t, delivered)
}

func TestTopicConcurrentUse(t *testing.T) {
	topic := NewTopic[int](128)

	var mu sync.Mutex
	total := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubscribe, err := topic.Subscribe(func(v int) {
				mu.Lock()
				total += v
				mu.Unlock()
			})
			require.NoError(t, err)
			topic.Publish(1)
			unsubscribe()
		}()
	}
	wg.Wait()
	require.Equal(t, 0, topic.Len())
	require.Positive(t, total)
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	require.Equal(t, start, clock.Now())

	clock.Advance(time.Second)
	require.Equal(t, start.Add(time.Second), clock.Now())

	clock.Set(start)
	require.Equal(t, start, Clock(clock.Now).OrSystem()())

	var nilClock Clock
	require.WithinDuration(t, time.Now(), nilClock.OrSystem()(), time.Second)
}
