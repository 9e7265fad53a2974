package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateSingleCaller(t *testing.T) {
	g := NewGate()

	res, err := g.Do(context.Background(), "k1", func() (interface{}, error) {
		return "value", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "value", res.Value)
	assert.False(t, res.Shared)
	assert.Equal(t, 0, g.InFlight())
}

func TestGateCollapsesConcurrentCalls(t *testing.T) {
	g := NewGate()

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return "shared", nil
	}

	leaderDone := make(chan Result, 1)
	go func() {
		res, _ := g.Do(context.Background(), "k1", fn)
		leaderDone <- res
	}()

	<-started

	const followers = 10
	var wg sync.WaitGroup
	results := make(chan Result, followers)
	for i := 0; i < followers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.Do(context.Background(), "k1", fn)
			assert.NoError(t, err)
			results <- res
		}()
	}

	// let followers park on the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for res := range results {
		assert.Equal(t, "shared", res.Value)
		assert.True(t, res.Shared)
	}
	leader := <-leaderDone
	assert.Equal(t, "shared", leader.Value)
	assert.False(t, leader.Shared)
}

func TestGateSharesLeaderError(t *testing.T) {
	g := NewGate()

	boom := errors.New("provider down")
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = g.Do(context.Background(), "k1", func() (interface{}, error) {
			close(started)
			<-release
			return nil, boom
		})
	}()

	<-started
	followerDone := make(chan Result, 1)
	go func() {
		res, err := g.Do(context.Background(), "k1", func() (interface{}, error) {
			t.Error("follower must not run the function")
			return nil, nil
		})
		assert.NoError(t, err)
		followerDone <- res
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	res := <-followerDone
	assert.Equal(t, boom, res.Err)
	assert.True(t, res.Shared)
}

func TestGateFollowerUnblocksOnCancel(t *testing.T) {
	g := NewGate()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = g.Do(context.Background(), "k1", func() (interface{}, error) {
			close(started)
			<-release
			return "late", nil
		})
	}()

	<-started
	ctx, cancel := context.WithCancel(context.Background())
	followerErr := make(chan error, 1)
	go func() {
		_, err := g.Do(ctx, "k1", func() (interface{}, error) { return nil, nil })
		followerErr <- err
	}()

	cancel()

	select {
	case err := <-followerErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("follower did not unblock on context cancellation")
	}
}

func TestGateEntryRemovedAfterCompletion(t *testing.T) {
	g := NewGate()

	var calls int32
	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	_, err := g.Do(context.Background(), "k1", fn)
	require.NoError(t, err)
	_, err = g.Do(context.Background(), "k1", fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, g.InFlight())
}

func TestGateIndependentKeys(t *testing.T) {
	g := NewGate()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = g.Do(context.Background(), "k1", func() (interface{}, error) {
			close(started)
			<-block
			return nil, nil
		})
	}()

	<-started

	done := make(chan struct{})
	go func() {
		_, _ = g.Do(context.Background(), "k2", func() (interface{}, error) { return nil, nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call for a different key was blocked")
	}
	close(block)
}
