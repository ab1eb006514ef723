package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_StopHaltsAndWaits(t *testing.T) {
	stream := make(chan int)
	var halted atomic.Int32

	sub := StartSubscription("q", "q", func() error {
		halted.Add(1)
		close(stream)
		return nil
	}, func(ctx context.Context) {
		for range stream {
		}
	})

	require.NoError(t, sub.Stop(context.Background()))
	require.NoError(t, sub.Stop(context.Background()))
	assert.Equal(t, int32(1), halted.Load())

	select {
	case <-sub.Done():
	default:
		t.Fatal("loop should have exited")
	}
}

func TestSubscription_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// A loop that ignores its context.
	sub := StartSubscription("q", "q", nil, func(ctx context.Context) {
		<-release
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sub.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscription_HaltError(t *testing.T) {
	haltErr := errors.New("cancel failed")
	sub := StartSubscription("q", "tag", func() error { return haltErr }, func(ctx context.Context) {
		<-ctx.Done()
	})
	assert.Equal(t, "q", sub.Queue())
	assert.Equal(t, "tag", sub.Consumer())
	assert.ErrorIs(t, sub.Stop(context.Background()), haltErr)
}

func TestSubscriptionSet(t *testing.T) {
	var set SubscriptionSet

	assert.Equal(t, "test_queue", set.NextTag("test_queue"))
	assert.Equal(t, "test_queue-2", set.NextTag("test_queue"))
	assert.Equal(t, "other", set.NextTag("other"))

	for i := 0; i < 3; i++ {
		set.Add(StartSubscription("q", "q", nil, func(ctx context.Context) { <-ctx.Done() }))
	}
	finished := StartSubscription("q", "q", nil, func(ctx context.Context) {})
	<-finished.Done()
	set.Add(finished)

	assert.Len(t, set.Active(), 3)
	require.NoError(t, set.StopAll(context.Background()))
	assert.Empty(t, set.Active())
}

func TestWithDefaultTimeout(t *testing.T) {
	ctx, cancel := WithDefaultTimeout(context.Background(), time.Minute)
	defer cancel()
	dl, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), dl, 5*time.Second)

	parent, pcancel := context.WithTimeout(context.Background(), time.Hour)
	defer pcancel()
	ctx2, cancel2 := WithDefaultTimeout(parent, time.Second)
	defer cancel2()
	dl2, _ := ctx2.Deadline()
	pdl, _ := parent.Deadline()
	assert.Equal(t, pdl, dl2, "an existing deadline wins")
}

func TestRunWithContext(t *testing.T) {
	boom := errors.New("boom")
	assert.ErrorIs(t, RunWithContext(context.Background(), func() error { return boom }), boom)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	block := make(chan struct{})
	defer close(block)
	err := RunWithContext(ctx, func() error { <-block; return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
