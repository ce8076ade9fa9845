package threadpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronoflux/tsengine/errs"
)

func TestPool_PostRunsAndWaits(t *testing.T) {
	p := New(Common, 2, 16)
	defer p.Stop()

	var ran atomic.Bool
	h := p.Post(func(ctx context.Context) error {
		ran.Store(true)

		return nil
	})

	require.NoError(t, h.Wait())
	assert.True(t, ran.Load())
}

func TestPool_PostAfterStopReturnsAlreadyStopped(t *testing.T) {
	p := New(Common, 1, 4)
	p.Stop()

	h := p.Post(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, h.Wait(), errs.ErrAlreadyStopped)
}

func TestPool_PanicRecoveredAsError(t *testing.T) {
	p := New(Common, 1, 4)
	defer p.Stop()

	h := p.Post(func(ctx context.Context) error {
		panic("boom")
	})

	err := h.Wait()
	assert.Error(t, err)
}

func TestPool_MustRunOnDebug(t *testing.T) {
	Debug = true
	defer func() { Debug = false }()

	p := New(DiskIO, 1, 4)
	defer p.Stop()

	h := p.Post(func(ctx context.Context) error {
		assert.NotPanics(t, func() { MustRunOn(ctx, DiskIO) })

		return nil
	})
	require.NoError(t, h.Wait())
}

func TestManager_StopDrainsAllPools(t *testing.T) {
	m := NewManager()

	var n atomic.Int32
	for i := 0; i < 5; i++ {
		m.Pool(Common).Post(func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			n.Add(1)

			return nil
		})
	}

	m.Stop()
	assert.Equal(t, int32(5), n.Load())
}
