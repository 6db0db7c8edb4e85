package bridge

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simharness/internal/mcperr"
)

// fakePorts simulates host port occupancy.
type fakePorts struct {
	mu     sync.Mutex
	busy   map[int]bool
	killed []int
}

func newFakeAllocator(base, size int, busy ...int) (*PortAllocator, *fakePorts) {
	f := &fakePorts{busy: map[int]bool{}}
	for _, p := range busy {
		f.busy[p] = true
	}
	a := NewPortAllocator(base, size, nil)
	a.probe = func(port int) bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return !f.busy[port]
	}
	a.kill = func(_ context.Context, port int) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.killed = append(f.killed, port)
		delete(f.busy, port)
		return nil
	}
	return a, f
}

func TestAllocatePrefersBasePort(t *testing.T) {
	a, _ := newFakeAllocator(10882, 10)
	port, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10882, port)
	assert.True(t, a.InUse(10882))
}

func TestAllocateKillsStaleBaseListener(t *testing.T) {
	a, f := newFakeAllocator(10882, 10, 10882)
	port, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10882, port)
	assert.Equal(t, []int{10882}, f.killed)
}

func TestAllocateScansUpward(t *testing.T) {
	a, f := newFakeAllocator(10882, 10, 10882, 10883)
	// Pretend the base listener cannot be reclaimed.
	a.kill = func(context.Context, int) error { return nil }
	_ = f

	port, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10884, port)
}

func TestAllocateNeverDoubleAssigns(t *testing.T) {
	a, _ := newFakeAllocator(10882, 10)

	seen := map[int]bool{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := a.Allocate(context.Background())
			require.NoError(t, err)
			mu.Lock()
			assert.False(t, seen[port], "port %d assigned twice", port)
			seen[port] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 10)
}

func TestAllocateExhaustion(t *testing.T) {
	a, _ := newFakeAllocator(10882, 2)
	_, err := a.Allocate(context.Background())
	require.NoError(t, err)
	_, err = a.Allocate(context.Background())
	require.NoError(t, err)

	_, err = a.Allocate(context.Background())
	var me *mcperr.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, mcperr.ToolExecutionFailed, me.Code)
	assert.Equal(t, string(mcperr.FaultPortConflict), me.Data["fault"])
}

func TestReleaseMakesPortReusable(t *testing.T) {
	a, _ := newFakeAllocator(10882, 1)
	port, err := a.Allocate(context.Background())
	require.NoError(t, err)

	a.Release(port)
	again, err := a.Allocate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, port, again)
}
