package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

type poolFixture struct {
	allocated int
	freed     int

	fencesCreated   int
	fencesDestroyed int

	poolDestroyed bool
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()

	f := &poolFixture{}

	origNewPool := newCommandPool
	origDestroyPool := destroyCommandPool
	origAllocate := allocateCommandBuffers
	origFree := freeCommandBuffers
	origNewFence := newFence
	origDestroyFence := destroyFence
	t.Cleanup(func() {
		newCommandPool = origNewPool
		destroyCommandPool = origDestroyPool
		allocateCommandBuffers = origAllocate
		freeCommandBuffers = origFree
		newFence = origNewFence
		destroyFence = origDestroyFence
	})

	newCommandPool = func(device vk.Device, queueFamily uint32) (vk.CommandPool, error) {
		return vk.NullCommandPool, nil
	}
	destroyCommandPool = func(vk.Device, vk.CommandPool, *vk.AllocationCallbacks) {
		f.poolDestroyed = true
	}

	allocateCommandBuffers = func(device vk.Device, pool vk.CommandPool, count int) ([]vk.CommandBuffer, error) {
		f.allocated += count
		buffers := make([]vk.CommandBuffer, count)
		for i := range buffers {
			buffers[i] = fakeCommandBuffer()
		}
		return buffers, nil
	}
	freeCommandBuffers = func(device vk.Device, pool vk.CommandPool, count uint32, buffers []vk.CommandBuffer) {
		f.freed += int(count)
	}

	newFence = func(device vk.Device, signaled bool) (vk.Fence, error) {
		require.True(t, signaled, "in flight fences must start signaled")
		f.fencesCreated++
		return fakeFence(), nil
	}
	destroyFence = func(vk.Device, vk.Fence, *vk.AllocationCallbacks) {
		f.fencesDestroyed++
	}

	return f
}

func TestEnsureSizeGrows(t *testing.T) {
	f := newPoolFixture(t)

	pool, err := NewPool(nil, 0)
	require.NoError(t, err)

	require.NoError(t, pool.EnsureSize(3))
	require.Equal(t, 3, pool.Len())
	require.Equal(t, 3, f.allocated)
	require.Equal(t, 3, f.fencesCreated)

	require.NoError(t, pool.EnsureSize(5))
	require.Equal(t, 5, pool.Len())
	require.Equal(t, 5, f.allocated)
}

func TestEnsureSizeShrinks(t *testing.T) {
	f := newPoolFixture(t)

	pool, err := NewPool(nil, 0)
	require.NoError(t, err)
	require.NoError(t, pool.EnsureSize(4))

	require.NoError(t, pool.EnsureSize(2))
	require.Equal(t, 2, pool.Len())
	require.Equal(t, 2, f.freed)
	require.Equal(t, 2, f.fencesDestroyed)
}

func TestEnsureSizeSameCountIsNoop(t *testing.T) {
	f := newPoolFixture(t)

	pool, err := NewPool(nil, 0)
	require.NoError(t, err)
	require.NoError(t, pool.EnsureSize(3))
	require.NoError(t, pool.EnsureSize(3))

	require.Equal(t, 3, f.allocated)
	require.Equal(t, 0, f.freed)
}

func TestSlotsKeepTheirResourcesAcrossGrowth(t *testing.T) {
	newPoolFixture(t)

	pool, err := NewPool(nil, 0)
	require.NoError(t, err)
	require.NoError(t, pool.EnsureSize(2))

	first := *pool.Slot(0)
	require.NoError(t, pool.EnsureSize(4))
	require.True(t, first.CommandBuffer == pool.Slot(0).CommandBuffer)
	require.True(t, first.InFlight == pool.Slot(0).InFlight)
}

func TestDestroyReleasesEverything(t *testing.T) {
	f := newPoolFixture(t)

	pool, err := NewPool(nil, 0)
	require.NoError(t, err)
	require.NoError(t, pool.EnsureSize(3))

	pool.Destroy()
	require.Equal(t, 0, pool.Len())
	require.Equal(t, 3, f.freed)
	require.Equal(t, 3, f.fencesDestroyed)
}
