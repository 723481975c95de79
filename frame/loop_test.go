package frame

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-exercises/swapchain"
	"vulkan-exercises/vkutil"
)

// requireHandles asserts got holds exactly the wanted handles in order.
// Vulkan handles are opaque cgo pointers that reflect based equality cannot
// walk, so they are compared with plain ==.
func requireHandles[H comparable](t *testing.T, want, got []H) {
	t.Helper()

	require.Len(t, got, len(want))
	for i := range want {
		require.True(t, want[i] == got[i], "handle %d differs", i)
	}
}

// Fake handles are pinned in a package-level slice so the backing bytes land
// on the heap and stay put: a stack-allocated byte would hand out an address
// that the runtime rewrites when the goroutine stack moves.
var fakeHandleArena []*byte

func fakeHandle() unsafe.Pointer {
	b := new(byte)
	fakeHandleArena = append(fakeHandleArena, b)
	return unsafe.Pointer(b)
}

func fakeSwapchainHandle() vk.Swapchain {
	return vk.Swapchain(fakeHandle())
}

func fakeCommandBuffer() vk.CommandBuffer {
	return vk.CommandBuffer(fakeHandle())
}

func fakeFence() vk.Fence {
	return vk.Fence(fakeHandle())
}

// loopFixture fakes the driver under a Loop and records every call in order
// so tests can assert the frame protocol, not just its end state.
type loopFixture struct {
	t *testing.T

	calls []string

	acquireResult vk.Result
	acquireIndex  uint32
	presentResult vk.Result

	recreateErr     error
	recreateChanges swapchain.Changes
	recreateImages  int

	submittedFence  vk.Fence
	waitedFences    []vk.Fence
	resetBuffers    []vk.CommandBuffer
	presentedChains []vk.Swapchain
	presentedIndex  uint32

	submitWaits   []vk.Semaphore
	submitSignals []vk.Semaphore
	presentWaits  []vk.Semaphore
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()

	f := &loopFixture{
		t:              t,
		acquireResult:  vk.Success,
		presentResult:  vk.Success,
		recreateImages: 3,
	}

	origWaitIdle := deviceWaitIdle
	origRecreate := recreateChain
	origAcquire := acquireNextImage
	origWaitFence := waitAndResetFence
	origResetBuffer := resetCommandBuffer
	origSubmit := queueSubmit
	origPresent := queuePresent
	origNewPool := newCommandPool
	origDestroyPool := destroyCommandPool
	origAllocate := allocateCommandBuffers
	origFree := freeCommandBuffers
	origNewFence := newFence
	origDestroyFence := destroyFence
	t.Cleanup(func() {
		deviceWaitIdle = origWaitIdle
		recreateChain = origRecreate
		acquireNextImage = origAcquire
		waitAndResetFence = origWaitFence
		resetCommandBuffer = origResetBuffer
		queueSubmit = origSubmit
		queuePresent = origPresent
		newCommandPool = origNewPool
		destroyCommandPool = origDestroyPool
		allocateCommandBuffers = origAllocate
		freeCommandBuffers = origFree
		newFence = origNewFence
		destroyFence = origDestroyFence
	})

	deviceWaitIdle = func(vk.Device) vk.Result {
		f.calls = append(f.calls, "wait-idle")
		return vk.Success
	}

	recreateChain = func(s *swapchain.State, cfg swapchain.Config) (swapchain.Changes, error) {
		f.calls = append(f.calls, "recreate")
		if f.recreateErr != nil {
			return swapchain.Changes{}, f.recreateErr
		}

		s.Chain = fakeSwapchainHandle()
		s.Images = make([]vk.Image, f.recreateImages)
		return f.recreateChanges, nil
	}

	acquireNextImage = func(
		device vk.Device, chain vk.Swapchain, timeout uint64,
		semaphore vk.Semaphore, fence vk.Fence, imageIndex *uint32,
	) vk.Result {
		f.calls = append(f.calls, "acquire")
		*imageIndex = f.acquireIndex
		return f.acquireResult
	}

	waitAndResetFence = func(device vk.Device, fence vk.Fence) error {
		f.calls = append(f.calls, "wait-fence")
		f.waitedFences = append(f.waitedFences, fence)
		return nil
	}

	resetCommandBuffer = func(buffer vk.CommandBuffer, flags vk.CommandBufferResetFlags) vk.Result {
		f.calls = append(f.calls, "reset-buffer")
		f.resetBuffers = append(f.resetBuffers, buffer)
		return vk.Success
	}

	queueSubmit = func(queue vk.Queue, count uint32, submits []vk.SubmitInfo, fence vk.Fence) vk.Result {
		f.calls = append(f.calls, "submit")
		f.submittedFence = fence
		f.submitWaits = submits[0].PWaitSemaphores
		f.submitSignals = submits[0].PSignalSemaphores
		return vk.Success
	}

	queuePresent = func(queue vk.Queue, presentInfo *vk.PresentInfo) vk.Result {
		f.calls = append(f.calls, "present")
		f.presentWaits = presentInfo.PWaitSemaphores
		f.presentedChains = presentInfo.PSwapchains
		f.presentedIndex = presentInfo.PImageIndices[0]
		return f.presentResult
	}

	newCommandPool = func(device vk.Device, queueFamily uint32) (vk.CommandPool, error) {
		return vk.NullCommandPool, nil
	}
	destroyCommandPool = func(vk.Device, vk.CommandPool, *vk.AllocationCallbacks) {}

	allocateCommandBuffers = func(device vk.Device, pool vk.CommandPool, count int) ([]vk.CommandBuffer, error) {
		buffers := make([]vk.CommandBuffer, count)
		for i := range buffers {
			buffers[i] = fakeCommandBuffer()
		}
		return buffers, nil
	}
	freeCommandBuffers = func(vk.Device, vk.CommandPool, uint32, []vk.CommandBuffer) {}

	newFence = func(device vk.Device, signaled bool) (vk.Fence, error) {
		require.True(t, signaled, "in flight fences must start signaled")
		return fakeFence(), nil
	}
	destroyFence = func(vk.Device, vk.Fence, *vk.AllocationCallbacks) {}

	return f
}

func (f *loopFixture) newLoop(imageCount int) *Loop {
	f.t.Helper()

	pool, err := NewPool(nil, 0)
	require.NoError(f.t, err)
	require.NoError(f.t, pool.EnsureSize(imageCount))

	chain := &swapchain.State{
		Chain:  fakeSwapchainHandle(),
		Images: make([]vk.Image, imageCount),
	}

	loop := &Loop{
		Chain: chain,
		Pool:  pool,
		Sync: SyncPair{
			ImageAvailable: vk.Semaphore(fakeHandle()),
			RenderFinished: vk.Semaphore(fakeHandle()),
		},
	}
	loop.Record = func(vk.CommandBuffer, int) error {
		f.calls = append(f.calls, "record")
		return nil
	}

	return loop
}

func TestTickRendersInProtocolOrder(t *testing.T) {
	f := newLoopFixture(t)
	f.acquireIndex = 1

	loop := f.newLoop(3)
	slot := *loop.Pool.Slot(1)
	chain := loop.Chain.Chain

	require.NoError(t, loop.Tick())
	require.Equal(t, PhaseDraw, loop.Phase())

	require.Equal(t,
		[]string{"acquire", "wait-fence", "reset-buffer", "record", "submit", "present"},
		f.calls,
	)

	requireHandles(t, []vk.Fence{slot.InFlight}, f.waitedFences)
	requireHandles(t, []vk.CommandBuffer{slot.CommandBuffer}, f.resetBuffers)
	require.True(t, f.submittedFence == slot.InFlight, "submit must signal the slot fence")

	requireHandles(t, []vk.Semaphore{loop.Sync.ImageAvailable}, f.submitWaits)
	requireHandles(t, []vk.Semaphore{loop.Sync.RenderFinished}, f.submitSignals)
	requireHandles(t, []vk.Semaphore{loop.Sync.RenderFinished}, f.presentWaits)
	requireHandles(t, []vk.Swapchain{chain}, f.presentedChains)
	require.Equal(t, uint32(1), f.presentedIndex)
}

func TestTickStaleAcquireSkipsFrame(t *testing.T) {
	f := newLoopFixture(t)
	f.acquireResult = vk.ErrorOutOfDate

	loop := f.newLoop(3)

	require.NoError(t, loop.Tick())
	require.Equal(t, PhaseRecreate, loop.Phase())
	require.Equal(t, []string{"acquire"}, f.calls)
}

func TestTickSuboptimalAcquireSkipsFrame(t *testing.T) {
	f := newLoopFixture(t)
	f.acquireResult = vk.Suboptimal

	loop := f.newLoop(3)

	require.NoError(t, loop.Tick())
	require.Equal(t, PhaseRecreate, loop.Phase())
	require.Equal(t, []string{"acquire"}, f.calls)
}

func TestTickStalePresentStillCompletesFrame(t *testing.T) {
	f := newLoopFixture(t)
	f.presentResult = vk.ErrorOutOfDate

	loop := f.newLoop(3)

	require.NoError(t, loop.Tick())
	require.Equal(t, PhaseRecreate, loop.Phase())
	require.Equal(t,
		[]string{"acquire", "wait-fence", "reset-buffer", "record", "submit", "present"},
		f.calls,
	)
}

func TestTickFatalAcquire(t *testing.T) {
	f := newLoopFixture(t)
	f.acquireResult = vk.ErrorDeviceLost

	loop := f.newLoop(3)

	err := loop.Tick()
	require.Error(t, err)

	var vkErr *vkutil.Error
	require.ErrorAs(t, err, &vkErr)
	require.Equal(t, vk.ErrorDeviceLost, vkErr.Code)
	require.Equal(t, "vkAcquireNextImageKHR", vkErr.Op)
	require.Equal(t, PhaseDraw, loop.Phase())
}

func TestTickFatalPresent(t *testing.T) {
	f := newLoopFixture(t)
	f.presentResult = vk.ErrorSurfaceLost

	loop := f.newLoop(3)

	err := loop.Tick()
	require.Error(t, err)

	var vkErr *vkutil.Error
	require.ErrorAs(t, err, &vkErr)
	require.Equal(t, "vkQueuePresentKHR", vkErr.Op)
}

func TestTickRecreatesBeforeNextDraw(t *testing.T) {
	f := newLoopFixture(t)
	f.recreateChanges = swapchain.Changes{Size: true}
	f.recreateImages = 4

	loop := f.newLoop(3)

	var rebuilt []swapchain.Changes
	loop.Rebuild = func(changes swapchain.Changes) error {
		f.calls = append(f.calls, "rebuild")
		rebuilt = append(rebuilt, changes)
		return nil
	}

	loop.Invalidate()
	require.Equal(t, PhaseRecreate, loop.Phase())

	require.NoError(t, loop.Tick())
	require.Equal(t, PhaseDraw, loop.Phase())
	require.Equal(t, []string{"wait-idle", "recreate", "rebuild"}, f.calls)
	require.Equal(t, []swapchain.Changes{{Size: true}}, rebuilt)
	require.Equal(t, 4, loop.Pool.Len())

	f.calls = nil
	require.NoError(t, loop.Tick())
	require.Equal(t,
		[]string{"acquire", "wait-fence", "reset-buffer", "record", "submit", "present"},
		f.calls,
	)
}

func TestTickRecreateFailureSurfaces(t *testing.T) {
	f := newLoopFixture(t)
	f.recreateErr = &vkutil.Error{Op: "vkCreateSwapchainKHR", Code: vk.ErrorDeviceLost}

	loop := f.newLoop(3)
	loop.Invalidate()

	err := loop.Tick()
	require.Error(t, err)

	var vkErr *vkutil.Error
	require.ErrorAs(t, err, &vkErr)
	require.Equal(t, vk.ErrorDeviceLost, vkErr.Code)
	require.Equal(t, PhaseRecreate, loop.Phase())
}
