package frame

import (
	"fmt"
	"math"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-exercises/swapchain"
	"vulkan-exercises/vkutil"
)

// Phase is where the loop is in its lifecycle. The phase decides what the
// next Tick does before it touches the swapchain.
type Phase int

const (
	// PhaseDraw means the swapchain is believed current and the next Tick
	// renders a frame.
	PhaseDraw Phase = iota

	// PhaseRecreate means the swapchain is known stale and the next Tick
	// rebuilds it instead of rendering.
	PhaseRecreate
)

// SyncPair is the semaphore pair threading one frame through the GPU: the
// presentation engine signals ImageAvailable once the acquired image may be
// written, and rendering signals RenderFinished for the presentation engine
// to wait on.
type SyncPair struct {
	ImageAvailable vk.Semaphore
	RenderFinished vk.Semaphore
}

// NewSyncPair creates both semaphores, cleaning up on partial failure.
func NewSyncPair(device vk.Device) (SyncPair, error) {
	imageAvailable, err := vkutil.NewSemaphore(device)
	if err != nil {
		return SyncPair{}, fmt.Errorf("failed to create image available semaphore: %w", err)
	}

	renderFinished, err := vkutil.NewSemaphore(device)
	if err != nil {
		vk.DestroySemaphore(device, imageAvailable, nil)
		return SyncPair{}, fmt.Errorf("failed to create render finished semaphore: %w", err)
	}

	return SyncPair{
		ImageAvailable: imageAvailable,
		RenderFinished: renderFinished,
	}, nil
}

// Destroy releases both semaphores. The device must be idle.
func (s *SyncPair) Destroy(device vk.Device) {
	vk.DestroySemaphore(device, s.ImageAvailable, nil)
	vk.DestroySemaphore(device, s.RenderFinished, nil)
	s.ImageAvailable = vk.NullSemaphore
	s.RenderFinished = vk.NullSemaphore
}

// Loop runs the per-frame protocol against one swapchain. Record fills a
// command buffer for the given image index each frame. Rebuild is invoked
// after the swapchain has been recreated, with what changed, so the caller
// can rebuild whatever downstream objects depend on the chain.
type Loop struct {
	Device        vk.Device
	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	Chain       *swapchain.State
	ChainConfig swapchain.Config
	Pool        *Pool
	Sync        SyncPair

	Record  func(commandBuffer vk.CommandBuffer, imageIndex int) error
	Rebuild func(changes swapchain.Changes) error

	phase Phase
}

// Seams for tests. Production code never touches these.
var (
	deviceWaitIdle     = vk.DeviceWaitIdle
	recreateChain      = (*swapchain.State).Recreate
	acquireNextImage   = vk.AcquireNextImage
	waitAndResetFence  = vkutil.WaitAndResetFence
	resetCommandBuffer = vk.ResetCommandBuffer
	queueSubmit        = vk.QueueSubmit
	queuePresent       = vk.QueuePresent
)

// Phase reports where the loop currently is.
func (l *Loop) Phase() Phase {
	return l.phase
}

// Invalidate marks the swapchain stale so the next Tick recreates it. Callers
// use it for signals the protocol cannot see, such as a window resize event.
func (l *Loop) Invalidate() {
	l.phase = PhaseRecreate
}

// Tick advances the loop by one step. In PhaseRecreate it rebuilds the
// swapchain and returns without rendering. In PhaseDraw it acquires an image,
// records and submits the frame, and presents it. A swapchain that turns out
// stale along the way flips the loop back to PhaseRecreate and is not an
// error; anything else the driver rejects is.
func (l *Loop) Tick() error {
	if l.phase == PhaseRecreate {
		return l.recreate()
	}

	var imageIndex uint32
	res := acquireNextImage(
		l.Device, l.Chain.Chain, math.MaxUint64,
		l.Sync.ImageAvailable, vk.NullFence, &imageIndex,
	)
	if stale, err := classify("vkAcquireNextImageKHR", res); err != nil {
		return err
	} else if stale {
		l.phase = PhaseRecreate
		return nil
	}

	slot := l.Pool.Slot(int(imageIndex))
	if err := waitAndResetFence(l.Device, slot.InFlight); err != nil {
		return err
	}

	res = resetCommandBuffer(slot.CommandBuffer, 0)
	if err := vkutil.Check("vkResetCommandBuffer", res); err != nil {
		return err
	}

	if err := l.Record(slot.CommandBuffer, int(imageIndex)); err != nil {
		return fmt.Errorf("failed to record frame commands: %w", err)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{l.Sync.ImageAvailable},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{slot.CommandBuffer},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{l.Sync.RenderFinished},
	}

	res = queueSubmit(l.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, slot.InFlight)
	if err := vkutil.Check("vkQueueSubmit", res); err != nil {
		return err
	}

	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{l.Sync.RenderFinished},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{l.Chain.Chain},
		PImageIndices:      []uint32{imageIndex},
	}

	// The frame is already on its way to the GPU at this point. A stale
	// present only means the next frame needs a fresh chain.
	res = queuePresent(l.PresentQueue, &presentInfo)
	if stale, err := classify("vkQueuePresentKHR", res); err != nil {
		return err
	} else if stale {
		l.phase = PhaseRecreate
	}

	return nil
}

func (l *Loop) recreate() error {
	res := deviceWaitIdle(l.Device)
	if err := vkutil.Check("vkDeviceWaitIdle", res); err != nil {
		return err
	}

	changes, err := recreateChain(l.Chain, l.ChainConfig)
	if err != nil {
		return fmt.Errorf("failed to recreate swapchain: %w", err)
	}

	if err := l.Pool.EnsureSize(len(l.Chain.Images)); err != nil {
		return err
	}

	if l.Rebuild != nil {
		if err := l.Rebuild(changes); err != nil {
			return fmt.Errorf("failed to rebuild swapchain dependents: %w", err)
		}
	}

	l.phase = PhaseDraw
	return nil
}

// classify sorts a swapchain operation result three ways: fine, stale or
// fatal. Suboptimal counts as stale because the chain still works but no
// longer matches the surface.
func classify(op string, res vk.Result) (stale bool, err error) {
	switch res {
	case vk.Success:
		return false, nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return true, nil
	default:
		return false, &vkutil.Error{Op: op, Code: res}
	}
}
