// Package frame drives the per-frame rendering protocol: command buffer and
// fence ownership per swapchain image, and the acquire, record, submit,
// present cycle with swapchain staleness folded in.
package frame

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-exercises/vkutil"
)

// Slot holds the resources tied to one swapchain image: the command buffer
// that draws to it and the fence that tells us the previous submission
// against it has retired.
type Slot struct {
	CommandBuffer vk.CommandBuffer
	InFlight      vk.Fence
}

// Pool owns a command pool and one Slot per swapchain image. The slot count
// tracks the swapchain via EnsureSize, so a recreated chain with a different
// image count just resizes the pool.
type Pool struct {
	device vk.Device
	pool   vk.CommandPool
	slots  []Slot
}

// Seams for tests. Production code never touches these.
var (
	newCommandPool         = vkutil.NewCommandPool
	destroyCommandPool     = vk.DestroyCommandPool
	allocateCommandBuffers = vkutil.AllocateCommandBuffers
	freeCommandBuffers     = vk.FreeCommandBuffers
	newFence               = vkutil.NewFence
	destroyFence           = vk.DestroyFence
)

// NewPool creates an empty pool whose command buffers will submit to the
// given queue family. Call EnsureSize before using any slot.
func NewPool(device vk.Device, queueFamily uint32) (*Pool, error) {
	commandPool, err := newCommandPool(device, queueFamily)
	if err != nil {
		return nil, err
	}

	return &Pool{
		device: device,
		pool:   commandPool,
	}, nil
}

// EnsureSize grows or shrinks the pool to exactly count slots. New fences
// start signaled so the first wait on a fresh slot does not deadlock.
// Shrinking frees the surplus; the caller must make sure those slots are no
// longer in flight.
func (p *Pool) EnsureSize(count int) error {
	for len(p.slots) > count {
		last := len(p.slots) - 1
		p.releaseSlot(p.slots[last])
		p.slots = p.slots[:last]
	}

	if len(p.slots) == count {
		return nil
	}

	missing := count - len(p.slots)
	buffers, err := allocateCommandBuffers(p.device, p.pool, missing)
	if err != nil {
		return fmt.Errorf("failed to grow frame pool: %w", err)
	}

	for _, buffer := range buffers {
		fence, err := newFence(p.device, true)
		if err != nil {
			freeCommandBuffers(p.device, p.pool, 1, []vk.CommandBuffer{buffer})
			return fmt.Errorf("failed to grow frame pool: %w", err)
		}

		p.slots = append(p.slots, Slot{
			CommandBuffer: buffer,
			InFlight:      fence,
		})
	}

	return nil
}

// CommandPool exposes the underlying pool for one-off command buffers, such
// as staging transfers during setup.
func (p *Pool) CommandPool() vk.CommandPool {
	return p.pool
}

// Slot returns the resources for swapchain image i.
func (p *Pool) Slot(i int) *Slot {
	return &p.slots[i]
}

// Len reports the current slot count.
func (p *Pool) Len() int {
	return len(p.slots)
}

// Destroy releases every slot and the command pool. The device must be idle.
func (p *Pool) Destroy() {
	for _, slot := range p.slots {
		p.releaseSlot(slot)
	}
	p.slots = nil

	if p.pool != vk.NullCommandPool {
		destroyCommandPool(p.device, p.pool, nil)
		p.pool = vk.NullCommandPool
	}
}

func (p *Pool) releaseSlot(slot Slot) {
	destroyFence(p.device, slot.InFlight, nil)
	freeCommandBuffers(p.device, p.pool, 1, []vk.CommandBuffer{slot.CommandBuffer})
}
