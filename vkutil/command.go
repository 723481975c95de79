package vkutil

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// NewCommandPool creates a command pool on the given queue family. The pool is
// created for short-lived command buffers which may be individually reset and
// re-recorded every frame.
func NewCommandPool(device vk.Device, queueFamily uint32) (vk.CommandPool, error) {
	poolInfo := vk.CommandPoolCreateInfo{
		SType: vk.StructureTypeCommandPoolCreateInfo,
		Flags: vk.CommandPoolCreateFlags(
			vk.CommandPoolCreateResetCommandBufferBit |
				vk.CommandPoolCreateTransientBit,
		),
		QueueFamilyIndex: queueFamily,
	}

	var commandPool vk.CommandPool
	res := vk.CreateCommandPool(device, &poolInfo, nil, &commandPool)
	if res != vk.Success {
		return nil, fmt.Errorf("failed to create command pool: %w", vk.Error(res))
	}

	return commandPool, nil
}

// AllocateCommandBuffers allocates count primary command buffers from pool.
func AllocateCommandBuffers(
	device vk.Device,
	pool vk.CommandPool,
	count int,
) ([]vk.CommandBuffer, error) {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}

	commandBuffers := make([]vk.CommandBuffer, count)
	res := vk.AllocateCommandBuffers(device, &allocInfo, commandBuffers)
	if res != vk.Success {
		return nil, fmt.Errorf("failed to allocate command buffers: %w", vk.Error(res))
	}

	return commandBuffers, nil
}

// BeginSingleTimeCommands allocates a one-time-submit command buffer from pool
// and begins recording into it. Pair it with EndSingleTimeCommands.
func BeginSingleTimeCommands(
	device vk.Device,
	pool vk.CommandPool,
) (vk.CommandBuffer, error) {
	commandBuffers, err := AllocateCommandBuffers(device, pool, 1)
	if err != nil {
		return nil, err
	}
	commandBuffer := commandBuffers[0]

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	vk.BeginCommandBuffer(commandBuffer, &beginInfo)

	return commandBuffer, nil
}

// EndSingleTimeCommands finishes recording commandBuffer, submits it to queue
// and waits for the queue to drain before freeing the buffer back to pool.
func EndSingleTimeCommands(
	device vk.Device,
	pool vk.CommandPool,
	queue vk.Queue,
	commandBuffer vk.CommandBuffer,
) error {
	commandBuffers := []vk.CommandBuffer{commandBuffer}

	defer func() {
		vk.FreeCommandBuffers(device, pool, 1, commandBuffers)
	}()

	res := vk.EndCommandBuffer(commandBuffer)
	if res != vk.Success {
		return fmt.Errorf("failed to end command buffer: %w", vk.Error(res))
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    commandBuffers,
	}

	res = vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence)
	if res != vk.Success {
		return fmt.Errorf("failed to submit to queue: %w", vk.Error(res))
	}

	res = vk.QueueWaitIdle(queue)
	if res != vk.Success {
		return fmt.Errorf("failed to wait on queue idle: %w", vk.Error(res))
	}

	return nil
}

// BufferBarrier records a memory barrier over the whole of buffer, demoting it
// from one access/stage pair to another. The exercises use a pair of these
// around an in-command-buffer uniform update so that the transfer write never
// races the vertex shader reads within the same submission.
func BufferBarrier(
	commandBuffer vk.CommandBuffer,
	buffer vk.Buffer,
	srcAccess, dstAccess vk.AccessFlags,
	srcStage, dstStage vk.PipelineStageFlags,
) {
	barrier := vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Buffer:              buffer,
		Offset:              0,
		Size:                vk.DeviceSize(vk.WholeSize),
	}

	vk.CmdPipelineBarrier(
		commandBuffer,
		srcStage, dstStage,
		0,
		0, nil,
		1, []vk.BufferMemoryBarrier{barrier},
		0, nil,
	)
}
