package vkutil

import (
	"fmt"
	"math"

	vk "github.com/vulkan-go/vulkan"
)

// NewSemaphore creates a binary semaphore on device.
func NewSemaphore(device vk.Device) (vk.Semaphore, error) {
	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var semaphore vk.Semaphore
	res := vk.CreateSemaphore(device, &semaphoreInfo, nil, &semaphore)
	if res != vk.Success {
		return nil, fmt.Errorf("failed to create semaphore: %w", vk.Error(res))
	}

	return semaphore, nil
}

// NewFence creates a fence on device. A signaled fence starts out in the
// signaled state so that the first wait on it does not block.
func NewFence(device vk.Device, signaled bool) (vk.Fence, error) {
	fenceInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	res := vk.CreateFence(device, &fenceInfo, nil, &fence)
	if res != vk.Success {
		return nil, fmt.Errorf("failed to create fence: %w", vk.Error(res))
	}

	return fence, nil
}

// WaitAndResetFence blocks until fence becomes signaled and resets it back to
// the unsignaled state. The wait is unbounded, mirroring the exercises which
// never time out on the GPU.
func WaitAndResetFence(device vk.Device, fence vk.Fence) error {
	fences := []vk.Fence{fence}

	res := vk.WaitForFences(device, 1, fences, vk.True, math.MaxUint64)
	if err := Check("vkWaitForFences", res); err != nil {
		return err
	}

	res = vk.ResetFences(device, 1, fences)
	return Check("vkResetFences", res)
}
