package vkutil

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// CreateBuffer creates a buffer of the given size and usage, allocates memory
// with the requested properties for it and binds the two together.
func CreateBuffer(
	device vk.Device,
	physicalDevice vk.PhysicalDevice,
	size vk.DeviceSize,
	usage vk.BufferUsageFlags,
	properties vk.MemoryPropertyFlags,
) (vk.Buffer, vk.DeviceMemory, error) {
	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var buffer vk.Buffer
	res := vk.CreateBuffer(device, &bufferInfo, nil, &buffer)
	if res != vk.Success {
		return nil, nil, fmt.Errorf("failed to create buffer: %w", vk.Error(res))
	}

	var memRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, buffer, &memRequirements)
	memRequirements.Deref()

	memTypeIndex, err := FindMemoryType(
		physicalDevice,
		memRequirements.MemoryTypeBits,
		properties,
	)
	if err != nil {
		vk.DestroyBuffer(device, buffer, nil)
		return nil, nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memTypeIndex,
	}

	var bufferMemory vk.DeviceMemory
	res = vk.AllocateMemory(device, &allocInfo, nil, &bufferMemory)
	if res != vk.Success {
		vk.DestroyBuffer(device, buffer, nil)
		return nil, nil, fmt.Errorf("failed to allocate buffer memory: %w", vk.Error(res))
	}

	res = vk.BindBufferMemory(device, buffer, bufferMemory, 0)
	if res != vk.Success {
		vk.DestroyBuffer(device, buffer, nil)
		vk.FreeMemory(device, bufferMemory, nil)
		return nil, nil, fmt.Errorf("failed to bind buffer memory: %w", vk.Error(res))
	}

	return buffer, bufferMemory, nil
}

// FindMemoryType returns the index of a device memory type matching typeFilter
// which has all of the requested property flags.
func FindMemoryType(
	physicalDevice vk.PhysicalDevice,
	typeFilter uint32,
	properties vk.MemoryPropertyFlags,
) (uint32, error) {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(physicalDevice, &memProperties)
	memProperties.Deref()

	for i := uint32(0); i < memProperties.MemoryTypeCount; i++ {
		memType := memProperties.MemoryTypes[i]
		memType.Deref()

		if typeFilter&(1<<i) == 0 {
			continue
		}

		if memType.PropertyFlags&properties != properties {
			continue
		}

		return i, nil
	}

	return 0, fmt.Errorf("failed to find suitable memory type")
}

// CopyBuffer copies size bytes from srcBuffer to dstBuffer through a one-time
// command buffer submitted to queue.
func CopyBuffer(
	device vk.Device,
	pool vk.CommandPool,
	queue vk.Queue,
	srcBuffer vk.Buffer,
	dstBuffer vk.Buffer,
	size vk.DeviceSize,
) error {
	commandBuffer, err := BeginSingleTimeCommands(device, pool)
	if err != nil {
		return fmt.Errorf("failed to begin single time commands: %w", err)
	}

	copyRegion := vk.BufferCopy{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      size,
	}

	vk.CmdCopyBuffer(commandBuffer, srcBuffer, dstBuffer, 1, []vk.BufferCopy{copyRegion})

	return EndSingleTimeCommands(device, pool, queue, commandBuffer)
}

// NewDeviceLocalBuffer creates a device local buffer with the given usage and
// fills it with data through a host visible staging buffer.
func NewDeviceLocalBuffer(
	device vk.Device,
	physicalDevice vk.PhysicalDevice,
	pool vk.CommandPool,
	queue vk.Queue,
	usage vk.BufferUsageFlags,
	data []byte,
) (vk.Buffer, vk.DeviceMemory, error) {
	bufferSize := vk.DeviceSize(len(data))

	stagingBuffer, stagingBufferMemory, err := CreateBuffer(
		device,
		physicalDevice,
		bufferSize,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating the staging buffer: %w", err)
	}

	defer func() {
		vk.DestroyBuffer(device, stagingBuffer, nil)
		vk.FreeMemory(device, stagingBufferMemory, nil)
	}()

	var pData unsafe.Pointer
	vk.MapMemory(device, stagingBufferMemory, 0, bufferSize, 0, &pData)
	vk.Memcopy(pData, data)
	vk.UnmapMemory(device, stagingBufferMemory)

	buffer, bufferMemory, err := CreateBuffer(
		device,
		physicalDevice,
		bufferSize,
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)|usage,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating the device local buffer: %w", err)
	}

	if err := CopyBuffer(device, pool, queue, stagingBuffer, buffer, bufferSize); err != nil {
		vk.DestroyBuffer(device, buffer, nil)
		vk.FreeMemory(device, bufferMemory, nil)
		return nil, nil, fmt.Errorf("failed to copy staging buffer: %w", err)
	}

	return buffer, bufferMemory, nil
}
