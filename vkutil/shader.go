package vkutil

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-exercises/unsafer"
)

// NewShaderModule creates a shader module from SPIR-V bytecode.
func NewShaderModule(device vk.Device, code []byte) (vk.ShaderModule, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    unsafer.SliceBytesToUint32(code),
	}

	var shaderModule vk.ShaderModule
	res := vk.CreateShaderModule(device, &createInfo, nil, &shaderModule)
	if res != vk.Success {
		return nil, fmt.Errorf("failed to create shader module: %w", vk.Error(res))
	}

	return shaderModule, nil
}
