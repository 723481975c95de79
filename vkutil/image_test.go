package vkutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestTransitionImageLayoutRejectsUnknownTransitions(t *testing.T) {
	// The transition is validated before any command buffer is begun, so
	// nil handles never reach the driver.
	err := TransitionImageLayout(
		nil, vk.NullCommandPool, nil, nil,
		vk.ImageLayoutShaderReadOnlyOptimal,
		vk.ImageLayoutTransferDstOptimal,
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported layout transition")
}
