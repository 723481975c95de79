package swapchain

import (
	"cmp"
	"fmt"
	"math"

	vk "github.com/vulkan-go/vulkan"
)

// undefinedExtent is the sentinel with which a surface reports that it has no
// fixed extent and the swapchain dictates the size instead.
const undefinedExtent = math.MaxUint32

// Support is a snapshot of what a surface can do on a particular physical
// device: its capabilities, pixel formats and presentation modes. All
// selection logic operates on this snapshot so it can be exercised without a
// device.
type Support struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

// QuerySupport populates a Support snapshot for surface on device.
func QuerySupport(device vk.PhysicalDevice, surface vk.Surface) (Support, error) {
	support := Support{}

	var capabilities vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(device, surface, &capabilities)
	if err := vk.Error(res); err != nil {
		return support, fmt.Errorf("failed to query surface capabilities: %w", err)
	}
	capabilities.Deref()
	capabilities.CurrentExtent.Deref()
	capabilities.MinImageExtent.Deref()
	capabilities.MaxImageExtent.Deref()

	support.Capabilities = capabilities

	var formatCount uint32
	res = vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, nil)
	if err := vk.Error(res); err != nil {
		return support, fmt.Errorf("failed to query surface formats: %w", err)
	}

	if formatCount != 0 {
		formats := make([]vk.SurfaceFormat, formatCount)
		vk.GetPhysicalDeviceSurfaceFormats(device, surface, &formatCount, formats)
		for _, format := range formats {
			format.Deref()
			support.Formats = append(support.Formats, format)
		}
	}

	var presentModeCount uint32
	res = vk.GetPhysicalDeviceSurfacePresentModes(device, surface, &presentModeCount, nil)
	if err := vk.Error(res); err != nil {
		return support, fmt.Errorf("failed to query surface present modes: %w", err)
	}

	if presentModeCount != 0 {
		presentModes := make([]vk.PresentMode, presentModeCount)
		vk.GetPhysicalDeviceSurfacePresentModes(
			device, surface, &presentModeCount, presentModes,
		)
		support.PresentModes = presentModes
	}

	return support, nil
}

// SurfaceFormat picks an 8-bit SRGB format in RGBA or BGRA byte order with the
// SRGB nonlinear color space. If the surface offers neither, the first
// reported format is used. At least one format must have been reported.
func (s *Support) SurfaceFormat() vk.SurfaceFormat {
	for _, format := range s.Formats {
		if format.ColorSpace != vk.ColorSpaceSrgbNonlinear {
			continue
		}

		if format.Format == vk.FormatR8g8b8a8Srgb ||
			format.Format == vk.FormatB8g8r8a8Srgb {
			return format
		}
	}

	return s.Formats[0]
}

// PresentMode picks relaxed FIFO when the surface has it, so that a late frame
// may tear instead of waiting a whole refresh. Strict FIFO is the fallback as
// it is the one mode every surface must support.
func (s *Support) PresentMode() vk.PresentMode {
	for _, mode := range s.PresentModes {
		if mode == vk.PresentModeFifoRelaxed {
			return mode
		}
	}

	return vk.PresentModeFifo
}

// ImageCount asks for at least double buffering, raised to minImageCount+1
// when the surface requires more, and capped by maxImageCount unless the
// surface reports no cap (zero).
func (s *Support) ImageCount() uint32 {
	imageCount := uint32(2)

	if imageCount < s.Capabilities.MinImageCount+1 {
		imageCount = s.Capabilities.MinImageCount + 1
	}

	if s.Capabilities.MaxImageCount > 0 && imageCount > s.Capabilities.MaxImageCount {
		imageCount = s.Capabilities.MaxImageCount
	}

	return imageCount
}

// Extent resolves the swapchain extent. The surface-reported current extent is
// used verbatim unless it is the undefined sentinel, in which case the
// drawable size of the output target is clamped to the surface's extent range.
func (s *Support) Extent(drawableWidth, drawableHeight int) vk.Extent2D {
	if s.Capabilities.CurrentExtent.Width != undefinedExtent {
		return s.Capabilities.CurrentExtent
	}

	actualExtent := vk.Extent2D{
		Width:  uint32(drawableWidth),
		Height: uint32(drawableHeight),
	}

	actualExtent.Width = clamp(
		actualExtent.Width,
		s.Capabilities.MinImageExtent.Width,
		s.Capabilities.MaxImageExtent.Width,
	)

	actualExtent.Height = clamp(
		actualExtent.Height,
		s.Capabilities.MinImageExtent.Height,
		s.Capabilities.MaxImageExtent.Height,
	)

	return actualExtent
}

func clamp[T cmp.Ordered](val, min, max T) T {
	if val < min {
		val = min
	}
	if val > max {
		val = max
	}
	return val
}
