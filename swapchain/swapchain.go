// Package swapchain owns the presentable images of a window surface and keeps
// them in sync with the surface as it resizes or changes format.
package swapchain

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"

	"vulkan-exercises/vkutil"
)

// Config carries everything needed to (re)create a swapchain for a surface.
// DrawableSize reports the framebuffer size of the output window in pixels and
// is consulted only when the surface does not dictate an extent itself.
type Config struct {
	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device
	Surface        vk.Surface

	GraphicsFamily uint32
	PresentFamily  uint32

	DrawableSize func() (int, int)
}

// State is a live swapchain together with the objects derived from it. Images
// belong to the chain and die with it. Views are created by this package and
// are destroyed by this package, one per image.
type State struct {
	Chain  vk.Swapchain
	Format vk.Format
	Extent vk.Extent2D
	Images []vk.Image
	Views  []vk.ImageView
}

// Changes reports what differs between a swapchain and its replacement, so a
// caller knows which downstream objects it has to rebuild.
type Changes struct {
	Format bool
	Size   bool
}

// Seams for tests. Production code never touches these.
var (
	querySupport     = QuerySupport
	createSwapchain  = vk.CreateSwapchain
	destroySwapchain = vk.DestroySwapchain
	swapchainImages  = getSwapchainImages
	createImageView  = vkutil.CreateImageView
	destroyImageView = vk.DestroyImageView
)

// Create builds a swapchain for cfg.Surface. A previous chain may be passed as
// old, in which case the driver can recycle its images; the old chain is not
// destroyed and remains the caller's to clean up.
func Create(cfg Config, old vk.Swapchain) (*State, error) {
	support, err := querySupport(cfg.PhysicalDevice, cfg.Surface)
	if err != nil {
		return nil, fmt.Errorf("failed to query swapchain support: %w", err)
	}

	surfaceFormat := support.SurfaceFormat()
	presentMode := support.PresentMode()
	extent := support.Extent(cfg.DrawableSize())
	imageCount := support.ImageCount()

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          cfg.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     old,
	}

	if cfg.GraphicsFamily != cfg.PresentFamily {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			cfg.GraphicsFamily,
			cfg.PresentFamily,
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var chain vk.Swapchain
	res := createSwapchain(cfg.Device, &createInfo, nil, &chain)
	if err := vkutil.Check("vkCreateSwapchainKHR", res); err != nil {
		return nil, err
	}

	state := &State{
		Chain:  chain,
		Format: surfaceFormat.Format,
		Extent: extent,
	}

	if err := state.refreshImages(cfg.Device); err != nil {
		state.Destroy(cfg.Device)
		return nil, err
	}

	return state, nil
}

// Recreate replaces the live chain with a fresh one matched to the surface's
// current state, handing the old chain to the driver as a recycling hint. On
// failure the previous chain and its views are left untouched and remain
// usable. On success it reports what changed relative to the old chain.
func (s *State) Recreate(cfg Config) (Changes, error) {
	fresh, err := Create(cfg, s.Chain)
	if err != nil {
		return Changes{}, err
	}

	changes := Changes{
		Format: fresh.Format != s.Format,
		Size: fresh.Extent.Width != s.Extent.Width ||
			fresh.Extent.Height != s.Extent.Height,
	}

	s.Destroy(cfg.Device)
	*s = *fresh

	return changes, nil
}

// Destroy tears down the views and then the chain itself. The images are owned
// by the chain and go with it. Destroy is safe to call on an already
// destroyed State.
func (s *State) Destroy(device vk.Device) {
	for _, view := range s.Views {
		destroyImageView(device, view, nil)
	}
	s.Views = nil
	s.Images = nil

	if s.Chain != vk.NullSwapchain {
		destroySwapchain(device, s.Chain, nil)
		s.Chain = vk.NullSwapchain
	}
}

func (s *State) refreshImages(device vk.Device) error {
	images, err := swapchainImages(device, s.Chain)
	if err != nil {
		return err
	}
	s.Images = images

	s.Views = make([]vk.ImageView, 0, len(s.Images))
	for _, image := range s.Images {
		view, err := createImageView(
			device, image, s.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit),
		)
		if err != nil {
			return fmt.Errorf("failed to create swapchain image view: %w", err)
		}
		s.Views = append(s.Views, view)
	}

	return nil
}

func getSwapchainImages(device vk.Device, chain vk.Swapchain) ([]vk.Image, error) {
	var imageCount uint32
	res := vk.GetSwapchainImages(device, chain, &imageCount, nil)
	if err := vkutil.Check("vkGetSwapchainImagesKHR", res); err != nil {
		return nil, err
	}

	images := make([]vk.Image, imageCount)
	res = vk.GetSwapchainImages(device, chain, &imageCount, images)
	if err := vkutil.Check("vkGetSwapchainImagesKHR", res); err != nil {
		return nil, err
	}

	return images, nil
}
