package vkutil

import (
	"fmt"
	"image"
	"image/draw"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// CreateImage creates a 2D image with the given format, tiling and usage,
// allocates memory with the requested properties and binds it.
func CreateImage(
	device vk.Device,
	physicalDevice vk.PhysicalDevice,
	width, height uint32,
	format vk.Format,
	tiling vk.ImageTiling,
	usage vk.ImageUsageFlags,
	properties vk.MemoryPropertyFlags,
) (vk.Image, vk.DeviceMemory, error) {
	imageInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        tiling,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var img vk.Image
	res := vk.CreateImage(device, &imageInfo, nil, &img)
	if res != vk.Success {
		return nil, nil, fmt.Errorf("failed to create an image: %w", vk.Error(res))
	}

	var memRequirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, img, &memRequirements)
	memRequirements.Deref()

	memTypeIndex, err := FindMemoryType(
		physicalDevice,
		memRequirements.MemoryTypeBits,
		properties,
	)
	if err != nil {
		vk.DestroyImage(device, img, nil)
		return nil, nil, err
	}

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memTypeIndex,
	}

	var imageMemory vk.DeviceMemory
	res = vk.AllocateMemory(device, &allocInfo, nil, &imageMemory)
	if res != vk.Success {
		vk.DestroyImage(device, img, nil)
		return nil, nil, fmt.Errorf("failed to allocate image memory: %w", vk.Error(res))
	}

	res = vk.BindImageMemory(device, img, imageMemory, 0)
	if res != vk.Success {
		vk.DestroyImage(device, img, nil)
		vk.FreeMemory(device, imageMemory, nil)
		return nil, nil, fmt.Errorf("failed to bind image memory: %w", vk.Error(res))
	}

	return img, imageMemory, nil
}

// CreateImageView creates a 2D view over image covering its whole subresource
// range with identity swizzles.
func CreateImageView(
	device vk.Device,
	image vk.Image,
	format vk.Format,
	aspectFlags vk.ImageAspectFlags,
) (vk.ImageView, error) {
	createInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspectFlags,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	var imageView vk.ImageView
	res := vk.CreateImageView(device, &createInfo, nil, &imageView)
	if err := vk.Error(res); err != nil {
		return nil, fmt.Errorf("failed to create image view: %w", err)
	}

	return imageView, nil
}

// TransitionImageLayout moves image from oldLayout to newLayout with an image
// memory barrier in a one-time command buffer. Only the transitions which the
// texture upload path needs are supported.
func TransitionImageLayout(
	device vk.Device,
	pool vk.CommandPool,
	queue vk.Queue,
	image vk.Image,
	oldLayout vk.ImageLayout,
	newLayout vk.ImageLayout,
) error {
	var (
		srcAccess, dstAccess vk.AccessFlags
		sourceStage          vk.PipelineStageFlags
		destinationStage     vk.PipelineStageFlags
	)

	if oldLayout == vk.ImageLayoutUndefined &&
		newLayout == vk.ImageLayoutTransferDstOptimal {

		srcAccess = 0
		dstAccess = vk.AccessFlags(vk.AccessTransferWriteBit)

		sourceStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		destinationStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)

	} else if oldLayout == vk.ImageLayoutTransferDstOptimal &&
		newLayout == vk.ImageLayoutShaderReadOnlyOptimal {

		srcAccess = vk.AccessFlags(vk.AccessTransferWriteBit)
		dstAccess = vk.AccessFlags(vk.AccessShaderReadBit)

		sourceStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		destinationStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)

	} else {
		return fmt.Errorf("unsupported layout transition")
	}

	commandBuffer, err := BeginSingleTimeCommands(device, pool)
	if err != nil {
		return fmt.Errorf("failed to begin single time commands: %w", err)
	}

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcAccessMask:       srcAccess,
		DstAccessMask:       dstAccess,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	}

	vk.CmdPipelineBarrier(
		commandBuffer,
		sourceStage, destinationStage,
		0,
		0, nil,
		0, nil,
		1, []vk.ImageMemoryBarrier{barrier},
	)

	return EndSingleTimeCommands(device, pool, queue, commandBuffer)
}

// CopyBufferToImage copies the contents of buffer into image, which must be in
// the transfer destination layout.
func CopyBufferToImage(
	device vk.Device,
	pool vk.CommandPool,
	queue vk.Queue,
	buffer vk.Buffer,
	image vk.Image,
	width, height uint32,
) error {
	commandBuffer, err := BeginSingleTimeCommands(device, pool)
	if err != nil {
		return fmt.Errorf("failed to begin single time commands: %w", err)
	}

	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,

		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},

		ImageOffset: vk.Offset3D{
			X: 0, Y: 0, Z: 0,
		},

		ImageExtent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
	}

	vk.CmdCopyBufferToImage(
		commandBuffer,
		buffer,
		image,
		vk.ImageLayoutTransferDstOptimal,
		1,
		[]vk.BufferImageCopy{region},
	)

	return EndSingleTimeCommands(device, pool, queue, commandBuffer)
}

// Texture is a sampled image uploaded to device local memory together with its
// view.
type Texture struct {
	Image  vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
}

// NewTexture uploads img as an R8G8B8A8_SRGB sampled image. The pixel data
// travels through a host visible staging buffer, the image is transitioned to
// the transfer destination layout for the copy and to shader-read-only
// afterwards.
func NewTexture(
	device vk.Device,
	physicalDevice vk.PhysicalDevice,
	pool vk.CommandPool,
	queue vk.Queue,
	img image.Image,
) (*Texture, error) {
	imgBoundsSize := img.Bounds().Size()
	texWidth := uint32(imgBoundsSize.X)
	texHeight := uint32(imgBoundsSize.Y)

	imgSize := vk.DeviceSize(texWidth * texHeight * 4)

	stagingBuffer, stagingBufferMemory, err := CreateBuffer(
		device,
		physicalDevice,
		imgSize,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)|
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create texture staging buffer: %w", err)
	}

	defer func() {
		vk.DestroyBuffer(device, stagingBuffer, nil)
		vk.FreeMemory(device, stagingBufferMemory, nil)
	}()

	var pData unsafe.Pointer
	vk.MapMemory(device, stagingBufferMemory, 0, imgSize, 0, &pData)

	// convert the image to RGBA if it is not already
	b := img.Bounds()
	rgbaImg := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgbaImg, rgbaImg.Bounds(), img, b.Min, draw.Src)

	vk.Memcopy(pData, rgbaImg.Pix)
	vk.UnmapMemory(device, stagingBufferMemory)

	textureImage, textureImageMemory, err := CreateImage(
		device,
		physicalDevice,
		texWidth,
		texHeight,
		vk.FormatR8g8b8a8Srgb,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|
			vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create texture image: %w", err)
	}

	texture := &Texture{
		Image:  textureImage,
		Memory: textureImageMemory,
	}

	err = TransitionImageLayout(
		device, pool, queue,
		textureImage,
		vk.ImageLayoutUndefined,
		vk.ImageLayoutTransferDstOptimal,
	)
	if err != nil {
		texture.Destroy(device)
		return nil, fmt.Errorf("transition image layout: %w", err)
	}

	err = CopyBufferToImage(
		device, pool, queue,
		stagingBuffer, textureImage,
		texWidth, texHeight,
	)
	if err != nil {
		texture.Destroy(device)
		return nil, fmt.Errorf("copying buffer to image: %w", err)
	}

	err = TransitionImageLayout(
		device, pool, queue,
		textureImage,
		vk.ImageLayoutTransferDstOptimal,
		vk.ImageLayoutShaderReadOnlyOptimal,
	)
	if err != nil {
		texture.Destroy(device)
		return nil, fmt.Errorf("transitioning to read only optimal layout: %w", err)
	}

	view, err := CreateImageView(
		device,
		textureImage,
		vk.FormatR8g8b8a8Srgb,
		vk.ImageAspectFlags(vk.ImageAspectColorBit),
	)
	if err != nil {
		texture.Destroy(device)
		return nil, fmt.Errorf("failed to create texture image view: %w", err)
	}
	texture.View = view

	return texture, nil
}

// Destroy releases the texture's view, image and memory.
func (t *Texture) Destroy(device vk.Device) {
	if t.View != nil {
		vk.DestroyImageView(device, t.View, nil)
	}
	vk.DestroyImage(device, t.Image, nil)
	vk.FreeMemory(device, t.Memory, nil)
}

// FindSupportedFormat returns the first candidate format supporting the
// requested features with the given tiling.
func FindSupportedFormat(
	physicalDevice vk.PhysicalDevice,
	candidates []vk.Format,
	tiling vk.ImageTiling,
	features vk.FormatFeatureFlags,
) (vk.Format, error) {
	for _, format := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(physicalDevice, format, &props)
		props.Deref()

		if tiling == vk.ImageTilingLinear &&
			(props.LinearTilingFeatures&features) == features {
			return format, nil
		}

		if tiling == vk.ImageTilingOptimal &&
			(props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, fmt.Errorf("could not find suitable format")
}

// FindDepthFormat returns a format usable for a depth attachment.
func FindDepthFormat(physicalDevice vk.PhysicalDevice) (vk.Format, error) {
	return FindSupportedFormat(
		physicalDevice,
		[]vk.Format{
			vk.FormatD32Sfloat,
			vk.FormatD32SfloatS8Uint,
			vk.FormatD24UnormS8Uint,
		},
		vk.ImageTilingOptimal,
		vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit),
	)
}
