package main

import (
	"flag"
	"fmt"
	"image/png"
	"log"
	"math"
	"runtime"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/linmath"

	"vulkan-exercises/code/02_textured_quad/shaders"
	"vulkan-exercises/frame"
	"vulkan-exercises/models"
	"vulkan-exercises/swapchain"
	"vulkan-exercises/textures"
	"vulkan-exercises/unsafer"
	"vulkan-exercises/vkutil"
	"vulkan-exercises/vkwin"
)

func init() {
	// GLFW events are processed on the main thread.
	runtime.LockOSThread()
}

const (
	title  = "Vulkan Exercise: Textured Plane"
	width  = 1280
	height = 720
)

var args struct {
	debug bool
}

func main() {
	flag.BoolVar(&args.debug, "debug", false, "Enable Vulkan validation layers")
	flag.Parse()

	app := &TexturedQuadApp{}
	if err := app.Run(); err != nil {
		log.Fatalf("Error: %s", err)
	}
}

// SceneUniform is the per-frame camera matrix as the vertex shader sees it.
type SceneUniform struct {
	camera linmath.Mat4x4
}

// TexturedQuadApp renders a checkerboard plane seen from a slowly orbiting
// camera. The camera matrix lives in a device local uniform buffer which is
// refreshed inside the frame's own command buffer.
type TexturedQuadApp struct {
	win *vkwin.Window

	chain *swapchain.State

	renderPass          vk.RenderPass
	descriptorSetLayout vk.DescriptorSetLayout
	pipelineLayout      vk.PipelineLayout
	graphicsPipeline    vk.Pipeline
	framebuffers        []vk.Framebuffer

	mesh         *models.Mesh
	vertexBuffer vk.Buffer
	vertexMemory vk.DeviceMemory
	indexBuffer  vk.Buffer
	indexMemory  vk.DeviceMemory

	uniformBuffer vk.Buffer
	uniformMemory vk.DeviceMemory

	texture        *vkutil.Texture
	textureSampler vk.Sampler

	descriptorPool vk.DescriptorPool
	descriptorSet  vk.DescriptorSet

	pool *frame.Pool
	sync frame.SyncPair
	loop *frame.Loop

	startTime time.Time
}

// Run runs the main loop of the app. All resources are released when it
// returns, error or not.
func (a *TexturedQuadApp) Run() error {
	win, err := vkwin.New(vkwin.Config{
		Title:  title,
		Width:  width,
		Height: height,
		Debug:  args.debug,
	})
	if err != nil {
		return err
	}
	a.win = win
	defer a.cleanup()

	if err := a.initRender(); err != nil {
		return err
	}

	a.startTime = time.Now()
	return a.mainLoop()
}

func (a *TexturedQuadApp) initRender() error {
	chain, err := swapchain.Create(a.win.SwapchainConfig(), vk.NullSwapchain)
	if err != nil {
		return fmt.Errorf("createSwapchain: %w", err)
	}
	a.chain = chain

	if err := a.createRenderPass(); err != nil {
		return fmt.Errorf("createRenderPass: %w", err)
	}

	if err := a.createDescriptorSetLayout(); err != nil {
		return fmt.Errorf("createDescriptorSetLayout: %w", err)
	}

	if err := a.createGraphicsPipeline(); err != nil {
		return fmt.Errorf("createGraphicsPipeline: %w", err)
	}

	if err := a.createFramebuffers(); err != nil {
		return fmt.Errorf("createFramebuffers: %w", err)
	}

	pool, err := frame.NewPool(a.win.Device, a.win.Families.Graphics.Get())
	if err != nil {
		return fmt.Errorf("createCommandPool: %w", err)
	}
	a.pool = pool

	if err := a.pool.EnsureSize(len(a.chain.Images)); err != nil {
		return fmt.Errorf("createCommandBuffers: %w", err)
	}

	if err := a.createMeshBuffers(); err != nil {
		return fmt.Errorf("createMeshBuffers: %w", err)
	}

	if err := a.createUniformBuffer(); err != nil {
		return fmt.Errorf("createUniformBuffer: %w", err)
	}

	if err := a.createTexture(); err != nil {
		return fmt.Errorf("createTexture: %w", err)
	}

	if err := a.createDescriptorSet(); err != nil {
		return fmt.Errorf("createDescriptorSet: %w", err)
	}

	sync, err := frame.NewSyncPair(a.win.Device)
	if err != nil {
		return fmt.Errorf("createSyncObjects: %w", err)
	}
	a.sync = sync

	a.loop = &frame.Loop{
		Device:        a.win.Device,
		GraphicsQueue: a.win.GraphicsQueue,
		PresentQueue:  a.win.PresentQueue,
		Chain:         a.chain,
		ChainConfig:   a.win.SwapchainConfig(),
		Pool:          a.pool,
		Sync:          a.sync,
		Record:        a.recordCommands,
		Rebuild:       a.rebuild,
	}

	return nil
}

func (a *TexturedQuadApp) mainLoop() error {
	for !a.win.Handle.ShouldClose() {
		glfw.PollEvents()

		if a.win.ConsumeResize() {
			a.loop.Invalidate()
		}

		if a.loop.Phase() == frame.PhaseRecreate {
			a.win.WaitWhileMinimized()
		}

		if err := a.loop.Tick(); err != nil {
			return fmt.Errorf("drawing frame: %w", err)
		}
	}

	res := vk.DeviceWaitIdle(a.win.Device)
	return vkutil.Check("vkDeviceWaitIdle", res)
}

func (a *TexturedQuadApp) rebuild(changes swapchain.Changes) error {
	a.destroyFramebuffers()

	if changes.Format {
		vk.DestroyRenderPass(a.win.Device, a.renderPass, nil)
		if err := a.createRenderPass(); err != nil {
			return fmt.Errorf("createRenderPass: %w", err)
		}
	}

	if changes.Format || changes.Size {
		vk.DestroyPipeline(a.win.Device, a.graphicsPipeline, nil)
		vk.DestroyPipelineLayout(a.win.Device, a.pipelineLayout, nil)
		if err := a.createGraphicsPipeline(); err != nil {
			return fmt.Errorf("createGraphicsPipeline: %w", err)
		}
	}

	if err := a.createFramebuffers(); err != nil {
		return fmt.Errorf("createFramebuffers: %w", err)
	}

	return nil
}

func (a *TexturedQuadApp) createRenderPass() error {
	colorAttachment := vk.AttachmentDescription{
		Format:         a.chain.Format,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}

	colorAttachmentRef := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments:    []vk.AttachmentReference{colorAttachmentRef},
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}

	renderPassInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vk.AttachmentDescription{colorAttachment},
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var renderPass vk.RenderPass
	res := vk.CreateRenderPass(a.win.Device, &renderPassInfo, nil, &renderPass)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to create render pass: %w", err)
	}
	a.renderPass = renderPass

	return nil
}

func (a *TexturedQuadApp) createDescriptorSetLayout() error {
	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	var descriptorSetLayout vk.DescriptorSetLayout
	res := vk.CreateDescriptorSetLayout(a.win.Device, &layoutInfo, nil, &descriptorSetLayout)
	if res != vk.Success {
		return fmt.Errorf("creating descriptor set layout: %w", vk.Error(res))
	}
	a.descriptorSetLayout = descriptorSetLayout

	return nil
}

func vertexBindingDescription() vk.VertexInputBindingDescription {
	return vk.VertexInputBindingDescription{
		Binding:   0,
		Stride:    uint32(unsafe.Sizeof(models.Vertex{})),
		InputRate: vk.VertexInputRateVertex,
	}
}

func vertexAttributeDescriptions() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(models.Vertex{}.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   uint32(unsafe.Offsetof(models.Vertex{}.TexCoord)),
		},
	}
}

func (a *TexturedQuadApp) createGraphicsPipeline() error {
	vertShaderCode, err := shaders.FS.ReadFile("vert.spv")
	if err != nil {
		return fmt.Errorf("failed to read vertex shader bytecode: %w", err)
	}

	fragShaderCode, err := shaders.FS.ReadFile("frag.spv")
	if err != nil {
		return fmt.Errorf("failed to read fragment shader bytecode: %w", err)
	}

	vertexShaderModule, err := vkutil.NewShaderModule(a.win.Device, vertShaderCode)
	if err != nil {
		return fmt.Errorf("creating vertex shader module: %w", err)
	}
	defer vk.DestroyShaderModule(a.win.Device, vertexShaderModule, nil)

	fragmentShaderModule, err := vkutil.NewShaderModule(a.win.Device, fragShaderCode)
	if err != nil {
		return fmt.Errorf("creating fragment shader module: %w", err)
	}
	defer vk.DestroyShaderModule(a.win.Device, fragmentShaderModule, nil)

	shaderStages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vertexShaderModule,
			PName:  "main\x00",
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: fragmentShaderModule,
			PName:  "main\x00",
		},
	}

	bindingDescription := vertexBindingDescription()
	attributeDescriptions := vertexAttributeDescriptions()

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,

		VertexBindingDescriptionCount:   1,
		PVertexBindingDescriptions:      []vk.VertexInputBindingDescription{bindingDescription},
		VertexAttributeDescriptionCount: uint32(len(attributeDescriptions)),
		PVertexAttributeDescriptions:    attributeDescriptions,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	viewport := vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(a.chain.Extent.Width),
		Height:   float32(a.chain.Extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}

	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: a.chain.Extent,
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
		PViewports:    []vk.Viewport{viewport},
		PScissors:     []vk.Rect2D{scissor},
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	colorBlendAttachment := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit |
				vk.ColorComponentGBit |
				vk.ColorComponentBBit |
				vk.ColorComponentABit,
		),
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorZero,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorZero,
		AlphaBlendOp:        vk.BlendOpAdd,
	}

	colorBlending := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments: []vk.PipelineColorBlendAttachmentState{
			colorBlendAttachment,
		},
	}

	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{a.descriptorSetLayout},
	}

	var pipelineLayout vk.PipelineLayout
	res := vk.CreatePipelineLayout(a.win.Device, &pipelineLayoutInfo, nil, &pipelineLayout)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to create pipeline layout: %w", err)
	}
	a.pipelineLayout = pipelineLayout

	pipelineInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(shaderStages)),
		PStages:             shaderStages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  nil,
		PColorBlendState:    &colorBlending,
		Layout:              a.pipelineLayout,
		RenderPass:          a.renderPass,
		Subpass:             0,
		BasePipelineHandle:  vk.Pipeline(vk.NullHandle),
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res = vk.CreateGraphicsPipelines(
		a.win.Device,
		vk.PipelineCache(vk.NullHandle),
		1,
		[]vk.GraphicsPipelineCreateInfo{pipelineInfo},
		nil,
		pipelines,
	)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to create graphics pipeline: %w", err)
	}
	a.graphicsPipeline = pipelines[0]

	return nil
}

func (a *TexturedQuadApp) createFramebuffers() error {
	a.framebuffers = make([]vk.Framebuffer, len(a.chain.Views))

	for i, view := range a.chain.Views {
		frameBufferInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      a.renderPass,
			AttachmentCount: 1,
			PAttachments:    []vk.ImageView{view},
			Width:           a.chain.Extent.Width,
			Height:          a.chain.Extent.Height,
			Layers:          1,
		}

		var frameBuffer vk.Framebuffer
		res := vk.CreateFramebuffer(a.win.Device, &frameBufferInfo, nil, &frameBuffer)
		if err := vk.Error(res); err != nil {
			return fmt.Errorf("failed to create frame buffer %d: %w", i, err)
		}

		a.framebuffers[i] = frameBuffer
	}

	return nil
}

func (a *TexturedQuadApp) destroyFramebuffers() {
	for _, frameBuffer := range a.framebuffers {
		vk.DestroyFramebuffer(a.win.Device, frameBuffer, nil)
	}
	a.framebuffers = nil
}

func (a *TexturedQuadApp) createMeshBuffers() error {
	mesh, err := models.Load("plane.obj")
	if err != nil {
		return err
	}
	a.mesh = mesh

	vertexBuffer, vertexMemory, err := vkutil.NewDeviceLocalBuffer(
		a.win.Device, a.win.PhysicalDevice,
		a.pool.CommandPool(), a.win.GraphicsQueue,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
		unsafer.SliceToBytes(mesh.Vertices),
	)
	if err != nil {
		return fmt.Errorf("creating vertex buffer: %w", err)
	}
	a.vertexBuffer = vertexBuffer
	a.vertexMemory = vertexMemory

	indexBuffer, indexMemory, err := vkutil.NewDeviceLocalBuffer(
		a.win.Device, a.win.PhysicalDevice,
		a.pool.CommandPool(), a.win.GraphicsQueue,
		vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit),
		unsafer.SliceToBytes(mesh.Indices),
	)
	if err != nil {
		return fmt.Errorf("creating index buffer: %w", err)
	}
	a.indexBuffer = indexBuffer
	a.indexMemory = indexMemory

	return nil
}

func (a *TexturedQuadApp) createUniformBuffer() error {
	buffer, memory, err := vkutil.CreateBuffer(
		a.win.Device, a.win.PhysicalDevice,
		vk.DeviceSize(unsafe.Sizeof(SceneUniform{})),
		vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit|vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	)
	if err != nil {
		return fmt.Errorf("creating uniform buffer: %w", err)
	}

	a.uniformBuffer = buffer
	a.uniformMemory = memory
	return nil
}

func (a *TexturedQuadApp) createTexture() error {
	fh, err := textures.FS.Open("checkerboard.png")
	if err != nil {
		return fmt.Errorf("opening texture: %w", err)
	}
	defer fh.Close()

	img, err := png.Decode(fh)
	if err != nil {
		return fmt.Errorf("decoding texture: %w", err)
	}

	texture, err := vkutil.NewTexture(
		a.win.Device, a.win.PhysicalDevice,
		a.pool.CommandPool(), a.win.GraphicsQueue,
		img,
	)
	if err != nil {
		return fmt.Errorf("uploading texture: %w", err)
	}
	a.texture = texture

	var properties vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(a.win.PhysicalDevice, &properties)
	properties.Deref()
	properties.Limits.Deref()

	samplerInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.True,
		MaxAnisotropy:           properties.Limits.MaxSamplerAnisotropy,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}

	var sampler vk.Sampler
	res := vk.CreateSampler(a.win.Device, &samplerInfo, nil, &sampler)
	if res != vk.Success {
		return fmt.Errorf("failed to create sampler: %w", vk.Error(res))
	}
	a.textureSampler = sampler

	return nil
}

func (a *TexturedQuadApp) createDescriptorSet() error {
	poolSizes := []vk.DescriptorPoolSize{
		{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
		},
		{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
		},
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       1,
	}

	var descriptorPool vk.DescriptorPool
	res := vk.CreateDescriptorPool(a.win.Device, &poolInfo, nil, &descriptorPool)
	if res != vk.Success {
		return fmt.Errorf("failed to create descriptor pool: %w", vk.Error(res))
	}
	a.descriptorPool = descriptorPool

	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     a.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{a.descriptorSetLayout},
	}

	res = vk.AllocateDescriptorSets(a.win.Device, &allocInfo, &a.descriptorSet)
	if res != vk.Success {
		return fmt.Errorf("failed to allocate descriptor set: %w", vk.Error(res))
	}

	bufferInfo := vk.DescriptorBufferInfo{
		Buffer: a.uniformBuffer,
		Offset: 0,
		Range:  vk.DeviceSize(vk.WholeSize),
	}

	imageInfo := vk.DescriptorImageInfo{
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		ImageView:   a.texture.View,
		Sampler:     a.textureSampler,
	}

	descriptorWrites := []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          a.descriptorSet,
			DstBinding:      0,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          a.descriptorSet,
			DstBinding:      1,
			DstArrayElement: 0,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			PImageInfo:      []vk.DescriptorImageInfo{imageInfo},
		},
	}

	vk.UpdateDescriptorSets(
		a.win.Device,
		uint32(len(descriptorWrites)),
		descriptorWrites,
		0,
		nil,
	)

	return nil
}

func (a *TexturedQuadApp) sceneUniform() SceneUniform {
	elapsed := float32(time.Since(a.startTime).Seconds())

	var view linmath.Mat4x4
	view.LookAt(
		&linmath.Vec3{12 * cos32(elapsed/4), 7, 12 * sin32(elapsed/4)},
		&linmath.Vec3{0, 0, 0},
		&linmath.Vec3{0, 1, 0},
	)

	aspect := float32(a.chain.Extent.Width) / float32(a.chain.Extent.Height)
	var proj linmath.Mat4x4
	proj.Perspective(linmath.DegreesToRadians(45), aspect, 0.1, 100)
	proj[1][1] *= -1

	var scene SceneUniform
	scene.camera.Mult(&proj, &view)
	return scene
}

func (a *TexturedQuadApp) recordCommands(commandBuffer vk.CommandBuffer, imageIndex int) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}

	res := vk.BeginCommandBuffer(commandBuffer, &beginInfo)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to begin recording command buffer: %w", err)
	}

	// The camera matrix is refreshed on the GPU timeline, fenced off from
	// the vertex shader reads of earlier and later frames.
	scene := a.sceneUniform()
	sceneBytes := unsafer.StructToBytes(&scene)

	vkutil.BufferBarrier(
		commandBuffer, a.uniformBuffer,
		vk.AccessFlags(vk.AccessUniformReadBit),
		vk.AccessFlags(vk.AccessTransferWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	)

	vk.CmdUpdateBuffer(
		commandBuffer, a.uniformBuffer, 0,
		vk.DeviceSize(len(sceneBytes)), (*uint32)(unsafe.Pointer(&sceneBytes[0])),
	)

	vkutil.BufferBarrier(
		commandBuffer, a.uniformBuffer,
		vk.AccessFlags(vk.AccessTransferWriteBit),
		vk.AccessFlags(vk.AccessUniformReadBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit),
	)

	clearColor := vk.NewClearValue([]float32{0.1, 0.1, 0.1, 1})

	renderPassInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  a.renderPass,
		Framebuffer: a.framebuffers[imageIndex],
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: a.chain.Extent,
		},
		ClearValueCount: 1,
		PClearValues:    []vk.ClearValue{clearColor},
	}

	vk.CmdBeginRenderPass(commandBuffer, &renderPassInfo, vk.SubpassContentsInline)
	vk.CmdBindPipeline(commandBuffer, vk.PipelineBindPointGraphics, a.graphicsPipeline)

	vertexBuffers := []vk.Buffer{a.vertexBuffer}
	offsets := []vk.DeviceSize{0}
	vk.CmdBindVertexBuffers(commandBuffer, 0, 1, vertexBuffers, offsets)
	vk.CmdBindIndexBuffer(commandBuffer, a.indexBuffer, 0, vk.IndexTypeUint32)

	vk.CmdBindDescriptorSets(
		commandBuffer,
		vk.PipelineBindPointGraphics,
		a.pipelineLayout,
		0,
		1,
		[]vk.DescriptorSet{a.descriptorSet},
		0,
		nil,
	)

	vk.CmdDrawIndexed(commandBuffer, uint32(len(a.mesh.Indices)), 1, 0, 0, 0)
	vk.CmdEndRenderPass(commandBuffer)

	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return fmt.Errorf("failed to record command buffer: %w", err)
	}

	return nil
}

func (a *TexturedQuadApp) cleanup() {
	if a.win == nil {
		return
	}

	vk.DeviceWaitIdle(a.win.Device)

	a.sync.Destroy(a.win.Device)

	if a.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(a.win.Device, a.descriptorPool, nil)
	}

	if a.textureSampler != vk.NullSampler {
		vk.DestroySampler(a.win.Device, a.textureSampler, nil)
	}
	if a.texture != nil {
		a.texture.Destroy(a.win.Device)
	}

	vk.DestroyBuffer(a.win.Device, a.uniformBuffer, nil)
	vk.FreeMemory(a.win.Device, a.uniformMemory, nil)
	vk.DestroyBuffer(a.win.Device, a.indexBuffer, nil)
	vk.FreeMemory(a.win.Device, a.indexMemory, nil)
	vk.DestroyBuffer(a.win.Device, a.vertexBuffer, nil)
	vk.FreeMemory(a.win.Device, a.vertexMemory, nil)

	if a.pool != nil {
		a.pool.Destroy()
	}

	a.destroyFramebuffers()

	vk.DestroyPipeline(a.win.Device, a.graphicsPipeline, nil)
	vk.DestroyPipelineLayout(a.win.Device, a.pipelineLayout, nil)

	if a.descriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(a.win.Device, a.descriptorSetLayout, nil)
	}

	vk.DestroyRenderPass(a.win.Device, a.renderPass, nil)

	if a.chain != nil {
		a.chain.Destroy(a.win.Device)
	}

	a.win.Destroy()
	a.win = nil
}

func cos32(x float32) float32 {
	return float32(math.Cos(float64(x)))
}

func sin32(x float32) float32 {
	return float32(math.Sin(float64(x)))
}
