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

	"vulkan-exercises/frame"
	"vulkan-exercises/models"
	"vulkan-exercises/shaders"
	"vulkan-exercises/swapchain"
	"vulkan-exercises/textures"
	"vulkan-exercises/unsafer"
	"vulkan-exercises/vkutil"
	"vulkan-exercises/vkwin"
)

func init() {
	// This is needed to arrange that main() runs on main thread.
	// See documentation for functions that are only allowed to be called
	// from the main thread.
	runtime.LockOSThread()

	flag.BoolVar(&args.debug, "debug", false, "Enable Vulkan validation layers")
	flag.IntVar(&args.width, "width", 1280, "Initial window width")
	flag.IntVar(&args.height, "height", 720, "Initial window height")
}

var args struct {
	debug  bool
	width  int
	height int
}

func main() {
	flag.Parse()

	app := &SceneApp{}
	if err := app.Run(); err != nil {
		log.Fatalf("ERROR: %s", err)
	}
}

// SceneUniform is the camera matrix shared by every draw in a frame.
type SceneUniform struct {
	camera linmath.Mat4x4
}

// ModelPush is the per-draw model matrix, delivered as a push constant.
type ModelPush struct {
	model linmath.Mat4x4
}

// spritePositions is where the billboards stand on the plane.
var spritePositions = []linmath.Vec3{
	{0, 0, 0},
	{2.5, 0, -1.5},
	{-3, 0, 2},
	{1, 0, 3.5},
	{-1.5, 0, -3},
}

// SceneApp renders a textured ground plane with a handful of alpha blended
// billboard sprites standing on it. It survives resizes, minimization and
// surface format changes by recreating the swapchain and whatever depends
// on it.
type SceneApp struct {
	win *vkwin.Window

	chain *swapchain.State

	renderPass          vk.RenderPass
	descriptorSetLayout vk.DescriptorSetLayout
	pipelineLayout      vk.PipelineLayout
	scenePipeline       vk.Pipeline
	spritePipeline      vk.Pipeline
	framebuffers        []vk.Framebuffer

	depthFormat vk.Format
	depthImage  vk.Image
	depthMemory vk.DeviceMemory
	depthView   vk.ImageView

	planeMesh  *models.Mesh
	spriteMesh *models.Mesh

	planeVertexBuffer  vk.Buffer
	planeVertexMemory  vk.DeviceMemory
	planeIndexBuffer   vk.Buffer
	planeIndexMemory   vk.DeviceMemory
	spriteVertexBuffer vk.Buffer
	spriteVertexMemory vk.DeviceMemory
	spriteIndexBuffer  vk.Buffer
	spriteIndexMemory  vk.DeviceMemory

	uniformBuffer vk.Buffer
	uniformMemory vk.DeviceMemory

	planeTexture  *vkutil.Texture
	spriteTexture *vkutil.Texture
	sampler       vk.Sampler

	descriptorPool vk.DescriptorPool
	planeSet       vk.DescriptorSet
	spriteSet      vk.DescriptorSet

	pool *frame.Pool
	sync frame.SyncPair
	loop *frame.Loop

	startTime time.Time
}

// Run runs the main loop of the app. All resources are released when it
// returns, error or not.
func (a *SceneApp) Run() error {
	win, err := vkwin.New(vkwin.Config{
		Title:  "Vulkan Exercise: Sprites",
		Width:  args.width,
		Height: args.height,
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

func (a *SceneApp) initRender() error {
	chain, err := swapchain.Create(a.win.SwapchainConfig(), vk.NullSwapchain)
	if err != nil {
		return fmt.Errorf("createSwapchain: %w", err)
	}
	a.chain = chain

	depthFormat, err := vkutil.FindDepthFormat(a.win.PhysicalDevice)
	if err != nil {
		return fmt.Errorf("findDepthFormat: %w", err)
	}
	a.depthFormat = depthFormat

	if err := a.createDepthResources(); err != nil {
		return fmt.Errorf("createDepthResources: %w", err)
	}

	if err := a.createRenderPass(); err != nil {
		return fmt.Errorf("createRenderPass: %w", err)
	}

	if err := a.createDescriptorSetLayout(); err != nil {
		return fmt.Errorf("createDescriptorSetLayout: %w", err)
	}

	if err := a.createPipelines(); err != nil {
		return fmt.Errorf("createPipelines: %w", err)
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

	if err := a.createTextures(); err != nil {
		return fmt.Errorf("createTextures: %w", err)
	}

	if err := a.createDescriptorSets(); err != nil {
		return fmt.Errorf("createDescriptorSets: %w", err)
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

func (a *SceneApp) mainLoop() error {
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

// rebuild follows a swapchain recreation. The depth buffer matches the chain
// extent and goes with every size change, the framebuffers always go, the
// render pass only when the surface format changed and the pipelines when
// either the pass or the baked in viewport is stale.
func (a *SceneApp) rebuild(changes swapchain.Changes) error {
	a.destroyFramebuffers()

	if changes.Size {
		a.destroyDepthResources()
		if err := a.createDepthResources(); err != nil {
			return fmt.Errorf("createDepthResources: %w", err)
		}
	}

	if changes.Format {
		vk.DestroyRenderPass(a.win.Device, a.renderPass, nil)
		if err := a.createRenderPass(); err != nil {
			return fmt.Errorf("createRenderPass: %w", err)
		}
	}

	if changes.Format || changes.Size {
		a.destroyPipelines()
		if err := a.createPipelines(); err != nil {
			return fmt.Errorf("createPipelines: %w", err)
		}
	}

	if err := a.createFramebuffers(); err != nil {
		return fmt.Errorf("createFramebuffers: %w", err)
	}

	return nil
}

func (a *SceneApp) createDepthResources() error {
	image, memory, err := vkutil.CreateImage(
		a.win.Device, a.win.PhysicalDevice,
		a.chain.Extent.Width, a.chain.Extent.Height,
		a.depthFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
	)
	if err != nil {
		return fmt.Errorf("creating depth image: %w", err)
	}
	a.depthImage = image
	a.depthMemory = memory

	view, err := vkutil.CreateImageView(
		a.win.Device, a.depthImage, a.depthFormat,
		vk.ImageAspectFlags(vk.ImageAspectDepthBit),
	)
	if err != nil {
		return fmt.Errorf("creating depth image view: %w", err)
	}
	a.depthView = view

	return nil
}

func (a *SceneApp) destroyDepthResources() {
	vk.DestroyImageView(a.win.Device, a.depthView, nil)
	vk.DestroyImage(a.win.Device, a.depthImage, nil)
	vk.FreeMemory(a.win.Device, a.depthMemory, nil)
}

func (a *SceneApp) createRenderPass() error {
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

	depthAttachment := vk.AttachmentDescription{
		Format:         a.depthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	colorAttachmentRef := vk.AttachmentReference{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}

	depthAttachmentRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    1,
		PColorAttachments:       []vk.AttachmentReference{colorAttachmentRef},
		PDepthStencilAttachment: &depthAttachmentRef,
	}

	dependency := vk.SubpassDependency{
		SrcSubpass: vk.SubpassExternal,
		DstSubpass: 0,
		SrcStageMask: vk.PipelineStageFlags(
			vk.PipelineStageColorAttachmentOutputBit |
				vk.PipelineStageEarlyFragmentTestsBit,
		),
		SrcAccessMask: 0,
		DstStageMask: vk.PipelineStageFlags(
			vk.PipelineStageColorAttachmentOutputBit |
				vk.PipelineStageEarlyFragmentTestsBit,
		),
		DstAccessMask: vk.AccessFlags(
			vk.AccessColorAttachmentWriteBit |
				vk.AccessDepthStencilAttachmentWriteBit,
		),
	}

	renderPassInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 2,
		PAttachments: []vk.AttachmentDescription{
			colorAttachment,
			depthAttachment,
		},
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

func (a *SceneApp) createDescriptorSetLayout() error {
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

// createPipelines builds the opaque scene pipeline and the blended sprite
// pipeline. They share the layout and most state; the sprite one blends,
// skips back face culling and reads depth without writing it so sprites do
// not punch holes into each other.
func (a *SceneApp) createPipelines() error {
	vertShaderCode, err := shaders.FS.ReadFile("vert.spv")
	if err != nil {
		return fmt.Errorf("failed to read vertex shader bytecode: %w", err)
	}

	fragShaderCode, err := shaders.FS.ReadFile("frag.spv")
	if err != nil {
		return fmt.Errorf("failed to read fragment shader bytecode: %w", err)
	}

	spriteFragCode, err := shaders.FS.ReadFile("sprite_frag.spv")
	if err != nil {
		return fmt.Errorf("failed to read sprite fragment shader bytecode: %w", err)
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

	spriteFragModule, err := vkutil.NewShaderModule(a.win.Device, spriteFragCode)
	if err != nil {
		return fmt.Errorf("creating sprite fragment shader module: %w", err)
	}
	defer vk.DestroyShaderModule(a.win.Device, spriteFragModule, nil)

	pushConstantRange := vk.PushConstantRange{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		Offset:     0,
		Size:       uint32(unsafe.Sizeof(ModelPush{})),
	}

	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{a.descriptorSetLayout},
		PushConstantRangeCount: 1,
		PPushConstantRanges:    []vk.PushConstantRange{pushConstantRange},
	}

	var pipelineLayout vk.PipelineLayout
	res := vk.CreatePipelineLayout(a.win.Device, &pipelineLayoutInfo, nil, &pipelineLayout)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to create pipeline layout: %w", err)
	}
	a.pipelineLayout = pipelineLayout

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

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	colorWriteMask := vk.ColorComponentFlags(
		vk.ColorComponentRBit |
			vk.ColorComponentGBit |
			vk.ColorComponentBBit |
			vk.ColorComponentABit,
	)

	build := func(
		fragModule vk.ShaderModule,
		cullMode vk.CullModeFlagBits,
		depthWrite vk.Bool32,
		blendAttachment vk.PipelineColorBlendAttachmentState,
	) (vk.Pipeline, error) {
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
				Module: fragModule,
				PName:  "main\x00",
			},
		}

		rasterizer := vk.PipelineRasterizationStateCreateInfo{
			SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
			DepthClampEnable:        vk.False,
			RasterizerDiscardEnable: vk.False,
			PolygonMode:             vk.PolygonModeFill,
			LineWidth:               1,
			CullMode:                vk.CullModeFlags(cullMode),
			FrontFace:               vk.FrontFaceCounterClockwise,
			DepthBiasEnable:         vk.False,
		}

		depthStencil := vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       vk.True,
			DepthWriteEnable:      depthWrite,
			DepthCompareOp:        vk.CompareOpLess,
			DepthBoundsTestEnable: vk.False,
			StencilTestEnable:     vk.False,
		}

		colorBlending := vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOpEnable:   vk.False,
			LogicOp:         vk.LogicOpCopy,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{
				blendAttachment,
			},
		}

		pipelineInfo := vk.GraphicsPipelineCreateInfo{
			SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
			StageCount:          uint32(len(shaderStages)),
			PStages:             shaderStages,
			PVertexInputState:   &vertexInputInfo,
			PInputAssemblyState: &inputAssembly,
			PViewportState:      &viewportState,
			PRasterizationState: &rasterizer,
			PMultisampleState:   &multisampling,
			PDepthStencilState:  &depthStencil,
			PColorBlendState:    &colorBlending,
			Layout:              a.pipelineLayout,
			RenderPass:          a.renderPass,
			Subpass:             0,
			BasePipelineHandle:  vk.Pipeline(vk.NullHandle),
			BasePipelineIndex:   -1,
		}

		pipelines := make([]vk.Pipeline, 1)
		res := vk.CreateGraphicsPipelines(
			a.win.Device,
			vk.PipelineCache(vk.NullHandle),
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineInfo},
			nil,
			pipelines,
		)
		if err := vk.Error(res); err != nil {
			return vk.Pipeline(vk.NullHandle), err
		}

		return pipelines[0], nil
	}

	scenePipeline, err := build(
		fragmentShaderModule,
		vk.CullModeBackBit,
		vk.True,
		vk.PipelineColorBlendAttachmentState{
			ColorWriteMask:      colorWriteMask,
			BlendEnable:         vk.False,
			SrcColorBlendFactor: vk.BlendFactorOne,
			DstColorBlendFactor: vk.BlendFactorZero,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOne,
			DstAlphaBlendFactor: vk.BlendFactorZero,
			AlphaBlendOp:        vk.BlendOpAdd,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create scene pipeline: %w", err)
	}
	a.scenePipeline = scenePipeline

	spritePipeline, err := build(
		spriteFragModule,
		vk.CullModeNone,
		vk.False,
		vk.PipelineColorBlendAttachmentState{
			ColorWriteMask:      colorWriteMask,
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOne,
			DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			AlphaBlendOp:        vk.BlendOpAdd,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create sprite pipeline: %w", err)
	}
	a.spritePipeline = spritePipeline

	return nil
}

func (a *SceneApp) destroyPipelines() {
	vk.DestroyPipeline(a.win.Device, a.spritePipeline, nil)
	vk.DestroyPipeline(a.win.Device, a.scenePipeline, nil)
	vk.DestroyPipelineLayout(a.win.Device, a.pipelineLayout, nil)
}

func (a *SceneApp) createFramebuffers() error {
	a.framebuffers = make([]vk.Framebuffer, len(a.chain.Views))

	for i, view := range a.chain.Views {
		attachments := []vk.ImageView{view, a.depthView}

		frameBufferInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      a.renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
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

func (a *SceneApp) destroyFramebuffers() {
	for _, frameBuffer := range a.framebuffers {
		vk.DestroyFramebuffer(a.win.Device, frameBuffer, nil)
	}
	a.framebuffers = nil
}

func (a *SceneApp) createMeshBuffers() error {
	planeMesh, err := models.Load("plane.obj")
	if err != nil {
		return err
	}
	a.planeMesh = planeMesh

	spriteMesh, err := models.Load("sprite.obj")
	if err != nil {
		return err
	}
	a.spriteMesh = spriteMesh

	upload := func(usage vk.BufferUsageFlagBits, data []byte) (vk.Buffer, vk.DeviceMemory, error) {
		return vkutil.NewDeviceLocalBuffer(
			a.win.Device, a.win.PhysicalDevice,
			a.pool.CommandPool(), a.win.GraphicsQueue,
			vk.BufferUsageFlags(usage),
			data,
		)
	}

	a.planeVertexBuffer, a.planeVertexMemory, err = upload(
		vk.BufferUsageVertexBufferBit, unsafer.SliceToBytes(planeMesh.Vertices),
	)
	if err != nil {
		return fmt.Errorf("creating plane vertex buffer: %w", err)
	}

	a.planeIndexBuffer, a.planeIndexMemory, err = upload(
		vk.BufferUsageIndexBufferBit, unsafer.SliceToBytes(planeMesh.Indices),
	)
	if err != nil {
		return fmt.Errorf("creating plane index buffer: %w", err)
	}

	a.spriteVertexBuffer, a.spriteVertexMemory, err = upload(
		vk.BufferUsageVertexBufferBit, unsafer.SliceToBytes(spriteMesh.Vertices),
	)
	if err != nil {
		return fmt.Errorf("creating sprite vertex buffer: %w", err)
	}

	a.spriteIndexBuffer, a.spriteIndexMemory, err = upload(
		vk.BufferUsageIndexBufferBit, unsafer.SliceToBytes(spriteMesh.Indices),
	)
	if err != nil {
		return fmt.Errorf("creating sprite index buffer: %w", err)
	}

	return nil
}

func (a *SceneApp) createUniformBuffer() error {
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

func (a *SceneApp) loadTexture(name string) (*vkutil.Texture, error) {
	fh, err := textures.FS.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening texture %s: %w", name, err)
	}
	defer fh.Close()

	img, err := png.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decoding texture %s: %w", name, err)
	}

	return vkutil.NewTexture(
		a.win.Device, a.win.PhysicalDevice,
		a.pool.CommandPool(), a.win.GraphicsQueue,
		img,
	)
}

func (a *SceneApp) createTextures() error {
	planeTexture, err := a.loadTexture("checkerboard.png")
	if err != nil {
		return err
	}
	a.planeTexture = planeTexture

	spriteTexture, err := a.loadTexture("sprite.png")
	if err != nil {
		return err
	}
	a.spriteTexture = spriteTexture

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
	a.sampler = sampler

	return nil
}

func (a *SceneApp) createDescriptorSets() error {
	poolSizes := []vk.DescriptorPoolSize{
		{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 2,
		},
		{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 2,
		},
	}

	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       2,
	}

	var descriptorPool vk.DescriptorPool
	res := vk.CreateDescriptorPool(a.win.Device, &poolInfo, nil, &descriptorPool)
	if res != vk.Success {
		return fmt.Errorf("failed to create descriptor pool: %w", vk.Error(res))
	}
	a.descriptorPool = descriptorPool

	allocate := func(texture *vkutil.Texture) (vk.DescriptorSet, error) {
		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     a.descriptorPool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{a.descriptorSetLayout},
		}

		var set vk.DescriptorSet
		res := vk.AllocateDescriptorSets(a.win.Device, &allocInfo, &set)
		if res != vk.Success {
			return set, fmt.Errorf("failed to allocate descriptor set: %w", vk.Error(res))
		}

		bufferInfo := vk.DescriptorBufferInfo{
			Buffer: a.uniformBuffer,
			Offset: 0,
			Range:  vk.DeviceSize(vk.WholeSize),
		}

		imageInfo := vk.DescriptorImageInfo{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   texture.View,
			Sampler:     a.sampler,
		}

		descriptorWrites := []vk.WriteDescriptorSet{
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          set,
				DstBinding:      0,
				DstArrayElement: 0,
				DescriptorType:  vk.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
			},
			{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          set,
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

		return set, nil
	}

	planeSet, err := allocate(a.planeTexture)
	if err != nil {
		return err
	}
	a.planeSet = planeSet

	spriteSet, err := allocate(a.spriteTexture)
	if err != nil {
		return err
	}
	a.spriteSet = spriteSet

	return nil
}

func (a *SceneApp) sceneUniform() SceneUniform {
	elapsed := float32(time.Since(a.startTime).Seconds())

	eye := linmath.Vec3{
		10 * float32(math.Cos(float64(elapsed/6))),
		6,
		10 * float32(math.Sin(float64(elapsed/6))),
	}

	var view linmath.Mat4x4
	view.LookAt(&eye, &linmath.Vec3{0, 1, 0}, &linmath.Vec3{0, 1, 0})

	aspect := float32(a.chain.Extent.Width) / float32(a.chain.Extent.Height)
	var proj linmath.Mat4x4
	proj.Perspective(linmath.DegreesToRadians(60), aspect, 0.1, 100)

	proj[1][1] *= -1

	var scene SceneUniform
	scene.camera.Mult(&proj, &view)
	return scene
}

func (a *SceneApp) recordCommands(commandBuffer vk.CommandBuffer, imageIndex int) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}

	res := vk.BeginCommandBuffer(commandBuffer, &beginInfo)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to begin recording command buffer: %w", err)
	}

	// Refresh the camera on the GPU timeline. The barriers keep the
	// transfer out of the way of this and earlier frames' vertex shaders.
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

	clearValues := []vk.ClearValue{
		vk.NewClearValue([]float32{0.1, 0.1, 0.1, 1}),
		vk.NewClearDepthStencil(1, 0),
	}

	renderPassInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  a.renderPass,
		Framebuffer: a.framebuffers[imageIndex],
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: a.chain.Extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(commandBuffer, &renderPassInfo, vk.SubpassContentsInline)

	offsets := []vk.DeviceSize{0}

	// Opaque pass: the ground plane.
	vk.CmdBindPipeline(commandBuffer, vk.PipelineBindPointGraphics, a.scenePipeline)
	vk.CmdBindDescriptorSets(
		commandBuffer, vk.PipelineBindPointGraphics, a.pipelineLayout,
		0, 1, []vk.DescriptorSet{a.planeSet}, 0, nil,
	)
	vk.CmdBindVertexBuffers(commandBuffer, 0, 1, []vk.Buffer{a.planeVertexBuffer}, offsets)
	vk.CmdBindIndexBuffer(commandBuffer, a.planeIndexBuffer, 0, vk.IndexTypeUint32)

	var push ModelPush
	push.model.Identity()
	a.pushModel(commandBuffer, &push)
	vk.CmdDrawIndexed(commandBuffer, uint32(len(a.planeMesh.Indices)), 1, 0, 0, 0)

	// Blended pass: the sprites, drawn after all opaque geometry.
	vk.CmdBindPipeline(commandBuffer, vk.PipelineBindPointGraphics, a.spritePipeline)
	vk.CmdBindDescriptorSets(
		commandBuffer, vk.PipelineBindPointGraphics, a.pipelineLayout,
		0, 1, []vk.DescriptorSet{a.spriteSet}, 0, nil,
	)
	vk.CmdBindVertexBuffers(commandBuffer, 0, 1, []vk.Buffer{a.spriteVertexBuffer}, offsets)
	vk.CmdBindIndexBuffer(commandBuffer, a.spriteIndexBuffer, 0, vk.IndexTypeUint32)

	for _, position := range spritePositions {
		push.model = translation(position)
		a.pushModel(commandBuffer, &push)
		vk.CmdDrawIndexed(commandBuffer, uint32(len(a.spriteMesh.Indices)), 1, 0, 0, 0)
	}

	vk.CmdEndRenderPass(commandBuffer)

	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return fmt.Errorf("failed to record command buffer: %w", err)
	}

	return nil
}

// translation builds a model matrix placing a mesh at v. Mat4x4 columns are
// the matrix columns, so the offset lives in the last one.
func translation(v linmath.Vec3) linmath.Mat4x4 {
	var m linmath.Mat4x4
	m.Identity()
	m[3][0], m[3][1], m[3][2] = v[0], v[1], v[2]
	return m
}

func (a *SceneApp) pushModel(commandBuffer vk.CommandBuffer, push *ModelPush) {
	vk.CmdPushConstants(
		commandBuffer,
		a.pipelineLayout,
		vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		0,
		uint32(unsafe.Sizeof(*push)),
		unsafe.Pointer(push),
	)
}

func (a *SceneApp) cleanup() {
	if a.win == nil {
		return
	}

	vk.DeviceWaitIdle(a.win.Device)

	a.sync.Destroy(a.win.Device)

	if a.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(a.win.Device, a.descriptorPool, nil)
	}

	if a.sampler != vk.NullSampler {
		vk.DestroySampler(a.win.Device, a.sampler, nil)
	}
	if a.spriteTexture != nil {
		a.spriteTexture.Destroy(a.win.Device)
	}
	if a.planeTexture != nil {
		a.planeTexture.Destroy(a.win.Device)
	}

	vk.DestroyBuffer(a.win.Device, a.uniformBuffer, nil)
	vk.FreeMemory(a.win.Device, a.uniformMemory, nil)
	vk.DestroyBuffer(a.win.Device, a.spriteIndexBuffer, nil)
	vk.FreeMemory(a.win.Device, a.spriteIndexMemory, nil)
	vk.DestroyBuffer(a.win.Device, a.spriteVertexBuffer, nil)
	vk.FreeMemory(a.win.Device, a.spriteVertexMemory, nil)
	vk.DestroyBuffer(a.win.Device, a.planeIndexBuffer, nil)
	vk.FreeMemory(a.win.Device, a.planeIndexMemory, nil)
	vk.DestroyBuffer(a.win.Device, a.planeVertexBuffer, nil)
	vk.FreeMemory(a.win.Device, a.planeVertexMemory, nil)

	if a.pool != nil {
		a.pool.Destroy()
	}

	a.destroyFramebuffers()
	a.destroyPipelines()

	if a.descriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(a.win.Device, a.descriptorSetLayout, nil)
	}

	vk.DestroyRenderPass(a.win.Device, a.renderPass, nil)
	a.destroyDepthResources()

	if a.chain != nil {
		a.chain.Destroy(a.win.Device)
	}

	a.win.Destroy()
	a.win = nil
}
