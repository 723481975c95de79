package main

import (
	"flag"
	"fmt"
	"log"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-exercises/code/01_triangle/shaders"
	"vulkan-exercises/frame"
	"vulkan-exercises/swapchain"
	"vulkan-exercises/vkutil"
	"vulkan-exercises/vkwin"
)

func init() {
	// GLFW events are processed on the main thread.
	runtime.LockOSThread()
}

const (
	title  = "Vulkan Exercise: Triangle"
	width  = 1280
	height = 720
)

var args struct {
	debug bool
}

func main() {
	flag.BoolVar(&args.debug, "debug", false, "Enable Vulkan validation layers")
	flag.Parse()

	app := &TriangleApp{}
	if err := app.Run(); err != nil {
		log.Fatalf("Error: %s", err)
	}
}

// TriangleApp draws a single hardcoded triangle and keeps drawing it across
// window resizes.
type TriangleApp struct {
	win *vkwin.Window

	chain *swapchain.State

	renderPass       vk.RenderPass
	pipelineLayout   vk.PipelineLayout
	graphicsPipeline vk.Pipeline
	framebuffers     []vk.Framebuffer

	pool *frame.Pool
	sync frame.SyncPair
	loop *frame.Loop
}

// Run runs the main loop of the app. All resources are released when it
// returns, error or not.
func (a *TriangleApp) Run() error {
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

	return a.mainLoop()
}

func (a *TriangleApp) initRender() error {
	chain, err := swapchain.Create(a.win.SwapchainConfig(), vk.NullSwapchain)
	if err != nil {
		return fmt.Errorf("createSwapchain: %w", err)
	}
	a.chain = chain

	if err := a.createRenderPass(); err != nil {
		return fmt.Errorf("createRenderPass: %w", err)
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

func (a *TriangleApp) mainLoop() error {
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

// rebuild recreates whatever a new swapchain invalidated. The framebuffers
// reference the chain's views and always go. The render pass only encodes the
// image format and the pipeline bakes in the viewport, so those two survive
// unless format or size changed.
func (a *TriangleApp) rebuild(changes swapchain.Changes) error {
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

func (a *TriangleApp) createRenderPass() error {
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

func (a *TriangleApp) createGraphicsPipeline() error {
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

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,

		VertexBindingDescriptionCount:   0,
		VertexAttributeDescriptionCount: 0,
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
		CullMode:                vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:               vk.FrontFaceClockwise,
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
		SetLayoutCount: 0,
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

func (a *TriangleApp) createFramebuffers() error {
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

func (a *TriangleApp) destroyFramebuffers() {
	for _, frameBuffer := range a.framebuffers {
		vk.DestroyFramebuffer(a.win.Device, frameBuffer, nil)
	}
	a.framebuffers = nil
}

func (a *TriangleApp) recordCommands(commandBuffer vk.CommandBuffer, imageIndex int) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}

	res := vk.BeginCommandBuffer(commandBuffer, &beginInfo)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to begin recording command buffer: %w", err)
	}

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
	vk.CmdDraw(commandBuffer, 3, 1, 0, 0)
	vk.CmdEndRenderPass(commandBuffer)

	if err := vk.Error(vk.EndCommandBuffer(commandBuffer)); err != nil {
		return fmt.Errorf("failed to record command buffer: %w", err)
	}

	return nil
}

func (a *TriangleApp) cleanup() {
	if a.win == nil {
		return
	}

	vk.DeviceWaitIdle(a.win.Device)

	a.sync.Destroy(a.win.Device)
	if a.pool != nil {
		a.pool.Destroy()
	}

	a.destroyFramebuffers()

	vk.DestroyPipeline(a.win.Device, a.graphicsPipeline, nil)
	vk.DestroyPipelineLayout(a.win.Device, a.pipelineLayout, nil)
	vk.DestroyRenderPass(a.win.Device, a.renderPass, nil)

	if a.chain != nil {
		a.chain.Destroy(a.win.Device)
	}

	a.win.Destroy()
	a.win = nil
}
