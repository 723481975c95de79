// Package vkwin bootstraps everything an exercise needs before it can touch a
// swapchain: the GLFW window, the Vulkan instance, a surface, a suitable
// physical device and the logical device with its graphics and present
// queues.
package vkwin

import (
	"fmt"
	"log"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-exercises/queues"
	"vulkan-exercises/swapchain"
)

var validationLayers = []string{
	"VK_LAYER_KHRONOS_validation\x00",
}

var deviceExtensions = []string{
	vk.KhrSwapchainExtensionName + "\x00",
}

// Config describes the window to open. Debug enables the Khronos validation
// layer when it is installed.
type Config struct {
	Title  string
	Width  int
	Height int
	Debug  bool
}

// Window is an open window with a live Vulkan device behind it. Fields are
// exported because the exercises wire them straight into their own objects.
type Window struct {
	Handle *glfw.Window

	Instance       vk.Instance
	Surface        vk.Surface
	PhysicalDevice vk.PhysicalDevice
	Device         vk.Device

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	Families      queues.FamilyIndices

	debug   bool
	resized bool
}

// New opens the window and brings up Vulkan behind it. The calling goroutine
// must be locked to an OS thread. On any failure everything created so far is
// torn down again.
func New(cfg Config) (*Window, error) {
	w := &Window{debug: cfg.Debug}

	if err := w.initWindow(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialise window: %w", err)
	}

	if err := w.initVulkan(cfg); err != nil {
		w.Destroy()
		return nil, err
	}

	return w, nil
}

func (w *Window) initWindow(cfg Config) error {
	if err := glfw.Init(); err != nil {
		return fmt.Errorf("glfw.Init: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	handle, err := glfw.CreateWindow(cfg.Width, cfg.Height, cfg.Title, nil, nil)
	if err != nil {
		return fmt.Errorf("creating window: %w", err)
	}
	w.Handle = handle

	handle.SetFramebufferSizeCallback(func(*glfw.Window, int, int) {
		w.resized = true
	})

	handle.SetKeyCallback(func(
		window *glfw.Window, key glfw.Key, scancode int,
		action glfw.Action, mods glfw.ModifierKey,
	) {
		if key == glfw.KeyEscape && action == glfw.Press {
			window.SetShouldClose(true)
		}
	})

	return nil
}

func (w *Window) initVulkan(cfg Config) error {
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to init Vulkan: %w", err)
	}

	if err := w.createInstance(cfg.Title); err != nil {
		return fmt.Errorf("createInstance: %w", err)
	}

	if err := w.createSurface(); err != nil {
		return fmt.Errorf("createSurface: %w", err)
	}

	if err := w.pickPhysicalDevice(); err != nil {
		return fmt.Errorf("pickPhysicalDevice: %w", err)
	}

	if err := w.createLogicalDevice(); err != nil {
		return fmt.Errorf("createLogicalDevice: %w", err)
	}

	return nil
}

func (w *Window) createInstance(title string) error {
	if w.debug && !checkValidationSupport() {
		return fmt.Errorf("validation layers %v requested but not available", validationLayers)
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   title + "\x00",
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "No Engine\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion10,
	}

	requiredExtensions := []string{}
	for _, ext := range w.Handle.GetRequiredInstanceExtensions() {
		requiredExtensions = append(requiredExtensions, ext+"\x00")
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(requiredExtensions)),
		PpEnabledExtensionNames: requiredExtensions,
	}

	if w.debug {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	var instance vk.Instance
	res := vk.CreateInstance(&createInfo, nil, &instance)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to create Vulkan instance: %w", err)
	}

	w.Instance = instance
	return nil
}

func checkValidationSupport() bool {
	var layerCount uint32
	vk.EnumerateInstanceLayerProperties(&layerCount, nil)

	availableLayers := make([]vk.LayerProperties, layerCount)
	vk.EnumerateInstanceLayerProperties(&layerCount, availableLayers)

	available := map[string]struct{}{}
	for _, layer := range availableLayers {
		layer.Deref()
		available[vk.ToString(layer.LayerName[:])] = struct{}{}
	}

	for _, layer := range validationLayers {
		if _, found := available[vk.ToString([]byte(layer))]; !found {
			return false
		}
	}

	return true
}

func (w *Window) createSurface() error {
	surfacePtr, err := w.Handle.CreateWindowSurface(w.Instance, nil)
	if err != nil {
		return fmt.Errorf("cannot create surface within GLFW window: %w", err)
	}

	w.Surface = vk.SurfaceFromPointer(surfacePtr)
	return nil
}

func (w *Window) pickPhysicalDevice() error {
	var deviceCount uint32
	res := vk.EnumeratePhysicalDevices(w.Instance, &deviceCount, nil)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to get the number of physical devices: %w", err)
	}
	if deviceCount == 0 {
		return fmt.Errorf("failed to find GPUs with Vulkan support")
	}

	devices := make([]vk.PhysicalDevice, deviceCount)
	res = vk.EnumeratePhysicalDevices(w.Instance, &deviceCount, devices)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to enumerate physical devices: %w", err)
	}

	for _, device := range devices {
		if w.isDeviceSuitable(device) {
			w.PhysicalDevice = device
			break
		}
	}

	if w.PhysicalDevice == vk.PhysicalDevice(vk.NullHandle) {
		return fmt.Errorf("failed to find a suitable GPU")
	}

	return nil
}

func (w *Window) isDeviceSuitable(device vk.PhysicalDevice) bool {
	indices := queues.Find(device, w.Surface)
	if !indices.IsComplete() {
		return false
	}

	if !checkDeviceExtensionSupport(device) {
		return false
	}

	support, err := swapchain.QuerySupport(device, w.Surface)
	if err != nil {
		log.Printf("querying swapchain support for device: %s", err)
		return false
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return false
	}

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(device, &features)
	features.Deref()

	return features.SamplerAnisotropy.B()
}

func checkDeviceExtensionSupport(device vk.PhysicalDevice) bool {
	var extensionCount uint32
	res := vk.EnumerateDeviceExtensionProperties(device, "", &extensionCount, nil)
	if err := vk.Error(res); err != nil {
		log.Printf("enumerating device extensions: %s", err)
		return false
	}

	availableExtensions := make([]vk.ExtensionProperties, extensionCount)
	res = vk.EnumerateDeviceExtensionProperties(device, "", &extensionCount, availableExtensions)
	if err := vk.Error(res); err != nil {
		log.Printf("enumerating device extensions: %s", err)
		return false
	}

	available := map[string]struct{}{}
	for _, ext := range availableExtensions {
		ext.Deref()
		available[vk.ToString(ext.ExtensionName[:])] = struct{}{}
	}

	for _, ext := range deviceExtensions {
		if _, found := available[vk.ToString([]byte(ext))]; !found {
			return false
		}
	}

	return true
}

func (w *Window) createLogicalDevice() error {
	w.Families = queues.Find(w.PhysicalDevice, w.Surface)

	uniqueFamilies := map[uint32]struct{}{}
	graphicsFamily := w.Families.Graphics.Get()
	presentFamily := w.Families.Present.Get()
	uniqueFamilies[graphicsFamily] = struct{}{}
	uniqueFamilies[presentFamily] = struct{}{}

	queueCreateInfos := []vk.DeviceQueueCreateInfo{}
	for family := range uniqueFamilies {
		queueCreateInfos = append(queueCreateInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		})
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),
		PQueueCreateInfos:    queueCreateInfos,
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
		}},
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: deviceExtensions,
	}

	if w.debug {
		createInfo.EnabledLayerCount = uint32(len(validationLayers))
		createInfo.PpEnabledLayerNames = validationLayers
	}

	var device vk.Device
	res := vk.CreateDevice(w.PhysicalDevice, &createInfo, nil, &device)
	if err := vk.Error(res); err != nil {
		return fmt.Errorf("failed to create logical device: %w", err)
	}
	w.Device = device

	var graphicsQueue vk.Queue
	vk.GetDeviceQueue(w.Device, graphicsFamily, 0, &graphicsQueue)
	w.GraphicsQueue = graphicsQueue

	var presentQueue vk.Queue
	vk.GetDeviceQueue(w.Device, presentFamily, 0, &presentQueue)
	w.PresentQueue = presentQueue

	return nil
}

// DrawableSize reports the framebuffer size in pixels.
func (w *Window) DrawableSize() (int, int) {
	return w.Handle.GetFramebufferSize()
}

// WaitWhileMinimized blocks until the framebuffer has a nonzero area again.
// Rendering to a zero sized surface is pointless and some drivers refuse the
// swapchain outright.
func (w *Window) WaitWhileMinimized() {
	for {
		width, height := w.Handle.GetFramebufferSize()
		if width != 0 && height != 0 {
			return
		}
		glfw.WaitEvents()
	}
}

// ConsumeResize reports whether the framebuffer was resized since the last
// call and clears the flag.
func (w *Window) ConsumeResize() bool {
	resized := w.resized
	w.resized = false
	return resized
}

// SwapchainConfig bundles the window's device objects the way the swapchain
// package wants them.
func (w *Window) SwapchainConfig() swapchain.Config {
	return swapchain.Config{
		PhysicalDevice: w.PhysicalDevice,
		Device:         w.Device,
		Surface:        w.Surface,
		GraphicsFamily: w.Families.Graphics.Get(),
		PresentFamily:  w.Families.Present.Get(),
		DrawableSize:   w.DrawableSize,
	}
}

// Destroy tears everything down in reverse creation order. The caller must
// have destroyed its own device objects first; the device is expected idle.
func (w *Window) Destroy() {
	if w.Device != vk.Device(vk.NullHandle) {
		vk.DestroyDevice(w.Device, nil)
		w.Device = vk.Device(vk.NullHandle)
	}

	if w.Surface != vk.NullSurface {
		vk.DestroySurface(w.Instance, w.Surface, nil)
		w.Surface = vk.NullSurface
	}

	if w.Instance != vk.Instance(vk.NullHandle) {
		vk.DestroyInstance(w.Instance, nil)
		w.Instance = vk.Instance(vk.NullHandle)
	}

	if w.Handle != nil {
		w.Handle.Destroy()
		w.Handle = nil
	}

	glfw.Terminate()
}
