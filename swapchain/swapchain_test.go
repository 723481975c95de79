package swapchain

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"

	"vulkan-exercises/vkutil"
)

// Handles are opaque pointers on 64-bit platforms, so fresh allocations make
// perfectly good distinct fakes. The allocations are kept reachable so they
// land on the heap and stay there: a stack-allocated byte would hand out an
// address that the runtime rewrites when the goroutine stack moves.
var fakeHandleArena []*byte

func fakeHandle() unsafe.Pointer {
	b := new(byte)
	fakeHandleArena = append(fakeHandleArena, b)
	return unsafe.Pointer(b)
}

func fakeChain() vk.Swapchain {
	return vk.Swapchain(fakeHandle())
}

// requireHandles asserts got holds exactly the wanted handles in order.
// Vulkan handles are opaque cgo pointers that reflect based equality cannot
// walk, so they are compared with plain ==.
func requireHandles[H comparable](t *testing.T, want, got []H) {
	t.Helper()

	require.Len(t, got, len(want))
	for i := range want {
		require.True(t, want[i] == got[i], "handle %d differs", i)
	}
}

func fakeImage() vk.Image {
	return vk.Image(fakeHandle())
}

func fakeView() vk.ImageView {
	return vk.ImageView(fakeHandle())
}

// fakeDriver replaces every seam with an in-memory implementation that hands
// out the configured chain and images and records destructions.
type fakeDriver struct {
	support Support

	nextChains []vk.Swapchain
	nextImages [][]vk.Image

	createErr vk.Result

	destroyedChains []vk.Swapchain
	createdViews    []vk.ImageView
	destroyedViews  []vk.ImageView

	lastOldChain vk.Swapchain
}

func (d *fakeDriver) install(t *testing.T) {
	t.Helper()

	origQuerySupport := querySupport
	origCreate := createSwapchain
	origDestroy := destroySwapchain
	origImages := swapchainImages
	origCreateView := createImageView
	origDestroyView := destroyImageView
	t.Cleanup(func() {
		querySupport = origQuerySupport
		createSwapchain = origCreate
		destroySwapchain = origDestroy
		swapchainImages = origImages
		createImageView = origCreateView
		destroyImageView = origDestroyView
	})

	querySupport = func(vk.PhysicalDevice, vk.Surface) (Support, error) {
		return d.support, nil
	}

	createSwapchain = func(
		device vk.Device,
		createInfo *vk.SwapchainCreateInfo,
		allocator *vk.AllocationCallbacks,
		chain *vk.Swapchain,
	) vk.Result {
		d.lastOldChain = createInfo.OldSwapchain
		if d.createErr != vk.Success {
			return d.createErr
		}

		*chain = d.nextChains[0]
		d.nextChains = d.nextChains[1:]
		return vk.Success
	}

	destroySwapchain = func(device vk.Device, chain vk.Swapchain, allocator *vk.AllocationCallbacks) {
		d.destroyedChains = append(d.destroyedChains, chain)
	}

	swapchainImages = func(device vk.Device, chain vk.Swapchain) ([]vk.Image, error) {
		images := d.nextImages[0]
		d.nextImages = d.nextImages[1:]
		return images, nil
	}

	createImageView = func(
		device vk.Device, image vk.Image, format vk.Format, aspect vk.ImageAspectFlags,
	) (vk.ImageView, error) {
		view := fakeView()
		d.createdViews = append(d.createdViews, view)
		return view, nil
	}

	destroyImageView = func(device vk.Device, view vk.ImageView, allocator *vk.AllocationCallbacks) {
		d.destroyedViews = append(d.destroyedViews, view)
	}
}

func basicSupport(width, height uint32) Support {
	return Support{
		Capabilities: vk.SurfaceCapabilities{
			MinImageCount: 2,
			CurrentExtent: vk.Extent2D{Width: width, Height: height},
		},
		Formats: []vk.SurfaceFormat{
			{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []vk.PresentMode{vk.PresentModeFifo},
	}
}

func testConfig() Config {
	return Config{
		DrawableSize: func() (int, int) { return 800, 600 },
	}
}

func TestCreateOneViewPerImage(t *testing.T) {
	chain := fakeChain()
	images := []vk.Image{fakeImage(), fakeImage(), fakeImage()}

	driver := &fakeDriver{
		support:    basicSupport(800, 600),
		nextChains: []vk.Swapchain{chain},
		nextImages: [][]vk.Image{images},
	}
	driver.install(t)

	state, err := Create(testConfig(), vk.NullSwapchain)
	require.NoError(t, err)

	require.True(t, state.Chain == chain)
	require.Equal(t, vk.FormatB8g8r8a8Srgb, state.Format)
	requireHandles(t, images, state.Images)
	require.Len(t, state.Views, len(images))
	require.True(t, driver.lastOldChain == vk.NullSwapchain)
}

func TestRecreateHandsOverOldChain(t *testing.T) {
	oldChain := fakeChain()
	newChain := fakeChain()

	driver := &fakeDriver{
		support:    basicSupport(1024, 768),
		nextChains: []vk.Swapchain{oldChain, newChain},
		nextImages: [][]vk.Image{
			{fakeImage(), fakeImage()},
			{fakeImage(), fakeImage()},
		},
	}
	driver.install(t)

	cfg := testConfig()
	state, err := Create(cfg, vk.NullSwapchain)
	require.NoError(t, err)
	oldViews := append([]vk.ImageView(nil), state.Views...)

	driver.support = basicSupport(640, 480)
	changes, err := state.Recreate(cfg)
	require.NoError(t, err)

	require.True(t, driver.lastOldChain == oldChain)
	require.True(t, state.Chain == newChain)
	require.True(t, changes.Size)
	require.False(t, changes.Format)
	require.Equal(t, uint32(640), state.Extent.Width)
	require.Equal(t, uint32(480), state.Extent.Height)

	requireHandles(t, []vk.Swapchain{oldChain}, driver.destroyedChains)
	requireHandles(t, oldViews, driver.destroyedViews)
}

func TestRecreateReportsFormatChange(t *testing.T) {
	driver := &fakeDriver{
		support:    basicSupport(800, 600),
		nextChains: []vk.Swapchain{fakeChain(), fakeChain()},
		nextImages: [][]vk.Image{
			{fakeImage(), fakeImage()},
			{fakeImage(), fakeImage()},
		},
	}
	driver.install(t)

	cfg := testConfig()
	state, err := Create(cfg, vk.NullSwapchain)
	require.NoError(t, err)

	driver.support.Formats = []vk.SurfaceFormat{
		{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	changes, err := state.Recreate(cfg)
	require.NoError(t, err)

	require.True(t, changes.Format)
	require.False(t, changes.Size)
	require.Equal(t, vk.FormatR8g8b8a8Srgb, state.Format)
}

func TestRecreateWithoutSurfaceChangesReportsNothing(t *testing.T) {
	driver := &fakeDriver{
		support:    basicSupport(800, 600),
		nextChains: []vk.Swapchain{fakeChain(), fakeChain(), fakeChain()},
		nextImages: [][]vk.Image{
			{fakeImage(), fakeImage()},
			{fakeImage(), fakeImage()},
			{fakeImage(), fakeImage()},
		},
	}
	driver.install(t)

	cfg := testConfig()
	state, err := Create(cfg, vk.NullSwapchain)
	require.NoError(t, err)

	changes, err := state.Recreate(cfg)
	require.NoError(t, err)
	require.Equal(t, Changes{}, changes)

	changes, err = state.Recreate(cfg)
	require.NoError(t, err)
	require.Equal(t, Changes{}, changes)
	require.Equal(t, uint32(800), state.Extent.Width)
	require.Equal(t, uint32(600), state.Extent.Height)
	require.Equal(t, vk.FormatB8g8r8a8Srgb, state.Format)
}

func TestRecreateFailureKeepsOldChainUsable(t *testing.T) {
	oldChain := fakeChain()

	driver := &fakeDriver{
		support:    basicSupport(800, 600),
		nextChains: []vk.Swapchain{oldChain},
		nextImages: [][]vk.Image{{fakeImage(), fakeImage()}},
	}
	driver.install(t)

	cfg := testConfig()
	state, err := Create(cfg, vk.NullSwapchain)
	require.NoError(t, err)
	oldViews := append([]vk.ImageView(nil), state.Views...)
	oldImages := append([]vk.Image(nil), state.Images...)

	driver.createErr = vk.ErrorDeviceLost
	_, err = state.Recreate(cfg)
	require.Error(t, err)

	var vkErr *vkutil.Error
	require.ErrorAs(t, err, &vkErr)
	require.Equal(t, vk.ErrorDeviceLost, vkErr.Code)

	require.True(t, state.Chain == oldChain)
	requireHandles(t, oldImages, state.Images)
	requireHandles(t, oldViews, state.Views)
	require.Empty(t, driver.destroyedChains)
	require.Empty(t, driver.destroyedViews)
}

func TestDestroyIsIdempotent(t *testing.T) {
	driver := &fakeDriver{
		support:    basicSupport(800, 600),
		nextChains: []vk.Swapchain{fakeChain()},
		nextImages: [][]vk.Image{{fakeImage()}},
	}
	driver.install(t)

	state, err := Create(testConfig(), vk.NullSwapchain)
	require.NoError(t, err)

	var device vk.Device
	state.Destroy(device)
	state.Destroy(device)

	require.Len(t, driver.destroyedChains, 1)
	require.Len(t, driver.destroyedViews, 1)
	require.True(t, state.Chain == vk.NullSwapchain)
	require.Nil(t, state.Views)
}
