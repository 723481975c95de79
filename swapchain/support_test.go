package swapchain

import (
	"testing"

	"github.com/stretchr/testify/require"
	vk "github.com/vulkan-go/vulkan"
)

func TestSurfaceFormatPrefersSRGB(t *testing.T) {
	tests := []struct {
		name    string
		formats []vk.SurfaceFormat
		want    vk.Format
	}{
		{
			name: "rgba srgb wins",
			formats: []vk.SurfaceFormat{
				{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
				{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
			},
			want: vk.FormatR8g8b8a8Srgb,
		},
		{
			name: "bgra srgb accepted",
			formats: []vk.SurfaceFormat{
				{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
				{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
			},
			want: vk.FormatB8g8r8a8Srgb,
		},
		{
			name: "srgb format in wrong color space is skipped",
			formats: []vk.SurfaceFormat{
				{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceDisplayP3Nonlinear},
				{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
			},
			want: vk.FormatB8g8r8a8Srgb,
		},
		{
			name: "no srgb falls back to first reported",
			formats: []vk.SurfaceFormat{
				{Format: vk.FormatR16g16b16a16Sfloat, ColorSpace: vk.ColorSpaceSrgbNonlinear},
				{Format: vk.FormatA2b10g10r10UnormPack32, ColorSpace: vk.ColorSpaceSrgbNonlinear},
			},
			want: vk.FormatR16g16b16a16Sfloat,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			support := Support{Formats: test.formats}
			require.Equal(t, test.want, support.SurfaceFormat().Format)
		})
	}
}

func TestPresentModePrefersRelaxedFIFO(t *testing.T) {
	tests := []struct {
		name  string
		modes []vk.PresentMode
		want  vk.PresentMode
	}{
		{
			name:  "relaxed fifo wins over mailbox",
			modes: []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeFifoRelaxed, vk.PresentModeFifo},
			want:  vk.PresentModeFifoRelaxed,
		},
		{
			name:  "fifo fallback",
			modes: []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeFifo},
			want:  vk.PresentModeFifo,
		},
		{
			name:  "fifo even when unlisted",
			modes: []vk.PresentMode{vk.PresentModeImmediate},
			want:  vk.PresentModeFifo,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			support := Support{PresentModes: test.modes}
			require.Equal(t, test.want, support.PresentMode())
		})
	}
}

func TestImageCount(t *testing.T) {
	tests := []struct {
		name     string
		min, max uint32
		want     uint32
	}{
		{name: "at least double buffered", min: 1, max: 0, want: 2},
		{name: "one above minimum", min: 2, max: 0, want: 3},
		{name: "capped by maximum", min: 3, max: 3, want: 3},
		{name: "zero maximum means uncapped", min: 8, max: 0, want: 9},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			support := Support{
				Capabilities: vk.SurfaceCapabilities{
					MinImageCount: test.min,
					MaxImageCount: test.max,
				},
			}
			require.Equal(t, test.want, support.ImageCount())
		})
	}
}

func TestExtent(t *testing.T) {
	tests := []struct {
		name                 string
		current              vk.Extent2D
		min, max             vk.Extent2D
		drawableW, drawableH int
		want                 vk.Extent2D
	}{
		{
			name:      "surface extent used verbatim",
			current:   vk.Extent2D{Width: 800, Height: 600},
			min:       vk.Extent2D{Width: 1, Height: 1},
			max:       vk.Extent2D{Width: 4096, Height: 4096},
			drawableW: 1024, drawableH: 768,
			want: vk.Extent2D{Width: 800, Height: 600},
		},
		{
			name:      "undefined extent takes drawable size",
			current:   vk.Extent2D{Width: undefinedExtent, Height: undefinedExtent},
			min:       vk.Extent2D{Width: 1, Height: 1},
			max:       vk.Extent2D{Width: 4096, Height: 4096},
			drawableW: 1024, drawableH: 768,
			want: vk.Extent2D{Width: 1024, Height: 768},
		},
		{
			name:      "drawable size clamped to surface limits",
			current:   vk.Extent2D{Width: undefinedExtent, Height: undefinedExtent},
			min:       vk.Extent2D{Width: 200, Height: 200},
			max:       vk.Extent2D{Width: 640, Height: 480},
			drawableW: 1024, drawableH: 100,
			want: vk.Extent2D{Width: 640, Height: 200},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			support := Support{
				Capabilities: vk.SurfaceCapabilities{
					CurrentExtent:  test.current,
					MinImageExtent: test.min,
					MaxImageExtent: test.max,
				},
			}
			require.Equal(t, test.want, support.Extent(test.drawableW, test.drawableH))
		})
	}
}
