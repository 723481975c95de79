package shaders

import "embed"

//go:generate glslc scene.vert -o vert.spv
//go:generate glslc scene.frag -o frag.spv
//go:generate glslc sprite.frag -o sprite_frag.spv

// FS embed the vertex and fragnent shaders. Run `go generate` in order to compile
// them again.
//
//go:embed vert.spv
//go:embed frag.spv
//go:embed sprite_frag.spv
var FS embed.FS
