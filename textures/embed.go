package textures

import "embed"

// FS contains all the textures used throughout the examples. It makes it possible
// to generate a binary and just copy it to another machine.
//
//go:embed checkerboard.png
//go:embed sprite.png
var FS embed.FS
