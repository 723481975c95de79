package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xlab/linmath"
)

const quadOBJ = `
v -1 0 -1
v 1 0 -1
v 1 0 1
v -1 0 1
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 2/2 3/3 4/4
`

func TestDecodeTriangulatesQuads(t *testing.T) {
	mesh, err := Decode(strings.NewReader(quadOBJ))
	require.NoError(t, err)

	require.Len(t, mesh.Vertices, 4)
	require.Equal(t, []uint32{0, 1, 2, 0, 2, 3}, mesh.Indices)
}

func TestDecodeDeduplicatesSharedCorners(t *testing.T) {
	const twoTriangles = `
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vt 0 0
vt 1 0
vt 1 1
vt 0 1
f 1/1 2/2 3/3
f 1/1 3/3 4/4
`

	mesh, err := Decode(strings.NewReader(twoTriangles))
	require.NoError(t, err)

	require.Len(t, mesh.Vertices, 4)
	require.Len(t, mesh.Indices, 6)
}

func TestDecodeFlipsV(t *testing.T) {
	mesh, err := Decode(strings.NewReader(quadOBJ))
	require.NoError(t, err)

	require.Equal(t, linmath.Vec2{0, 1}, mesh.Vertices[0].TexCoord)
	require.Equal(t, linmath.Vec2{1, 0}, mesh.Vertices[2].TexCoord)
}

func TestLoadEmbeddedModels(t *testing.T) {
	for _, name := range []string{"plane.obj", "sprite.obj"} {
		t.Run(name, func(t *testing.T) {
			mesh, err := Load(name)
			require.NoError(t, err)
			require.NotEmpty(t, mesh.Vertices)
			require.Zero(t, len(mesh.Indices)%3)
		})
	}
}
