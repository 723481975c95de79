// Package models embeds the Wavefront OBJ meshes used by the examples and
// turns them into indexed vertex data ready for a GPU buffer.
package models

import (
	"fmt"
	"io"

	"github.com/mokiat/go-data-front/decoder/obj"
	"github.com/xlab/linmath"
)

// Vertex is one mesh corner as the vertex buffers lay it out.
type Vertex struct {
	Position linmath.Vec3
	TexCoord linmath.Vec2
}

// Mesh is an indexed triangle list. Corners shared between faces are
// deduplicated, so Indices refers into Vertices.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// Load reads one of the embedded OBJ models by file name.
func Load(name string) (*Mesh, error) {
	fh, err := FS.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening model %s: %w", name, err)
	}
	defer fh.Close()

	mesh, err := Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decoding model %s: %w", name, err)
	}

	return mesh, nil
}

// Decode parses OBJ data into a Mesh. Polygons are triangulated as fans and
// the V texture coordinate is flipped from the OBJ bottom-left origin to the
// Vulkan top-left one. Faces without texture coordinates get (0, 0).
func Decode(r io.Reader) (*Mesh, error) {
	decoder := obj.NewDecoder(obj.DefaultLimits())
	model, err := decoder.Decode(r)
	if err != nil {
		return nil, err
	}

	mesh := &Mesh{}
	seen := map[Vertex]uint32{}

	addCorner := func(ref obj.Reference) error {
		if ref.VertexIndex < 0 || int(ref.VertexIndex) >= len(model.Vertices) {
			return fmt.Errorf("face references vertex %d of %d", ref.VertexIndex, len(model.Vertices))
		}

		position := model.Vertices[ref.VertexIndex]
		vertex := Vertex{
			Position: linmath.Vec3{
				float32(position.X),
				float32(position.Y),
				float32(position.Z),
			},
		}

		if ref.HasTexCoord() {
			if int(ref.TexCoordIndex) >= len(model.TexCoords) {
				return fmt.Errorf("face references tex coord %d of %d", ref.TexCoordIndex, len(model.TexCoords))
			}

			texCoord := model.TexCoords[ref.TexCoordIndex]
			vertex.TexCoord = linmath.Vec2{
				float32(texCoord.U),
				1 - float32(texCoord.V),
			}
		}

		index, found := seen[vertex]
		if !found {
			index = uint32(len(mesh.Vertices))
			mesh.Vertices = append(mesh.Vertices, vertex)
			seen[vertex] = index
		}

		mesh.Indices = append(mesh.Indices, index)
		return nil
	}

	for _, object := range model.Objects {
		for _, face := range object.Meshes {
			for _, polygon := range face.Faces {
				refs := polygon.References
				if len(refs) < 3 {
					return nil, fmt.Errorf("face with %d corners", len(refs))
				}

				for i := 1; i < len(refs)-1; i++ {
					for _, corner := range [3]int{0, i, i + 1} {
						if err := addCorner(refs[corner]); err != nil {
							return nil, err
						}
					}
				}
			}
		}
	}

	return mesh, nil
}
