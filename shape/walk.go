package shape

import (
	"fmt"

	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/sh"
	"github.com/go-gl/mathgl/mgl32"
)

// maxWalkSteps bounds the records visited in one walk so a jump cycle in a
// malformed shape cannot spin forever.
const maxWalkSteps = 1 << 16

// Vertex is one corner of an output triangle. Color is a palette index;
// resolving it is the renderer's job.
type Vertex struct {
	Position mgl32.Vec3
	Color    uint8
	TexCoord [2]uint16
	Texture  string
}

// Normal is a vertex normal marker from a VertexNormal record.
type Normal struct {
	Position  mgl32.Vec3
	Direction mgl32.Vec3
}

// Mesh is the CPU-side geometry for one draw of a shape: a triangle list
// over Vertices.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
	Normals  []Normal
	// Textures in first-use order.
	Textures []string
	// Visited holds the offsets of the records the walk passed through.
	Visited []int
	// Skipped counts triangles dropped for referencing unloaded vertices.
	Skipped int
}

// Triangles is len(Indices)/3.
func (m *Mesh) Triangles() int { return len(m.Indices) / 3 }

type walker struct {
	sess  *Session
	state *DrawState
	mesh  *Mesh

	pool     []mgl32.Vec3
	unmasked map[int][6]float32
	masking  bool
	texture  string
	textures map[string]bool

	damageTarget int
	sectionClose int
}

// Walk follows the record stream under the session's DrawState, running x86
// fragments, taking LOD/detail/damage/frame branches, and assembling a Mesh.
func Walk(sess *Session) (*Mesh, error) {
	w := &walker{
		sess:         sess,
		state:        sess.State,
		mesh:         &Mesh{},
		unmasked:     make(map[int][6]float32),
		textures:     make(map[string]bool),
		damageTarget: -1,
		sectionClose: -1,
	}
	return w.mesh, w.run()
}

func (w *walker) jump(from sh.Record, target int) (int, error) {
	i, ok := w.sess.Shape.IndexOf(target)
	if !ok {
		return 0, fmt.Errorf("%s at 0x%04x: no record at target 0x%04x", from.Name(), from.Offset(), target)
	}
	log.Trace(log.WalkModule, "jump", "from", from.Offset(), "to", target)
	return i, nil
}

func (w *walker) run() error {
	records := w.sess.Shape.Records
	i := 0
	for steps := 0; i < len(records); steps++ {
		if steps >= maxWalkSteps {
			return fmt.Errorf("walk exceeded %d records; jump cycle at 0x%04x?", maxWalkSteps, records[i].Offset())
		}
		r := records[i]
		off := r.Offset()
		if off == w.sectionClose {
			log.Trace(log.WalkModule, "section close", "offset", off)
			return nil
		}
		if off == w.damageTarget && !w.state.Damaged {
			log.Trace(log.WalkModule, "damage section reached", "offset", off)
			return nil
		}
		w.mesh.Visited = append(w.mesh.Visited, off)

		next := i + 1
		var err error
		switch r := r.(type) {
		case *sh.X86Code:
			target, handedBack, rerr := w.sess.Run(r)
			if rerr != nil {
				return fmt.Errorf("x86 at 0x%04x: %w", off, rerr)
			}
			if !handedBack {
				return nil
			}
			next, err = w.jump(r, target)
		case *sh.Unmask:
			w.unmasked[r.Target()] = [6]float32{}
		case *sh.Unmask4:
			w.unmasked[r.Target()] = [6]float32{}
		case *sh.UnmaskWithTransform:
			w.unmasked[r.Target()] = w.liveXform(r.XformOffset())
		case *sh.UnmaskWithTransform4:
			w.unmasked[r.Target()] = w.liveXform(r.XformOffset())
		case *sh.TextureRef:
			w.texture = r.Filename
			if !w.textures[r.Filename] {
				w.textures[r.Filename] = true
				w.mesh.Textures = append(w.mesh.Textures, r.Filename)
			}
		case *sh.JumpToDamage:
			w.damageTarget = r.Target()
			if w.state.Damaged {
				next, err = w.jump(r, r.Target())
			}
		case *sh.JumpToLOD:
			if w.state.Closeness > int(r.Level) {
				w.sectionClose = r.Target()
			} else {
				next, err = w.jump(r, r.Target())
			}
		case *sh.JumpToDetail:
			if w.state.Detail == r.Level {
				next, err = w.jump(r, r.Target())
			} else {
				w.sectionClose = r.Target()
			}
		case *sh.JumpToFrame:
			next, err = w.jump(r, r.TargetForFrame(w.state.FrameNumber))
		case *sh.Jump:
			next, err = w.jump(r, r.Target())
		case *sh.EndOfObject:
			return nil
		case *sh.VertexBuf:
			w.loadVertices(r)
		case *sh.Facet:
			if !w.masking {
				w.addFacet(r)
			}
		case *sh.VertexNormal:
			if int(r.Index) < len(w.pool) {
				w.mesh.Normals = append(w.mesh.Normals, Normal{
					Position:  w.pool[r.Index],
					Direction: mgl32.Vec3{float32(r.Normal[0]), float32(-r.Normal[1]), float32(r.Normal[2])},
				})
			}
		}
		if err != nil {
			return err
		}
		i = next
	}
	return nil
}

// liveXform reads the transform words at off from the session's code, which
// x86 fragments may have rewritten in place.
func (w *walker) liveXform(off int) [6]float32 {
	var xf [6]float32
	for k, v := range sh.ReadXform(w.sess.Code()[off:]) {
		xf[k] = float32(v)
	}
	return xf
}

// vertexTransform places a buffer's vertices: rotation about Z by xf[5]/256
// radians followed by a translation of (xf[0], -xf[1], xf[2]).
func vertexTransform(xf [6]float32) mgl32.Mat4 {
	return mgl32.Translate3D(xf[0], -xf[1], xf[2]).Mul4(mgl32.HomogRotate3DZ(xf[5] / 256))
}

func (w *walker) loadVertices(buf *sh.VertexBuf) {
	var xf [6]float32
	switch u, ok := w.unmasked[buf.Offset()]; {
	case len(w.pool) == 0:
		w.masking = false
	case ok:
		w.masking = false
		xf = u
	default:
		w.masking = true
	}
	m := vertexTransform(xf)

	slot := buf.TargetSlot()
	if slot < len(w.pool) {
		w.pool = w.pool[:slot]
	} else {
		w.pool = append(w.pool, make([]mgl32.Vec3, slot-len(w.pool))...)
	}
	for _, v := range buf.Verts {
		p := m.Mul4x1(mgl32.Vec4{v[0], -v[2], v[1], 1})
		w.pool = append(w.pool, mgl32.Vec3{p.X(), p.Y(), -p.Z()})
	}
}

// addFacet emits the facet as a triangle fan around its first index.
func (w *walker) addFacet(f *sh.Facet) {
	haveTC := f.Flags.Has(sh.FacetHaveTexCoords) && len(f.TexCoords) == len(f.Indices)
	for k := 2; k < len(f.Indices); k++ {
		corners := [3]int{0, k - 1, k}
		ok := true
		for _, c := range corners {
			if int(f.Indices[c]) >= len(w.pool) {
				ok = false
			}
		}
		if !ok {
			w.mesh.Skipped++
			continue
		}
		for _, c := range corners {
			v := Vertex{
				Position: w.pool[f.Indices[c]],
				Color:    f.Color,
			}
			if haveTC {
				v.TexCoord = f.TexCoords[c]
				v.Texture = w.texture
			}
			w.mesh.Indices = append(w.mesh.Indices, uint32(len(w.mesh.Vertices)))
			w.mesh.Vertices = append(w.mesh.Vertices, v)
		}
	}
	if w.mesh.Skipped > 0 {
		log.Trace(log.WalkModule, "skipped triangles", "facet", f.Offset(), "total", w.mesh.Skipped)
	}
}
