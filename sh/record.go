package sh

// Record is one element of a shape's instruction stream. The set of
// implementations is closed; switch on the concrete type.
type Record interface {
	Tag() byte
	Offset() int
	Size() int
	Name() string
	isRecord()
}

type base struct {
	tag    byte
	offset int
	size   int
}

func (b base) Tag() byte   { return b.tag }
func (b base) Offset() int { return b.offset }
func (b base) Size() int   { return b.size }
func (b base) End() int    { return b.offset + b.size }
func (base) isRecord()     {}

// Header opens every shape.
type Header struct {
	base
	Raw []byte
}

func (*Header) Name() string { return "Header" }

// Opaque is a fixed-size record whose payload is not interpreted.
type Opaque struct {
	base
	Raw []byte
}

func (o *Opaque) Name() string { return opaqueName(o.tag) }

// Pad is a single alignment byte.
type Pad struct{ base }

func (*Pad) Name() string { return "Pad" }

// TextureRef selects the texture used by following facets.
type TextureRef struct {
	base
	Filename string
}

func (*TextureRef) Name() string { return "TextureRef" }

// SourceRef names the source file the shape was built from.
type SourceRef struct {
	base
	Unk    byte
	Source string
}

func (*SourceRef) Name() string { return "SourceRef" }

// VertexBuf loads vertices into the vertex pool. Flags holds the pool slot
// the vertices are written to.
type VertexBuf struct {
	base
	Flags uint16
	Verts [][3]float32
}

func (*VertexBuf) Name() string { return "VertexBuf" }

// TargetSlot is the first vertex pool index the buffer fills.
func (v *VertexBuf) TargetSlot() int { return int(v.Flags) }

// VertexNormal attaches a normal to a pool vertex.
type VertexNormal struct {
	base
	Index  uint16
	Normal [3]int8
	Unk    byte
}

func (*VertexNormal) Name() string { return "VertexNormal" }

// X86Code carries a fragment of i386 machine code. The code starts two bytes
// into the record.
type X86Code struct {
	base
	Code []byte
}

func (*X86Code) Name() string { return "X86Code" }

// CodeOffset is the offset of the first instruction byte.
func (x *X86Code) CodeOffset() int { return x.offset + 2 }

// EndOfObject terminates the record stream.
type EndOfObject struct{ base }

func (*EndOfObject) Name() string { return "EndOfObject" }

// Trailer holds whatever follows EndOfObject: jump stubs and padding.
type Trailer struct {
	base
	Raw []byte
}

func (*Trailer) Name() string { return "Trailer" }

// UnkBC is variable length; its size is chosen by Flags.
type UnkBC struct {
	base
	Flags byte
	Unk   byte
	Raw   []byte
}

func (*UnkBC) Name() string { return "UnkBC" }
