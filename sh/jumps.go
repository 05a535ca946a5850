package sh

// Branch is a record that carries a relative byte offset into the stream.
// Deltas are measured from the end of the record.
type Branch interface {
	Record
	Target() int
}

type rel struct {
	base
	Delta int16
}

func (r rel) Target() int { return r.offset + r.size + int(r.Delta) }

// rel4 is rel with a 32-bit delta.
type rel4 struct {
	base
	Delta uint32
}

func (r rel4) Target() int { return r.offset + r.size + int(r.Delta) }

// Jump continues the stream at Target.
type Jump struct{ rel }

func (*Jump) Name() string { return "Jump" }

// JumpIfNotShown skips to Target when the object is hidden.
type JumpIfNotShown struct{ rel }

func (*JumpIfNotShown) Name() string { return "JumpIfNotShown" }

// JumpOnDetailLevel skips to Target when the viewer runs at low detail.
type JumpOnDetailLevel struct{ rel }

func (*JumpOnDetailLevel) Name() string { return "JumpOnDetailLevel" }

// JumpToDamage skips to the damaged model when drawing damage; otherwise
// Target marks where the intact model ends.
type JumpToDamage struct{ rel }

func (*JumpToDamage) Name() string { return "JumpToDamage" }

// JumpToLOD skips to Target when the viewer is farther than Level.
type JumpToLOD struct {
	rel
	Unk   uint16
	Level uint16
}

func (*JumpToLOD) Name() string { return "JumpToLOD" }

// JumpToDetail skips to Target when the configured detail equals Level.
type JumpToDetail struct {
	rel
	Level uint16
}

func (*JumpToDetail) Name() string { return "JumpToDetail" }

// Unmask ends a masked vertex region at Target.
type Unmask struct{ rel }

func (*Unmask) Name() string { return "Unmask" }

// UnmaskWithTransform is Unmask with a transform applied to the vertices
// loaded until Target. The transform bytes are rewritten by x86 code at
// runtime, so readers should prefer the interpreter's view of XformOffset.
type UnmaskWithTransform struct {
	rel
	Xform [6]int16
}

func (*UnmaskWithTransform) Name() string { return "UnmaskWithTransform" }

// XformOffset is the code offset of the six transform words.
func (u *UnmaskWithTransform) XformOffset() int { return u.offset + 2 }

// Unmask4 is Unmask with a 32-bit delta.
type Unmask4 struct{ rel4 }

func (*Unmask4) Name() string { return "Unmask4" }

// UnmaskWithTransform4 is UnmaskWithTransform with a 32-bit delta.
type UnmaskWithTransform4 struct {
	rel4
	Xform [6]int16
}

func (*UnmaskWithTransform4) Name() string { return "UnmaskWithTransform4" }

func (u *UnmaskWithTransform4) XformOffset() int { return u.offset + 2 }

// PtrToObjEnd points at the end of the current object.
type PtrToObjEnd struct{ rel }

func (*PtrToObjEnd) Name() string { return "PtrToObjEnd" }

// JumpToFrame selects one of several animation frames. Each table entry is
// relative to its own position in the record.
type JumpToFrame struct {
	base
	Deltas []int16
}

func (*JumpToFrame) Name() string { return "JumpToFrame" }

func (j *JumpToFrame) NumFrames() int { return len(j.Deltas) }

// TargetForFrame wraps frame around the table.
func (j *JumpToFrame) TargetForFrame(frame int) int {
	if len(j.Deltas) == 0 {
		return j.End()
	}
	i := frame % len(j.Deltas)
	if i < 0 {
		i += len(j.Deltas)
	}
	return j.offset + 4 + 2*i + int(j.Deltas[i])
}
