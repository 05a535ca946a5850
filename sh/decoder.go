package sh

import (
	"fmt"

	"github.com/colorfulnotion/openfa/common"
	"github.com/colorfulnotion/openfa/log"
	"github.com/colorfulnotion/openfa/shaperrors"
)

type decodeFunc func(code []byte, off int) (Record, error)

var decoders = map[byte]decodeFunc{
	TagHeader:               decodeHeader,
	TagPad:                  decodePad,
	TagTextureRef:           decodeTextureRef,
	TagSourceRef:            decodeSourceRef,
	TagVertexBuf:            decodeVertexBuf,
	TagVertexNormal:         decodeVertexNormal,
	TagFacet:                decodeFacet,
	TagX86Code:              decodeX86Code,
	TagUnkBC:                decodeUnkBC,
	TagJump:                 decodeRel(func(r rel) Record { return &Jump{r} }),
	TagJumpIfNotShown:       decodeRel(func(r rel) Record { return &JumpIfNotShown{r} }),
	TagJumpOnDetailLevel:    decodeRel(func(r rel) Record { return &JumpOnDetailLevel{r} }),
	TagJumpToDamage:         decodeRel(func(r rel) Record { return &JumpToDamage{r} }),
	TagUnmask:               decodeRel(func(r rel) Record { return &Unmask{r} }),
	TagPtrToObjEnd:          decodeRel(func(r rel) Record { return &PtrToObjEnd{r} }),
	TagJumpToLOD:            decodeJumpToLOD,
	TagJumpToDetail:         decodeJumpToDetail,
	TagJumpToFrame:          decodeJumpToFrame,
	TagUnmaskWithTransform:  decodeUnmaskWithTransform,
	TagUnmask4:              decodeUnmask4,
	TagUnmaskWithTransform4: decodeUnmaskWithTransform4,
}

// DecodeCode splits code into records. Decoding stops at EndOfObject, with
// any remaining bytes kept as a Trailer, or at the end of code. On failure
// the records decoded before the bad one are returned with the error.
func DecodeCode(code []byte) ([]Record, error) {
	var out []Record
	off := 0
	for off < len(code) {
		tag := code[off]
		if tag == TagEndOfObject {
			out = append(out, &EndOfObject{base{tag: tag, offset: off, size: 1}})
			if off+1 < len(code) {
				rest := code[off+1:]
				out = append(out, &Trailer{base: base{tag: rest[0], offset: off + 1, size: len(rest)}, Raw: rest})
			}
			break
		}
		r, err := decodeOne(code, off)
		if err != nil {
			log.Debug(log.SHModule, "decode failed", "offset", off, "tag", fmt.Sprintf("0x%02X", tag), "err", err)
			return out, err
		}
		log.Trace(log.SHModule, "record", "offset", off, "name", r.Name(), "size", r.Size())
		out = append(out, r)
		off += r.Size()
	}
	return out, nil
}

func decodeOne(code []byte, off int) (Record, error) {
	tag := code[off]
	if size, ok := opaqueSizes[tag]; ok {
		if err := need(code, off, tag, size); err != nil {
			return nil, err
		}
		return &Opaque{base: base{tag: tag, offset: off, size: size}, Raw: code[off : off+size : off+size]}, nil
	}
	dec, ok := decoders[tag]
	if !ok {
		return nil, &shaperrors.RecordError{Err: shaperrors.ErrUnknownRecordTag, Offset: off, Tag: tag}
	}
	return dec(code, off)
}

func need(code []byte, off int, tag byte, n int) error {
	if off+n > len(code) {
		return &shaperrors.RecordError{Err: shaperrors.ErrRecordLengthOverflow, Offset: off, Tag: tag, Need: n, Have: len(code) - off}
	}
	return nil
}

func malformed(off int, tag byte, format string, args ...interface{}) error {
	return &shaperrors.RecordError{Err: shaperrors.ErrMalformedRecord, Offset: off, Tag: tag, Detail: fmt.Sprintf(format, args...)}
}

func decodeHeader(code []byte, off int) (Record, error) {
	if err := need(code, off, TagHeader, SizeHeader); err != nil {
		return nil, err
	}
	return &Header{base: base{tag: TagHeader, offset: off, size: SizeHeader}, Raw: code[off : off+SizeHeader : off+SizeHeader]}, nil
}

func decodePad(code []byte, off int) (Record, error) {
	return &Pad{base{tag: TagPad, offset: off, size: 1}}, nil
}

func decodeTextureRef(code []byte, off int) (Record, error) {
	if err := need(code, off, TagTextureRef, SizeTextureRef); err != nil {
		return nil, err
	}
	name, _, ok := common.CString(code[off+2:off+SizeTextureRef], 0)
	if !ok {
		return nil, malformed(off, TagTextureRef, "texture name is not terminated within the record")
	}
	return &TextureRef{base: base{tag: TagTextureRef, offset: off, size: SizeTextureRef}, Filename: name}, nil
}

func decodeSourceRef(code []byte, off int) (Record, error) {
	if err := need(code, off, TagSourceRef, 2); err != nil {
		return nil, err
	}
	name, n, ok := common.CString(code, off+2)
	if !ok {
		return nil, malformed(off, TagSourceRef, "source name runs off the end of code")
	}
	return &SourceRef{base: base{tag: TagSourceRef, offset: off, size: 2 + n}, Unk: code[off+1], Source: name}, nil
}

func decodeVertexBuf(code []byte, off int) (Record, error) {
	if err := need(code, off, TagVertexBuf, 6); err != nil {
		return nil, err
	}
	count, _ := common.ReadU16(code, off+2)
	flags, _ := common.ReadU16(code, off+4)
	size := 6 + 6*int(count)
	if err := need(code, off, TagVertexBuf, size); err != nil {
		return nil, err
	}
	vb := &VertexBuf{base: base{tag: TagVertexBuf, offset: off, size: size}, Flags: flags, Verts: make([][3]float32, count)}
	for i := range vb.Verts {
		for c := 0; c < 3; c++ {
			v, _ := common.ReadI16(code, off+6+6*i+2*c)
			vb.Verts[i][c] = float32(v)
		}
	}
	return vb, nil
}

func decodeVertexNormal(code []byte, off int) (Record, error) {
	if err := need(code, off, TagVertexNormal, SizeVertexNormal); err != nil {
		return nil, err
	}
	idx, _ := common.ReadU16(code, off+1)
	return &VertexNormal{
		base:   base{tag: TagVertexNormal, offset: off, size: SizeVertexNormal},
		Index:  idx,
		Normal: [3]int8{int8(code[off+3]), int8(code[off+4]), int8(code[off+5])},
		Unk:    code[off+6],
	}, nil
}

func decodeUnkBC(code []byte, off int) (Record, error) {
	if err := need(code, off, TagUnkBC, 4); err != nil {
		return nil, err
	}
	flags := code[off+2]
	size, ok := unkBCSizes[flags]
	if !ok {
		return nil, malformed(off, TagUnkBC, "unknown flags 0x%02X", flags)
	}
	if err := need(code, off, TagUnkBC, size); err != nil {
		return nil, err
	}
	return &UnkBC{base: base{tag: TagUnkBC, offset: off, size: size}, Flags: flags, Unk: code[off+3], Raw: code[off+4 : off+size : off+size]}, nil
}

func decodeRel(wrap func(rel) Record) decodeFunc {
	return func(code []byte, off int) (Record, error) {
		tag := code[off]
		if err := need(code, off, tag, SizeBranch); err != nil {
			return nil, err
		}
		d, _ := common.ReadI16(code, off+2)
		return wrap(rel{base: base{tag: tag, offset: off, size: SizeBranch}, Delta: d}), nil
	}
}

func decodeJumpToLOD(code []byte, off int) (Record, error) {
	if err := need(code, off, TagJumpToLOD, SizeJumpToLOD); err != nil {
		return nil, err
	}
	unk, _ := common.ReadU16(code, off+2)
	level, _ := common.ReadU16(code, off+4)
	d, _ := common.ReadI16(code, off+6)
	return &JumpToLOD{rel: rel{base: base{tag: TagJumpToLOD, offset: off, size: SizeJumpToLOD}, Delta: d}, Unk: unk, Level: level}, nil
}

func decodeJumpToDetail(code []byte, off int) (Record, error) {
	if err := need(code, off, TagJumpToDetail, SizeJumpToDetail); err != nil {
		return nil, err
	}
	level, _ := common.ReadU16(code, off+2)
	d, _ := common.ReadI16(code, off+4)
	return &JumpToDetail{rel: rel{base: base{tag: TagJumpToDetail, offset: off, size: SizeJumpToDetail}, Delta: d}, Level: level}, nil
}

func decodeJumpToFrame(code []byte, off int) (Record, error) {
	if err := need(code, off, TagJumpToFrame, 4); err != nil {
		return nil, err
	}
	count, _ := common.ReadU16(code, off+2)
	size := 4 + 2*int(count)
	if err := need(code, off, TagJumpToFrame, size); err != nil {
		return nil, err
	}
	j := &JumpToFrame{base: base{tag: TagJumpToFrame, offset: off, size: size}, Deltas: make([]int16, count)}
	for i := range j.Deltas {
		j.Deltas[i], _ = common.ReadI16(code, off+4+2*i)
	}
	return j, nil
}

func decodeUnmaskWithTransform(code []byte, off int) (Record, error) {
	if err := need(code, off, TagUnmaskWithTransform, SizeUnmaskWithTransform); err != nil {
		return nil, err
	}
	u := &UnmaskWithTransform{rel: rel{base: base{tag: TagUnmaskWithTransform, offset: off, size: SizeUnmaskWithTransform}}}
	u.Xform = ReadXform(code[off+2 : off+14])
	u.Delta, _ = common.ReadI16(code, off+14)
	return u, nil
}

func decodeUnmask4(code []byte, off int) (Record, error) {
	if err := need(code, off, TagUnmask4, SizeUnmask4); err != nil {
		return nil, err
	}
	d, _ := common.ReadU32(code, off+2)
	return &Unmask4{rel4{base: base{tag: TagUnmask4, offset: off, size: SizeUnmask4}, Delta: d}}, nil
}

func decodeUnmaskWithTransform4(code []byte, off int) (Record, error) {
	if err := need(code, off, TagUnmaskWithTransform4, SizeUnmaskWithTransform4); err != nil {
		return nil, err
	}
	u := &UnmaskWithTransform4{rel4: rel4{base: base{tag: TagUnmaskWithTransform4, offset: off, size: SizeUnmaskWithTransform4}}}
	u.Xform = ReadXform(code[off+2 : off+14])
	u.Delta, _ = common.ReadU32(code, off+14)
	return u, nil
}

// ReadXform decodes the six transform words t0 t1 t2 a0 a1 a2.
func ReadXform(buf []byte) [6]int16 {
	var x [6]int16
	for i := range x {
		x[i], _ = common.ReadI16(buf, 2*i)
	}
	return x
}
