package sh

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Fields returns the decoded payload of r keyed by field name.
func Fields(r Record) map[string]interface{} {
	switch v := r.(type) {
	case *Header:
		return map[string]interface{}{"raw": hexBytes(v.Raw)}
	case *Opaque:
		return map[string]interface{}{"raw": hexBytes(v.Raw)}
	case *Pad, *EndOfObject:
		return map[string]interface{}{}
	case *Trailer:
		return map[string]interface{}{"length": len(v.Raw)}
	case *TextureRef:
		return map[string]interface{}{"filename": v.Filename}
	case *SourceRef:
		return map[string]interface{}{"source": v.Source, "unk": v.Unk}
	case *VertexBuf:
		return map[string]interface{}{"flags": v.Flags, "verts": v.Verts}
	case *VertexNormal:
		return map[string]interface{}{"index": v.Index, "normal": v.Normal}
	case *Facet:
		f := map[string]interface{}{"flags": v.Flags.String(), "color": v.Color, "indices": v.Indices}
		if v.TexCoords != nil {
			f["texcoords"] = v.TexCoords
		}
		return f
	case *X86Code:
		return map[string]interface{}{"code": hexBytes(v.Code)}
	case *UnkBC:
		return map[string]interface{}{"flags": v.Flags, "raw": hexBytes(v.Raw)}
	case *Jump:
		return map[string]interface{}{"target": v.Target()}
	case *JumpIfNotShown:
		return map[string]interface{}{"target": v.Target()}
	case *JumpOnDetailLevel:
		return map[string]interface{}{"target": v.Target()}
	case *JumpToDamage:
		return map[string]interface{}{"target": v.Target()}
	case *JumpToLOD:
		return map[string]interface{}{"level": v.Level, "unk": v.Unk, "target": v.Target()}
	case *JumpToDetail:
		return map[string]interface{}{"level": v.Level, "target": v.Target()}
	case *JumpToFrame:
		targets := make([]int, v.NumFrames())
		for i := range targets {
			targets[i] = v.TargetForFrame(i)
		}
		return map[string]interface{}{"targets": targets}
	case *Unmask:
		return map[string]interface{}{"target": v.Target()}
	case *UnmaskWithTransform:
		return map[string]interface{}{"xform": v.Xform, "target": v.Target()}
	case *Unmask4:
		return map[string]interface{}{"target": v.Target()}
	case *UnmaskWithTransform4:
		return map[string]interface{}{"xform": v.Xform, "target": v.Target()}
	case *PtrToObjEnd:
		return map[string]interface{}{"target": v.Target()}
	default:
		panic(fmt.Sprintf("sh: unhandled record type %T", r))
	}
}

func hexBytes(b []byte) string {
	var sb strings.Builder
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}

// Describe renders r on a single line.
func Describe(r Record) string {
	head := fmt.Sprintf("@%04X %-20s", r.Offset(), r.Name())
	switch v := r.(type) {
	case *TextureRef:
		return fmt.Sprintf("%s %s", head, v.Filename)
	case *SourceRef:
		return fmt.Sprintf("%s %s", head, v.Source)
	case *VertexBuf:
		return fmt.Sprintf("%s slot=%d verts=%d", head, v.Flags, len(v.Verts))
	case *Facet:
		return fmt.Sprintf("%s flags=%s color=%d indices=%v", head, v.Flags, v.Color, v.Indices)
	case *X86Code:
		return fmt.Sprintf("%s %d bytes", head, len(v.Code))
	case *JumpToFrame:
		return fmt.Sprintf("%s frames=%d", head, v.NumFrames())
	case *JumpToLOD:
		return fmt.Sprintf("%s level=%d -> @%04X", head, v.Level, v.Target())
	case *JumpToDetail:
		return fmt.Sprintf("%s level=%d -> @%04X", head, v.Level, v.Target())
	case Branch:
		return fmt.Sprintf("%s -> @%04X", head, v.Target())
	case *Trailer:
		return fmt.Sprintf("%s %d bytes", head, len(v.Raw))
	default:
		return fmt.Sprintf("%s size=%d", head, r.Size())
	}
}

type recordJSON struct {
	Name   string                 `json:"name"`
	Offset int                    `json:"offset"`
	Size   int                    `json:"size"`
	Fields map[string]interface{} `json:"fields"`
}

// MarshalRecords encodes records as the JSON form used by golden files.
func MarshalRecords(records []Record) ([]byte, error) {
	out := make([]recordJSON, len(records))
	for i, r := range records {
		out[i] = recordJSON{Name: r.Name(), Offset: r.Offset(), Size: r.Size(), Fields: Fields(r)}
	}
	return json.MarshalIndent(out, "", "  ")
}

// Listing renders one Describe line per record.
func (s *Shape) Listing() string {
	var sb strings.Builder
	for _, r := range s.Records {
		sb.WriteString(Describe(r))
		sb.WriteByte('\n')
	}
	if s.Err != nil {
		fmt.Fprintf(&sb, "!! %v\n", s.Err)
	}
	return sb.String()
}
