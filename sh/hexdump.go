package sh

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/openfa/common"
	"github.com/colorfulnotion/openfa/peimage"
)

const hexDumpWidth = 16

// HexDump renders code[start:end] sixteen bytes per row. Relocated spans are
// coloured by annotation kind and the byte at highlight, if any, is shown in
// bright red.
func HexDump(code []byte, start, end int, annotations []peimage.Annotation, highlight int, color bool) string {
	if start < 0 {
		start = 0
	}
	if end > len(code) {
		end = len(code)
	}
	colors := make(map[int]string)
	for _, a := range annotations {
		c := common.ColorCyan
		switch a.Kind {
		case peimage.RelocatedCall:
			c = common.ColorMagenta
		case peimage.RelocationTarget:
			c = common.ColorYellow
		}
		for i := a.Offset; i < a.Offset+a.Length; i++ {
			colors[i] = c
		}
	}

	var sb strings.Builder
	for row := start - start%hexDumpWidth; row < end; row += hexDumpWidth {
		fmt.Fprintf(&sb, "%06X:", row)
		for i := row; i < row+hexDumpWidth; i++ {
			if i < start || i >= end {
				sb.WriteString("   ")
				continue
			}
			cell := fmt.Sprintf(" %02X", code[i])
			switch {
			case !color && i == highlight:
				cell = fmt.Sprintf("[%02X", code[i])
			case color && i == highlight:
				cell = " " + common.ColorBrightRed + fmt.Sprintf("%02X", code[i]) + common.ColorReset
			case color && colors[i] != "":
				cell = " " + colors[i] + fmt.Sprintf("%02X", code[i]) + common.ColorReset
			}
			sb.WriteString(cell)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// FailureContext dumps the bytes around the offset at which decoding of s
// stopped, or returns "" when decoding succeeded.
func (s *Shape) FailureContext(color bool) string {
	if s.Err == nil {
		return ""
	}
	at := 0
	if n := len(s.Records); n > 0 {
		at = s.Records[n-1].Offset() + s.Records[n-1].Size()
	}
	return HexDump(s.Image.Code, at-2*hexDumpWidth, at+4*hexDumpWidth, s.Image.Annotations(), at, color)
}
