package sh

import (
	"fmt"
	"sort"

	"github.com/colorfulnotion/openfa/peimage"
)

// Shape is a decoded shape file: the image it came from and its records in
// stream order.
type Shape struct {
	Image   *peimage.CodeImage
	Records []Record
	// Err is set when decoding stopped early; Records holds the prefix.
	Err error

	byOffset map[int]int
}

// Decode splits the image's code section into records. The returned Shape is
// non-nil even on failure so callers can inspect the partial stream.
func Decode(img *peimage.CodeImage) (*Shape, error) {
	records, err := DecodeCode(img.Code)
	s := &Shape{Image: img, Records: records, Err: err}
	s.index()
	if err != nil {
		return s, fmt.Errorf("decode shape: %w", err)
	}
	return s, nil
}

// FromBytes loads an image and decodes it.
func FromBytes(data []byte) (*Shape, error) {
	img, err := peimage.FromBytes(data)
	if err != nil {
		return nil, err
	}
	return Decode(img)
}

func (s *Shape) index() {
	s.byOffset = make(map[int]int, len(s.Records))
	for i, r := range s.Records {
		s.byOffset[r.Offset()] = i
	}
}

// IndexOf maps a byte offset to the index of the record starting there.
func (s *Shape) IndexOf(offset int) (int, bool) {
	i, ok := s.byOffset[offset]
	return i, ok
}

// IndexContaining maps a byte offset to the record that covers it.
func (s *Shape) IndexContaining(offset int) (int, bool) {
	i := sort.Search(len(s.Records), func(i int) bool { return s.Records[i].Offset() > offset }) - 1
	if i < 0 || offset >= s.Records[i].Offset()+s.Records[i].Size() {
		return 0, false
	}
	return i, true
}

// RecordAt maps an address in the image to the record starting there.
func (s *Shape) RecordAt(vaddr uint32) (int, bool) {
	off, ok := s.Image.OffsetOf(vaddr)
	if !ok {
		return 0, false
	}
	return s.IndexOf(off)
}

// Textures lists texture names in first-use order without duplicates.
func (s *Shape) Textures() []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range s.Records {
		if t, ok := r.(*TextureRef); ok && !seen[t.Filename] {
			seen[t.Filename] = true
			out = append(out, t.Filename)
		}
	}
	return out
}

// X86Blocks returns the indices of every X86Code record.
func (s *Shape) X86Blocks() []int {
	var out []int
	for i, r := range s.Records {
		if _, ok := r.(*X86Code); ok {
			out = append(out, i)
		}
	}
	return out
}

// TagHistogram counts records by name.
func (s *Shape) TagHistogram() map[string]int {
	h := make(map[string]int)
	for _, r := range s.Records {
		h[r.Name()]++
	}
	return h
}

// CheckContiguous verifies that records tile the decoded prefix of code.
func CheckContiguous(records []Record) error {
	next := 0
	for i, r := range records {
		if r.Offset() != next {
			return fmt.Errorf("record %d (%s) at 0x%x, expected 0x%x", i, r.Name(), r.Offset(), next)
		}
		next = r.Offset() + r.Size()
	}
	return nil
}
