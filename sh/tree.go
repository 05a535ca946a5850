package sh

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// Tree groups facets under the texture they are drawn with and lists
// everything else at the top level.
func (s *Shape) Tree(name string) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s (%d records)", name, len(s.Records)))

	var texture treeprint.Tree
	for _, r := range s.Records {
		switch v := r.(type) {
		case *TextureRef:
			texture = tree.AddBranch(Describe(v))
		case *Facet:
			if texture != nil {
				texture.AddNode(Describe(v))
			} else {
				tree.AddNode(Describe(v))
			}
		case *JumpToFrame:
			frames := tree.AddBranch(Describe(v))
			for i := 0; i < v.NumFrames(); i++ {
				frames.AddNode(fmt.Sprintf("frame %d -> @%04X", i, v.TargetForFrame(i)))
			}
		default:
			tree.AddNode(Describe(v))
		}
	}
	if s.Err != nil {
		tree.AddMetaNode("error", s.Err.Error())
	}
	return tree
}
