package filter

import "github.com/polisai/gulfwatch/pkg/dom"

// Filter is the eligibility predicate for text units.
type Filter struct {
	excluded ExclusionSet
}

// New returns a Filter over the given exclusion set.
func New(excluded ExclusionSet) *Filter {
	return &Filter{excluded: excluded}
}

// Exclusions returns the filter's exclusion set.
func (f *Filter) Exclusions() ExclusionSet { return f.excluded }

// IsExcluded reports whether node must not be rewritten. Text nodes are
// checked from their parent, elements from themselves, up to the document
// root; the first excluded or editable ancestor decides. Editability
// follows the nearest contenteditable value, so once an ancestor settles it
// only tags are checked further up. Nodes without a parent chain are not
// excluded.
func (f *Filter) IsExcluded(node *dom.Node) bool {
	if node == nil {
		return false
	}
	start := node
	if node.Type() != dom.ElementNode {
		start = node.Parent()
	}
	editSettled := false
	for cur := start; cur != nil; cur = cur.Parent() {
		if cur.Type() != dom.ElementNode {
			continue
		}
		if f.excluded.Contains(cur.Tag()) {
			return true
		}
		if editSettled {
			continue
		}
		if editable, ok := cur.ContentEditable(); ok {
			if editable {
				return true
			}
			editSettled = true
		}
	}
	return false
}
