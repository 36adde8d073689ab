package dom

import "errors"

var (
	// ErrHierarchy indicates an insertion that would produce an invalid tree.
	ErrHierarchy = errors.New("dom: hierarchy request error")
	// ErrWrongDocument indicates a node owned by another document.
	ErrWrongDocument = errors.New("dom: node belongs to a different document")
	// ErrNotFound indicates a reference node that is not a child of the given parent.
	ErrNotFound = errors.New("dom: node is not a child of parent")
	// ErrNotCharacterData indicates SetData on a node without character data.
	ErrNotCharacterData = errors.New("dom: node has no character data")
	// ErrInvalidOptions indicates an observer registration that observes nothing.
	ErrInvalidOptions = errors.New("dom: invalid observe options")
	// ErrShapeMismatch indicates a live tree that diverged structurally from its source.
	ErrShapeMismatch = errors.New("dom: live tree does not match source tree")
)

// NodeType identifies the kind of a Node.
type NodeType uint8

// Node kinds.
const (
	DocumentNode NodeType = iota + 1
	ElementNode
	TextNode
	CommentNode
	DoctypeNode
)

func (t NodeType) String() string {
	switch t {
	case DocumentNode:
		return "document"
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	case CommentNode:
		return "comment"
	case DoctypeNode:
		return "doctype"
	default:
		return "unknown"
	}
}

// Attribute is an element attribute.
type Attribute struct {
	Namespace string
	Key       string
	Val       string
}
