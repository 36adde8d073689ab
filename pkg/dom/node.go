package dom

import "strings"

// Node is a single node of a Document. Its links are managed by the owning
// document; callers read them through accessors and mutate through Document.
type Node struct {
	typ       NodeType
	tag       string
	namespace string
	attrs     []Attribute
	data      string

	doc         *Document
	parent      *Node
	firstChild  *Node
	lastChild   *Node
	prevSibling *Node
	nextSibling *Node
}

// Type returns the node kind.
func (n *Node) Type() NodeType { return n.typ }

// Tag returns the lowercase element name, or the doctype name for doctypes.
func (n *Node) Tag() string { return n.tag }

// Namespace returns the foreign-content namespace ("svg", "math") or "" for HTML.
func (n *Node) Namespace() string { return n.namespace }

// Data returns the character data of text and comment nodes.
func (n *Node) Data() string { return n.data }

// OwnerDocument returns the document that owns the node.
func (n *Node) OwnerDocument() *Document { return n.doc }

// Parent returns the parent node or nil when detached.
func (n *Node) Parent() *Node { return n.parent }

// FirstChild returns the first child or nil.
func (n *Node) FirstChild() *Node { return n.firstChild }

// LastChild returns the last child or nil.
func (n *Node) LastChild() *Node { return n.lastChild }

// NextSibling returns the following sibling or nil.
func (n *Node) NextSibling() *Node { return n.nextSibling }

// PrevSibling returns the preceding sibling or nil.
func (n *Node) PrevSibling() *Node { return n.prevSibling }

// Children returns a snapshot of the node's children.
func (n *Node) Children() []*Node {
	var out []*Node
	for c := n.firstChild; c != nil; c = c.nextSibling {
		out = append(out, c)
	}
	return out
}

// Attrs returns a copy of the element attributes.
func (n *Node) Attrs() []Attribute {
	if len(n.attrs) == 0 {
		return nil
	}
	out := make([]Attribute, len(n.attrs))
	copy(out, n.attrs)
	return out
}

// Attr returns the value of the named attribute in the HTML namespace.
func (n *Node) Attr(key string) (string, bool) {
	key = strings.ToLower(key)
	for _, a := range n.attrs {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Contains reports whether other is n or one of its descendants.
func (n *Node) Contains(other *Node) bool {
	for cur := other; cur != nil; cur = cur.parent {
		if cur == n {
			return true
		}
	}
	return false
}

// IsConnected reports whether the node is attached to its document root.
func (n *Node) IsConnected() bool {
	return n.doc != nil && n.doc.root.Contains(n)
}

// IsEditable reports whether the node is user-editable under HTML
// contenteditable inheritance: the nearest ancestor element carrying a valid
// contenteditable value decides.
func (n *Node) IsEditable() bool {
	for cur := n; cur != nil; cur = cur.parent {
		if editable, ok := cur.ContentEditable(); ok {
			return editable
		}
	}
	return false
}

// ContentEditable reports the node's own contenteditable state. ok is false
// when the node is not an element, has no attribute or carries an invalid
// value, in which case editability is inherited.
func (n *Node) ContentEditable() (editable, ok bool) {
	if n.typ != ElementNode {
		return false, false
	}
	v, present := n.Attr("contenteditable")
	if !present {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "true", "plaintext-only":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// TextContent returns the concatenated character data of all descendant text nodes.
func (n *Node) TextContent() string {
	switch n.typ {
	case TextNode, CommentNode:
		return n.data
	case DoctypeNode:
		return ""
	}
	var sb strings.Builder
	var walk func(*Node)
	walk = func(p *Node) {
		for c := p.firstChild; c != nil; c = c.nextSibling {
			switch c.typ {
			case TextNode:
				sb.WriteString(c.data)
			case ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return sb.String()
}
