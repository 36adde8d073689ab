package dom

import (
	"fmt"
	"strings"
)

// Document is a live node tree with a mutation feed.
type Document struct {
	root      *Node
	observers []*Observer
}

// NewDocument returns an empty document with only its root node.
func NewDocument() *Document {
	d := &Document{}
	d.root = &Node{typ: DocumentNode, doc: d}
	return d
}

// Root returns the document node.
func (d *Document) Root() *Node { return d.root }

// DocumentElement returns the first element child of the document node.
func (d *Document) DocumentElement() *Node {
	for c := d.root.firstChild; c != nil; c = c.nextSibling {
		if c.typ == ElementNode {
			return c
		}
	}
	return nil
}

// Body returns the body element, or nil while the document has none.
func (d *Document) Body() *Node {
	el := d.DocumentElement()
	if el == nil {
		return nil
	}
	for c := el.firstChild; c != nil; c = c.nextSibling {
		if c.typ == ElementNode && c.namespace == "" && (c.tag == "body" || c.tag == "frameset") {
			return c
		}
	}
	return nil
}

// ElementsByTag returns every element with the given tag in document order.
func (d *Document) ElementsByTag(tag string) []*Node {
	tag = strings.ToLower(tag)
	var out []*Node
	var walk func(*Node)
	walk = func(p *Node) {
		for c := p.firstChild; c != nil; c = c.nextSibling {
			if c.typ != ElementNode {
				continue
			}
			if c.tag == tag {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// NewElement creates a detached element owned by d.
func (d *Document) NewElement(tag string, attrs ...Attribute) *Node {
	n := &Node{typ: ElementNode, tag: strings.ToLower(tag), doc: d}
	for _, a := range attrs {
		a.Key = strings.ToLower(a.Key)
		n.attrs = append(n.attrs, a)
	}
	return n
}

// NewText creates a detached text node owned by d.
func (d *Document) NewText(data string) *Node {
	return &Node{typ: TextNode, data: data, doc: d}
}

// NewComment creates a detached comment node owned by d.
func (d *Document) NewComment(data string) *Node {
	return &Node{typ: CommentNode, data: data, doc: d}
}

// NewDoctype creates a detached doctype node owned by d.
func (d *Document) NewDoctype(name string) *Node {
	return &Node{typ: DoctypeNode, tag: name, doc: d}
}

// AppendChild appends child to parent, moving it first if it is attached elsewhere.
func (d *Document) AppendChild(parent, child *Node) error {
	return d.InsertBefore(parent, child, nil)
}

// InsertBefore inserts child before ref under parent. A nil ref appends.
func (d *Document) InsertBefore(parent, child, ref *Node) error {
	if err := d.checkInsert(parent, child); err != nil {
		return err
	}
	if ref != nil && ref.parent != parent {
		return ErrNotFound
	}
	if ref == child {
		ref = child.nextSibling
	}

	d.detachWithRecord(child)
	link(parent, child, ref)
	d.record(Record{Type: ChildList, Target: parent, Added: []*Node{child}})
	return nil
}

// RemoveChild detaches child from parent.
func (d *Document) RemoveChild(parent, child *Node) error {
	if parent == nil || child == nil {
		return fmt.Errorf("%w: nil node", ErrHierarchy)
	}
	if child.parent != parent {
		return ErrNotFound
	}
	unlink(child)
	d.record(Record{Type: ChildList, Target: parent, Removed: []*Node{child}})
	return nil
}

// ReplaceChild puts newChild in the place of oldChild under parent.
func (d *Document) ReplaceChild(parent, newChild, oldChild *Node) error {
	if err := d.checkInsert(parent, newChild); err != nil {
		return err
	}
	if oldChild == nil || oldChild.parent != parent {
		return ErrNotFound
	}
	if newChild == oldChild {
		return nil
	}

	ref := oldChild.nextSibling
	if ref == newChild {
		ref = newChild.nextSibling
	}
	d.detachWithRecord(newChild)
	unlink(oldChild)
	link(parent, newChild, ref)
	d.record(Record{Type: ChildList, Target: parent, Added: []*Node{newChild}, Removed: []*Node{oldChild}})
	return nil
}

// SetData replaces the character data of a text or comment node. A record is
// emitted even when the value does not change.
func (d *Document) SetData(n *Node, data string) error {
	if n == nil || (n.typ != TextNode && n.typ != CommentNode) {
		return ErrNotCharacterData
	}
	if n.doc != d {
		return ErrWrongDocument
	}
	old := n.data
	n.data = data
	d.record(Record{Type: CharacterData, Target: n, OldValue: old})
	return nil
}

// SetAttr sets an attribute in the HTML namespace of an element.
func (d *Document) SetAttr(n *Node, key, val string) error {
	if n == nil || n.typ != ElementNode {
		return fmt.Errorf("%w: attributes require an element", ErrHierarchy)
	}
	if n.doc != d {
		return ErrWrongDocument
	}
	key = strings.ToLower(key)
	old := ""
	found := false
	for i := range n.attrs {
		if n.attrs[i].Namespace == "" && n.attrs[i].Key == key {
			old = n.attrs[i].Val
			n.attrs[i].Val = val
			found = true
			break
		}
	}
	if !found {
		n.attrs = append(n.attrs, Attribute{Key: key, Val: val})
	}
	d.record(Record{Type: Attributes, Target: n, AttributeName: key, OldValue: old})
	return nil
}

// Import returns a deep copy of n owned by d. Document nodes cannot be imported.
func (d *Document) Import(n *Node) (*Node, error) {
	if n == nil || n.typ == DocumentNode {
		return nil, fmt.Errorf("%w: cannot import a document node", ErrHierarchy)
	}
	return d.clone(n), nil
}

func (d *Document) clone(n *Node) *Node {
	c := &Node{
		typ:       n.typ,
		tag:       n.tag,
		namespace: n.namespace,
		attrs:     n.Attrs(),
		data:      n.data,
		doc:       d,
	}
	for child := n.firstChild; child != nil; child = child.nextSibling {
		link(c, d.clone(child), nil)
	}
	return c
}

func (d *Document) checkInsert(parent, child *Node) error {
	if parent == nil || child == nil {
		return fmt.Errorf("%w: nil node", ErrHierarchy)
	}
	if parent.doc != d || child.doc != d {
		return ErrWrongDocument
	}
	if parent.typ != ElementNode && parent.typ != DocumentNode {
		return fmt.Errorf("%w: %s nodes cannot have children", ErrHierarchy, parent.typ)
	}
	if child.typ == DocumentNode {
		return fmt.Errorf("%w: document nodes cannot be inserted", ErrHierarchy)
	}
	if child.Contains(parent) {
		return fmt.Errorf("%w: node would become its own ancestor", ErrHierarchy)
	}
	return nil
}

func (d *Document) detachWithRecord(n *Node) {
	old := n.parent
	if old == nil {
		return
	}
	unlink(n)
	d.record(Record{Type: ChildList, Target: old, Removed: []*Node{n}})
}

func link(parent, child, ref *Node) {
	child.parent = parent
	if ref == nil {
		child.prevSibling = parent.lastChild
		if parent.lastChild != nil {
			parent.lastChild.nextSibling = child
		} else {
			parent.firstChild = child
		}
		parent.lastChild = child
		return
	}
	child.nextSibling = ref
	child.prevSibling = ref.prevSibling
	if ref.prevSibling != nil {
		ref.prevSibling.nextSibling = child
	} else {
		parent.firstChild = child
	}
	ref.prevSibling = child
}

func unlink(n *Node) {
	p := n.parent
	if p == nil {
		return
	}
	if n.prevSibling != nil {
		n.prevSibling.nextSibling = n.nextSibling
	} else {
		p.firstChild = n.nextSibling
	}
	if n.nextSibling != nil {
		n.nextSibling.prevSibling = n.prevSibling
	} else {
		p.lastChild = n.prevSibling
	}
	n.parent = nil
	n.prevSibling = nil
	n.nextSibling = nil
}
