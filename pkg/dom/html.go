package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse builds a document from HTML using the HTML5 parsing algorithm.
func Parse(r io.Reader) (*Document, error) {
	parsed, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse html: %w", err)
	}
	d := NewDocument()
	for c := parsed.FirstChild; c != nil; c = c.NextSibling {
		if n := d.fromHTML(c); n != nil {
			link(d.root, n, nil)
		}
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// ParseFragment parses s as the contents of context and returns detached
// nodes owned by d. A nil context parses as body content.
func (d *Document) ParseFragment(context *Node, s string) ([]*Node, error) {
	tag := "body"
	namespace := ""
	if context != nil && context.typ == ElementNode {
		tag = context.tag
		namespace = context.namespace
	}
	ctx := &html.Node{
		Type:      html.ElementNode,
		Data:      tag,
		DataAtom:  atom.Lookup([]byte(tag)),
		Namespace: namespace,
	}

	parsed, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	out := make([]*Node, 0, len(parsed))
	for _, p := range parsed {
		if n := d.fromHTML(p); n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

// Render serialises the document as HTML.
func (d *Document) Render(w io.Writer) error {
	return RenderNode(w, d.root)
}

// RenderNode serialises n and its subtree as HTML.
func RenderNode(w io.Writer, n *Node) error {
	if n == nil {
		return nil
	}
	if n.typ == DocumentNode {
		for c := n.firstChild; c != nil; c = c.nextSibling {
			if err := html.Render(w, toHTML(c)); err != nil {
				return fmt.Errorf("dom: render: %w", err)
			}
		}
		return nil
	}
	if err := html.Render(w, toHTML(n)); err != nil {
		return fmt.Errorf("dom: render: %w", err)
	}
	return nil
}

func (d *Document) fromHTML(h *html.Node) *Node {
	var n *Node
	switch h.Type {
	case html.ElementNode:
		n = &Node{typ: ElementNode, tag: h.Data, namespace: h.Namespace, doc: d}
	case html.TextNode, html.RawNode:
		return &Node{typ: TextNode, data: h.Data, doc: d}
	case html.CommentNode:
		return &Node{typ: CommentNode, data: h.Data, doc: d}
	case html.DoctypeNode:
		n = &Node{typ: DoctypeNode, tag: h.Data, doc: d}
	default:
		return nil
	}
	for _, a := range h.Attr {
		n.attrs = append(n.attrs, Attribute{Namespace: a.Namespace, Key: a.Key, Val: a.Val})
	}
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if child := d.fromHTML(c); child != nil {
			link(n, child, nil)
		}
	}
	return n
}

func toHTML(n *Node) *html.Node {
	h := &html.Node{}
	switch n.typ {
	case ElementNode:
		h.Type = html.ElementNode
		h.Data = n.tag
		h.Namespace = n.namespace
		if n.namespace == "" {
			h.DataAtom = atom.Lookup([]byte(n.tag))
		}
	case TextNode:
		h.Type = html.TextNode
		h.Data = n.data
	case CommentNode:
		h.Type = html.CommentNode
		h.Data = n.data
	case DoctypeNode:
		h.Type = html.DoctypeNode
		h.Data = n.tag
	case DocumentNode:
		h.Type = html.DocumentNode
	}
	for _, a := range n.attrs {
		h.Attr = append(h.Attr, html.Attribute{Namespace: a.Namespace, Key: a.Key, Val: a.Val})
	}
	for c := n.firstChild; c != nil; c = c.nextSibling {
		h.AppendChild(toHTML(c))
	}
	return h
}
