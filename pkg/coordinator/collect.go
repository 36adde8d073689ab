package coordinator

import "github.com/polisai/gulfwatch/pkg/dom"

// collectTextUnits returns every text node under root, root included, in
// document order. The list is complete before any unit is modified.
// Comments, doctypes and their like are skipped.
func collectTextUnits(root *dom.Node) []*dom.Node {
	switch root.Type() {
	case dom.TextNode:
		return []*dom.Node{root}
	case dom.ElementNode, dom.DocumentNode:
	default:
		return nil
	}

	var units []*dom.Node
	n := root.FirstChild()
	for n != nil {
		if n.Type() == dom.TextNode {
			units = append(units, n)
		}
		if first := n.FirstChild(); first != nil {
			n = first
			continue
		}
		for n != nil && n != root {
			if next := n.NextSibling(); next != nil {
				n = next
				break
			}
			n = n.Parent()
		}
		if n == root {
			break
		}
	}
	return units
}
