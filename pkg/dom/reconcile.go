package dom

// Reconcile patches live so that it follows the source change from before to
// after. live must have the same structure as before; only character data
// may differ between them. Unchanged nodes are left alone, so observers see
// mutations for exactly what changed in the source.
func (d *Document) Reconcile(live, before, after *Node) error {
	if live == nil || before == nil || after == nil {
		return ErrShapeMismatch
	}
	if live.doc != d {
		return ErrWrongDocument
	}
	return d.reconcileChildren(live, before, after)
}

func (d *Document) reconcileChildren(live, before, after *Node) error {
	lc, bc, ac := live.Children(), before.Children(), after.Children()
	if len(lc) != len(bc) {
		return ErrShapeMismatch
	}

	shared := len(bc)
	if len(ac) < shared {
		shared = len(ac)
	}

	for i := 0; i < shared; i++ {
		l, b, a := lc[i], bc[i], ac[i]
		if !sameShape(l, b) {
			return ErrShapeMismatch
		}
		if !sameShape(b, a) {
			replacement, err := d.Import(a)
			if err != nil {
				return err
			}
			if err := d.ReplaceChild(live, replacement, l); err != nil {
				return err
			}
			continue
		}
		switch b.typ {
		case TextNode, CommentNode:
			if b.data != a.data {
				if err := d.SetData(l, a.data); err != nil {
					return err
				}
			}
		case ElementNode:
			if err := d.reconcileChildren(l, b, a); err != nil {
				return err
			}
		}
	}

	for i := shared; i < len(bc); i++ {
		if err := d.RemoveChild(live, lc[i]); err != nil {
			return err
		}
	}
	for i := shared; i < len(ac); i++ {
		added, err := d.Import(ac[i])
		if err != nil {
			return err
		}
		if err := d.AppendChild(live, added); err != nil {
			return err
		}
	}
	return nil
}

// sameShape compares node identity without character data or children.
func sameShape(a, b *Node) bool {
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case ElementNode, DoctypeNode:
		if a.tag != b.tag || a.namespace != b.namespace || len(a.attrs) != len(b.attrs) {
			return false
		}
		for i := range a.attrs {
			if a.attrs[i] != b.attrs[i] {
				return false
			}
		}
	}
	return true
}
