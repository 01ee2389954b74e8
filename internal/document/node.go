// Package document parses staged portal files into one generic structural
// tree, so category extraction code works identically over the XML and JSON
// renditions of the same logical content.
package document

import "sort"

// Kind tags the three node shapes.
type Kind int

// Node shapes.
const (
	KindScalar Kind = iota
	KindList
	KindMap
)

// textKey holds element text on map nodes that also carry attributes or
// children.
const textKey = "#text"

// Node is a tagged generic value: scalar text, an ordered list, or a map of
// named children. Map keys may repeat (XML siblings share a name); entries
// preserve document order per key. All accessors are safe on a nil receiver.
type Node struct {
	kind   Kind
	scalar string
	items  []*Node
	fields map[string][]*Node
	keys   []string
}

// NewScalar builds a scalar node.
func NewScalar(text string) *Node {
	return &Node{kind: KindScalar, scalar: text}
}

// NewList builds a list node.
func NewList(items ...*Node) *Node {
	return &Node{kind: KindList, items: items}
}

// NewMap builds an empty map node.
func NewMap() *Node {
	return &Node{kind: KindMap, fields: make(map[string][]*Node)}
}

// Add appends child under key, keeping first-seen key order.
func (n *Node) Add(key string, child *Node) {
	if n == nil || n.kind != KindMap {
		return
	}
	if _, seen := n.fields[key]; !seen {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = append(n.fields[key], child)
}

// Kind reports the node shape. A nil node is a scalar with empty text.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindScalar
	}
	return n.kind
}

// Text returns the scalar value. On map nodes it returns the element text
// stored alongside attributes, if any. List nodes have no text.
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	switch n.kind {
	case KindScalar:
		return n.scalar
	case KindMap:
		if vals := n.fields[textKey]; len(vals) > 0 {
			return vals[0].Text()
		}
	}
	return ""
}

// Get returns the first child stored under key.
func (n *Node) Get(key string) (*Node, bool) {
	if n == nil || n.kind != KindMap {
		return nil, false
	}
	vals := n.fields[key]
	if len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// All returns every child stored under key. When the single stored child is
// itself a list (the JSON rendition of repeated XML siblings) its items are
// returned instead, so iteration code is serialization-agnostic.
func (n *Node) All(key string) []*Node {
	if n == nil || n.kind != KindMap {
		return nil
	}
	vals := n.fields[key]
	if len(vals) == 1 && vals[0].Kind() == KindList {
		return vals[0].Items()
	}
	return vals
}

// Keys lists the map's keys in first-seen order.
func (n *Node) Keys() []string {
	if n == nil || n.kind != KindMap {
		return nil
	}
	return n.keys
}

// Items returns the list elements.
func (n *Node) Items() []*Node {
	if n == nil || n.kind != KindList {
		return nil
	}
	return n.items
}

// Len returns the list length or the map key count.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	switch n.kind {
	case KindList:
		return len(n.items)
	case KindMap:
		return len(n.keys)
	}
	return 0
}

// Find walks Get along path and reports whether every step resolved.
func (n *Node) Find(path ...string) (*Node, bool) {
	cur := n
	for _, key := range path {
		next, ok := cur.Get(key)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, cur != nil
}

// FindAll walks Get along the leading path segments and returns All of the
// final segment.
func (n *Node) FindAll(path ...string) []*Node {
	if len(path) == 0 {
		return nil
	}
	cur := n
	for _, key := range path[:len(path)-1] {
		next, ok := cur.Get(key)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur.All(path[len(path)-1])
}

// FindText resolves path and returns the node's trimmed-at-parse text, or ""
// when the path is absent.
func (n *Node) FindText(path ...string) string {
	node, ok := n.Find(path...)
	if !ok {
		return ""
	}
	return node.Text()
}

// sortKeys normalizes key order for trees built from unordered sources.
func (n *Node) sortKeys() {
	if n == nil || n.kind != KindMap {
		return
	}
	sort.Strings(n.keys)
}
