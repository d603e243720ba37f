// Package node models the wire protocol's binary node tree: the
// untyped { tag, attrs, content } shape the transport frames, typed here
// as a closed set of constructors matching the stanza shapes §4.6
// enumerates. Encoding the tree to the actual binary-XML wire format is
// the transport's job — out of scope for this core.
package node

import "sort"

// Content is either Bytes, Children, or nil (empty element).
type Content interface {
	isContent()
}

// Bytes is a leaf byte payload, e.g. a <plaintext> body or ciphertext.
type Bytes []byte

func (Bytes) isContent() {}

// Children is a list of child nodes.
type Children []*Node

func (Children) isContent() {}

// Node is one element of the binary node tree.
type Node struct {
	Tag     string
	Attrs   map[string]string
	Content Content
}

// New creates a node with the given tag and attributes.
func New(tag string, attrs map[string]string) *Node {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Node{Tag: tag, Attrs: attrs}
}

// WithChildren sets the node's content to the given children and returns it.
func (n *Node) WithChildren(children ...*Node) *Node {
	n.Content = Children(children)
	return n
}

// WithBytes sets the node's content to a byte payload and returns it.
func (n *Node) WithBytes(b []byte) *Node {
	n.Content = Bytes(b)
	return n
}

// GetChildren returns the node's children, or nil if its content is not
// a Children value.
func (n *Node) GetChildren() []*Node {
	if n == nil {
		return nil
	}
	if c, ok := n.Content.(Children); ok {
		return []*Node(c)
	}
	return nil
}

// GetBytes returns the node's byte payload, or nil if its content is not
// a Bytes value.
func (n *Node) GetBytes() []byte {
	if n == nil {
		return nil
	}
	if b, ok := n.Content.(Bytes); ok {
		return []byte(b)
	}
	return nil
}

// GetChildrenByTag filters the node's direct children by tag.
func (n *Node) GetChildrenByTag(tag string) []*Node {
	var out []*Node
	for _, c := range n.GetChildren() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// AttrKeys returns the node's attribute keys in sorted order, for
// deterministic logging/diffing.
func (n *Node) AttrKeys() []string {
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
