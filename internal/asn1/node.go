// Package asn1 provides the generic tagged tree used to represent decoded
// and outgoing ASN.1 objects.
package asn1

import (
	"fmt"

	"github.com/geekxflood/proteus/internal/types"
)

// Ownership describes who owns the content buffer of a primitive node.
type Ownership int

const (
	// Borrowed content is a slice of a decode input buffer.
	Borrowed Ownership = iota
	// Owned content is an exclusive copy held by the node.
	Owned
)

func (o Ownership) String() string {
	switch o {
	case Borrowed:
		return "borrowed"
	case Owned:
		return "owned"
	default:
		return fmt.Sprintf("Ownership(%d)", int(o))
	}
}

// Node is one ASN.1 object. A node is constructed iff its tag has bit 0x20
// set; constructed nodes own an ordered list of children, primitive nodes
// carry content bytes.
type Node struct {
	tag      byte
	parent   *Node
	size     int
	children []*Node

	data      []byte
	ownership Ownership
}

// NewNode creates a node and, when parent is non-nil, appends it to the
// parent's children. The parent must be constructed.
//
// For primitive tags, Owned content is copied into a buffer exclusive to the
// node and Borrowed content is kept as a capacity-clipped slice. Constructed
// tags take no content.
func NewNode(parent *Node, tag byte, data []byte, ownership Ownership) (*Node, error) {
	if parent != nil && !parent.IsConstructed() {
		return nil, fmt.Errorf("parent tag 0x%02x is not constructed: %w", parent.tag, types.ErrInvalidArgument)
	}

	n := &Node{tag: tag, ownership: Owned}
	if n.IsConstructed() {
		if len(data) > 0 {
			return nil, fmt.Errorf("constructed tag 0x%02x cannot carry content: %w", tag, types.ErrInvalidArgument)
		}
	} else {
		switch ownership {
		case Owned:
			n.data = make([]byte, len(data))
			copy(n.data, data)
		case Borrowed:
			n.data = data[:len(data):len(data)]
			n.ownership = Borrowed
		default:
			return nil, fmt.Errorf("unknown ownership %d: %w", ownership, types.ErrInvalidArgument)
		}
	}

	if parent != nil {
		parent.appendChild(n)
	}
	return n, nil
}

// MustNewNode is like NewNode but panics on error.
func MustNewNode(parent *Node, tag byte, data []byte, ownership Ownership) *Node {
	n, err := NewNode(parent, tag, data, ownership)
	if err != nil {
		panic(err)
	}
	return n
}

// Attach appends a pre-built node or subtree to parent.
func Attach(parent, node *Node) error {
	if parent == nil || node == nil {
		return fmt.Errorf("attach requires a parent and a node: %w", types.ErrInvalidArgument)
	}
	if !parent.IsConstructed() {
		return fmt.Errorf("parent tag 0x%02x is not constructed: %w", parent.tag, types.ErrInvalidArgument)
	}
	if node.parent != nil {
		return fmt.Errorf("node already has a parent: %w", types.ErrInvalidArgument)
	}
	for p := parent; p != nil; p = p.parent {
		if p == node {
			return fmt.Errorf("attach would create a cycle: %w", types.ErrInvalidArgument)
		}
	}
	parent.appendChild(node)
	return nil
}

func (n *Node) appendChild(child *Node) {
	child.parent = n
	n.children = append(n.children, child)
	n.invalidate()
}

// invalidate clears the memoized size of n and its ancestors.
func (n *Node) invalidate() {
	for p := n; p != nil; p = p.parent {
		p.size = 0
	}
}

// CopyLeaf returns a detached deep copy of a primitive node with owned content.
func CopyLeaf(node *Node) (*Node, error) {
	if node == nil {
		return nil, fmt.Errorf("copy of nil node: %w", types.ErrInvalidArgument)
	}
	if node.IsConstructed() {
		return nil, fmt.Errorf("cannot copy constructed tag 0x%02x as a leaf: %w", node.tag, types.ErrInvalidArgument)
	}
	return NewNode(nil, node.tag, node.data, Owned)
}

// Traverse walks the tree in pre-order and stops at the first error fn returns.
func Traverse(root *Node, fn func(*Node) error) error {
	if root == nil {
		return nil
	}
	if err := fn(root); err != nil {
		return err
	}
	for _, child := range root.children {
		if err := Traverse(child, fn); err != nil {
			return err
		}
	}
	return nil
}

// Release tears the tree below root down. Children are detached and owned
// content is dropped; borrowed content is left untouched. The root node
// itself stays usable as an empty node.
func Release(root *Node) {
	if root == nil {
		return
	}
	for _, child := range root.children {
		Release(child)
		child.parent = nil
	}
	root.children = nil
	if root.ownership == Owned {
		clear(root.data)
	}
	root.data = nil
	root.size = 0
}

// Tag returns the node's tag byte.
func (n *Node) Tag() byte { return n.tag }

// IsConstructed reports whether the node holds children rather than content.
func (n *Node) IsConstructed() bool { return types.IsConstructed(n.tag) }

// Parent returns the enclosing node, or nil at the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the node's children in stored order.
// The returned slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// NumChildren returns the number of children.
func (n *Node) NumChildren() int { return len(n.children) }

// Child returns the i-th child, or nil when out of range.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// Data returns the content bytes of a primitive node.
func (n *Node) Data() []byte { return n.data }

// Ownership returns whether the content is borrowed or owned.
func (n *Node) Ownership() Ownership { return n.ownership }

// EncodedSize returns the memoized full encoding size (tag, length field and
// content). It is zero until a size pass has run and after any mutation.
func (n *Node) EncodedSize() int { return n.size }

// SetEncodedSize records the result of a size pass.
func (n *Node) SetEncodedSize(size int) { n.size = size }

// Equal reports whether two trees have the same tags, content and child order.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.tag != b.tag || len(a.children) != len(b.children) || len(a.data) != len(b.data) {
		return false
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	for i := range a.children {
		if !Equal(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}
