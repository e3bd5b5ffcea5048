// Package tree implements the attribute tree served to the management API.
//
// A tree is built from three node kinds: constants, leaves (a getter and an
// optional setter) and ordered branches. Paths are slash-separated names
// resolved from a root branch, e.g. "cameras/cam_a/config/exposure_time".
package tree

import (
	"context"
)

// Kind identifies a node variant.
type Kind uint8

const (
	// KindConstant holds a fixed value.
	KindConstant Kind = iota

	// KindLeaf reads through a getter and optionally writes through a setter.
	KindLeaf

	// KindBranch holds ordered named children.
	KindBranch
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindLeaf:
		return "leaf"
	case KindBranch:
		return "branch"
	default:
		return "unknown"
	}
}

// Getter returns a leaf's current value.
type Getter func() any

// Setter writes a leaf's value. Returned errors reach the caller of Set.
type Setter func(ctx context.Context, value any) error

// Node is a constant, a leaf or a branch.
type Node struct {
	kind Kind

	value any

	get Getter
	set Setter

	names    []string
	children map[string]*Node
}

// Constant returns a node that always reads v and cannot be written.
func Constant(v any) *Node {
	return &Node{kind: KindConstant, value: v}
}

// Leaf returns a read/write leaf. A nil get makes the leaf write-only
// (reads return nil); a nil set makes it read-only.
func Leaf(get Getter, set Setter) *Node {
	return &Node{kind: KindLeaf, get: get, set: set}
}

// ReadOnly returns a leaf without a setter.
func ReadOnly(get Getter) *Node {
	return Leaf(get, nil)
}

// WriteOnly returns a leaf without a getter.
func WriteOnly(set Setter) *Node {
	return Leaf(nil, set)
}

// NewBranch returns an empty branch.
func NewBranch() *Node {
	return &Node{kind: KindBranch, children: make(map[string]*Node)}
}

// Add attaches child under name and returns the branch. Re-adding a name
// replaces the child in place. Add panics on a non-branch receiver.
func (n *Node) Add(name string, child *Node) *Node {
	if n.kind != KindBranch {
		panic("tree: Add on " + n.kind.String())
	}
	if _, ok := n.children[name]; !ok {
		n.names = append(n.names, name)
	}
	n.children[name] = child
	return n
}

// Kind returns the node variant.
func (n *Node) Kind() Kind { return n.kind }

// Child returns a direct child of a branch.
func (n *Node) Child(name string) (*Node, bool) {
	if n.kind != KindBranch {
		return nil, false
	}
	c, ok := n.children[name]
	return c, ok
}

// Names returns a branch's child names in insertion order.
func (n *Node) Names() []string {
	return append([]string(nil), n.names...)
}

// Len returns the number of children of a branch.
func (n *Node) Len() int { return len(n.names) }

// Readable reports whether reading yields a real value.
func (n *Node) Readable() bool {
	return n.kind != KindLeaf || n.get != nil
}

// Writable reports whether the node accepts Set. Branches are writable
// when any descendant is.
func (n *Node) Writable() bool {
	switch n.kind {
	case KindLeaf:
		return n.set != nil
	case KindBranch:
		for _, name := range n.names {
			if n.children[name].Writable() {
				return true
			}
		}
	}
	return false
}

// Value reads the node. Branches read as nested map[string]any.
func (n *Node) Value() any {
	switch n.kind {
	case KindConstant:
		return n.value
	case KindLeaf:
		if n.get == nil {
			return nil
		}
		return n.get()
	default:
		out := make(map[string]any, len(n.names))
		for _, name := range n.names {
			out[name] = n.children[name].Value()
		}
		return out
	}
}
