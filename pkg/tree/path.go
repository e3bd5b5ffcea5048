package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/orca-control/orca-go/pkg/wire"
)

// Path errors.
var (
	ErrNotFound     = errors.New("no such path")
	ErrReadOnly     = errors.New("path is read-only")
	ErrInvalidValue = errors.New("invalid value")
)

// PathError records the path an operation failed on.
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// SplitPath splits a slash-separated path into names. Leading, trailing and
// doubled slashes are ignored; an empty path is the root.
func SplitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// JoinPath joins names with slashes.
func JoinPath(parts ...string) string {
	return strings.Join(parts, "/")
}

func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return strings.TrimSuffix(parent, "/") + "/" + name
}

// Resolve walks path from n. Only branches have children; walking through a
// constant or leaf fails with ErrNotFound.
func (n *Node) Resolve(path string) (*Node, error) {
	cur := n
	for _, name := range SplitPath(path) {
		next, ok := cur.Child(name)
		if !ok {
			return nil, &PathError{Op: "resolve", Path: path, Err: ErrNotFound}
		}
		cur = next
	}
	return cur, nil
}

// Get reads the node at path.
func (n *Node) Get(path string) (any, error) {
	node, err := n.Resolve(path)
	if err != nil {
		return nil, &PathError{Op: "get", Path: path, Err: ErrNotFound}
	}
	return node.Value(), nil
}

// Set writes value at path. Setting a branch takes a mapping and writes
// each named child in branch order; every name must exist and be writable
// before anything is written.
func (n *Node) Set(ctx context.Context, path string, value any) error {
	node, err := n.Resolve(path)
	if err != nil {
		return &PathError{Op: "set", Path: path, Err: ErrNotFound}
	}
	return node.setValue(ctx, path, value)
}

func (n *Node) setValue(ctx context.Context, path string, value any) error {
	switch n.kind {
	case KindConstant:
		return &PathError{Op: "set", Path: path, Err: ErrReadOnly}

	case KindLeaf:
		if n.set == nil {
			return &PathError{Op: "set", Path: path, Err: ErrReadOnly}
		}
		return n.set(ctx, value)

	default:
		values, ok := wire.AsMap(value)
		if !ok {
			return &PathError{Op: "set", Path: path, Err: fmt.Errorf("%w: branch needs a mapping, got %T", ErrInvalidValue, value)}
		}
		for name := range values {
			child, ok := n.children[name]
			if !ok {
				return &PathError{Op: "set", Path: childPath(path, name), Err: ErrNotFound}
			}
			if !child.Writable() {
				return &PathError{Op: "set", Path: childPath(path, name), Err: ErrReadOnly}
			}
		}
		for _, name := range n.names {
			v, ok := values[name]
			if !ok {
				continue
			}
			if err := n.children[name].setValue(ctx, childPath(path, name), v); err != nil {
				return err
			}
		}
		return nil
	}
}

// Walk calls fn for every node below n in depth-first branch order, passing
// the slash-separated path relative to n. Returning an error stops the walk.
func (n *Node) Walk(fn func(path string, node *Node) error) error {
	return n.walk("", fn)
}

func (n *Node) walk(prefix string, fn func(string, *Node) error) error {
	for _, name := range n.names {
		child := n.children[name]
		p := childPath(prefix, name)
		if err := fn(p, child); err != nil {
			return err
		}
		if child.kind == KindBranch {
			if err := child.walk(p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
