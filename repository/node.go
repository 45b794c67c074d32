// Package repository is a minimal in-memory configuration repository: a tree
// of named nodes with properties, loaded from a YAML, TOML or JSON document,
// and sessions to read it through.
package repository

import (
	"fmt"
	"path"
	"reflect"
	"slices"

	"github.com/golobby/cast"
	"github.com/hippocms/daemon"
)

// Node is an immutable configuration node.
type Node struct {
	name       string
	path       string
	properties map[string]any
	children   []*Node
}

// NewNode creates a detached node. Children added with AddChild get their
// paths from it.
func NewNode(name string, properties map[string]any) *Node {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	return &Node{name: name, path: "/" + name, properties: props}
}

// AddChild appends child and returns it. Meant for building trees before
// they are handed to a Repository.
func (n *Node) AddChild(child *Node) *Node {
	child.rebase(n.path)
	n.children = append(n.children, child)
	return child
}

func (n *Node) rebase(parent string) {
	n.path = path.Join(parent, n.name)
	for _, c := range n.children {
		c.rebase(n.path)
	}
}

func (n *Node) Name() string { return n.name }
func (n *Node) Path() string { return n.path }

func (n *Node) Property(name string) (any, bool) {
	v, ok := n.properties[name]
	return v, ok
}

func (n *Node) String(name, def string) string {
	v, ok := n.properties[name]
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (n *Node) Bool(name string, def bool) bool {
	v, ok := n.properties[name]
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	converted, err := cast.FromType(fmt.Sprint(v), reflect.TypeOf(def))
	if err != nil {
		return def
	}
	return converted.(bool)
}

func (n *Node) Int(name string, def int) int {
	v, ok := n.properties[name]
	if !ok {
		return def
	}
	switch i := v.(type) {
	case int:
		return i
	case int64:
		return int(i)
	case float64:
		if i == float64(int(i)) {
			return int(i)
		}
		return def
	}
	converted, err := cast.FromType(fmt.Sprint(v), reflect.TypeOf(def))
	if err != nil {
		return def
	}
	return converted.(int)
}

// PropertyNames returns the property names, sorted.
func (n *Node) PropertyNames() []string {
	names := make([]string, 0, len(n.properties))
	for k := range n.properties {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

func (n *Node) Child(name string) (daemon.ConfigNode, bool) {
	c := n.child(name)
	if c == nil {
		return nil, false
	}
	return c, true
}

func (n *Node) child(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *Node) Children() []daemon.ConfigNode {
	out := make([]daemon.ConfigNode, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}
