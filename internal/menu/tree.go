// Package menu describes the navigation tree: the sections of the
// application, the pages inside them and the roles each page belongs to.
// A Tree is built once at startup and never changes afterwards.
package menu

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed menu.yaml
var defaultMenu []byte

// ErrInvalidTree indicates a malformed menu definition.
var ErrInvalidTree = errors.New("menu: invalid tree")

// RouteID identifies a node for grant matching: the page path for leaves,
// the " > "-joined label chain for grouping nodes.
type RouteID string

// Node is one entry of the navigation tree.
type Node struct {
	ID       RouteID  `json:"id" yaml:"-"`
	Label    string   `json:"label" yaml:"label"`
	Path     string   `json:"path,omitempty" yaml:"path"`
	Roles    []string `json:"roles,omitempty" yaml:"roles"`
	Children []Node   `json:"children,omitempty" yaml:"children"`
}

// IsLeaf reports whether the node is a page.
func (n Node) IsLeaf() bool { return n.Path != "" }

// HasRole reports whether role may see the page under role-based rules.
func (n Node) HasRole(role string) bool {
	if len(n.Roles) == 0 {
		return true
	}
	for _, r := range n.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Entry is a flattened view of a node.
type Entry struct {
	ID    RouteID `json:"id"`
	Label string  `json:"label"`
	Path  string  `json:"path,omitempty"`
	Depth int     `json:"depth"`
	Leaf  bool    `json:"leaf"`
}

// Tree is an immutable navigation tree.
type Tree struct {
	roots []Node
}

type document struct {
	Menu []Node `yaml:"menu"`
}

// Load reads the tree from path, or the built-in menu when path is empty.
func Load(path string) (*Tree, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultMenu)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("menu: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML menu document.
func Parse(data []byte) (*Tree, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("menu: decode: %w", err)
	}
	return NewTree(doc.Menu)
}

// NewTree validates roots and computes every node's RouteID. The input is
// copied; later changes to it do not affect the tree.
func NewTree(roots []Node) (*Tree, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no nodes", ErrInvalidTree)
	}
	built, err := buildNodes(roots, nil)
	if err != nil {
		return nil, err
	}
	return &Tree{roots: built}, nil
}

func buildNodes(nodes []Node, chain []string) ([]Node, error) {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		label := strings.TrimSpace(n.Label)
		if label == "" {
			return nil, fmt.Errorf("%w: node without label under %q", ErrInvalidTree, strings.Join(chain, " > "))
		}
		labels := append(append([]string(nil), chain...), label)
		node := Node{
			Label: label,
			Path:  strings.TrimSpace(n.Path),
			Roles: append([]string(nil), n.Roles...),
		}
		switch {
		case node.Path != "":
			if !strings.HasPrefix(node.Path, "/") {
				return nil, fmt.Errorf("%w: %s: path %q must start with /", ErrInvalidTree, label, node.Path)
			}
			if len(n.Children) > 0 {
				return nil, fmt.Errorf("%w: %s: page cannot have children", ErrInvalidTree, label)
			}
			node.ID = RouteID(node.Path)
		case len(n.Children) == 0:
			return nil, fmt.Errorf("%w: %s: section without pages", ErrInvalidTree, label)
		default:
			node.ID = RouteID(strings.Join(labels, " > "))
			children, err := buildNodes(n.Children, labels)
			if err != nil {
				return nil, err
			}
			node.Children = children
		}
		out = append(out, node)
	}
	return out, nil
}

// Roots returns a copy of the top-level nodes.
func (t *Tree) Roots() []Node {
	return copyNodes(t.roots)
}

// Walk visits nodes depth first in declaration order until fn returns false.
func (t *Tree) Walk(fn func(n Node, depth int) bool) {
	walk(t.roots, 0, fn)
}

func walk(nodes []Node, depth int, fn func(Node, int) bool) bool {
	for _, n := range nodes {
		if !fn(n, depth) {
			return false
		}
		if !walk(n.Children, depth+1, fn) {
			return false
		}
	}
	return true
}

// Leaf returns the first page, depth first, whose path equals path.
// Grouping nodes never match.
func (t *Tree) Leaf(path string) (Node, bool) {
	var (
		found Node
		ok    bool
	)
	t.Walk(func(n Node, _ int) bool {
		if n.IsLeaf() && n.Path == path {
			found, ok = n, true
			return false
		}
		return true
	})
	return found, ok
}

// Flatten lists every node depth first.
func (t *Tree) Flatten() []Entry {
	var out []Entry
	t.Walk(func(n Node, depth int) bool {
		out = append(out, Entry{ID: n.ID, Label: n.Label, Path: n.Path, Depth: depth, Leaf: n.IsLeaf()})
		return true
	})
	return out
}

// Filter returns the pages for which keep reports true, with the sections
// leading to them. Sections left without pages are dropped.
func (t *Tree) Filter(keep func(Node) bool) []Node {
	return filter(t.roots, keep)
}

func filter(nodes []Node, keep func(Node) bool) []Node {
	out := []Node{}
	for _, n := range nodes {
		if n.IsLeaf() {
			if keep(n) {
				out = append(out, copyNode(n))
			}
			continue
		}
		children := filter(n.Children, keep)
		if len(children) == 0 {
			continue
		}
		section := copyNode(n)
		section.Children = children
		out = append(out, section)
	}
	return out
}

func copyNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = copyNode(n)
	}
	return out
}

func copyNode(n Node) Node {
	n.Roles = append([]string(nil), n.Roles...)
	n.Children = copyNodes(n.Children)
	return n
}
