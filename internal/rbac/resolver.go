package rbac

import (
	"strings"

	"github.com/pondok-erp/pondok-erp/internal/menu"
)

// DefaultSuperRole bypasses every check.
const DefaultSuperRole = "admin"

// Resolver computes capabilities against a fixed menu tree.
type Resolver struct {
	tree      *menu.Tree
	superRole string
	overrides []Override
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithSuperRole changes the bypass role.
func WithSuperRole(role string) Option {
	return func(r *Resolver) {
		if role = strings.TrimSpace(role); role != "" {
			r.superRole = role
		}
	}
}

// WithOverrides replaces the ownership exception table.
func WithOverrides(overrides []Override) Option {
	return func(r *Resolver) {
		r.overrides = append([]Override(nil), overrides...)
	}
}

// NewResolver constructs a Resolver.
func NewResolver(tree *menu.Tree, opts ...Option) *Resolver {
	r := &Resolver{
		tree:      tree,
		superRole: DefaultSuperRole,
		overrides: DefaultOverrides,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SuperRole returns the bypass role.
func (r *Resolver) SuperRole() string { return r.superRole }

// Resolve returns the edit and delete rights of user on routePath.
//
// The super role gets everything. A user with grants is judged by grants
// alone: no matching grant, or no page at routePath, denies both rights.
// Otherwise the first path segment must be owned by the user's role.
func (r *Resolver) Resolve(user UserRecord, routePath string) Capabilities {
	if user.Role == r.superRole {
		return Capabilities{CanEdit: true, CanDelete: true}
	}
	if len(user.Grants) > 0 {
		node, ok := r.tree.Leaf(routePath)
		if !ok {
			return Capabilities{}
		}
		grant, ok := matchGrant(user.Grants, node)
		if !ok {
			return Capabilities{}
		}
		return Capabilities{
			CanEdit:   grant.Access == AccessEdit || grant.Access == AccessFull,
			CanDelete: grant.Access == AccessFull,
		}
	}
	if r.owns(user.Role, moduleOf(routePath)) {
		return Capabilities{CanEdit: true, CanDelete: true}
	}
	return Capabilities{}
}

// Menu returns the part of the tree user may navigate.
func (r *Resolver) Menu(user UserRecord) []menu.Node {
	switch {
	case user.Role == r.superRole:
		return r.tree.Filter(func(menu.Node) bool { return true })
	case len(user.Grants) > 0:
		return r.tree.Filter(func(n menu.Node) bool {
			_, ok := matchGrant(user.Grants, n)
			return ok
		})
	default:
		return r.tree.Filter(func(n menu.Node) bool { return n.HasRole(user.Role) })
	}
}

func (r *Resolver) owns(role, module string) bool {
	if role == "" || module == "" {
		return false
	}
	if strings.ReplaceAll(role, "_", "-") == module {
		return true
	}
	for _, o := range r.overrides {
		if o.Module == module && o.allows(role) {
			return true
		}
	}
	return false
}

func matchGrant(grants []Grant, node menu.Node) (Grant, bool) {
	for _, g := range grants {
		if g.TargetID == string(node.ID) || g.TargetID == node.Label {
			return g, true
		}
	}
	return Grant{}, false
}

func moduleOf(routePath string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(routePath), "/")
	if i := strings.IndexAny(trimmed, "/?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
