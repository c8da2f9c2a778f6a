package engine

import "github.com/roach88/finrules/internal/ir"

// Resolver reports whether a referenced entity still exists.
//
// Rules reference categories, accounts, payees and tags by id. When an
// entity is deleted the rule is left in place; conditions that reference it
// evaluate to false and actions that target it are skipped.
type Resolver interface {
	Exists(kind ir.RefKind, id string) bool
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(kind ir.RefKind, id string) bool

// Exists implements Resolver.
func (f ResolverFunc) Exists(kind ir.RefKind, id string) bool { return f(kind, id) }

// allExist is the default resolver: every id is assumed live.
type allExist struct{}

func (allExist) Exists(ir.RefKind, string) bool { return true }

// StaticResolver answers from a fixed set of known ids per kind.
// Kinds absent from the map are not checked.
type StaticResolver map[ir.RefKind]map[string]bool

// NewStaticResolver builds a StaticResolver from id lists.
func NewStaticResolver(known map[ir.RefKind][]string) StaticResolver {
	r := make(StaticResolver, len(known))
	for kind, ids := range known {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		r[kind] = set
	}
	return r
}

// Exists implements Resolver.
func (r StaticResolver) Exists(kind ir.RefKind, id string) bool {
	set, ok := r[kind]
	if !ok {
		return true
	}
	return set[id]
}

func refKindOf(f ir.Field) ir.RefKind {
	switch f {
	case ir.FieldCategory:
		return ir.RefCategory
	case ir.FieldAccount:
		return ir.RefAccount
	case ir.FieldPayee:
		return ir.RefPayee
	default:
		return ""
	}
}
