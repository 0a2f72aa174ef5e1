// Package loader implements template instantiation: materializing a
// pattern of triples into concrete graph elements against a running
// storage.Storage, resolving named variables at most once per load.
//
// This walks a data-driven template of named nodes and connecting
// arcs into node/arc calls, instead of a fixed JSON shape
// any caller can describe without writing Go for each shape.
package loader

import (
	"fmt"

	"github.com/latticegraph/lattice/pkg/address"
	"github.com/latticegraph/lattice/pkg/element"
	"github.com/latticegraph/lattice/pkg/gctx"
	"github.com/latticegraph/lattice/pkg/storage"
)

// Item names one endpoint or connector of a Triple. Exactly one of its
// resolution modes applies, in this priority order: a named variable
// already bound (via ParamMap or a prior triple in the same load) wins
// over Fixed, which wins over creating a new element of Type.
type Item struct {
	// Name, if non-empty, binds this item to a variable: the first
	// resolution within a load wins, and every later Item sharing the
	// same Name in the same load reuses that address.
	Name string
	// Type is the element type to create when this item is not already
	// resolved and Fixed is false. Its Kind() selects node, link, or
	// arc creation (see Load); its subtype bits are preserved on
	// created nodes.
	Type element.Type
	// Fixed marks Addr as a pre-existing address rather than something
	// to create.
	Fixed bool
	Addr  address.Address
}

// Triple is one (source, connector, target) row of a Template. The
// connector is typically an arc Item; Load resolves source and target
// first so the connector can be created between their addresses.
type Triple struct {
	Source    Item
	Connector Item
	Target    Item
}

// Template is an ordered sequence of Triples. Order matters only in
// that earlier triples may bind variables later triples reference by
// Name.
type Template []Triple

// ParamMap pre-binds variable names to addresses before a load begins,
// letting callers splice a template onto existing graph elements.
type ParamMap map[string]address.Address

// Load instantiates tmpl against st: for each triple it resolves
// source, then target, then connector (connectors need both endpoints
// already resolved), creating new elements for any item not already
// bound by params or a prior triple in this load. Every resolved
// address, one per item, three per triple, is recorded as a member
// of a new structure node returned as the load's result, linked via
// KindArcMembership arcs from the structure to each member.
//
// Load fails with storage.ErrFull if allocation is exhausted, or
// storage.ErrInvalidType if a named or fixed item resolves to an address
// whose live kind does not match the type the referencing Item declares.
func Load(ctx gctx.Context, st *storage.Storage, tmpl Template, params ParamMap) (address.Address, error) {
	structAddr, err := st.NodeNew(ctx, 0)
	if err != nil {
		return address.Empty, fmt.Errorf("loader: creating structure element: %w", err)
	}

	resolved := make(map[string]address.Address, len(params))
	for name, addr := range params {
		resolved[name] = addr
	}

	for i, triple := range tmpl {
		srcAddr, err := resolveItem(ctx, st, triple.Source, resolved, address.Empty, address.Empty)
		if err != nil {
			return structAddr, fmt.Errorf("loader: triple %d source: %w", i, err)
		}
		if err := appendMember(ctx, st, structAddr, srcAddr); err != nil {
			return structAddr, fmt.Errorf("loader: triple %d source: %w", i, err)
		}

		tgtAddr, err := resolveItem(ctx, st, triple.Target, resolved, address.Empty, address.Empty)
		if err != nil {
			return structAddr, fmt.Errorf("loader: triple %d target: %w", i, err)
		}
		if err := appendMember(ctx, st, structAddr, tgtAddr); err != nil {
			return structAddr, fmt.Errorf("loader: triple %d target: %w", i, err)
		}

		connAddr, err := resolveItem(ctx, st, triple.Connector, resolved, srcAddr, tgtAddr)
		if err != nil {
			return structAddr, fmt.Errorf("loader: triple %d connector: %w", i, err)
		}
		if err := appendMember(ctx, st, structAddr, connAddr); err != nil {
			return structAddr, fmt.Errorf("loader: triple %d connector: %w", i, err)
		}
	}

	return structAddr, nil
}

func resolveItem(ctx gctx.Context, st *storage.Storage, item Item, resolved map[string]address.Address, forcedSrc, forcedTgt address.Address) (address.Address, error) {
	if item.Name != "" {
		if addr, ok := resolved[item.Name]; ok {
			if err := checkKind(ctx, st, addr, item.Type); err != nil {
				return address.Empty, err
			}
			return addr, nil
		}
	}

	if item.Fixed {
		if err := checkKind(ctx, st, item.Addr, item.Type); err != nil {
			return address.Empty, err
		}
		if item.Name != "" {
			resolved[item.Name] = item.Addr
		}
		return item.Addr, nil
	}

	var addr address.Address
	var err error
	switch {
	case !forcedSrc.IsEmpty() && !forcedTgt.IsEmpty():
		addr, err = st.ArcNew(ctx, item.Type.Kind(), forcedSrc, forcedTgt)
	case item.Type.Kind() == element.KindLink:
		addr, err = st.LinkNew(ctx)
	default:
		addr, err = st.NodeNew(ctx, item.Type.Subtype())
	}
	if err != nil {
		return address.Empty, err
	}

	if item.Name != "" {
		resolved[item.Name] = addr
	}
	return addr, nil
}

// checkKind validates that addr's live kind matches want.Kind(), when
// want carries a kind at all (zero means "no constraint", used for
// connector items that intentionally leave Type as the arc kind to
// create rather than a constraint on an already-resolved endpoint).
func checkKind(ctx gctx.Context, st *storage.Storage, addr address.Address, want element.Type) error {
	if want.Kind() == 0 {
		return nil
	}
	actual, err := st.GetElementType(ctx, addr)
	if err != nil {
		return err
	}
	if actual.Kind() != want.Kind() {
		return storage.ErrInvalidType
	}
	return nil
}

func appendMember(ctx gctx.Context, st *storage.Storage, structAddr, memberAddr address.Address) error {
	_, err := st.ArcNew(ctx, element.KindArcMembership, structAddr, memberAddr)
	return err
}
