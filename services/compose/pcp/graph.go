// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pcp

import (
	"fmt"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// DefaultMaxIndexNodes bounds the number of nodes in one prim index.
// A graph at this size almost always indicates a reference or class
// explosion in the scene, not a legitimate composition.
const DefaultMaxIndexNodes = 25_000

// NodeRef addresses a node within its owning PrimIndex arena. Refs are
// stable while the index is building; Finalize compacts the arena and
// invalidates every ref held outside the index.
type NodeRef int

// InvalidNodeRef is the null node reference.
const InvalidNodeRef NodeRef = -1

// node is the arena storage for one graph vertex. All cross-node
// relations are arena indices, never pointers, so the whole graph
// moves and compacts as one allocation.
type node struct {
	site Site
	arc  Arc

	parent   NodeRef
	origin   NodeRef // differs from parent for implied/propagated arcs
	children []NodeRef

	mapToRoot *MapExpr

	// seq is the global insertion order, the final sibling tie-break.
	seq int

	// inert nodes stay in the graph for dependency tracking and
	// implied-arc origins but contribute no specs.
	inert bool

	// restricted marks spec contribution denied by permissions.
	restricted bool

	culled          bool
	hasSpecs        bool
	hasSymmetry     bool
	isDueToAncestor bool
	permission      sdf.Permission
}

// SpecSite is one entry of the flattened prim stack: a layer that
// actually holds a spec contributing to the composed prim.
type SpecSite struct {
	Layer *sdf.Layer
	Path  sdf.Path
}

// PrimIndex is the composition graph for one scene path.
//
// Description:
//
//	Nodes form a tree rooted at the requested site. Sibling order
//	encodes strength; the full strength order is the pre-order
//	traversal. Nodes live in a single arena and reference each other
//	by index.
//
// Thread Safety: Mutable while building and confined to the building
// goroutine; immutable and safe to share after Finalize.
type PrimIndex struct {
	nodes []node

	maxNodes int

	hasPayloads  bool
	instanceable bool
	finalized    bool

	errors    []*CompositionError
	primStack []SpecSite
}

// NewPrimIndex creates a graph holding only the root node for site.
func NewPrimIndex(root Site) *PrimIndex {
	idx := &PrimIndex{maxNodes: DefaultMaxIndexNodes}
	idx.nodes = append(idx.nodes, node{
		site:      root,
		arc:       Arc{Type: ArcTypeRoot, MapToParent: IdentityMapExpr()},
		parent:    InvalidNodeRef,
		origin:    InvalidNodeRef,
		mapToRoot: IdentityMapExpr(),
	})
	return idx
}

// Root returns the root node ref.
func (idx *PrimIndex) Root() NodeRef {
	return 0
}

// RootSite returns the site the index was computed for.
func (idx *PrimIndex) RootSite() Site {
	return idx.nodes[0].site
}

// Path returns the composed scene path of the index.
func (idx *PrimIndex) Path() sdf.Path {
	return idx.nodes[0].site.Path
}

// NodeCount returns the number of nodes in the arena, culled included.
func (idx *PrimIndex) NodeCount() int {
	return len(idx.nodes)
}

// node panics on a stale ref; refs never outlive Finalize.
func (idx *PrimIndex) node(ref NodeRef) *node {
	if ref < 0 || int(ref) >= len(idx.nodes) {
		panic(fmt.Sprintf("pcp: invalid node ref %d of %d", ref, len(idx.nodes)))
	}
	return &idx.nodes[ref]
}

// Site returns a node's opinion site.
func (idx *PrimIndex) Site(ref NodeRef) Site { return idx.node(ref).site }

// ArcOf returns the arc joining a node to its parent.
func (idx *PrimIndex) ArcOf(ref NodeRef) Arc { return idx.node(ref).arc }

// Parent returns a node's parent, or InvalidNodeRef for the root.
func (idx *PrimIndex) Parent(ref NodeRef) NodeRef { return idx.node(ref).parent }

// Origin returns the node this arc was propagated from, or
// InvalidNodeRef for directly authored arcs.
func (idx *PrimIndex) Origin(ref NodeRef) NodeRef { return idx.node(ref).origin }

// OriginRoot follows origin links to the node that ultimately
// introduced this arc chain.
func (idx *PrimIndex) OriginRoot(ref NodeRef) NodeRef {
	for idx.node(ref).origin != InvalidNodeRef {
		ref = idx.node(ref).origin
	}
	return ref
}

// Children returns a node's children in strength order. The returned
// slice is owned by the index.
func (idx *PrimIndex) Children(ref NodeRef) []NodeRef { return idx.node(ref).children }

// MapToRoot returns the node's accumulated namespace mapping into the
// root node's namespace.
func (idx *PrimIndex) MapToRoot(ref NodeRef) *MapExpr { return idx.node(ref).mapToRoot }

// IsInert reports whether the node is present only for dependency
// tracking and implied-arc origins.
func (idx *PrimIndex) IsInert(ref NodeRef) bool { return idx.node(ref).inert }

// IsCulled reports whether the node was removed by finalization
// analysis.
func (idx *PrimIndex) IsCulled(ref NodeRef) bool { return idx.node(ref).culled }

// IsRestricted reports whether permissions deny spec contribution.
func (idx *PrimIndex) IsRestricted(ref NodeRef) bool { return idx.node(ref).restricted }

// HasSpecs reports whether any layer of the node's stack has a spec at
// the node's path.
func (idx *PrimIndex) HasSpecs(ref NodeRef) bool { return idx.node(ref).hasSpecs }

// HasSymmetry reports whether the node carries symmetry metadata,
// which must survive culling.
func (idx *PrimIndex) HasSymmetry(ref NodeRef) bool { return idx.node(ref).hasSymmetry }

// IsDueToAncestor reports whether the arc was inherited from the
// parent prim's index rather than introduced at this path.
func (idx *PrimIndex) IsDueToAncestor(ref NodeRef) bool { return idx.node(ref).isDueToAncestor }

// Permission returns the composed permission at the node's site.
func (idx *PrimIndex) Permission(ref NodeRef) sdf.Permission { return idx.node(ref).permission }

// CanContributeSpecs reports whether opinions at the node's site are
// allowed to appear in the composed result.
func (idx *PrimIndex) CanContributeSpecs(ref NodeRef) bool {
	n := idx.node(ref)
	return !n.inert && !n.restricted
}

// DepthBelowIntroduction returns how many namespace levels below the
// arc's introduction point this node now sits. Zero means the node's
// path is where the arc was authored.
func (idx *PrimIndex) DepthBelowIntroduction(ref NodeRef) int {
	n := idx.node(ref)
	if n.parent == InvalidNodeRef {
		return 0
	}
	return idx.nodes[n.parent].site.Path.NonVariantElementCount() - n.arc.NamespaceDepth
}

// PathAtIntroduction returns the node's site path as it was when the
// arc was introduced, stripping elements added by ancestral lifting.
func (idx *PrimIndex) PathAtIntroduction(ref NodeRef) sdf.Path {
	p := idx.node(ref).site.Path
	for d := idx.DepthBelowIntroduction(ref); d > 0; d-- {
		p = p.ParentPath()
	}
	return p
}

// setters used by the indexer

func (idx *PrimIndex) setInert(ref NodeRef, v bool)       { idx.node(ref).inert = v }
func (idx *PrimIndex) setRestricted(ref NodeRef, v bool)  { idx.node(ref).restricted = v }
func (idx *PrimIndex) setCulled(ref NodeRef, v bool)      { idx.node(ref).culled = v }
func (idx *PrimIndex) setHasSpecs(ref NodeRef, v bool)    { idx.node(ref).hasSpecs = v }
func (idx *PrimIndex) setHasSymmetry(ref NodeRef, v bool) { idx.node(ref).hasSymmetry = v }

// SetHasPayloads records that some contributing site authored a
// payload, whether or not it was included.
func (idx *PrimIndex) SetHasPayloads(v bool) { idx.hasPayloads = v }

// HasPayloads reports whether any contributing site authored a payload.
func (idx *PrimIndex) HasPayloads() bool { return idx.hasPayloads }

// SetIsInstanceable records the composed instanceable flag.
func (idx *PrimIndex) SetIsInstanceable(v bool) { idx.instanceable = v }

// IsInstanceable reports whether the composed prim can be instanced.
func (idx *PrimIndex) IsInstanceable() bool { return idx.instanceable }

// IsFinalized reports whether Finalize has run.
func (idx *PrimIndex) IsFinalized() bool { return idx.finalized }

// AddError records a non-fatal composition error on the index.
func (idx *PrimIndex) AddError(err *CompositionError) {
	idx.errors = append(idx.errors, err)
}

// Errors returns the composition errors recorded during the build.
func (idx *PrimIndex) Errors() []*CompositionError { return idx.errors }

// childOrderKey orders siblings: arc type first, then directly
// authored before implied, then origin sibling number, then insertion
// order.
func (idx *PrimIndex) childOrderKey(ref NodeRef) [4]int {
	n := idx.node(ref)
	implied := 0
	if n.origin != InvalidNodeRef {
		implied = 1
	}
	return [4]int{int(n.arc.Type), implied, n.arc.SiblingNumAtOrigin, n.seq}
}

func keyLess(a, b [4]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// InsertChild adds a node for site under parent, placed among its
// siblings by strength.
//
// Outputs:
//   - NodeRef: The new node.
//   - error: ErrCapacityExceeded when the arena is full.
func (idx *PrimIndex) InsertChild(parent NodeRef, site Site, arc Arc, origin NodeRef) (NodeRef, error) {
	if len(idx.nodes) >= idx.maxNodes {
		return InvalidNodeRef, ErrCapacityExceeded
	}
	if idx.finalized {
		panic("pcp: InsertChild after Finalize")
	}
	p := idx.node(parent)
	ref := NodeRef(len(idx.nodes))
	idx.nodes = append(idx.nodes, node{
		site:      site,
		arc:       arc,
		parent:    parent,
		origin:    origin,
		mapToRoot: p.mapToRoot.Compose(arc.MapToParent),
		seq:       len(idx.nodes),
	})
	idx.insertInStrengthOrder(parent, ref)
	return ref, nil
}

func (idx *PrimIndex) insertInStrengthOrder(parent, child NodeRef) {
	p := idx.node(parent)
	key := idx.childOrderKey(child)
	pos := len(p.children)
	for i, sib := range p.children {
		if keyLess(key, idx.childOrderKey(sib)) {
			pos = i
			break
		}
	}
	p.children = append(p.children, InvalidNodeRef)
	copy(p.children[pos+1:], p.children[pos:])
	p.children[pos] = child
}

// InsertChildSubgraph grafts an independently built index under parent.
// The subgraph's root becomes the new child; its arena is copied in
// with all refs rebased.
func (idx *PrimIndex) InsertChildSubgraph(parent NodeRef, sub *PrimIndex, arc Arc, origin NodeRef) (NodeRef, error) {
	if len(idx.nodes)+len(sub.nodes) > idx.maxNodes {
		return InvalidNodeRef, ErrCapacityExceeded
	}
	base := NodeRef(len(idx.nodes))
	p := idx.node(parent)
	rootMap := p.mapToRoot.Compose(arc.MapToParent)

	for i, n := range sub.nodes {
		copied := n
		copied.seq = len(idx.nodes)
		copied.children = make([]NodeRef, len(n.children))
		for j, c := range n.children {
			copied.children[j] = c + base
		}
		if i == 0 {
			copied.parent = parent
			copied.origin = origin
			copied.arc = arc
			copied.mapToRoot = rootMap
		} else {
			copied.parent += base
			if copied.origin != InvalidNodeRef {
				copied.origin += base
			}
			copied.mapToRoot = rootMap.Compose(sub.nodes[i].mapToRoot)
		}
		idx.nodes = append(idx.nodes, copied)
	}
	idx.insertInStrengthOrder(parent, base)

	idx.errors = append(idx.errors, sub.errors...)
	if sub.hasPayloads {
		idx.hasPayloads = true
	}
	return base, nil
}

// NodeRange returns every node in strength order (pre-order, siblings
// strongest first). Culled nodes are skipped once finalized.
func (idx *PrimIndex) NodeRange() []NodeRef {
	out := make([]NodeRef, 0, len(idx.nodes))
	idx.walk(idx.Root(), &out)
	return out
}

func (idx *PrimIndex) walk(ref NodeRef, out *[]NodeRef) {
	n := idx.node(ref)
	if !n.culled {
		*out = append(*out, ref)
	}
	for _, c := range n.children {
		idx.walk(c, out)
	}
}

// NodeRangeOfType returns strength-ordered nodes introduced by one arc
// type.
func (idx *PrimIndex) NodeRangeOfType(t ArcType) []NodeRef {
	var out []NodeRef
	for _, ref := range idx.NodeRange() {
		if idx.node(ref).arc.Type == t {
			out = append(out, ref)
		}
	}
	return out
}

// SubtreeRange returns the node and its descendants in strength order.
func (idx *PrimIndex) SubtreeRange(ref NodeRef) []NodeRef {
	var out []NodeRef
	idx.walk(ref, &out)
	return out
}

// WeakerThanRange partitions the strength order at pivot: it returns
// the nodes strictly weaker than pivot's subtree. Instancing keys hash
// the weak half only, because the strong half is what varies per
// instance.
func (idx *PrimIndex) WeakerThanRange(pivot NodeRef) []NodeRef {
	all := idx.NodeRange()
	sub := make(map[NodeRef]bool)
	for _, r := range idx.SubtreeRange(pivot) {
		sub[r] = true
	}
	var out []NodeRef
	passed := false
	for _, r := range all {
		if sub[r] {
			passed = true
			continue
		}
		if passed {
			out = append(out, r)
		}
	}
	return out
}

// AppendChildNameToAllSites returns a copy of the graph with every
// site path extended by a child name, translated through each node's
// mapping. This lifts a parent prim's graph into the namespace of one
// of its children as the seed for the child's own index.
func (idx *PrimIndex) AppendChildNameToAllSites(name string) *PrimIndex {
	out := &PrimIndex{
		maxNodes: idx.maxNodes,
		nodes:    make([]node, len(idx.nodes)),
	}
	for i, n := range idx.nodes {
		copied := n
		copied.children = append([]NodeRef(nil), n.children...)
		copied.site.Path = n.site.Path.AppendChild(name)
		copied.isDueToAncestor = true
		// Authored state is unknown at the child path until evaluated.
		copied.hasSpecs = false
		copied.inert = n.inert
		copied.culled = false
		out.nodes[i] = copied
	}
	out.nodes[0].isDueToAncestor = false
	return out
}

// Finalize compacts the arena, dropping culled subtrees, and freezes
// the index. All NodeRefs held by callers become invalid.
func (idx *PrimIndex) Finalize() {
	if idx.finalized {
		return
	}

	remap := make([]NodeRef, len(idx.nodes))
	for i := range remap {
		remap[i] = InvalidNodeRef
	}
	var kept []node
	var keep func(ref NodeRef)
	keep = func(ref NodeRef) {
		n := idx.node(ref)
		if n.culled && ref != idx.Root() {
			return
		}
		remap[ref] = NodeRef(len(kept))
		kept = append(kept, *n)
		for _, c := range n.children {
			keep(c)
		}
	}
	keep(idx.Root())

	for i := range kept {
		n := &kept[i]
		if n.parent != InvalidNodeRef {
			n.parent = remap[n.parent]
		}
		if n.origin != InvalidNodeRef {
			// Maps to InvalidNodeRef when the origin was culled away.
			n.origin = remap[n.origin]
		}
		children := n.children[:0:0]
		for _, c := range n.children {
			if remap[c] != InvalidNodeRef {
				children = append(children, remap[c])
			}
		}
		n.children = children
	}
	idx.nodes = kept
	idx.finalized = true
}

// RescanForSpecs rebuilds the flattened prim stack: for each
// contributing node in strength order, the layers of its stack that
// hold a spec at its path.
func (idx *PrimIndex) RescanForSpecs() {
	idx.primStack = idx.primStack[:0]
	for _, ref := range idx.NodeRange() {
		n := idx.node(ref)
		if n.culled || !idx.CanContributeSpecs(ref) || n.site.LayerStack == nil {
			continue
		}
		for _, e := range n.site.LayerStack.Layers() {
			if e.Layer.HasSpec(n.site.Path) {
				idx.primStack = append(idx.primStack, SpecSite{Layer: e.Layer, Path: n.site.Path})
			}
		}
	}
}

// PrimStack returns the flattened strength-ordered spec sites.
func (idx *PrimIndex) PrimStack() []SpecSite { return idx.primStack }
