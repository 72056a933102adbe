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
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// MapExpr translates paths and times across a composition arc.
//
// Description:
//
//	An expression is a set of (source, target) path-prefix pairs plus
//	a time offset. Mapping a path picks the pair with the longest
//	matching source prefix and rewrites that prefix; a path matching
//	no pair does not cross the arc. The optional root-identity pair
//	("/" -> "/") makes every otherwise-unmapped path cross unchanged —
//	internal references and global classes need it so root-level
//	opinions stay visible.
//
//	Expressions are immutable; all operations return new values.
//	Composition chains arcs (expr.Compose(inner) applies inner first),
//	which is how each node's map-to-root is accumulated.
//
// Thread Safety: Immutable; safe for concurrent use.
type MapExpr struct {
	pairs        []mapPair
	offset       sdf.LayerOffset
	rootIdentity bool
}

type mapPair struct {
	source sdf.Path
	target sdf.Path
}

var identityExpr = &MapExpr{
	offset:       sdf.IdentityOffset(),
	rootIdentity: true,
}

// IdentityMapExpr returns the expression mapping every path and time
// to itself.
func IdentityMapExpr() *MapExpr {
	return identityExpr
}

// NewMapExpr creates an expression with a single prefix pair.
func NewMapExpr(source, target sdf.Path, offset sdf.LayerOffset) *MapExpr {
	return &MapExpr{
		pairs:  []mapPair{{source: source, target: target}},
		offset: offset,
	}
}

// TimeOffset returns the expression's time mapping.
func (m *MapExpr) TimeOffset() sdf.LayerOffset {
	return m.offset
}

// HasRootIdentity reports whether unmapped paths cross unchanged.
func (m *MapExpr) HasRootIdentity() bool {
	return m.rootIdentity
}

// IsIdentity reports whether the expression maps every path to itself.
func (m *MapExpr) IsIdentity() bool {
	if !m.rootIdentity || !m.offset.IsIdentity() {
		return false
	}
	for _, p := range m.pairs {
		if !p.source.Equal(p.target) {
			return false
		}
	}
	return true
}

// MapSourceToTarget maps a path across the arc into the parent
// namespace. Returns EmptyPath when the path does not cross.
func (m *MapExpr) MapSourceToTarget(p sdf.Path) sdf.Path {
	return m.mapPath(p, false)
}

// MapTargetToSource maps a parent-namespace path back across the arc.
// Returns EmptyPath when the path does not cross.
func (m *MapExpr) MapTargetToSource(p sdf.Path) sdf.Path {
	return m.mapPath(p, true)
}

func (m *MapExpr) mapPath(p sdf.Path, invert bool) sdf.Path {
	if p.IsEmpty() {
		return sdf.EmptyPath
	}
	src := func(pr mapPair) sdf.Path {
		if invert {
			return pr.target
		}
		return pr.source
	}
	tgt := func(pr mapPair) sdf.Path {
		if invert {
			return pr.source
		}
		return pr.target
	}

	bestLen := -1
	var best mapPair
	for _, pr := range m.pairs {
		s := src(pr)
		if p.HasPrefix(s) && s.ElementCount() > bestLen {
			best = pr
			bestLen = s.ElementCount()
		}
	}
	if bestLen < 0 {
		if m.rootIdentity {
			return p
		}
		return sdf.EmptyPath
	}

	result := p.ReplacePrefix(src(best), tgt(best))

	// A pair whose source shadows the result in the opposite direction
	// means the result re-maps to a different path; such paths do not
	// cross the arc.
	backLen := -1
	var back mapPair
	for _, pr := range m.pairs {
		t := tgt(pr)
		if result.HasPrefix(t) && t.ElementCount() > backLen {
			back = pr
			backLen = t.ElementCount()
		}
	}
	if backLen >= 0 && !result.ReplacePrefix(tgt(back), src(back)).Equal(p) {
		return sdf.EmptyPath
	}
	return result
}

// Inverse returns the expression mapping in the opposite direction.
func (m *MapExpr) Inverse() *MapExpr {
	inv := &MapExpr{
		pairs:        make([]mapPair, len(m.pairs)),
		offset:       sdf.IdentityOffset(),
		rootIdentity: m.rootIdentity,
	}
	for i, p := range m.pairs {
		inv.pairs[i] = mapPair{source: p.target, target: p.source}
	}
	if m.offset.IsValid() {
		inv.offset = m.offset.Invert()
	}
	return inv.canonical()
}

// Compose returns the expression applying inner first, then m. This is
// the arc-chaining operation: a node's map-to-root is the parent's
// map-to-root composed with the node's map-to-parent.
func (m *MapExpr) Compose(inner *MapExpr) *MapExpr {
	if m.IsIdentity() {
		return inner
	}
	if inner.IsIdentity() {
		return m
	}

	out := &MapExpr{
		offset:       m.offset.Compose(inner.offset),
		rootIdentity: m.rootIdentity && inner.rootIdentity,
	}
	for _, p := range inner.pairs {
		if t := m.mapPath(p.target, false); !t.IsEmpty() {
			out.pairs = append(out.pairs, mapPair{source: p.source, target: t})
		}
	}
	if inner.rootIdentity {
		// Paths inner passes through untouched still go through m's
		// own pairs.
		for _, p := range m.pairs {
			out.pairs = append(out.pairs, p)
		}
	}
	return out.canonical()
}

// AddRootIdentity returns the expression extended with the root
// identity pair.
func (m *MapExpr) AddRootIdentity() *MapExpr {
	if m.rootIdentity {
		return m
	}
	out := &MapExpr{
		pairs:        append([]mapPair(nil), m.pairs...),
		offset:       m.offset,
		rootIdentity: true,
	}
	return out
}

// canonical sorts pairs by source and drops duplicates, keeping the
// first occurrence per source.
func (m *MapExpr) canonical() *MapExpr {
	if len(m.pairs) < 2 {
		return m
	}
	seen := make(map[sdf.Path]bool, len(m.pairs))
	kept := m.pairs[:0]
	for _, p := range m.pairs {
		if !seen[p.source] {
			seen[p.source] = true
			kept = append(kept, p)
		}
	}
	m.pairs = kept
	sort.Slice(m.pairs, func(i, j int) bool {
		return m.pairs[i].source.Less(m.pairs[j].source)
	})
	return m
}

// exprCache interns map expressions by canonical text so identical
// expressions built on different arcs share one value. Composition
// produces many duplicate expressions (every sibling under the same
// arc chain, for one), and interning keeps graph memory flat.
type exprCache struct {
	cache *lruCache[string, *MapExpr]
}

func newExprCache(capacity int) *exprCache {
	return &exprCache{cache: newLRUCache[string, *MapExpr](capacity)}
}

// Intern returns the canonical shared value for an expression.
func (e *exprCache) Intern(m *MapExpr) *MapExpr {
	key := m.String()
	if prior, ok := e.cache.Get(key); ok {
		return prior
	}
	e.cache.Set(key, m)
	return m
}

// String renders the expression for logs and debug dumps.
func (m *MapExpr) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range m.pairs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.source.String())
		b.WriteString(" -> ")
		b.WriteString(p.target.String())
	}
	if m.rootIdentity {
		if len(m.pairs) > 0 {
			b.WriteString(", ")
		}
		b.WriteString("/ -> /")
	}
	b.WriteByte(')')
	if !m.offset.IsIdentity() {
		fmt.Fprintf(&b, " offset(%+g, *%g)", m.offset.Offset, m.offset.Scale)
	}
	return b.String()
}
