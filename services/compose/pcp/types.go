// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pcp computes prim indexes: strength-ordered composition
// graphs describing every site that contributes opinions to one scene
// path.
//
// Description:
//
//	Composition is driven by a priority task queue. Starting from a
//	root node for the requested site, evaluators discover authored
//	arcs (references, payloads, inherits, specializes, variants,
//	relocates) and grow the graph; class-based structure found deep in
//	the graph is propagated back toward the root as implied arcs so
//	strength ordering stays correct. After the queue drains, the graph
//	is culled, checked against relocation tombstones, and finalized.
//
// Thread Safety: A PrimIndex under construction is confined to its
// building goroutine. Finalized indexes are immutable. The Engine is
// safe for concurrent use.
package pcp

import (
	"fmt"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// ArcType identifies the composition mechanism that introduced a node.
// The declaration order is the strength order: a child introduced by a
// smaller arc type outranks any sibling with a larger one.
type ArcType int

const (
	ArcTypeRoot ArcType = iota
	ArcTypeInherit
	ArcTypeVariant
	ArcTypeRelocate
	ArcTypeReference
	ArcTypePayload
	ArcTypeSpecialize

	numArcTypes
)

// String returns the arc type's display name.
func (t ArcType) String() string {
	switch t {
	case ArcTypeRoot:
		return "root"
	case ArcTypeInherit:
		return "inherit"
	case ArcTypeVariant:
		return "variant"
	case ArcTypeRelocate:
		return "relocate"
	case ArcTypeReference:
		return "reference"
	case ArcTypePayload:
		return "payload"
	case ArcTypeSpecialize:
		return "specialize"
	default:
		return fmt.Sprintf("arcType(%d)", int(t))
	}
}

// IsClassBased reports whether the arc transfers opinions about a
// class hierarchy (inherit or specialize).
func (t ArcType) IsClassBased() bool {
	return t == ArcTypeInherit || t == ArcTypeSpecialize
}

// Site is one opinion location: a path within a layer stack.
//
// Sites compare by value. Layer stacks are memoized per root layer by
// the resolver, so pointer equality on the stack is identity.
type Site struct {
	LayerStack *sdf.LayerStack
	Path       sdf.Path
}

// String returns a debug form like "env.yaml:/World/Char".
func (s Site) String() string {
	id := "<nil>"
	if s.LayerStack != nil {
		id = s.LayerStack.Identifier
	}
	return fmt.Sprintf("%s:%s", id, s.Path)
}

// Arc describes how a node joins its parent.
type Arc struct {
	// Type is the composition mechanism.
	Type ArcType

	// MapToParent translates paths and times from the node's site into
	// the parent's namespace.
	MapToParent *MapExpr

	// SiblingNumAtOrigin orders siblings introduced by the same arc
	// type at the same origin, strongest first.
	SiblingNumAtOrigin int

	// NamespaceDepth is the number of prim path elements of the
	// parent's site path when the arc was introduced. Ancestral arcs
	// have a depth smaller than the current path's element count.
	NamespaceDepth int
}
