// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sdf

import (
	"fmt"
	"math"
)

// Permission controls whether a prim's opinions may be accessed from
// other sites in a composition graph.
type Permission int

const (
	// PermissionPublic allows access from any site.
	PermissionPublic Permission = iota

	// PermissionPrivate restricts access to the prim's own site.
	PermissionPrivate
)

// String returns the string representation of the Permission.
func (p Permission) String() string {
	if p == PermissionPrivate {
		return "private"
	}
	return "public"
}

// LayerOffset is a time mapping (offset + scale) applied across a
// composition arc.
type LayerOffset struct {
	// Offset is added after scaling.
	Offset float64

	// Scale multiplies source time. Identity is 1.
	Scale float64
}

// IdentityOffset returns the identity layer offset.
func IdentityOffset() LayerOffset {
	return LayerOffset{Offset: 0, Scale: 1}
}

// IsIdentity reports whether the offset maps time to itself.
func (o LayerOffset) IsIdentity() bool {
	return o.Offset == 0 && o.Scale == 1
}

// IsValid reports whether the offset is finite and invertible.
// A zero or negative scale cannot be inverted meaningfully.
func (o LayerOffset) IsValid() bool {
	return !math.IsNaN(o.Offset) && !math.IsInf(o.Offset, 0) &&
		!math.IsNaN(o.Scale) && !math.IsInf(o.Scale, 0) &&
		o.Scale > 0
}

// Compose returns the offset equivalent to applying other, then o.
func (o LayerOffset) Compose(other LayerOffset) LayerOffset {
	return LayerOffset{
		Offset: o.Offset + o.Scale*other.Offset,
		Scale:  o.Scale * other.Scale,
	}
}

// Invert returns the inverse offset. The caller must check IsValid first.
func (o LayerOffset) Invert() LayerOffset {
	return LayerOffset{Offset: -o.Offset / o.Scale, Scale: 1 / o.Scale}
}

// Reference is an authored reference or payload arc target.
//
// An empty AssetPath denotes an internal arc into the introducing
// layer stack. An empty PrimPath defers to the target layer's
// defaultPrim metadata.
type Reference struct {
	// AssetPath identifies the target layer. Empty for internal arcs.
	AssetPath string

	// PrimPath is the target prim. Empty to use the layer's defaultPrim.
	PrimPath Path

	// Offset is the time mapping across the arc.
	Offset LayerOffset
}

// String returns a debug representation like "@asset@</Prim>".
func (r Reference) String() string {
	return fmt.Sprintf("@%s@<%s>", r.AssetPath, r.PrimPath)
}

// Relocate is a single source-to-target namespace relocation.
type Relocate struct {
	Source Path
	Target Path
}

// PrimSpec is the authored scene description for one path in one layer.
//
// Fields that participate in composition are list-ops so that stronger
// layers can edit weaker opinions. Absent fields carry no opinion.
type PrimSpec struct {
	// Path is the spec's storage path within its layer. May contain
	// variant-selection elements.
	Path Path

	// References and Payloads are authored arc targets.
	References ListOp[Reference]
	Payloads   ListOp[Reference]

	// Inherits and Specializes are authored class-arc target paths.
	Inherits    ListOp[Path]
	Specializes ListOp[Path]

	// VariantSetNames names the variant sets authored at this prim.
	VariantSetNames ListOp[string]

	// VariantSelections maps variant set name to the authored selection.
	// An empty-string selection explicitly selects no variant.
	VariantSelections map[string]string

	// Permission restricts cross-site access when private.
	Permission Permission

	// HasPermission indicates Permission carries an authored opinion.
	HasPermission bool

	// Instanceable marks the prim as a candidate for instancing.
	Instanceable bool

	// HasInstanceable indicates Instanceable carries an authored opinion.
	HasInstanceable bool

	// HasSymmetry marks the prim as carrying symmetry information that
	// must survive culling.
	HasSymmetry bool

	// Properties lists authored property names, in document order.
	Properties []string

	// ChildNames lists authored child prim names, in document order.
	ChildNames []string
}

// VariantSelection returns the authored selection for a set, if any.
func (s *PrimSpec) VariantSelection(set string) (string, bool) {
	if s == nil || s.VariantSelections == nil {
		return "", false
	}
	sel, ok := s.VariantSelections[set]
	return sel, ok
}
