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
	"testing"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

func p(s string) sdf.Path { return sdf.MustParsePath(s) }

func TestMapExprPrefixMapping(t *testing.T) {
	m := NewMapExpr(p("/B"), p("/A"), sdf.IdentityOffset())

	if got := m.MapSourceToTarget(p("/B/Child")); !got.Equal(p("/A/Child")) {
		t.Errorf("MapSourceToTarget = %s, want /A/Child", got)
	}
	if got := m.MapTargetToSource(p("/A/Child")); !got.Equal(p("/B/Child")) {
		t.Errorf("MapTargetToSource = %s, want /B/Child", got)
	}
	// Paths outside every pair do not cross the arc.
	if got := m.MapSourceToTarget(p("/Other")); !got.IsEmpty() {
		t.Errorf("unmapped path crossed as %s", got)
	}
	// Unless the root identity makes them pass through unchanged.
	withID := m.AddRootIdentity()
	if got := withID.MapSourceToTarget(p("/Other")); !got.Equal(p("/Other")) {
		t.Errorf("root identity mapping = %s, want /Other", got)
	}
}

func TestMapExprLongestPrefixWins(t *testing.T) {
	m := &MapExpr{
		pairs: []mapPair{
			{source: p("/A"), target: p("/X")},
			{source: p("/A/b"), target: p("/Y")},
		},
		offset: sdf.IdentityOffset(),
	}

	if got := m.MapSourceToTarget(p("/A/b/c")); !got.Equal(p("/Y/c")) {
		t.Errorf("MapSourceToTarget = %s, want /Y/c", got)
	}
	if got := m.MapSourceToTarget(p("/A/other")); !got.Equal(p("/X/other")) {
		t.Errorf("MapSourceToTarget = %s, want /X/other", got)
	}
}

func TestMapExprIdentity(t *testing.T) {
	if !IdentityMapExpr().IsIdentity() {
		t.Error("IdentityMapExpr not identity")
	}
	m := NewMapExpr(p("/A"), p("/A"), sdf.IdentityOffset())
	if m.IsIdentity() {
		t.Error("single pair without root identity should not be identity")
	}
	if !m.AddRootIdentity().IsIdentity() {
		t.Error("self-pair plus root identity should be identity")
	}
	if NewMapExpr(p("/A"), p("/B"), sdf.IdentityOffset()).AddRootIdentity().IsIdentity() {
		t.Error("renaming pair can never be identity")
	}
}

func TestMapExprInverse(t *testing.T) {
	m := NewMapExpr(p("/B"), p("/A"), sdf.LayerOffset{Offset: 10, Scale: 2})
	inv := m.Inverse()

	if got := inv.MapSourceToTarget(p("/A/Child")); !got.Equal(p("/B/Child")) {
		t.Errorf("inverse mapping = %s, want /B/Child", got)
	}
	off := inv.TimeOffset()
	if off.Offset != -5 || off.Scale != 0.5 {
		t.Errorf("inverse offset = %+v, want offset -5 scale 0.5", off)
	}
}

func TestMapExprCompose(t *testing.T) {
	// A reference maps /B into /A; a class arc below it maps /Class
	// into /B. Composing yields the class as seen from the root.
	transfer := NewMapExpr(p("/B"), p("/A"), sdf.IdentityOffset()).AddRootIdentity()
	classMap := NewMapExpr(p("/Class"), p("/B"), sdf.IdentityOffset())

	composed := transfer.Compose(classMap)
	if got := composed.MapSourceToTarget(p("/Class/Sub")); !got.Equal(p("/A/Sub")) {
		t.Errorf("composed mapping = %s, want /A/Sub", got)
	}
	if composed.HasRootIdentity() {
		t.Error("composition must not gain a root identity from one side")
	}
}

func TestMapExprComposeOffsets(t *testing.T) {
	outer := &MapExpr{offset: sdf.LayerOffset{Offset: 10, Scale: 2}, rootIdentity: true,
		pairs: []mapPair{{source: p("/O"), target: p("/P")}}}
	inner := &MapExpr{offset: sdf.LayerOffset{Offset: 5, Scale: 1}, rootIdentity: true,
		pairs: []mapPair{{source: p("/I"), target: p("/J")}}}

	off := outer.Compose(inner).TimeOffset()
	if off.Offset != 20 || off.Scale != 2 {
		t.Errorf("composed offset = %+v, want offset 20 scale 2", off)
	}
}

func TestExprCacheInterns(t *testing.T) {
	cache := newExprCache(8)
	a := NewMapExpr(p("/B"), p("/A"), sdf.IdentityOffset())
	b := NewMapExpr(p("/B"), p("/A"), sdf.IdentityOffset())

	if cache.Intern(a) != a {
		t.Error("first intern should return the value itself")
	}
	if cache.Intern(b) != a {
		t.Error("equal expression should intern to the first value")
	}
}
