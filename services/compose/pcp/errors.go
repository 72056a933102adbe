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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// Composition errors are non-fatal: each is recorded on the owning
// index and the build continues, always producing a best-effort graph.
// Only ErrInvalidIndexPath is a precondition violation that rejects the
// request outright.
var (
	// ErrInvalidIndexPath indicates the requested path is not an
	// absolute prim path.
	ErrInvalidIndexPath = errors.New("index path must be an absolute prim path")

	// ErrInvalidPrimPath indicates an arc target path is malformed or
	// not a prim path.
	ErrInvalidPrimPath = errors.New("invalid target prim path")

	// ErrInvalidAssetPath indicates an arc's target layer failed to
	// open.
	ErrInvalidAssetPath = errors.New("invalid target asset path")

	// ErrMutedAssetPath indicates an arc targets a muted layer.
	ErrMutedAssetPath = errors.New("muted target asset path")

	// ErrInvalidReferenceOffset indicates a non-invertible layer
	// offset on a reference or payload. The offset is reset to
	// identity and the arc is still added.
	ErrInvalidReferenceOffset = errors.New("invalid reference layer offset")

	// ErrUnresolvedPrimPath indicates an arc with no prim path whose
	// target layer stack has no default prim. The arc is added as an
	// inert placeholder so dependency tracking survives.
	ErrUnresolvedPrimPath = errors.New("unresolved default target prim path")

	// ErrPermissionDenied indicates an arc target is private. The
	// subtree is added but forced inert.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrArcCycle indicates an arc would create a cycle; the arc is
	// rejected.
	ErrArcCycle = errors.New("arc would create a cycle")

	// ErrArcToProhibitedChild indicates an arc or child path resolves
	// to a relocation source, which may never re-surface in composed
	// namespace.
	ErrArcToProhibitedChild = errors.New("arc targets a relocation source")

	// ErrOpinionAtRelocationSource indicates direct opinions authored
	// at a relocation source path; they are ignored in favor of the
	// relocated location.
	ErrOpinionAtRelocationSource = errors.New("opinion at relocation source")

	// ErrCapacityExceeded indicates the index hit a node, arc, or
	// recursion-depth limit. Reported at most once per build.
	ErrCapacityExceeded = errors.New("composition capacity exceeded")
)

// CompositionError is one recorded, non-fatal composition failure.
type CompositionError struct {
	// Err is the sentinel classifying the failure.
	Err error

	// Site is where the failing arc was discovered.
	Site Site

	// ArcType is the arc kind being evaluated, when applicable.
	ArcType ArcType

	// TargetPath is the offending target, when applicable.
	TargetPath sdf.Path

	// AssetPath is the offending asset, when applicable.
	AssetPath string

	// Detail carries extra context for the log line.
	Detail string
}

// Error implements the error interface.
func (e *CompositionError) Error() string {
	msg := fmt.Sprintf("%v: at %s", e.Err, e.Site)
	if !e.TargetPath.IsEmpty() {
		msg += fmt.Sprintf(" target <%s>", e.TargetPath)
	}
	if e.AssetPath != "" {
		msg += fmt.Sprintf(" asset @%s@", e.AssetPath)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the classifying sentinel for errors.Is checks.
func (e *CompositionError) Unwrap() error {
	return e.Err
}
