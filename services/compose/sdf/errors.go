// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sdf provides the layered scene-description store that the
// composition engine reads from.
//
// The store is a registry of layers. Each layer is a flat table of prim
// specs keyed by path, including paths that address variant branches
// ("/A{set=sel}B"). Layers are assembled into layer stacks: the ordered,
// flattened list of a root layer and its sublayers, strongest first.
//
// # Ownership Model
//
// Layers are immutable once loaded into a Store, except through the
// Store's own editing entry points, which exist to drive change
// processing. The composition engine never mutates scene description.
//
// # Thread Safety
//
// A Store is safe for concurrent readers. Edits require external
// coordination with in-flight composition (see the pcp package's change
// engine).
package sdf

import "errors"

// Sentinel errors for store operations.
var (
	// ErrInvalidPath is returned when a path string cannot be parsed.
	ErrInvalidPath = errors.New("invalid scene path")

	// ErrLayerNotFound is returned when an asset path does not resolve
	// to a registered or loadable layer.
	ErrLayerNotFound = errors.New("layer not found")

	// ErrLayerMuted is returned when an asset path resolves to a layer
	// that has been muted in this store.
	ErrLayerMuted = errors.New("layer is muted")

	// ErrDuplicateLayer is returned when registering a layer whose
	// identifier is already present in the store.
	ErrDuplicateLayer = errors.New("duplicate layer identifier")

	// ErrMalformedLayer is returned when a layer file cannot be parsed.
	ErrMalformedLayer = errors.New("malformed layer document")
)
