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
	"strings"
)

// Path is an absolute scene-description path.
//
// Description:
//
//	Paths address prims in composed scene namespace ("/World/Char/Rig")
//	and, optionally, storage locations inside variant branches via
//	embedded variant-selection elements ("/World/Char{lod=high}Rig").
//	Variant selections address layer storage only; they never appear in
//	composed namespace or in cross-site namespace mappings.
//
//	Path is an immutable comparable value type backed by its canonical
//	string form, so paths work directly as map keys. All mutating
//	operations return a new Path. The zero value is the empty path,
//	which is not valid.
//
// Thread Safety: Immutable; safe for concurrent use.
type Path struct {
	// s is the canonical text: "" for the empty path, "/" for the
	// pseudo-root, otherwise "/A/B{set=sel}C". No slash follows a
	// variant-selection element.
	s string
}

// EmptyPath is the invalid zero path.
var EmptyPath = Path{}

// AbsoluteRootPath returns the pseudo-root path "/".
func AbsoluteRootPath() Path {
	return Path{s: "/"}
}

// ParsePath parses a path string.
//
// Description:
//
//	Accepts absolute prim paths ("/A/B"), the absolute root ("/"), and
//	prim variant-selection paths ("/A{set=sel}B"). Property paths and
//	relative paths are not accepted by this package.
//
// Inputs:
//   - s: The path string.
//
// Outputs:
//   - Path: The parsed path (EmptyPath on error).
//   - error: Non-nil if s is not a valid absolute path.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return EmptyPath, fmt.Errorf("%w: empty string", ErrInvalidPath)
	}
	if !strings.HasPrefix(s, "/") {
		return EmptyPath, fmt.Errorf("%w: %q is not absolute", ErrInvalidPath, s)
	}
	if s == "/" {
		return AbsoluteRootPath(), nil
	}

	elems, err := splitPath(s)
	if err != nil {
		return EmptyPath, err
	}
	return Path{s: joinPath(elems)}, nil
}

// MustParsePath parses a path string, panicking on error. Intended for
// literals in tests and package initialization.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// splitPath tokenizes an absolute non-root path into elements. Prim
// elements are plain identifiers; variant-selection elements keep their
// braces, e.g. "{set=sel}".
func splitPath(s string) ([]string, error) {
	var elems []string
	rest := s[1:]
	for rest != "" {
		switch {
		case rest[0] == '/':
			rest = rest[1:]
			if rest == "" {
				return nil, fmt.Errorf("%w: %q has a trailing slash", ErrInvalidPath, s)
			}
		case rest[0] == '{':
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: %q has an unterminated variant selection", ErrInvalidPath, s)
			}
			sel := rest[1:end]
			set, value, ok := strings.Cut(sel, "=")
			if !ok || !isIdentifier(set) || (value != "" && !isIdentifier(value)) {
				return nil, fmt.Errorf("%w: bad variant selection %q in %q", ErrInvalidPath, sel, s)
			}
			elems = append(elems, "{"+sel+"}")
			rest = rest[end+1:]
		default:
			end := strings.IndexAny(rest, "/{")
			name := rest
			if end >= 0 {
				name = rest[:end]
				rest = rest[end:]
			} else {
				rest = ""
			}
			if !isIdentifier(name) {
				return nil, fmt.Errorf("%w: bad prim name %q in %q", ErrInvalidPath, name, s)
			}
			elems = append(elems, name)
		}
	}
	return elems, nil
}

// joinPath renders elements into canonical text. No slash is emitted
// after a variant-selection element.
func joinPath(elems []string) string {
	if len(elems) == 0 {
		return "/"
	}
	var b strings.Builder
	prevWasVariant := false
	for _, e := range elems {
		if isVariantElement(e) {
			b.WriteString(e)
			prevWasVariant = true
			continue
		}
		if !prevWasVariant {
			b.WriteByte('/')
		}
		b.WriteString(e)
		prevWasVariant = false
	}
	return b.String()
}

// isIdentifier reports whether s is a legal prim or variant identifier.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func isVariantElement(e string) bool {
	return len(e) > 0 && e[0] == '{'
}

// elements tokenizes the path. Only called on valid non-empty paths.
func (p Path) elements() []string {
	if p.s == "" || p.s == "/" {
		return nil
	}
	elems, _ := splitPath(p.s)
	return elems
}

// IsEmpty reports whether this is the empty (invalid) path.
func (p Path) IsEmpty() bool {
	return p.s == ""
}

// IsAbsoluteRootPath reports whether this is the pseudo-root "/".
func (p Path) IsAbsoluteRootPath() bool {
	return p.s == "/"
}

// IsPrimPath reports whether this is a prim path with no variant
// selections (and not the pseudo-root).
func (p Path) IsPrimPath() bool {
	return len(p.s) > 1 && !strings.ContainsRune(p.s, '{')
}

// IsRootPrimPath reports whether this path is a prim directly under the
// pseudo-root, e.g. "/Model".
func (p Path) IsRootPrimPath() bool {
	return len(p.s) > 1 && strings.LastIndexByte(p.s, '/') == 0 &&
		!strings.ContainsRune(p.s, '{')
}

// IsPrimVariantSelectionPath reports whether the final element is a
// variant selection, e.g. "/A{set=sel}".
func (p Path) IsPrimVariantSelectionPath() bool {
	return strings.HasSuffix(p.s, "}")
}

// IsPrimOrPrimVariantSelectionPath reports whether this path addresses
// prim storage, with or without a trailing variant selection.
func (p Path) IsPrimOrPrimVariantSelectionPath() bool {
	return len(p.s) > 1
}

// ContainsPrimVariantSelection reports whether any element of the path
// is a variant selection.
func (p Path) ContainsPrimVariantSelection() bool {
	return strings.ContainsRune(p.s, '{')
}

// ElementCount returns the number of path elements. Variant-selection
// elements count.
func (p Path) ElementCount() int {
	return len(p.elements())
}

// NonVariantElementCount returns the number of prim elements, ignoring
// variant selections. This is the namespace depth used when recording
// where an arc was introduced.
func (p Path) NonVariantElementCount() int {
	n := 0
	for _, e := range p.elements() {
		if !isVariantElement(e) {
			n++
		}
	}
	return n
}

// Name returns the final prim element, or "" for the pseudo-root and for
// paths ending in a variant selection.
func (p Path) Name() string {
	if len(p.s) <= 1 || strings.HasSuffix(p.s, "}") {
		return ""
	}
	i := strings.LastIndexAny(p.s, "/}")
	return p.s[i+1:]
}

// ParentPath returns the path with the final element removed. The parent
// of the pseudo-root is the empty path.
func (p Path) ParentPath() Path {
	if len(p.s) <= 1 {
		return EmptyPath
	}
	elems := p.elements()
	return Path{s: joinPath(elems[:len(elems)-1])}
}

// AppendChild returns the path extended by a child prim name.
func (p Path) AppendChild(name string) Path {
	switch {
	case p.s == "":
		return EmptyPath
	case p.s == "/":
		return Path{s: "/" + name}
	case strings.HasSuffix(p.s, "}"):
		return Path{s: p.s + name}
	default:
		return Path{s: p.s + "/" + name}
	}
}

// AppendVariantSelection returns the path extended by a variant
// selection element {set=sel}.
func (p Path) AppendVariantSelection(set, sel string) Path {
	if p.s == "" || p.s == "/" {
		return EmptyPath
	}
	return Path{s: p.s + "{" + set + "=" + sel + "}"}
}

// VariantSelection returns the variant set and selection of the final
// path element, or ("", "", false) if the final element is not a
// variant selection.
func (p Path) VariantSelection() (set, sel string, ok bool) {
	if !strings.HasSuffix(p.s, "}") {
		return "", "", false
	}
	open := strings.LastIndexByte(p.s, '{')
	set, sel, _ = strings.Cut(p.s[open+1:len(p.s)-1], "=")
	return set, sel, true
}

// StripAllVariantSelections returns the path with every variant
// selection element removed.
func (p Path) StripAllVariantSelections() Path {
	if !p.ContainsPrimVariantSelection() {
		return p
	}
	elems := p.elements()
	kept := elems[:0]
	for _, e := range elems {
		if !isVariantElement(e) {
			kept = append(kept, e)
		}
	}
	return Path{s: joinPath(kept)}
}

// HasPrefix reports whether prefix is p or an ancestor of p. Every
// absolute path has the pseudo-root as a prefix.
func (p Path) HasPrefix(prefix Path) bool {
	if p.s == "" || prefix.s == "" {
		return false
	}
	if prefix.s == "/" {
		return true
	}
	if !strings.HasPrefix(p.s, prefix.s) {
		return false
	}
	if len(p.s) == len(prefix.s) || strings.HasSuffix(prefix.s, "}") {
		return true
	}
	// Element boundary: "/A" is not a prefix of "/AB".
	next := p.s[len(prefix.s)]
	return next == '/' || next == '{'
}

// ReplacePrefix returns the path with oldPrefix replaced by newPrefix.
// If p does not have oldPrefix as a prefix, p is returned unchanged.
func (p Path) ReplacePrefix(oldPrefix, newPrefix Path) Path {
	if !p.HasPrefix(oldPrefix) || newPrefix.s == "" {
		return p
	}
	tail := p.elements()[oldPrefix.ElementCount():]
	elems := append(newPrefix.elements(), tail...)
	return Path{s: joinPath(elems)}
}

// PrimPath returns the path truncated before the final variant
// selection, i.e. the prim whose storage branch the path addresses. For
// plain prim paths this is the path itself.
func (p Path) PrimPath() Path {
	if !p.ContainsPrimVariantSelection() {
		return p
	}
	elems := p.elements()
	for i := len(elems) - 1; i >= 0; i-- {
		if isVariantElement(elems[i]) {
			return Path{s: joinPath(elems[:i])}
		}
	}
	return p
}

// ContainingVariantSelection returns the longest prefix of p that ends
// in a variant selection, or the empty path if there is none.
func (p Path) ContainingVariantSelection() Path {
	open := strings.LastIndexByte(p.s, '{')
	if open < 0 {
		return EmptyPath
	}
	end := strings.IndexByte(p.s[open:], '}')
	if end < 0 {
		return EmptyPath
	}
	return Path{s: p.s[:open+end+1]}
}

// Equal reports whether two paths are identical.
func (p Path) Equal(other Path) bool {
	return p.s == other.s
}

// Less imposes a stable lexicographic order on paths, for use as a map
// tie-breaker. It is not a strength order.
func (p Path) Less(other Path) bool {
	return p.s < other.s
}

// String returns the textual form of the path.
func (p Path) String() string {
	return p.s
}
