// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package debug renders prim-index graphs for inspection. All
// rendering is done locally without external services.
package debug

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianCompose/services/compose/pcp"
)

// OutputFormat specifies the dump output format.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatDOT  OutputFormat = "dot"
)

// Dump renders a prim index in the requested format.
//
// # Inputs
//
//   - idx: The index to render.
//   - format: The output format.
//
// # Outputs
//
//   - string: The rendering.
//   - error: Non-nil for an unknown format.
func Dump(idx *pcp.PrimIndex, format OutputFormat) (string, error) {
	if idx == nil {
		return "", fmt.Errorf("index is required")
	}
	switch format {
	case FormatText:
		return dumpText(idx), nil
	case FormatDOT:
		return dumpDOT(idx), nil
	default:
		return "", fmt.Errorf("unknown format: %s", format)
	}
}

// dumpText renders the graph as an indented tree, strongest first,
// one node per line with its arc type, site, and state flags.
func dumpText(idx *pcp.PrimIndex) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PrimIndex %s\n", idx.Path())
	var walk func(ref pcp.NodeRef, depth int)
	walk = func(ref pcp.NodeRef, depth int) {
		fmt.Fprintf(&b, "%s%s %s%s\n",
			strings.Repeat("  ", depth),
			idx.ArcOf(ref).Type,
			idx.Site(ref),
			nodeFlags(idx, ref))
		for _, child := range idx.Children(ref) {
			walk(child, depth+1)
		}
	}
	walk(idx.Root(), 1)

	if errs := idx.Errors(); len(errs) > 0 {
		b.WriteString("Errors:\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "  %s\n", e.Error())
		}
	}
	return b.String()
}

// dumpDOT renders the graph as Graphviz DOT. Parent-child edges are
// solid; origin edges are dashed.
func dumpDOT(idx *pcp.PrimIndex) string {
	var b strings.Builder
	b.WriteString("digraph primindex {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=box, fontname=\"monospace\"];\n")

	for _, ref := range idx.NodeRange() {
		label := fmt.Sprintf("%s\\n%s%s",
			idx.ArcOf(ref).Type, idx.Site(ref), nodeFlags(idx, ref))
		attrs := ""
		if !idx.CanContributeSpecs(ref) {
			attrs = ", style=dotted"
		} else if idx.HasSpecs(ref) {
			attrs = ", style=filled, fillcolor=lightgrey"
		}
		fmt.Fprintf(&b, "  n%d [label=\"%s\"%s];\n", ref, escapeDOT(label), attrs)
	}

	for _, ref := range idx.NodeRange() {
		for _, child := range idx.Children(ref) {
			fmt.Fprintf(&b, "  n%d -> n%d;\n", ref, child)
		}
		if origin := idx.Origin(ref); origin != pcp.InvalidNodeRef && origin != idx.Parent(ref) {
			fmt.Fprintf(&b, "  n%d -> n%d [style=dashed, label=\"origin\"];\n", ref, origin)
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func nodeFlags(idx *pcp.PrimIndex, ref pcp.NodeRef) string {
	var flags []string
	if idx.IsInert(ref) {
		flags = append(flags, "inert")
	}
	if idx.IsRestricted(ref) {
		flags = append(flags, "restricted")
	}
	if idx.HasSpecs(ref) {
		flags = append(flags, "specs")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ",") + "]"
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
