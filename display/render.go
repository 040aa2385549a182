package display

import (
	"fmt"
	"strings"
)

// Line is one rendered row: Indent nesting depth and the text for that
// row. A single logical value may flatten into more than one Line when
// wrapped.
type Line struct {
	Indent int
	Text   string
}

// frame is one entry of the explicit walk stack used by Flatten in
// place of recursion, so flattening depth is bounded only by available
// heap, not by the Go call stack, regardless of how deeply the
// interpreter nests its review document.
type frame struct {
	node   int
	indent int
	prefix string // "<key>: " or "[i]: " or "" at top level
}

// Flatten walks doc iteratively and returns its display lines. width
// is the number of runes after which a string value is hard-wrapped;
// width <= 0 disables wrapping.
func Flatten(doc Document, width int) []Line {
	var lines []Line
	stack := []frame{{node: doc.Root, indent: 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := doc.Nodes[f.node]
		switch n.Kind {
		case KindScalar:
			lines = append(lines, wrapScalar(f.prefix, n.Scalar, f.indent, width)...)

		case KindMapping:
			if f.prefix != "" {
				lines = append(lines, Line{Indent: f.indent, Text: strings.TrimSuffix(f.prefix, ": ")})
			}
			// Push children in reverse so they pop in insertion order.
			for i := len(n.Entries) - 1; i >= 0; i-- {
				e := n.Entries[i]
				childIndent := f.indent
				if f.prefix != "" {
					childIndent++
				}
				stack = append(stack, frame{node: e.Child, indent: childIndent, prefix: e.Key + ": "})
			}

		case KindSequence:
			if f.prefix != "" {
				lines = append(lines, Line{Indent: f.indent, Text: strings.TrimSuffix(f.prefix, ": ")})
			}
			childIndent := f.indent
			if f.prefix != "" {
				childIndent++
			}
			for i := len(n.Elements) - 1; i >= 0; i-- {
				stack = append(stack, frame{node: n.Elements[i], indent: childIndent, prefix: fmt.Sprintf("[%d]: ", i)})
			}
		}
	}

	return lines
}

func wrapScalar(prefix string, s Scalar, indent, width int) []Line {
	text := prefix + scalarText(s)
	if width <= 0 {
		return []Line{{Indent: indent, Text: text}}
	}
	return wrapText(text, indent, width)
}

// wrapText hard-wraps text at width runes, right edge only, no
// hyphenation.
func wrapText(text string, indent, width int) []Line {
	runes := []rune(text)
	if len(runes) <= width {
		return []Line{{Indent: indent, Text: text}}
	}

	var lines []Line
	for len(runes) > 0 {
		n := width
		if n > len(runes) {
			n = len(runes)
		}
		lines = append(lines, Line{Indent: indent, Text: string(runes[:n])})
		runes = runes[n:]
	}
	return lines
}

func scalarText(s Scalar) string {
	switch s.Kind {
	case ScalarString:
		return s.Str
	case ScalarNumber:
		return s.Num.String()
	case ScalarBool:
		if s.Bool {
			return "true"
		}
		return "false"
	case ScalarNull:
		return "null"
	default:
		return ""
	}
}
