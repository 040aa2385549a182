// Package display flattens a Review Document produced by the sandboxed
// interpreter into an ordered sequence of Lines for a small screen.
// The document is parsed once into an arena of Nodes
// addressed by index, using json.Decoder.Token rather than
// json.Unmarshal into interface{}, so the result is a flat slice with
// no attacker-controlled pointer aliasing. Flatten then walks that
// arena with an explicit stack instead of recursion, so render depth
// is bounded only by heap, not by nesting depth.
package display

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/paolino/air-gap-signer/deviceerr"
)

// Kind discriminates a Node's variant.
type Kind int

const (
	KindScalar Kind = iota
	KindMapping
	KindSequence
)

// Scalar holds one of JSON's four leaf types. Exactly one of the typed
// fields is meaningful, selected by ScalarKind.
type Scalar struct {
	Kind ScalarKind
	Str  string
	Num  json.Number
	Bool bool
}

type ScalarKind int

const (
	ScalarString ScalarKind = iota
	ScalarNumber
	ScalarBool
	ScalarNull
)

// entry is one key/child pair of a Mapping node, in insertion order.
type entry struct {
	Key   string
	Child int
}

// Node is one arena slot. Mapping and Sequence reference children by
// index into Document.Nodes rather than by pointer or nested struct,
// so the whole document is one flat slice.
type Node struct {
	Kind     Kind
	Scalar   Scalar
	Entries  []entry // Kind == KindMapping
	Elements []int   // Kind == KindSequence
}

// Document is the arena: Nodes[Root] is the top-level value.
type Document struct {
	Nodes []Node
	Root  int
}

// Parse reads one JSON value from r into a Document using a streaming
// token reader (encoding/json.Decoder.Token), never json.Unmarshal into
// interface{} — the interpreter's output is untrusted, so the parser
// must not build an aliasable map-of-interface{} graph whose size the
// guest controls. Malformed or incomplete input yields a *deviceerr.Error
// with Kind InvalidJSON.
func Parse(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	doc := Document{}
	root, err := parseValue(dec, &doc)
	if err != nil {
		return Document{}, err
	}
	doc.Root = root

	if _, err := dec.Token(); err != io.EOF {
		return Document{}, deviceerr.New(deviceerr.InvalidJSON, "trailing data after top-level value")
	}
	return doc, nil
}

// ParseBytes is a convenience wrapper over Parse for callers that
// already hold the full interpreter result in memory.
func ParseBytes(b []byte) (Document, error) {
	return Parse(bytes.NewReader(b))
}

func parseValue(dec *json.Decoder, doc *Document) (int, error) {
	tok, err := dec.Token()
	if err != nil {
		return 0, deviceerr.Wrap(deviceerr.InvalidJSON, "malformed review document", err)
	}
	return parseToken(tok, dec, doc)
}

func parseToken(tok json.Token, dec *json.Decoder, doc *Document) (int, error) {
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return parseMapping(dec, doc)
		case '[':
			return parseSequence(dec, doc)
		default:
			return 0, deviceerr.New(deviceerr.InvalidJSON, fmt.Sprintf("unexpected delimiter %q", v))
		}
	case string:
		return doc.push(Node{Kind: KindScalar, Scalar: Scalar{Kind: ScalarString, Str: v}}), nil
	case json.Number:
		return doc.push(Node{Kind: KindScalar, Scalar: Scalar{Kind: ScalarNumber, Num: v}}), nil
	case bool:
		return doc.push(Node{Kind: KindScalar, Scalar: Scalar{Kind: ScalarBool, Bool: v}}), nil
	case nil:
		return doc.push(Node{Kind: KindScalar, Scalar: Scalar{Kind: ScalarNull}}), nil
	default:
		return 0, deviceerr.New(deviceerr.InvalidJSON, fmt.Sprintf("unsupported token type %T", tok))
	}
}

// parseMapping consumes an already-opened '{': each iteration reads one
// key token and one value (which may itself open a nested object or
// array), appending every node to the same flat Document.Nodes arena.
func parseMapping(dec *json.Decoder, doc *Document) (int, error) {
	idx := doc.push(Node{Kind: KindMapping})
	seen := make(map[string]struct{})

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return 0, deviceerr.Wrap(deviceerr.InvalidJSON, "malformed mapping key", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return 0, deviceerr.New(deviceerr.InvalidJSON, "mapping key is not a string")
		}
		if _, dup := seen[key]; dup {
			return 0, deviceerr.New(deviceerr.InvalidJSON, fmt.Sprintf("duplicate mapping key %q", key))
		}
		seen[key] = struct{}{}

		child, err := parseValue(dec, doc)
		if err != nil {
			return 0, err
		}
		doc.Nodes[idx].Entries = append(doc.Nodes[idx].Entries, entry{Key: key, Child: child})
	}
	if _, err := dec.Token(); err != nil { // consume closing '}'
		return 0, deviceerr.Wrap(deviceerr.InvalidJSON, "unterminated mapping", err)
	}
	return idx, nil
}

func parseSequence(dec *json.Decoder, doc *Document) (int, error) {
	idx := doc.push(Node{Kind: KindSequence})

	for dec.More() {
		child, err := parseValue(dec, doc)
		if err != nil {
			return 0, err
		}
		doc.Nodes[idx].Elements = append(doc.Nodes[idx].Elements, child)
	}
	if _, err := dec.Token(); err != nil { // consume closing ']'
		return 0, deviceerr.Wrap(deviceerr.InvalidJSON, "unterminated sequence", err)
	}
	return idx, nil
}

func (d *Document) push(n Node) int {
	d.Nodes = append(d.Nodes, n)
	return len(d.Nodes) - 1
}
