package message

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dailyyoga/mongoconfigs/store"
)

// LanguageField is stored alongside the _id of every catalog document
const LanguageField = "language"

// Value is a message: a single line or an ordered list of lines
type Value struct {
	lines []string
	list  bool
}

// Text returns a scalar message
func Text(s string) Value {
	return Value{lines: []string{s}}
}

// List returns a list message
func List(lines ...string) Value {
	return Value{lines: append([]string(nil), lines...), list: true}
}

// IsList reports whether v was stored as a list
func (v Value) IsList() bool {
	return v.list
}

// Lines returns the message lines; a scalar has exactly one
func (v Value) Lines() []string {
	return append([]string(nil), v.lines...)
}

// String returns the scalar text. Lists are joined with a newline.
func (v Value) String() string {
	return strings.Join(v.lines, "\n")
}

func (v Value) raw() any {
	if !v.list {
		return v.String()
	}
	out := make([]any, len(v.lines))
	for i, l := range v.lines {
		out[i] = l
	}
	return out
}

// Document is a catalog for one language, keyed by dotted path
type Document map[string]Value

// Paths returns the document's paths in sorted order
func (d Document) Paths() []string {
	paths := make([]string, 0, len(d))
	for p := range d {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Flatten converts a stored catalog into a Document.
// Nested sections become dotted paths, arrays become lists and other scalars are formatted as text.
// The _id and language fields are not messages and are skipped.
func Flatten(doc store.Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if k == store.IDField || k == LanguageField {
			continue
		}
		flattenInto(out, k, v)
	}
	return out
}

func flattenInto(out Document, path string, v any) {
	switch x := v.(type) {
	case nil:
	case map[string]any:
		for k, child := range x {
			flattenInto(out, path+"."+k, child)
		}
	case store.Document:
		flattenInto(out, path, map[string]any(x))
	case []any:
		lines := make([]string, len(x))
		for i, item := range x {
			lines[i] = scalar(item)
		}
		out[path] = List(lines...)
	case []string:
		out[path] = List(x...)
	default:
		out[path] = Text(scalar(x))
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// Unflatten converts d into the nested form it is stored in
func Unflatten(d Document, language string) (store.Document, error) {
	out := store.Document{
		store.IDField: language,
		LanguageField: language,
	}
	sections := make(map[string]bool)

	for _, path := range d.Paths() {
		if sections[path] {
			return nil, ErrPathConflict(path)
		}
		segs := store.SplitPath(path)
		node := map[string]any(out)
		for i, seg := range segs[:len(segs)-1] {
			sections[strings.Join(segs[:i+1], ".")] = true
			next, ok := node[seg]
			if !ok {
				child := make(map[string]any)
				node[seg] = child
				node = child
				continue
			}
			child, ok := next.(map[string]any)
			if !ok {
				return nil, ErrPathConflict(strings.Join(segs[:i+1], "."))
			}
			node = child
		}
		node[segs[len(segs)-1]] = d[path].raw()
	}
	return out, nil
}
