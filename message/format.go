package message

import (
	"fmt"
	"strconv"
	"strings"
)

// Named supplies values for {name} placeholders
type Named map[string]any

// Substitute replaces {0}, {1}... with positional params and {name} with
// entries of any Named param. Unknown placeholders are left as written.
func Substitute(text string, params ...any) string {
	if len(params) == 0 || !strings.Contains(text, "{") {
		return text
	}

	var positional []any
	named := make(Named)
	for _, p := range params {
		if n, ok := p.(Named); ok {
			for k, v := range n {
				named[k] = v
			}
			continue
		}
		positional = append(positional, p)
	}

	var b strings.Builder
	b.Grow(len(text))
	for {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			b.WriteString(text)
			break
		}
		end := strings.IndexByte(text[open:], '}')
		if end < 0 {
			b.WriteString(text)
			break
		}
		end += open

		b.WriteString(text[:open])
		name := text[open+1 : end]
		if v, ok := lookup(name, positional, named); ok {
			b.WriteString(fmt.Sprint(v))
		} else {
			b.WriteString(text[open : end+1])
		}
		text = text[end+1:]
	}
	return b.String()
}

func lookup(name string, positional []any, named Named) (any, bool) {
	if i, err := strconv.Atoi(name); err == nil {
		if i >= 0 && i < len(positional) {
			return positional[i], true
		}
		return nil, false
	}
	v, ok := named[name]
	return v, ok
}
