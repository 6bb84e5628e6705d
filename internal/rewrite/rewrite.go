// Package rewrite finds the module specifiers of a JavaScript or
// TypeScript source unit and rewrites them with minimal edits.
//
// Only static forms are recognised: top-level import and re-export
// declarations and require("...") calls with a single string literal.
// Dynamic import() expressions are never rewritten.
package rewrite

import (
	"errors"
	"fmt"
	"strings"

	"playfs/internal/logging"
)

var (
	rewriteLogger = logging.GetLogger().WithPrefix("rewrite")

	// ErrUnresolved is returned when the resolver refuses a specifier. The
	// caller should treat the source as unusable for now.
	ErrUnresolved = errors.New("module specifier unresolved")
)

// Kind tells which syntactic form a specifier was found in.
type Kind int

const (
	KindImport Kind = iota
	KindExport
	KindRequire
)

func (k Kind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindExport:
		return "export"
	case KindRequire:
		return "require"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Specifier is a module specifier found in source text. Start and End are
// the byte offsets of the text between the quotes.
type Specifier struct {
	Value string
	Kind  Kind
	Start int
	End   int
}

// IsImport reports whether the specifier belongs to an import declaration.
func (s Specifier) IsImport() bool {
	return s.Kind == KindImport
}

// Resolver maps a specifier to its replacement. Returning false marks the
// specifier as unresolvable.
type Resolver func(spec Specifier) (string, bool)

// Specifiers lists the module specifiers of src in source order.
func Specifiers(src string) []Specifier {
	return scan(src)
}

type edit struct {
	start, end int
	text       string
}

// Rewrite replaces every specifier of src with the resolver's answer. When
// no specifier changes, src itself is returned. When the resolver refuses a
// specifier, the returned error wraps ErrUnresolved.
func Rewrite(src string, resolve Resolver) (string, error) {
	specs := scan(src)
	var edits []edit
	for _, spec := range specs {
		repl, ok := resolve(spec)
		if !ok {
			rewriteLogger.Trace("Unresolved %s specifier %q", spec.Kind, spec.Value)
			return src, fmt.Errorf("%w: %q", ErrUnresolved, spec.Value)
		}
		if repl == spec.Value {
			continue
		}
		edits = append(edits, edit{start: spec.Start, end: spec.End, text: repl})
	}
	if len(edits) == 0 {
		return src, nil
	}

	rewriteLogger.Trace("Rewriting %d of %d specifiers", len(edits), len(specs))
	var sb strings.Builder
	sb.Grow(len(src))
	last := 0
	for _, e := range edits {
		sb.WriteString(src[last:e.start])
		sb.WriteString(escape(e.text, src[e.start-1]))
		last = e.end
	}
	sb.WriteString(src[last:])
	return sb.String(), nil
}

// escape makes s safe inside a string literal delimited by quote.
func escape(s string, quote byte) string {
	if !strings.ContainsAny(s, "\\\n"+string(quote)) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', quote:
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
