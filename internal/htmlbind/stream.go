package htmlbind

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// streamBinder rewrites the token stream and copies untouched tokens
// verbatim, so it never adds the elements a parser would synthesize.
type streamBinder struct {
	src  string
	refs *refs
}

func newStreamBinder(source string, r *refs) *streamBinder {
	return &streamBinder{src: source, refs: r}
}

func tokenAttr(tok *html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// pass walks the document once. tag may modify a start tag and report
// whether it did; text rewrites the body of inline module scripts; before
// may return markup to insert ahead of a token.
func (b *streamBinder) pass(tag func(tok *html.Token) bool, text func(string) string, before func(tt html.TokenType, tok *html.Token) string) {
	z := html.NewTokenizer(strings.NewReader(b.src))
	var sb strings.Builder
	sb.Grow(len(b.src))
	inModule := false
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				b.refs.fail(err)
				return
			}
			break
		}
		raw := string(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			tok := z.Token()
			if before != nil {
				sb.WriteString(before(tt, &tok))
			}
			if tt == html.EndTagToken {
				inModule = false
				break
			}
			if tok.DataAtom == atom.Script {
				t, _ := tokenAttr(&tok, "type")
				_, hasSrc := tokenAttr(&tok, "src")
				inModule = tt == html.StartTagToken && isModuleType(t) && !hasSrc
			}
			if tag != nil && tag(&tok) {
				sb.WriteString(tok.String())
				continue
			}
		case html.TextToken:
			if inModule && text != nil {
				sb.WriteString(text(raw))
				continue
			}
		}
		sb.WriteString(raw)
	}
	b.src = sb.String()
}

func (b *streamBinder) ModuleScripts() Binder {
	b.pass(nil, b.refs.module, nil)
	return b
}

func (b *streamBinder) rewriteAttr(a atom.Atom, key string) {
	b.pass(func(tok *html.Token) bool {
		if tok.DataAtom != a {
			return false
		}
		changed := false
		for i := range tok.Attr {
			if tok.Attr[i].Namespace != "" || tok.Attr[i].Key != key {
				continue
			}
			if repl := b.refs.attr(tok.Attr[i].Val); repl != tok.Attr[i].Val {
				tok.Attr[i].Val = repl
				changed = true
			}
		}
		return changed
	}, nil, nil)
}

func (b *streamBinder) ScriptSources() Binder {
	b.rewriteAttr(atom.Script, "src")
	return b
}

func (b *streamBinder) LinkHrefs() Binder {
	b.rewriteAttr(atom.Link, "href")
	return b
}

// injectionHTML renders the elements of inj, styles first.
func injectionHTML(inj Injection) string {
	var sb strings.Builder
	for _, href := range inj.Styles {
		link := html.Token{
			Type:     html.SelfClosingTagToken,
			Data:     "link",
			DataAtom: atom.Link,
			Attr:     []html.Attribute{{Key: "rel", Val: "stylesheet"}, {Key: "href", Val: href}},
		}
		sb.WriteString(link.String())
	}
	for _, src := range inj.Scripts {
		script := html.Token{
			Type:     html.StartTagToken,
			Data:     "script",
			DataAtom: atom.Script,
			Attr:     []html.Attribute{{Key: "type", Val: "module"}, {Key: "src", Val: src}},
		}
		sb.WriteString(script.String())
		sb.WriteString("</script>")
	}
	return sb.String()
}

// Inject places the elements before </head>, or before <body> when the
// document has no head end tag, or at the very start of a fragment.
func (b *streamBinder) Inject(inj Injection) Binder {
	snippet := injectionHTML(inj)
	if snippet == "" {
		return b
	}
	done := false
	b.pass(nil, nil, func(tt html.TokenType, tok *html.Token) string {
		if done {
			return ""
		}
		if (tt == html.EndTagToken && tok.DataAtom == atom.Head) ||
			(tt == html.StartTagToken && tok.DataAtom == atom.Body) {
			done = true
			return snippet
		}
		return ""
	})
	if !done {
		b.src = snippet + b.src
	}
	return b
}

func (b *streamBinder) String() string {
	return b.src
}

func (b *streamBinder) Err() error {
	return b.refs.err
}
