package htmlbind

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// treeBinder works on a parsed DOM.
type treeBinder struct {
	doc  *html.Node
	refs *refs
	src  string
}

func newTreeBinder(source string, r *refs) *treeBinder {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		r.fail(err)
	}
	return &treeBinder{doc: doc, refs: r, src: source}
}

func (b *treeBinder) walk(fn func(n *html.Node)) {
	if b.doc == nil {
		return
	}
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			fn(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(b.doc)
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func (b *treeBinder) ModuleScripts() Binder {
	b.walk(func(n *html.Node) {
		if n.DataAtom != atom.Script {
			return
		}
		if t, _ := getAttr(n, "type"); !isModuleType(t) {
			return
		}
		if _, hasSrc := getAttr(n, "src"); hasSrc {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				c.Data = b.refs.module(c.Data)
			}
		}
	})
	return b
}

func (b *treeBinder) rewriteAttr(a atom.Atom, key string) {
	b.walk(func(n *html.Node) {
		if n.DataAtom != a {
			return
		}
		if v, ok := getAttr(n, key); ok {
			if repl := b.refs.attr(v); repl != v {
				setAttr(n, key, repl)
			}
		}
	})
}

func (b *treeBinder) ScriptSources() Binder {
	b.rewriteAttr(atom.Script, "src")
	return b
}

func (b *treeBinder) LinkHrefs() Binder {
	b.rewriteAttr(atom.Link, "href")
	return b
}

func (b *treeBinder) head() *html.Node {
	var head *html.Node
	b.walk(func(n *html.Node) {
		if head == nil && n.DataAtom == atom.Head {
			head = n
		}
	})
	return head
}

func (b *treeBinder) Inject(inj Injection) Binder {
	head := b.head()
	if head == nil {
		return b
	}
	for _, href := range inj.Styles {
		head.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "link",
			DataAtom: atom.Link,
			Attr:     []html.Attribute{{Key: "rel", Val: "stylesheet"}, {Key: "href", Val: href}},
		})
	}
	for _, src := range inj.Scripts {
		head.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "script",
			DataAtom: atom.Script,
			Attr:     []html.Attribute{{Key: "type", Val: "module"}, {Key: "src", Val: src}},
		})
	}
	return b
}

func (b *treeBinder) String() string {
	if b.doc == nil {
		return b.src
	}
	var sb strings.Builder
	if err := html.Render(&sb, b.doc); err != nil {
		b.refs.fail(err)
		return b.src
	}
	return sb.String()
}

func (b *treeBinder) Err() error {
	return b.refs.err
}
