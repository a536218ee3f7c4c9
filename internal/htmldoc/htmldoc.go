// Package htmldoc adapts a parsed HTML document to the propagate interfaces.
package htmldoc

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/clickprop/internal/handler"
	"github.com/sells-group/clickprop/internal/propagate"
)

const (
	// HrefAttr binds a button to a navigation target declaratively.
	HrefAttr = "data-clickprop-href"
	// HandlerAttr holds a function expression to run on click, for pages
	// that hand the click handler to a script loader instead of onclick.
	HandlerAttr = "data-clickprop-handler"
)

// Document is a parsed HTML tree.
type Document struct {
	root *html.Node
}

var _ propagate.Document = (*Document)(nil)

// Parse reads a UTF-8 HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, eris.Wrap(err, "htmldoc: parse")
	}
	return &Document{root: root}, nil
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	if err := html.Render(w, d.root); err != nil {
		return eris.Wrap(err, "htmldoc: render")
	}
	return nil
}

// String renders the document, returning "" on failure.
func (d *Document) String() string {
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		return ""
	}
	return b.String()
}

func (d *Document) Anchors() []propagate.Anchor {
	var out []propagate.Anchor
	for _, n := range collect(d.root, isAnchor) {
		out = append(out, &anchor{node{n}})
	}
	return out
}

func (d *Document) Buttons() []propagate.Button {
	var out []propagate.Button
	for _, n := range collect(d.root, isButton) {
		out = append(out, &button{node{n}})
	}
	return out
}

func (d *Document) Forms() []propagate.Form {
	var out []propagate.Form
	for _, n := range collect(d.root, isForm) {
		out = append(out, &form{node: node{n}, root: d.root})
	}
	return out
}

func isAnchor(n *html.Node) bool { return n.DataAtom == atom.A }
func isForm(n *html.Node) bool   { return n.DataAtom == atom.Form }

func isButton(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		return true
	case atom.Input:
		t, _ := getAttr(n, "type")
		return strings.EqualFold(t, "button")
	}
	return false
}

func isControl(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Input, atom.Select, atom.Textarea, atom.Button:
		return true
	}
	return false
}

// collect returns matching element nodes in document order.
func collect(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

type node struct {
	n *html.Node
}

func (e node) Attr(name string) (string, bool) { return getAttr(e.n, name) }

type anchor struct{ node }

func (a *anchor) Href() (string, bool) { return getAttr(a.n, "href") }
func (a *anchor) SetHref(href string)  { setAttr(a.n, "href", href) }

type button struct{ node }

// Handler prefers the declarative binding, then a function expression in
// HandlerAttr, then an inline onclick body.
func (b *button) Handler() handler.ClickHandler {
	if href, ok := getAttr(b.n, HrefAttr); ok && strings.TrimSpace(href) != "" {
		return handler.Bound{URL: href}
	}
	if src, ok := getAttr(b.n, HandlerAttr); ok && strings.TrimSpace(src) != "" {
		s, err := handler.ParseScript(src)
		if err != nil {
			return nil
		}
		return s
	}
	if body, ok := getAttr(b.n, "onclick"); ok {
		s, err := handler.InlineScript(body)
		if err != nil {
			return nil
		}
		return s
	}
	return nil
}

func (b *button) SetHandler(h handler.ClickHandler) {
	switch h := h.(type) {
	case handler.Bound:
		setAttr(b.n, HrefAttr, h.URL)
	case *handler.Script:
		if h.Inline() {
			setAttr(b.n, "onclick", h.Source())
		} else {
			setAttr(b.n, HandlerAttr, h.Source())
		}
	}
}

type form struct {
	node
	root *html.Node
}

func (f *form) Action() string {
	v, _ := getAttr(f.n, "action")
	return v
}

// HasInput looks at controls inside the form and at controls elsewhere in
// the document associated through their form attribute.
func (f *form) HasInput(name string) bool {
	named := func(n *html.Node) bool {
		if !isControl(n) {
			return false
		}
		v, ok := getAttr(n, "name")
		return ok && v == name
	}
	if len(collect(f.n, named)) > 0 {
		return true
	}
	id, ok := getAttr(f.n, "id")
	if !ok || id == "" {
		return false
	}
	return len(collect(f.root, func(n *html.Node) bool {
		owner, ok := getAttr(n, "form")
		return ok && owner == id && named(n)
	})) > 0
}

func (f *form) AppendHidden(name, value string) {
	f.n.AppendChild(&html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Input,
		Data:     "input",
		Attr: []html.Attribute{
			{Key: "type", Val: "hidden"},
			{Key: "name", Val: name},
			{Key: "value", Val: value},
		},
	})
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}
