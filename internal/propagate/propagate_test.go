package propagate

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/clickprop/internal/eligibility"
	"github.com/sells-group/clickprop/internal/handler"
	"github.com/sells-group/clickprop/internal/model"
	"github.com/sells-group/clickprop/internal/rewrite"
)

type attrs map[string]string

func (a attrs) Attr(name string) (string, bool) {
	v, ok := a[name]
	return v, ok
}

type fakeAnchor struct {
	attrs
	href    string
	hasHref bool
}

func (a *fakeAnchor) Href() (string, bool) { return a.href, a.hasHref }
func (a *fakeAnchor) SetHref(h string)     { a.href = h }

type fakeButton struct {
	attrs
	h handler.ClickHandler
}

func (b *fakeButton) Handler() handler.ClickHandler      { return b.h }
func (b *fakeButton) SetHandler(h handler.ClickHandler) { b.h = h }

type fakeForm struct {
	attrs
	action string
	inputs []string
	hidden []model.DestinationEntry
}

func (f *fakeForm) Action() string { return f.action }
func (f *fakeForm) HasInput(name string) bool {
	for _, in := range f.inputs {
		if in == name {
			return true
		}
	}
	for _, h := range f.hidden {
		if h.Key == name {
			return true
		}
	}
	return false
}
func (f *fakeForm) AppendHidden(name, value string) {
	f.hidden = append(f.hidden, model.DestinationEntry{Key: name, Value: value})
}

type fakeDoc struct {
	anchors []*fakeAnchor
	buttons []*fakeButton
	forms   []*fakeForm
}

func (d *fakeDoc) Anchors() []Anchor {
	out := make([]Anchor, len(d.anchors))
	for i, a := range d.anchors {
		out[i] = a
	}
	return out
}

func (d *fakeDoc) Buttons() []Button {
	out := make([]Button, len(d.buttons))
	for i, b := range d.buttons {
		out[i] = b
	}
	return out
}

func (d *fakeDoc) Forms() []Form {
	out := make([]Form, len(d.forms))
	for i, f := range d.forms {
		out[i] = f
	}
	return out
}

var (
	marked = attrs{"data-clickprop": ""}
	gid    = []model.DestinationEntry{{Key: "gid", Value: "abc"}}
)

func anchor(a attrs, href string) *fakeAnchor {
	return &fakeAnchor{attrs: a, href: href, hasHref: true}
}

func elementPropagator(page string) *Propagator {
	var u *url.URL
	if page != "" {
		u, _ = url.Parse(page)
	}
	return &Propagator{
		Policy:   eligibility.New(eligibility.Config{Kind: eligibility.KindElement, Structured: true}, u),
		Rewriter: &rewrite.Rewriter{Structured: true},
		Page:     u,
	}
}

func TestAnchors_ElementPolicy(t *testing.T) {
	doc := &fakeDoc{anchors: []*fakeAnchor{
		anchor(marked, "/go"),
		anchor(attrs{}, "/unmarked"),
		anchor(attrs{"data-clickprop": "false"}, "/off"),
		anchor(marked, "mailto:a@example.com"),
		anchor(marked, "TEL:+15551234"),
		anchor(marked, "javascript:void(0)"),
		{attrs: marked},
		anchor(marked, "/go?gid=keep"),
		anchor(attrs{"clickprop": "yes"}, "/pricing#plans"),
	}}

	n := elementPropagator("https://shop.example.com/").Anchors(doc, gid)
	assert.Equal(t, 2, n)

	want := []string{
		"/go?gid=abc",
		"/unmarked",
		"/off",
		"mailto:a@example.com",
		"TEL:+15551234",
		"javascript:void(0)",
		"",
		"/go?gid=keep",
		"/pricing?gid=abc#plans",
	}
	for i, a := range doc.anchors {
		assert.Equal(t, want[i], a.href, "anchor %d", i)
	}
}

func TestAnchors_NoEntries(t *testing.T) {
	doc := &fakeDoc{anchors: []*fakeAnchor{anchor(marked, "/go")}}
	assert.Zero(t, elementPropagator("").Anchors(doc, nil))
	assert.Equal(t, "/go", doc.anchors[0].href)
}

func TestAnchors_MarkerPolicyReplacesMarker(t *testing.T) {
	page, _ := url.Parse("https://shop.example.com/landing")
	p := &Propagator{
		Policy:   eligibility.New(eligibility.Config{Kind: eligibility.KindMarker}, page),
		Rewriter: &rewrite.Rewriter{Structured: true},
		Page:     page,
	}
	doc := &fakeDoc{anchors: []*fakeAnchor{
		anchor(attrs{}, "/go?clickprop=1&x=1"),
		anchor(attrs{}, "/plain"),
	}}

	n := p.Anchors(doc, []model.DestinationEntry{{Key: "gid", Value: "abc"}, {Key: "sid", Value: "s"}})
	assert.Equal(t, 1, n)
	assert.Equal(t, "/go?gid=abc&sid=s&x=1", doc.anchors[0].href)
	assert.Equal(t, "/plain", doc.anchors[1].href)
}

func TestAnchors_MarkerOnPageQualifiesAll(t *testing.T) {
	page, _ := url.Parse("https://shop.example.com/landing?clickprop=1")
	p := &Propagator{
		Policy:   eligibility.New(eligibility.Config{Kind: eligibility.KindMarker, Structured: true}, page),
		Rewriter: &rewrite.Rewriter{Structured: true},
		Page:     page,
	}
	doc := &fakeDoc{anchors: []*fakeAnchor{
		anchor(attrs{}, "/plain"),
		anchor(attrs{}, "https://other.example.com/x"),
	}}

	assert.Equal(t, 1, p.Anchors(doc, gid))
	assert.Equal(t, "/plain?gid=abc", doc.anchors[0].href)
	assert.Equal(t, "https://other.example.com/x", doc.anchors[1].href, "cross-origin skipped")
}

func TestButtons(t *testing.T) {
	script, err := handler.ParseScript("function(){location.href='/go?x=1'}")
	require.NoError(t, err)
	dynamic, err := handler.ParseScript("function(){location.href=url}")
	require.NoError(t, err)

	doc := &fakeDoc{buttons: []*fakeButton{
		{attrs: marked, h: script},
		{attrs: marked, h: handler.Bound{URL: "/checkout"}},
		{attrs: marked, h: dynamic},
		{attrs: attrs{}, h: handler.Bound{URL: "/unmarked"}},
		{attrs: marked},
	}}

	n := elementPropagator("").Buttons(doc, gid)
	assert.Equal(t, 2, n)

	assert.Equal(t, "function(){location.href='/go?x=1&gid=abc'}", doc.buttons[0].h.Source())
	assert.Equal(t, handler.Bound{URL: "/checkout?gid=abc"}, doc.buttons[1].h)
	assert.Same(t, dynamic, doc.buttons[2].h)
	assert.Equal(t, handler.Bound{URL: "/unmarked"}, doc.buttons[3].h)
	assert.Nil(t, doc.buttons[4].h)
}

func TestButtons_ConcatenatedHandlerUnchanged(t *testing.T) {
	var doc fakeDoc
	for _, body := range []string{
		"location.href='/p?id=' + pid",
		"window.open('/q?a=' + x + '&b=1')",
	} {
		h, err := handler.InlineScript(body)
		require.NoError(t, err)
		doc.buttons = append(doc.buttons, &fakeButton{attrs: marked, h: h})
	}

	assert.Zero(t, elementPropagator("").Buttons(&doc, gid))
	assert.Equal(t, "location.href='/p?id=' + pid", doc.buttons[0].h.Source())
	assert.Equal(t, "window.open('/q?a=' + x + '&b=1')", doc.buttons[1].h.Source())
}

func TestForms(t *testing.T) {
	entries := []model.DestinationEntry{{Key: "gid", Value: "abc"}, {Key: "sid", Value: "s"}}
	doc := &fakeDoc{forms: []*fakeForm{
		{attrs: marked, action: "/subscribe"},
		{attrs: marked, action: "/contact", inputs: []string{"gid"}},
		{attrs: attrs{}, action: "/unmarked"},
		{attrs: marked},
	}}

	n := elementPropagator("https://shop.example.com/").Forms(doc, entries)
	assert.Equal(t, 5, n)

	assert.Equal(t, entries, doc.forms[0].hidden)
	assert.Equal(t, []model.DestinationEntry{{Key: "sid", Value: "s"}}, doc.forms[1].hidden)
	assert.Empty(t, doc.forms[2].hidden)
	assert.Equal(t, entries, doc.forms[3].hidden, "empty action targets the page")

	// A second pass adds nothing.
	assert.Zero(t, elementPropagator("https://shop.example.com/").Forms(doc, entries))
}

func TestForms_EmptyActionUnknownPage(t *testing.T) {
	doc := &fakeDoc{forms: []*fakeForm{{attrs: marked}}}
	assert.Equal(t, 1, elementPropagator("").Forms(doc, gid))
}

func TestSkipScheme(t *testing.T) {
	assert.True(t, skipScheme(""))
	assert.True(t, skipScheme("  mailto:x"))
	assert.True(t, skipScheme("JavaScript:alert(1)"))
	assert.False(t, skipScheme("/go"))
	assert.False(t, skipScheme("https://example.com"))
}
