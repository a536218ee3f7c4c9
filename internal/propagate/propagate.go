// Package propagate injects destination entries into the anchors, buttons
// and forms of a document.
package propagate

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/eligibility"
	"github.com/sells-group/clickprop/internal/entry"
	"github.com/sells-group/clickprop/internal/handler"
	"github.com/sells-group/clickprop/internal/model"
	"github.com/sells-group/clickprop/internal/rewrite"
)

// Document exposes the outbound elements of a page. Each call returns the
// elements present at the time of the call.
type Document interface {
	Anchors() []Anchor
	Buttons() []Button
	Forms() []Form
}

// Anchor is a hyperlink.
type Anchor interface {
	eligibility.Element
	Href() (string, bool)
	SetHref(href string)
}

// Button is a clickable element whose handler may navigate.
type Button interface {
	eligibility.Element
	// Handler returns nil when the button has no navigation handler.
	Handler() handler.ClickHandler
	SetHandler(h handler.ClickHandler)
}

// Form is a submittable form.
type Form interface {
	eligibility.Element
	Action() string
	// HasInput reports whether a named input, select or textarea exists.
	HasInput(name string) bool
	AppendHidden(name, value string)
}

// Propagator applies one eligibility policy and one rewriter to a page.
type Propagator struct {
	Policy   eligibility.Policy
	Rewriter *rewrite.Rewriter
	// Page is the location of the document, nil when unknown.
	Page *url.URL
}

var skippedSchemes = []string{"mailto:", "tel:", "javascript:"}

// Anchors rewrites every eligible anchor and returns how many changed.
func (p *Propagator) Anchors(doc Document, entries []model.DestinationEntry) int {
	if len(entries) == 0 {
		return 0
	}
	var n int
	for _, a := range doc.Anchors() {
		href, ok := a.Href()
		if !ok || skipScheme(href) {
			continue
		}
		if !p.Policy.Eligible(a, href) {
			continue
		}
		out := rewrite.EnsureFragment(href, p.retarget(href, entries))
		if out == href {
			continue
		}
		a.SetHref(out)
		n++
		zap.L().Debug("propagate: anchor rewritten", zap.String("from", href), zap.String("to", out))
	}
	return n
}

// Buttons retargets every eligible button whose handler has a recognisable
// literal target. Handlers that cannot be rebuilt are left as they were.
func (p *Propagator) Buttons(doc Document, entries []model.DestinationEntry) int {
	if len(entries) == 0 {
		return 0
	}
	var n int
	for _, b := range doc.Buttons() {
		h := b.Handler()
		if h == nil {
			continue
		}
		target, ok := h.Target()
		if !ok || !p.Policy.Eligible(b, target) {
			continue
		}
		out := p.retarget(target, entries)
		if out == target {
			continue
		}
		next, err := h.Retarget(out)
		if err != nil {
			zap.L().Debug("propagate: button handler left unchanged", zap.String("target", target), zap.Error(err))
			continue
		}
		b.SetHandler(next)
		n++
	}
	return n
}

// Forms appends a hidden input for each entry an eligible form does not
// already submit, and returns the number of inputs added.
func (p *Propagator) Forms(doc Document, entries []model.DestinationEntry) int {
	if len(entries) == 0 {
		return 0
	}
	var n int
	for _, f := range doc.Forms() {
		if !p.Policy.Eligible(f, p.formTarget(f)) {
			continue
		}
		for _, e := range entries {
			if f.HasInput(e.Key) {
				continue
			}
			f.AppendHidden(e.Key, e.Value)
			n++
		}
	}
	return n
}

// formTarget is the form's action, or the page itself when the action is
// empty since that is where such a form submits.
func (p *Propagator) formTarget(f Form) string {
	if action := strings.TrimSpace(f.Action()); action != "" {
		return action
	}
	if p.Page != nil {
		return p.Page.String()
	}
	return "."
}

// retarget substitutes the marker when the marker policy is active and the
// target carries it; otherwise entries are appended.
func (p *Propagator) retarget(target string, entries []model.DestinationEntry) string {
	if mp, ok := p.Policy.(*eligibility.MarkerPolicy); ok && strings.Contains(target, mp.Marker) {
		return rewrite.Replace(target, mp.Marker, entry.ReplacementQuery(entries, mp.Marker))
	}
	return p.Rewriter.Append(target, entries)
}

func skipScheme(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	if lower == "" {
		return true
	}
	for _, s := range skippedSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}
