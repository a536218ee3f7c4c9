// Package eligibility decides whether an outbound target on a page qualifies
// for parameter injection.
package eligibility

import (
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Element exposes the attributes of a page element.
type Element interface {
	// Attr returns the value of the named attribute and whether it is present.
	Attr(name string) (string, bool)
}

// Policy decides eligibility for one page. A single policy is applied to
// anchors, buttons and forms alike.
type Policy interface {
	Eligible(el Element, target string) bool
	Name() string
}

// Kind names a policy in configuration.
type Kind string

const (
	KindElement Kind = "element"
	KindMarker  Kind = "marker"
)

// DefaultMarker is the literal substring the marker policy looks for.
const DefaultMarker = "clickprop=1"

// DefaultAttributes are the element marker aliases: the data attribute, its
// dataset-style spelling for a camelCase "clickProp" key, and the bare form.
var DefaultAttributes = []string{"data-clickprop", "data-click-prop", "clickprop"}

// Config selects and tunes the policy.
type Config struct {
	Kind       Kind
	Marker     string
	Attributes []string
	// Structured enables net/url parsing for target validation and origin
	// checks. Without it targets are only checked for presence.
	Structured bool
}

// New builds the policy configured by cfg for the page at page (which may
// be nil when the location is unknown).
func New(cfg Config, page *url.URL) Policy {
	switch cfg.Kind {
	case KindMarker:
		marker := cfg.Marker
		if marker == "" {
			marker = DefaultMarker
		}
		return &MarkerPolicy{Page: page, Marker: marker, Structured: cfg.Structured}
	default:
		attrs := cfg.Attributes
		if len(attrs) == 0 {
			attrs = DefaultAttributes
		}
		return &ElementPolicy{Page: page, Attributes: attrs, Structured: cfg.Structured}
	}
}

// ElementPolicy qualifies a target when its element carries a truthy marker
// attribute. Origins are not compared.
type ElementPolicy struct {
	Page       *url.URL
	Attributes []string
	Structured bool
}

func (p *ElementPolicy) Name() string { return string(KindElement) }

func (p *ElementPolicy) Eligible(el Element, target string) bool {
	if el == nil || !Marked(el, p.Attributes) {
		return false
	}
	if !p.Structured {
		return strings.TrimSpace(target) != ""
	}
	_, ok := resolve(p.Page, target)
	return ok
}

// Marked reports whether el carries any of attrs with a truthy value. The
// first alias present decides.
func Marked(el Element, attrs []string) bool {
	for _, name := range attrs {
		if v, ok := el.Attr(name); ok {
			return Truthy(v)
		}
	}
	return false
}

// Truthy interprets a marker attribute value: empty, "1", "true" and "yes"
// (trimmed, any case) are true.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1", "true", "yes":
		return true
	default:
		return false
	}
}

// MarkerPolicy qualifies a target when the page URL or the target URL
// contains the marker substring. With structured parsing the target must
// also share the page's origin.
type MarkerPolicy struct {
	Page       *url.URL
	Marker     string
	Structured bool
}

func (p *MarkerPolicy) Name() string { return string(KindMarker) }

func (p *MarkerPolicy) Eligible(_ Element, target string) bool {
	if strings.TrimSpace(target) == "" {
		return false
	}
	if p.Structured {
		u, ok := resolve(p.Page, target)
		if !ok {
			return false
		}
		if p.Page != nil && !sameOrigin(p.Page, u) {
			zap.L().Debug("eligibility: cross-origin target skipped", zap.String("target", target))
			return false
		}
	}
	if p.Page != nil && strings.Contains(p.Page.String(), p.Marker) {
		return true
	}
	return strings.Contains(target, p.Marker)
}

// resolve parses target relative to page.
func resolve(page *url.URL, target string) (*url.URL, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, false
	}
	ref, err := url.Parse(target)
	if err != nil {
		zap.L().Debug("eligibility: unparsable target", zap.String("target", target), zap.Error(err))
		return nil, false
	}
	if page == nil {
		return ref, true
	}
	return page.ResolveReference(ref), true
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
