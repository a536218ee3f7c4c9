// Package handler models the navigation target of a button click.
//
// Bound is the declarative form: the button names its URL directly and
// rewriting it is a plain value swap. Script is a compatibility shim for
// legacy markup whose click handler embeds a literal URL in script text. It
// is best-effort and fails closed: anything it cannot recognise, or cannot
// rebuild into valid handler text, is left unchanged.
package handler

import (
	"github.com/rotisserie/eris"
)

// ClickHandler is a button's click behaviour as far as navigation goes.
type ClickHandler interface {
	// Target returns the URL the handler navigates to, if it has a
	// recognisable one.
	Target() (string, bool)
	// Retarget returns a handler that navigates to newURL instead. The
	// receiver is never modified.
	Retarget(newURL string) (ClickHandler, error)
	// Source renders the handler back into markup.
	Source() string
}

// Bound is a declarative navigation target.
type Bound struct {
	URL string
}

func (b Bound) Target() (string, bool) { return b.URL, b.URL != "" }

func (b Bound) Retarget(newURL string) (ClickHandler, error) {
	if newURL == "" {
		return nil, eris.New("handler: empty target")
	}
	return Bound{URL: newURL}, nil
}

func (b Bound) Source() string { return b.URL }
