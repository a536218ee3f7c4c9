package store

import (
	"net/url"
	"strings"
)

// Scope selects how persisted parameters are partitioned.
type Scope string

const (
	// ScopePage isolates parameters per normalised page path.
	ScopePage Scope = "page"
	// ScopeGlobal shares one record across every page of a site.
	ScopeGlobal Scope = "global"
)

const (
	GlobalNamespace     = "__global__"
	NoLocationNamespace = "__no_location__"
)

// NamespaceFor returns the storage namespace for page under scope.
func NamespaceFor(scope Scope, page *url.URL) string {
	if scope == ScopeGlobal {
		return GlobalNamespace
	}
	return Namespace(page)
}

// Namespace derives a namespace from the page path: a leading slash is
// ensured, trailing slashes are stripped, an empty path becomes "/", and the
// result is percent-encoded including its slashes.
func Namespace(page *url.URL) string {
	if page == nil {
		return NoLocationNamespace
	}
	p := page.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		p = "/"
	}
	return url.PathEscape(p)
}
