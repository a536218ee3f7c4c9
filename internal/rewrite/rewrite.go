// Package rewrite appends destination entries to URLs without overwriting
// parameters the URL already carries.
package rewrite

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/model"
)

// Rewriter appends entries to URLs. Relative URLs stay relative.
type Rewriter struct {
	// Structured enables the net/url path. When false, or when parsing
	// fails, the manual string path is used.
	Structured bool
}

// Append returns rawURL with every entry whose key is not already a query
// parameter appended. The fragment is preserved and the reference form of
// rawURL (relative or absolute) is kept. Failures return rawURL unchanged.
func (r *Rewriter) Append(rawURL string, entries []model.DestinationEntry) (out string) {
	if len(entries) == 0 || rawURL == "" {
		return rawURL
	}
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("rewrite: recovered panic", zap.String("url", rawURL), zap.Any("panic", rec))
			out = rawURL
		}
	}()

	if r.Structured {
		s, err := r.appendStructured(rawURL, entries)
		if err == nil {
			return s
		}
		zap.L().Debug("rewrite: structured path failed, using manual", zap.String("url", rawURL), zap.Error(err))
	}
	return appendManual(rawURL, entries)
}

func (r *Rewriter) appendStructured(rawURL string, entries []model.DestinationEntry) (string, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrap(err, "rewrite: parse url")
	}
	existing, err := url.ParseQuery(ref.RawQuery)
	if err != nil {
		return "", eris.Wrap(err, "rewrite: parse query")
	}

	var added []string
	for _, e := range entries {
		if _, ok := existing[e.Key]; ok {
			continue
		}
		existing[e.Key] = []string{e.Value}
		added = append(added, url.QueryEscape(e.Key)+"="+url.QueryEscape(e.Value))
	}
	if len(added) == 0 {
		return rawURL, nil
	}

	q := strings.Join(added, "&")
	switch {
	case ref.RawQuery == "":
		ref.RawQuery = q
	case strings.HasSuffix(ref.RawQuery, "&"):
		ref.RawQuery += q
	default:
		ref.RawQuery += "&" + q
	}
	ref.ForceQuery = false
	return ref.String(), nil
}

// appendManual rewrites by string inspection: the fragment is split off,
// existing keys are detected on the base, missing entries are appended with
// the right delimiter and the fragment is reattached.
func appendManual(rawURL string, entries []model.DestinationEntry) string {
	base, fragment, hasFragment := strings.Cut(rawURL, "#")

	var added []string
	for _, e := range entries {
		if hasParam(base, e.Key) {
			continue
		}
		added = append(added, url.QueryEscape(e.Key)+"="+url.QueryEscape(e.Value))
	}
	if len(added) == 0 {
		return rawURL
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	out := base + sep + strings.Join(added, "&")
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

// hasParam reports whether base already carries the query parameter key,
// matched case-insensitively at a parameter boundary.
func hasParam(base, key string) bool {
	re, err := regexp.Compile(`(?i)[?&]` + regexp.QuoteMeta(key) + `(=|&|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(base)
}

// Replace substitutes the first occurrence of marker in rawURL with query.
// It returns rawURL unchanged when the marker is absent.
func Replace(rawURL, marker, query string) string {
	if marker == "" || !strings.Contains(rawURL, marker) {
		return rawURL
	}
	return strings.Replace(rawURL, marker, query, 1)
}

// EnsureFragment re-attaches the fragment of original to rewritten when the
// rewrite lost it, so in-page anchor targets survive.
func EnsureFragment(original, rewritten string) string {
	_, frag, ok := strings.Cut(original, "#")
	if !ok || strings.Contains(rewritten, "#") {
		return rewritten
	}
	return rewritten + "#" + frag
}
