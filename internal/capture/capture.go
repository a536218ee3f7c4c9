// Package capture extracts tracked marketing parameters from query strings.
package capture

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/model"
)

// FromURL captures tracked parameters from the query of u. A nil URL yields
// an empty set.
func FromURL(u *url.URL) model.Params {
	if u == nil {
		return model.Params{}
	}
	return FromQuery(u.RawQuery)
}

// FromQuery captures tracked parameters from a raw query string. A leading
// "?" is ignored. Only allow-listed keys with non-empty values are kept, and
// the first non-empty occurrence of a key wins.
//
// net/url rejects the whole query on the first bad escape, so a malformed
// query is re-read with the lenient splitter instead.
func FromQuery(raw string) model.Params {
	raw = strings.TrimPrefix(raw, "?")
	if raw == "" {
		return model.Params{}
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		zap.L().Debug("capture: structured parse failed, using manual split",
			zap.Error(err),
		)
		return fromPairs(splitManual(raw))
	}

	var pairs []pair
	// url.Values loses ordering across keys but keeps it within a key, which
	// is all first-wins needs.
	for name, vals := range values {
		for _, v := range vals {
			pairs = append(pairs, pair{name: name, value: v})
		}
	}
	return fromPairs(pairs)
}

type pair struct {
	name  string
	value string
}

func fromPairs(pairs []pair) model.Params {
	var p model.Params
	for _, kv := range pairs {
		k, ok := model.ParseKey(kv.name)
		if !ok || kv.value == "" {
			continue
		}
		if _, seen := p.Get(k); seen {
			continue
		}
		p = p.With(k, kv.value)
	}
	return p
}

// splitManual splits on "&" then on the first "=", decoding each side
// leniently.
func splitManual(raw string) []pair {
	var pairs []pair
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		pairs = append(pairs, pair{
			name:  decodeLenient(name),
			value: decodeLenient(value),
		})
	}
	return pairs
}

// decodeLenient decodes "+" as space and percent escapes. When the escapes
// are malformed the raw text is kept.
func decodeLenient(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
