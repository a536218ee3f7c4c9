// Package entry turns captured parameters into the ordered list of
// destination key/value pairs injected into outbound targets.
package entry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/model"
)

// DestinationMap renames tracked keys before injection. Keys missing from
// the map keep their tracked name.
type DestinationMap map[string]string

// Lookup returns the destination key for k.
func (m DestinationMap) Lookup(k model.Key) string {
	if dest, ok := m[string(k)]; ok && strings.TrimSpace(dest) != "" {
		return dest
	}
	return string(k)
}

// CustomBuilder lets the host construct entries itself. Its output is
// validated, and any error or panic falls back to the built-in steps.
type CustomBuilder interface {
	BuildEntries(params model.Params, dest DestinationMap) ([]model.DestinationEntry, error)
}

// BuilderFunc adapts a function to CustomBuilder.
type BuilderFunc func(params model.Params, dest DestinationMap) ([]model.DestinationEntry, error)

func (f BuilderFunc) BuildEntries(params model.Params, dest DestinationMap) ([]model.DestinationEntry, error) {
	return f(params, dest)
}

// Builder produces destination entries from a parameter set.
type Builder struct {
	Map    DestinationMap
	Custom CustomBuilder
}

// Build returns the entries for p: primary click identifier first, then the
// declared key order, de-duplicated by destination key with the first
// occurrence winning.
func (b *Builder) Build(p model.Params) []model.DestinationEntry {
	if p.IsEmpty() {
		return nil
	}
	if b.Custom != nil {
		out, err := b.runCustom(p)
		if err == nil {
			return Dedupe(out)
		}
		zap.L().Warn("entry: custom builder failed, using built-in", zap.Error(err))
	}
	return b.builtin(p)
}

func (b *Builder) runCustom(p model.Params) (out []model.DestinationEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("entry: custom builder panicked: %v", r)
		}
	}()
	out, err = b.Custom.BuildEntries(p, b.Map)
	if err != nil {
		return nil, eris.Wrap(err, "entry: custom builder")
	}
	return out, nil
}

func (b *Builder) builtin(p model.Params) []model.DestinationEntry {
	order := make([]model.Key, 0, p.Len())
	if primary, ok := p.Primary(); ok {
		order = append(order, primary)
	}
	order = append(order, p.Keys()...)

	entries := make([]model.DestinationEntry, 0, len(order))
	for _, k := range order {
		v, ok := p.Get(k)
		if !ok {
			continue
		}
		entries = append(entries, model.DestinationEntry{
			Key:   b.Map.Lookup(k),
			Value: Normalize(k, v),
		})
	}
	return Dedupe(entries)
}

// Dedupe drops entries with an empty key or value and every entry whose key
// was already seen.
func Dedupe(entries []model.DestinationEntry) []model.DestinationEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]model.DestinationEntry, 0, len(entries))
	for _, e := range entries {
		if e.Key == "" || e.Value == "" || seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		out = append(out, e)
	}
	return out
}

// Normalize prepares a value for injection. Only the session identifier is
// changed.
func Normalize(k model.Key, v string) string {
	if k == model.KeySessionID {
		return Transliterate(v)
	}
	return v
}

// Transliterate rewrites characters that downstream systems mangle: spaces
// become "_s_", then hyphens become "_d_", then slashes are removed.
func Transliterate(v string) string {
	v = strings.ReplaceAll(v, " ", "_s_")
	v = strings.ReplaceAll(v, "-", "_d_")
	return strings.ReplaceAll(v, "/", "")
}

// ReplacementQuery renders entries as "k=v&..." for substitution into a
// marked URL. With no entries the marker itself is returned so the URL is
// left as it was.
func ReplacementQuery(entries []model.DestinationEntry, marker string) string {
	if len(entries) == 0 {
		return marker
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s=%s", url.QueryEscape(e.Key), url.QueryEscape(e.Value)))
	}
	return strings.Join(parts, "&")
}
