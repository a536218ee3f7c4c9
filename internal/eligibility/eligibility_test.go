package eligibility

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attrs map[string]string

func (a attrs) Attr(name string) (string, bool) {
	v, ok := a[name]
	return v, ok
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestTruthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{" yes ", true},
		{"Yes", true},
		{"0", false},
		{"false", false},
		{"no", false},
		{"on", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Truthy(tt.value))
		})
	}
}

func TestElementPolicy(t *testing.T) {
	page := mustURL(t, "https://shop.example.com/landing")
	p := New(Config{Kind: KindElement, Structured: true}, page)
	assert.Equal(t, "element", p.Name())

	tests := []struct {
		name   string
		el     attrs
		target string
		want   bool
	}{
		{"data attribute empty", attrs{"data-clickprop": ""}, "/checkout", true},
		{"dataset alias", attrs{"data-click-prop": "true"}, "/checkout", true},
		{"bare attribute", attrs{"clickprop": "yes"}, "/checkout", true},
		{"falsy value", attrs{"data-clickprop": "no"}, "/checkout", false},
		{"no marker", attrs{"class": "btn"}, "/checkout", false},
		{"cross origin allowed", attrs{"data-clickprop": "1"}, "https://partner.example.org/x", true},
		{"missing target", attrs{"data-clickprop": "1"}, "", false},
		{"unparsable target", attrs{"data-clickprop": "1"}, "http://[::1", false},
		{"first alias decides", attrs{"data-clickprop": "no", "clickprop": "yes"}, "/x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Eligible(tt.el, tt.target))
		})
	}
}

func TestElementPolicy_NilElement(t *testing.T) {
	p := New(Config{Kind: KindElement, Structured: true}, nil)
	assert.False(t, p.Eligible(nil, "/x"))
}

func TestElementPolicy_WithoutStructuredParsing(t *testing.T) {
	p := New(Config{Kind: KindElement}, nil)
	assert.True(t, p.Eligible(attrs{"clickprop": ""}, "http://[::1"))
	assert.False(t, p.Eligible(attrs{"clickprop": ""}, "  "))
}

func TestMarkerPolicy(t *testing.T) {
	plain := mustURL(t, "https://shop.example.com/landing")
	marked := mustURL(t, "https://shop.example.com/landing?clickprop=1")

	tests := []struct {
		name   string
		page   *url.URL
		target string
		want   bool
	}{
		{"marker in target", plain, "/checkout?clickprop=1", true},
		{"marker in page", marked, "/checkout", true},
		{"no marker", plain, "/checkout", false},
		{"cross origin excluded", marked, "https://evil.example.net/x?clickprop=1", false},
		{"same origin absolute", marked, "https://shop.example.com/x", true},
		{"unparsable target", marked, "http://[::1", false},
		{"empty target", marked, "", false},
		{"no page location", nil, "https://any.example/x?clickprop=1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Config{Kind: KindMarker, Structured: true}, tt.page)
			assert.Equal(t, tt.want, p.Eligible(attrs{}, tt.target))
		})
	}
}

func TestMarkerPolicy_CustomMarkerNoStructured(t *testing.T) {
	page := mustURL(t, "https://shop.example.com/")
	p := New(Config{Kind: KindMarker, Marker: "track=on"}, page)
	assert.Equal(t, "marker", p.Name())

	// Without structured parsing there is no origin check.
	assert.True(t, p.Eligible(nil, "https://elsewhere.example/x?track=on"))
	assert.False(t, p.Eligible(nil, "https://elsewhere.example/x?clickprop=1"))
}
