package model

import "time"

// Record is a persisted Params with an absolute expiry.
type Record struct {
	Params    Params    `json:"params"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Valid reports whether the record is still usable at now. A record expiring
// exactly at now is still valid.
func (r Record) Valid(now time.Time) bool {
	return !now.After(r.ExpiresAt)
}

// DestinationEntry is one normalised, renamed parameter ready for injection
// into an outbound URL or form.
type DestinationEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParamSource records where the parameters in effect for a page came from.
type ParamSource string

const (
	SourceNone  ParamSource = "none"
	SourceURL   ParamSource = "url"
	SourceStore ParamSource = "store"
)

// Session holds the parameters in effect for a single page view. It is
// built once per page and passed to every propagation step.
type Session struct {
	params Params
	source ParamSource
}

// NewSession creates a Session. An empty params set always reports
// SourceNone.
func NewSession(p Params, src ParamSource) *Session {
	if p.IsEmpty() {
		src = SourceNone
	}
	return &Session{params: p, source: src}
}

// Params returns the parameters in effect.
func (s *Session) Params() Params {
	if s == nil {
		return Params{}
	}
	return s.params
}

// Source returns where the parameters came from.
func (s *Session) Source() ParamSource {
	if s == nil {
		return SourceNone
	}
	return s.source
}
