// Package engine runs parameter propagation for one page: capture, persist
// or restore, build entries, then rewrite the document.
package engine

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/capture"
	"github.com/sells-group/clickprop/internal/eligibility"
	"github.com/sells-group/clickprop/internal/entry"
	"github.com/sells-group/clickprop/internal/model"
	"github.com/sells-group/clickprop/internal/propagate"
	"github.com/sells-group/clickprop/internal/rewrite"
	"github.com/sells-group/clickprop/internal/store"
)

// Options configures an Engine.
type Options struct {
	TTL         time.Duration
	Scope       store.Scope
	Eligibility eligibility.Config
	// Structured selects net/url parsing for rewriting and eligibility.
	Structured bool
	Map        entry.DestinationMap
	Custom     entry.CustomBuilder
}

// Engine holds the configuration shared by every page run. It is safe for
// concurrent use when its Storage is.
type Engine struct {
	storage  store.Storage
	opts     Options
	builder  *entry.Builder
	rewriter *rewrite.Rewriter
}

// New creates an Engine persisting to s. A nil s disables persistence.
func New(s store.Storage, opts Options) *Engine {
	if opts.Scope == "" {
		opts.Scope = store.ScopePage
	}
	opts.Eligibility.Structured = opts.Structured
	return &Engine{
		storage:  s,
		opts:     opts,
		builder:  &entry.Builder{Map: opts.Map, Custom: opts.Custom},
		rewriter: &rewrite.Rewriter{Structured: opts.Structured},
	}
}

// ForVisitor returns an Engine whose storage keys are confined to visitor.
func (e *Engine) ForVisitor(visitor string) *Engine {
	if e.storage == nil || visitor == "" {
		return e
	}
	cp := *e
	cp.storage = store.Scoped(e.storage, visitor)
	return &cp
}

// Report summarises one run.
type Report struct {
	Source  model.ParamSource        `json:"source"`
	Entries []model.DestinationEntry `json:"entries"`
	Anchors int                      `json:"anchors"`
	Buttons int                      `json:"buttons"`
	Forms   int                      `json:"forms"`
}

// Changed is the total number of mutations applied to the document.
func (r Report) Changed() int { return r.Anchors + r.Buttons + r.Forms }

// Run propagates tracked parameters for the page at page (nil when the
// location is unknown) into doc. It never fails: every error is logged and
// the document is left as far as the run got.
func (e *Engine) Run(ctx context.Context, page *url.URL, doc propagate.Document) (rep Report) {
	rep.Source = model.SourceNone
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("engine: recovered panic", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	sess := e.Session(ctx, page)
	rep.Source = sess.Source()

	rep.Entries = e.builder.Build(sess.Params())
	if len(rep.Entries) == 0 || doc == nil {
		return rep
	}

	p := &propagate.Propagator{
		Policy:   eligibility.New(e.opts.Eligibility, page),
		Rewriter: e.rewriter,
		Page:     page,
	}
	rep.Anchors = guard("anchors", func() int { return p.Anchors(doc, rep.Entries) })
	rep.Buttons = guard("buttons", func() int { return p.Buttons(doc, rep.Entries) })
	rep.Forms = guard("forms", func() int { return p.Forms(doc, rep.Entries) })

	zap.L().Debug("engine: run complete",
		zap.String("source", string(rep.Source)),
		zap.Int("anchors", rep.Anchors),
		zap.Int("buttons", rep.Buttons),
		zap.Int("forms", rep.Forms),
	)
	return rep
}

// Session resolves the parameters in effect for page. Parameters on the URL
// win and are persisted; otherwise the stored record for the page's
// namespace is used.
func (e *Engine) Session(ctx context.Context, page *url.URL) *model.Session {
	captured := capture.FromURL(page)

	if e.storage == nil {
		return model.NewSession(captured, model.SourceURL)
	}
	ps := store.NewParamStore(e.storage, e.opts.TTL)
	ns := store.NamespaceFor(e.opts.Scope, page)

	if !captured.IsEmpty() {
		ps.Write(ctx, ns, captured)
		return model.NewSession(captured, model.SourceURL)
	}
	return model.NewSession(ps.Read(ctx, ns), model.SourceStore)
}

// guard runs one propagation pass, converting a panic into a logged zero.
func guard(pass string, fn func() int) (n int) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("engine: pass panicked", zap.String("pass", pass), zap.String("panic", fmt.Sprint(r)))
			n = 0
		}
	}()
	return fn()
}
