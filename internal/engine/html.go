package engine

import (
	"context"
	"io"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clickprop/internal/htmldoc"
	"github.com/sells-group/clickprop/internal/model"
)

// RewriteHTML parses an HTML document in charset from r, runs the engine
// over it and renders the result to w as UTF-8.
func (e *Engine) RewriteHTML(ctx context.Context, page *url.URL, r io.Reader, charset string, w io.Writer) (Report, error) {
	doc, err := htmldoc.ParseCharset(r, charset)
	if err != nil {
		return Report{Source: model.SourceNone}, eris.Wrap(err, "engine: parse document")
	}
	rep := e.Run(ctx, page, doc)
	if err := doc.Render(w); err != nil {
		return rep, eris.Wrap(err, "engine: render document")
	}
	return rep, nil
}
