package proxy

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/htmldoc"
)

// modifyResponse rewrites successful HTML responses. Anything that cannot be
// rewritten is served as the upstream sent it.
func (s *Server) modifyResponse(resp *http.Response) error {
	if !rewritable(resp) {
		return nil
	}

	body, complete, err := readLimited(resp.Body, s.opts.MaxBodyBytes)
	if err != nil {
		resp.Body.Close()
		return eris.Wrap(err, "proxy: read upstream body")
	}
	if !complete {
		zap.L().Debug("proxy: body over limit, passing through", zap.Int64("limit", s.opts.MaxBodyBytes))
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil
	}
	resp.Body.Close()

	ctx := resp.Request.Context()
	vid, _ := ctx.Value(visitorKey).(string)
	page, _ := ctx.Value(pageKey).(*url.URL)

	var out bytes.Buffer
	rep, err := s.engine.ForVisitor(vid).RewriteHTML(ctx, page, bytes.NewReader(body), htmldoc.Charset(resp.Header.Get("Content-Type")), &out)
	if err != nil {
		zap.L().Warn("proxy: rewrite failed, serving original", zap.String("path", resp.Request.URL.Path), zap.Error(err))
		setBody(resp, body)
		return nil
	}
	if rep.Changed() == 0 {
		setBody(resp, body)
		return nil
	}

	zap.L().Debug("proxy: rewrote page",
		zap.String("path", resp.Request.URL.Path),
		zap.String("source", string(rep.Source)),
		zap.Int("changed", rep.Changed()),
	)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.Header.Del("ETag")
	setBody(resp, out.Bytes())
	return nil
}

func rewritable(resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK || resp.Request == nil {
		return false
	}
	if resp.Header.Get("Content-Encoding") != "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mt == "text/html"
}

// readLimited reads up to limit bytes. complete is false when r holds more.
func readLimited(r io.Reader, limit int64) (body []byte, complete bool, err error) {
	body, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return body, false, err
	}
	if int64(len(body)) > limit {
		return body, false, nil
	}
	return body, true, nil
}

func setBody(resp *http.Response, body []byte) {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
}
