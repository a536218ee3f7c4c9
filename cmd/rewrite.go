package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/clickprop/internal/engine"
)

var (
	rewritePage    string
	rewriteIn      string
	rewriteOut     string
	rewriteCharset string
	rewriteVisitor string
	rewriteReport  bool
)

var rewriteCmd = &cobra.Command{
	Use:   "rewrite",
	Short: "Rewrite one HTML document",
	Long:  "Runs propagation over an HTML file as if it were served at --page, using the configured store for persisted parameters.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("rewrite"); err != nil {
			return err
		}

		eng, backend, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()

		in, err := openInput(rewriteIn)
		if err != nil {
			return err
		}
		defer in.Close()

		rep, out, err := runRewrite(ctx, eng.ForVisitor(rewriteVisitor), rewritePage, in, rewriteCharset)
		if err != nil {
			return err
		}
		if err := writeOutput(rewriteOut, out); err != nil {
			return err
		}

		zap.L().Info("rewrite complete",
			zap.String("source", string(rep.Source)),
			zap.Int("anchors", rep.Anchors),
			zap.Int("buttons", rep.Buttons),
			zap.Int("forms", rep.Forms),
		)
		if rewriteReport {
			enc := json.NewEncoder(cmd.ErrOrStderr())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		return nil
	},
}

// runRewrite rewrites the document read from in as served at page. An empty
// page means the location is unknown.
func runRewrite(ctx context.Context, eng *engine.Engine, page string, in io.Reader, charset string) (engine.Report, []byte, error) {
	var pageURL *url.URL
	if page != "" {
		u, err := url.Parse(page)
		if err != nil {
			return engine.Report{}, nil, eris.Wrap(err, "parse page url")
		}
		pageURL = u
	}

	var buf bytes.Buffer
	rep, err := eng.RewriteHTML(ctx, pageURL, in, charset, &buf)
	if err != nil {
		return rep, nil, err
	}
	return rep, buf.Bytes(), nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	return f, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return eris.Wrap(err, "write stdout")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	return nil
}

func init() {
	rewriteCmd.Flags().StringVar(&rewritePage, "page", "", "URL the document is served at, including its query")
	rewriteCmd.Flags().StringVar(&rewriteIn, "in", "-", "input HTML file (- for stdin)")
	rewriteCmd.Flags().StringVar(&rewriteOut, "out", "-", "output HTML file (- for stdout)")
	rewriteCmd.Flags().StringVar(&rewriteCharset, "charset", "", "input charset (default utf-8)")
	rewriteCmd.Flags().StringVar(&rewriteVisitor, "visitor", "", "visitor id scoping stored parameters")
	rewriteCmd.Flags().BoolVar(&rewriteReport, "report", false, "print the run report as JSON to stderr")
	rootCmd.AddCommand(rewriteCmd)
}
