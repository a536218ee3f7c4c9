package handler

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	identRe = regexp.MustCompile(`^[A-Za-z_$][\w$]*$`)

	functionRe   = regexp.MustCompile(`^\s*(?:async\s+)?function\s*(?:[A-Za-z_$][\w$]*)?\s*\(([^)]*)\)\s*\{`)
	arrowParenRe = regexp.MustCompile(`^\s*(?:async\s+)?\(([^)]*)\)\s*=>\s*`)
	arrowIdentRe = regexp.MustCompile(`^\s*(?:async\s+)?([A-Za-z_$][\w$]*)\s*=>\s*`)
)

// quoted matches a single- or double-quoted string literal and captures its
// contents in group 1 or 2.
const quoted = `(?:'((?:[^'\\\n]|\\.)*)'|"((?:[^"\\\n]|\\.)*)")`

// targetPattern is one recognised navigation idiom. lead finds any use of
// the idiom; literal matches only a use whose whole URL argument is a single
// string literal.
type targetPattern struct {
	lead    *regexp.Regexp
	literal *regexp.Regexp
}

var targetPatterns = []targetPattern{
	{
		lead:    regexp.MustCompile(`\blocation\.href\s*=(?:[^=]|$)`),
		literal: regexp.MustCompile(`\blocation\.href\s*=\s*` + quoted + `\s*(?:[;)},]|$)`),
	},
	{
		lead:    regexp.MustCompile(`\bwindow\.open\(`),
		literal: regexp.MustCompile(`\bwindow\.open\(\s*` + quoted + `\s*[,)]`),
	},
}

// Script is handler source text with its parameter list and body located.
type Script struct {
	src       string
	params    []string
	bodyStart int
	bodyEnd   int
	inline    bool
}

// ParseScript parses a function expression ("function (a) {...}") or an
// arrow function ("(a) => {...}", "a => expr").
func ParseScript(src string) (*Script, error) {
	if m := functionRe.FindStringSubmatchIndex(src); m != nil {
		params, err := parseParams(src[m[2]:m[3]])
		if err != nil {
			return nil, err
		}
		end, err := closingBrace(src, m[1])
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(src[end+1:]), ";")) != "" {
			return nil, eris.New("handler: trailing text after function body")
		}
		return &Script{src: src, params: params, bodyStart: m[1], bodyEnd: end}, nil
	}

	var paramText string
	var headEnd int
	if m := arrowParenRe.FindStringSubmatchIndex(src); m != nil {
		paramText, headEnd = src[m[2]:m[3]], m[1]
	} else if m := arrowIdentRe.FindStringSubmatchIndex(src); m != nil {
		paramText, headEnd = src[m[2]:m[3]], m[1]
	} else {
		return nil, eris.New("handler: not a function expression")
	}
	params, err := parseParams(paramText)
	if err != nil {
		return nil, err
	}

	if headEnd < len(src) && src[headEnd] == '{' {
		end, err := closingBrace(src, headEnd+1)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(src[end+1:]) != "" {
			return nil, eris.New("handler: trailing text after arrow body")
		}
		return &Script{src: src, params: params, bodyStart: headEnd + 1, bodyEnd: end}, nil
	}

	body := strings.TrimRight(src[headEnd:], " \t\r\n;")
	if strings.TrimSpace(body) == "" {
		return nil, eris.New("handler: empty arrow body")
	}
	if err := checkBalanced(body); err != nil {
		return nil, err
	}
	return &Script{src: src, params: params, bodyStart: headEnd, bodyEnd: headEnd + len(body)}, nil
}

// InlineScript wraps the text of an inline handler attribute, which runs as
// the body of an implicit function of one "event" parameter.
func InlineScript(body string) (*Script, error) {
	if strings.TrimSpace(body) == "" {
		return nil, eris.New("handler: empty inline handler")
	}
	if err := checkBalanced(body); err != nil {
		return nil, err
	}
	return &Script{src: body, params: []string{"event"}, bodyStart: 0, bodyEnd: len(body), inline: true}, nil
}

// Params returns the handler's parameter names.
func (s *Script) Params() []string { return s.params }

// Body returns the handler body text.
func (s *Script) Body() string { return s.src[s.bodyStart:s.bodyEnd] }

func (s *Script) Source() string { return s.src }

// Inline reports whether s is an inline handler body rather than a function
// expression.
func (s *Script) Inline() bool { return s.inline }

// Target returns the first literal URL assigned to location.href or passed
// to window.open in the body.
func (s *Script) Target() (string, bool) {
	loc := findTarget(s.Body())
	if loc == nil {
		return "", false
	}
	return unescapeLiteral(s.Body()[loc.start:loc.end]), true
}

// Retarget substitutes the literal URL and re-parses the result. Handlers
// without a recognised literal, or whose rebuilt text does not parse, yield
// an error and the caller keeps the original.
func (s *Script) Retarget(newURL string) (ClickHandler, error) {
	body := s.Body()
	loc := findTarget(body)
	if loc == nil {
		return nil, eris.New("handler: no literal navigation target")
	}

	newBody := body[:loc.start] + escapeLiteral(newURL, loc.quote) + body[loc.end:]
	if s.inline {
		next, err := InlineScript(newBody)
		if err != nil {
			return nil, eris.Wrap(err, "handler: rebuild inline handler")
		}
		return next, nil
	}

	src := s.src[:s.bodyStart] + newBody + s.src[s.bodyEnd:]
	next, err := ParseScript(src)
	if err != nil {
		return nil, eris.Wrap(err, "handler: rebuild function")
	}
	if !equalParams(next.params, s.params) {
		return nil, eris.New("handler: parameter list changed during rebuild")
	}
	return next, nil
}

type literalLoc struct {
	start, end int
	quote      byte
}

// findTarget locates the URL literal of the first navigation in body. When
// that navigation builds its URL from anything but one literal (variables,
// concatenation, templates) there is no target.
func findTarget(body string) *literalLoc {
	var first *targetPattern
	firstAt := -1
	for i := range targetPatterns {
		m := targetPatterns[i].lead.FindStringIndex(body)
		if m == nil {
			continue
		}
		if firstAt < 0 || m[0] < firstAt {
			first, firstAt = &targetPatterns[i], m[0]
		}
	}
	if first == nil {
		return nil
	}

	m := first.literal.FindStringSubmatchIndex(body[firstAt:])
	if m == nil || m[0] != 0 {
		return nil
	}
	if m[2] >= 0 {
		return &literalLoc{start: firstAt + m[2], end: firstAt + m[3], quote: '\''}
	}
	return &literalLoc{start: firstAt + m[4], end: firstAt + m[5], quote: '"'}
}

func parseParams(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	params := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !identRe.MatchString(p) {
			return nil, eris.Errorf("handler: unsupported parameter %q", p)
		}
		params = append(params, p)
	}
	return params, nil
}

// closingBrace returns the index of the "}" closing a block whose body
// starts at from.
func closingBrace(src string, from int) (int, error) {
	depth := 1
	var quote byte
	for i := from; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, eris.New("handler: unterminated function body")
}

// checkBalanced verifies brackets and string literals are closed.
func checkBalanced(text string) error {
	var stack []byte
	var quote byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return eris.Errorf("handler: unbalanced %q at %d", c, i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if quote != 0 {
		return eris.New("handler: unterminated string literal")
	}
	if len(stack) != 0 {
		return eris.New("handler: unclosed bracket")
	}
	return nil
}

func unescapeLiteral(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escapeLiteral(s string, quote byte) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, string(quote), `\`+string(quote))
}

func equalParams(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
