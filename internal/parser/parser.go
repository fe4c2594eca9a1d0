// Package parser classifies input lines into dispatch requests.
//
// Grammar, one logical unit per line:
//
//	hello world                 text, whole line
//	Meeting at 10:30            text, left of the first colon is not a bare word
//	markdown:*bold*             markdown
//	photo:/tmp/a.jpg:a caption  attachment with colon-delimited caption
//	sticker:foo                 unknown message type
//
// A body or caption that starts with a double quote opens a block that runs
// until a line ending in a double quote; the lines are joined with newlines.
// A line closes the block when it ends in a double quote after trailing
// spaces and tabs are trimmed, so `world"  ` closes it and the trailing
// whitespace is dropped along with the quote. Lines after the opening one are
// kept verbatim apart from a trailing "\r".
package parser

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"telesend/internal/domain"
)

const quote = `"`

// kindToken matches left-hand tokens that are treated as a kind name.
var kindToken = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Result is the outcome of one logical input unit.
type Result struct {
	Line         int    // first input line of the unit, 1-based
	Raw          string // trimmed first line
	Request      domain.Request
	Err          error // *domain.ParseError or *domain.UnknownKindError
	Unterminated bool  // quoted block closed by end of input
}

// Parser is a line-at-a-time scanner. The only state carried between lines
// is an open quoted block.
type Parser struct {
	open    *Result
	pending []string
}

// New returns an empty parser.
func New() *Parser { return &Parser{} }

// InBlock reports whether a quoted block is open.
func (p *Parser) InBlock() bool { return p.open != nil }

// Feed consumes one raw input line. It returns a result and true when the
// line completes a logical unit.
func (p *Parser) Feed(lineNo int, raw string) (Result, bool) {
	if p.open != nil {
		line := strings.TrimSuffix(raw, "\r")
		p.pending = append(p.pending, line)
		if !strings.HasSuffix(strings.TrimRight(line, " \t"), quote) {
			return Result{}, false
		}
		res := *p.open
		block := strings.Join(p.pending, "\n")
		block = strings.TrimPrefix(block, quote)
		block = strings.TrimSuffix(strings.TrimRight(block, " \t"), quote)
		res.Request.Body = block
		p.reset()
		return res, true
	}

	line := strings.TrimSpace(raw)
	if line == "" {
		return Result{}, false
	}
	res := Result{Line: lineNo, Raw: line}
	req, err := Classify(line)
	if err != nil {
		res.Err = err
		return res, true
	}
	res.Request = req

	body := req.Body
	if !strings.HasPrefix(body, quote) {
		return res, true
	}
	if len(body) >= 2 && strings.HasSuffix(body, quote) {
		res.Request.Body = body[1 : len(body)-1]
		return res, true
	}
	p.open = &res
	p.pending = []string{body}
	return Result{}, false
}

// Flush ends the input. An open block is returned as-is, opening quote
// included.
func (p *Parser) Flush() (Result, bool) {
	if p.open == nil {
		return Result{}, false
	}
	res := *p.open
	res.Request.Body = strings.Join(p.pending, "\n")
	res.Unterminated = true
	p.reset()
	return res, true
}

func (p *Parser) reset() {
	p.open = nil
	p.pending = nil
}

// Classify turns one trimmed, non-empty line into a request. It does not
// handle quoted blocks.
func Classify(line string) (domain.Request, error) {
	token, rest, found := strings.Cut(line, ":")
	if !found || !kindToken.MatchString(token) {
		return domain.Request{Kind: domain.KindText, Body: line}, nil
	}

	kind, ok := domain.ParseKind(token)
	if !ok {
		return domain.Request{}, &domain.UnknownKindError{Kind: strings.ToLower(token)}
	}

	if !kind.IsAttachment() {
		body := strings.TrimSpace(rest)
		if body == "" {
			return domain.Request{}, &domain.ParseError{Reason: "empty " + string(kind) + " message"}
		}
		return domain.Request{Kind: kind, Body: body}, nil
	}

	path, caption, _ := strings.Cut(rest, ":")
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.Request{}, &domain.ParseError{Reason: "missing file path for " + string(kind)}
	}
	return domain.Request{Kind: kind, Path: path, Body: strings.TrimSpace(caption)}, nil
}

// ParseAll reads r to the end and returns every logical unit in order.
func ParseAll(r io.Reader) ([]Result, error) {
	var (
		p       = New()
		results []Result
		lineNo  int
	)
	sc := NewLineScanner(r)
	for sc.Scan() {
		lineNo++
		if res, ok := p.Feed(lineNo, sc.Text()); ok {
			results = append(results, res)
		}
	}
	if err := sc.Err(); err != nil {
		return results, err
	}
	if res, ok := p.Flush(); ok {
		results = append(results, res)
	}
	return results, nil
}

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

// NewLineScanner returns a line scanner that accepts lines up to 1 MiB.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return sc
}
