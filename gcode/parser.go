package gcode

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Parser reads blocks from G-code text, one line at a time. Comments,
// block-delete markers and program delimiters are dropped.
type Parser struct {
	br   *bufio.Reader
	line int
}

func NewParser(r io.Reader) *Parser {
	if br, ok := r.(*bufio.Reader); ok {
		return &Parser{br: br}
	}

	return &Parser{br: bufio.NewReader(r)}
}

// ParseError is a line that is not valid G-code.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d '%s': %v", e.Line, e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	rxBlock   = regexp.MustCompile(`^([A-Z][+\-]?[0-9.]+)+$`)
	rxWord    = regexp.MustCompile(`[A-Z][+\-]?[0-9.]+`)
	rxComment = regexp.MustCompile(`\([^)]*\)`)
)

// clean strips everything but the words of a line.
func clean(s string) string {
	s = strings.SplitN(s, ";", 2)[0]
	s = rxComment.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "%")
	s = strings.TrimPrefix(s, "/")
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\r' {
			return -1
		}
		return r
	}, s)
	return strings.ToUpper(s)
}

func (p *Parser) Read() (Block, error) {
	for {
		s, err := p.br.ReadString('\n')
		if err == io.EOF && s != "" {
			err = nil
		}
		if err != nil {
			return nil, err
		}
		p.line++

		text := strings.TrimRight(s, "\r\n")
		s = clean(s)
		if s == "" {
			continue
		}
		if !rxBlock.MatchString(s) {
			return nil, &ParseError{Line: p.line, Text: text, Err: errUnhandled}
		}

		codes := rxWord.FindAllString(s, -1)
		res := make(Block, len(codes))
		for i, c := range codes {
			res[i], err = ParseWord(c)
			if err != nil {
				return nil, &ParseError{Line: p.line, Text: text, Err: err}
			}
		}

		return res, nil
	}
}
