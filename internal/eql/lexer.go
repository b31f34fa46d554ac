package eql

import (
	"fmt"
	"strings"
	"text/scanner"
)

// punct is the token kind of operators and punctuation. Its text holds the
// full operator, so "==" arrives as a single token.
const punct rune = -64

type token struct {
	kind rune
	text string
	pos  scanner.Position
}

func (t token) String() string {
	switch t.kind {
	case scanner.EOF:
		return "end of query"
	case scanner.String:
		return "string " + t.text
	}
	return fmt.Sprintf("%q", t.text)
}

type syntaxError struct {
	pos scanner.Position
	msg string
}

func (e syntaxError) Error() string {
	return fmt.Sprintf("syntax error at column %d: %s", e.pos.Column, e.msg)
}

type lexer struct {
	scan *scanner.Scanner
}

func newLexer(src string) *lexer {
	s := &scanner.Scanner{}
	s.Init(strings.NewReader(src))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats | scanner.ScanStrings
	l := &lexer{scan: s}
	s.Error = func(s *scanner.Scanner, msg string) {
		panic(syntaxError{pos: s.Pos(), msg: msg})
	}
	return l
}

// next reads one token, joining two-rune operators.
func (l *lexer) next() token {
	r := l.scan.Scan()
	t := token{kind: r, text: l.scan.TokenText(), pos: l.scan.Position}
	switch r {
	case scanner.EOF, scanner.Ident, scanner.Int, scanner.Float, scanner.String:
		return t
	case '=', '!', '<', '>':
		t.kind = punct
		if l.scan.Peek() == '=' {
			l.scan.Next()
			t.text += "="
		}
		if t.text == "=" {
			panic(syntaxError{pos: t.pos, msg: `unexpected "=", use "=="`})
		}
	case '&', '|':
		t.kind = punct
		if l.scan.Peek() != r {
			panic(syntaxError{pos: t.pos, msg: fmt.Sprintf("unexpected %q, use %q", r, string([]rune{r, r}))})
		}
		l.scan.Next()
		t.text += string(r)
	case '+', '-', '*', '/', '%', '(', ')', '.', ',':
		t.kind = punct
	default:
		panic(syntaxError{pos: t.pos, msg: fmt.Sprintf("unexpected %q", t.text)})
	}
	return t
}
