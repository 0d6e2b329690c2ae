package override

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord            // bare identifier/number/path-like token
	tokString          // quoted string, Value already resolved by the lexer
	tokPunct           // single-character punctuation: ( ) [ ] { } , : = @
)

type token struct {
	kind  tokenKind
	text  string
	quote byte // for tokString: '\'' or '"'
}

// lex tokenizes s, the portion of an override string after any leading
// prefix (+, ++, ~) has already been stripped by the parser.
func lex(s string) ([]token, error) {
	var toks []token
	runes := []rune(s)
	i := 0
	n := len(runes)
	for i < n {
		c := runes[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case strings.ContainsRune("()[]{},:=@", c):
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++
		case c == '\'' || c == '"':
			text, consumed, err := lexQuoted(runes[i:], byte(c))
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text, quote: byte(c)})
			i += consumed
		default:
			start := i
			for i < n && !strings.ContainsRune(" \t()[]{},:=@'\"", runes[i]) {
				i++
			}
			if i == start {
				return nil, fmt.Errorf("unexpected character %q", string(c))
			}
			toks = append(toks, token{kind: tokWord, text: string(runes[start:i])})
		}
	}
	toks = append(toks, token{kind: tokEOF})
	return toks, nil
}

func lexQuoted(runes []rune, quote byte) (string, int, error) {
	var b strings.Builder
	i := 1 // skip opening quote
	for i < len(runes) {
		c := runes[i]
		if byte(c) == quote {
			return b.String(), i + 1, nil
		}
		if c == '\\' && i+1 < len(runes) {
			b.WriteRune(runes[i+1])
			i += 2
			continue
		}
		b.WriteRune(c)
		i++
	}
	return "", 0, fmt.Errorf("unterminated quoted string")
}

type tokenStream struct {
	toks []token
	pos  int
}

func newTokenStream(toks []token) *tokenStream { return &tokenStream{toks: toks} }

func (s *tokenStream) peek() token { return s.toks[s.pos] }

func (s *tokenStream) next() token {
	t := s.toks[s.pos]
	if s.pos < len(s.toks)-1 {
		s.pos++
	}
	return t
}

func (s *tokenStream) expectPunct(p string) error {
	t := s.next()
	if t.kind != tokPunct || t.text != p {
		return fmt.Errorf("expected %q, got %q", p, t.text)
	}
	return nil
}

func (s *tokenStream) atEOF() bool { return s.peek().kind == tokEOF }
